package approval

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/CodeByMAB/Falconer/internal/funding"
)

// Decision values accepted from the review channel.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Channel applies authenticated approval decisions to the proposal manager.
// Error mapping to external-facing responses is the webhook handler's job.
type Channel struct {
	manager *funding.Manager
	log     zerolog.Logger
}

// NewChannel creates an approval channel over the proposal manager.
func NewChannel(manager *funding.Manager, log zerolog.Logger) *Channel {
	return &Channel{
		manager: manager,
		log:     log.With().Str("component", "approval").Logger(),
	}
}

// Apply routes a decision to Approve or Reject. status must be "approved" or
// "rejected"; anything else is a caller bug surfaced as an error.
func (c *Channel) Apply(proposalID, status, actor, notes string) (*funding.Proposal, error) {
	switch status {
	case DecisionApproved:
		return c.manager.Approve(proposalID, actor, notes)
	case DecisionRejected:
		reason := notes
		if reason == "" {
			reason = "Rejected via webhook"
		}
		return c.manager.Reject(proposalID, actor, reason)
	default:
		return nil, fmt.Errorf("invalid decision status %q", status)
	}
}
