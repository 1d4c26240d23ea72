// Package funding manages the lifecycle of funded-proposal requests: capital
// requests generated when the wallet balance runs low, routed to a human
// reviewer, and executed on-chain only after approval.
package funding

import (
	"time"

	"github.com/google/uuid"
)

// Status is a proposal lifecycle state.
//
// Legal transitions: pending -> approved | rejected | expired,
// approved -> executed. Everything else is terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
	StatusExpired  Status = "expired"
)

// RiskLevel buckets a proposal's risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Proposal is a structured request for additional operating capital.
// Owned exclusively by the Manager and persisted after every mutation.
type Proposal struct {
	ProposalID          string     `json:"proposal_id"`
	CreatedAt           time.Time  `json:"created_at"`
	Status              Status     `json:"status"`
	RequestedAmountSats int64      `json:"requested_amount_sats"`
	CurrentBalanceSats  int64      `json:"current_balance_sats"`
	Justification       string     `json:"justification"`
	IntendedUse         string     `json:"intended_use"`
	ExpectedRoiSats     int64      `json:"expected_roi_sats"`
	RiskAssessment      RiskLevel  `json:"risk_assessment"`
	StrategiesToExecute []string   `json:"strategies_to_execute"`
	TimeHorizonDays     int        `json:"time_horizon_days"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	ApprovedBy          string     `json:"approved_by,omitempty"`
	ApprovalNotes       string     `json:"approval_notes,omitempty"`
	RejectedAt          *time.Time `json:"rejected_at,omitempty"`
	RejectedBy          string     `json:"rejected_by,omitempty"`
	ExecutedAt          *time.Time `json:"executed_at,omitempty"`
	ExecutionTxid       string     `json:"execution_txid,omitempty"`
	ExternalWorkflowID  string     `json:"external_workflow_id,omitempty"`
}

func newProposalID() string {
	return uuid.NewString()
}

// Summary is a read-only listing projection of a proposal. Not persisted.
type Summary struct {
	ProposalID          string    `json:"proposal_id"`
	CreatedAt           time.Time `json:"created_at"`
	Status              Status    `json:"status"`
	RequestedAmountSats int64     `json:"requested_amount_sats"`
	Justification       string    `json:"justification"` // truncated to 200 chars
}

// MarketConditions is the market snapshot fed into proposal generation.
type MarketConditions struct {
	Volatility       float64 `json:"volatility"`        // [0,1]
	OpportunityScore float64 `json:"opportunity_score"` // [0,1]
}

// RecentPerformance summarizes recent earning results.
type RecentPerformance struct {
	DailyEarningsSats int64 `json:"daily_earnings_sats"`
}

// EarningContext carries everything Generate needs to draft a proposal.
type EarningContext struct {
	CurrentBalanceSats int64             `json:"current_balance_sats"`
	ActiveStrategies   []string          `json:"active_strategies"`
	Market             MarketConditions  `json:"market_conditions"`
	Recent             RecentPerformance `json:"recent_performance"`
}

// Statistics summarizes the proposal table.
type Statistics struct {
	TotalCount             int            `json:"total_proposals"`
	ByStatus               map[Status]int `json:"by_status"`
	TotalRequestedSats     int64          `json:"total_requested_sats"`
	TotalApprovedSats      int64          `json:"total_approved_sats"`
	ApprovalRate           float64        `json:"approval_rate"`
	AverageRequestedAmount int64          `json:"average_requested_amount"`
}
