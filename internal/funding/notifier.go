package funding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notifier delivers generated proposals to the external human-review channel
// (an automation webhook that fans out to chat or email).
type Notifier struct {
	webhookURL string
	authToken  string
	client     *http.Client
	log        zerolog.Logger
}

// NewNotifier creates a notifier. webhookURL may be empty; Send then fails
// with a configuration error.
func NewNotifier(webhookURL, authToken string, timeout time.Duration, log zerolog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Notifier{
		webhookURL: webhookURL,
		authToken:  authToken,
		client:     &http.Client{Timeout: timeout},
		log:        log.With().Str("client", "review_channel").Logger(),
	}
}

// Configured reports whether an outbound webhook URL is set.
func (n *Notifier) Configured() bool {
	return n.webhookURL != ""
}

// SendResult carries the review channel's response.
type SendResult struct {
	StatusCode int
	WorkflowID string
}

// Send posts the proposal to the review channel and returns the workflow
// handle the channel assigned, when it provides one.
func (n *Notifier) Send(ctx context.Context, proposal *Proposal) (*SendResult, error) {
	if n.webhookURL == "" {
		return nil, fmt.Errorf("review channel webhook URL not configured")
	}

	payload := map[string]interface{}{
		"proposal_id":           proposal.ProposalID,
		"requested_amount_sats": proposal.RequestedAmountSats,
		"current_balance_sats":  proposal.CurrentBalanceSats,
		"justification":         proposal.Justification,
		"intended_use":          proposal.IntendedUse,
		"expected_roi_sats":     proposal.ExpectedRoiSats,
		"risk_assessment":       proposal.RiskAssessment,
		"strategies_to_execute": proposal.StrategiesToExecute,
		"time_horizon_days":     proposal.TimeHorizonDays,
		"created_at":            proposal.CreatedAt.Format(time.RFC3339),
		"formatted_message":     FormatForReview(proposal),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build review channel request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Falconer/1.0")
	if n.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.authToken)
	}

	n.log.Info().
		Str("proposal_id", proposal.ProposalID).
		Int64("requested_sats", proposal.RequestedAmountSats).
		Msg("Sending proposal to review channel")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send proposal to review channel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("review channel returned %d: %s", resp.StatusCode, string(snippet))
	}

	result := &SendResult{StatusCode: resp.StatusCode}
	var respData struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err == nil {
		result.WorkflowID = respData.WorkflowID
	}

	return result, nil
}

// FormatForReview renders a proposal as the plain-text message a human
// reviewer sees.
func FormatForReview(p *Proposal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FALCONER FUNDING REQUEST\n\n")
	fmt.Fprintf(&b, "Amount requested: %d sats\n", p.RequestedAmountSats)
	fmt.Fprintf(&b, "Current balance:  %d sats\n", p.CurrentBalanceSats)
	fmt.Fprintf(&b, "Expected ROI:     %d sats\n", p.ExpectedRoiSats)
	fmt.Fprintf(&b, "Time horizon:     %d days\n", p.TimeHorizonDays)
	fmt.Fprintf(&b, "Risk level:       %s\n\n", strings.ToUpper(string(p.RiskAssessment)))
	fmt.Fprintf(&b, "JUSTIFICATION:\n%s\n\n", p.Justification)
	fmt.Fprintf(&b, "INTENDED USE:\n%s\n\n", p.IntendedUse)

	b.WriteString("STRATEGIES TO EXECUTE:\n")
	if len(p.StrategiesToExecute) > 0 {
		for _, s := range p.StrategiesToExecute {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	} else {
		b.WriteString("  - market making\n  - arbitrage\n  - yield farming\n")
	}

	fmt.Fprintf(&b, "\nProposal ID: %s\n", p.ProposalID)
	fmt.Fprintf(&b, "Created: %s\n\n", p.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	b.WriteString("Please approve or reject this funding request.")
	return b.String()
}
