package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CodeByMAB/Falconer/internal/approval"
	"github.com/CodeByMAB/Falconer/internal/funding"
)

// maxWebhookBody caps the approval payload size.
const maxWebhookBody = 64 * 1024

// approvalPayload is the body of an approval webhook call.
type approvalPayload struct {
	ProposalID    string `json:"proposal_id"`
	Status        string `json:"status"`
	ApprovedBy    string `json:"approved_by"`
	ApprovalNotes string `json:"approval_notes"`
}

// handleApprovalWebhook processes a signed approval decision from the
// external review workflow.
func (s *Server) handleApprovalWebhook(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("X-Signature")
	timestamp := r.Header.Get("X-Timestamp")
	if signature == "" || timestamp == "" {
		s.log.Warn().Msg("webhook request missing authentication headers")
		s.writeError(w, http.StatusUnauthorized, "Missing authentication headers")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if !s.verifier.Verify(body, signature, timestamp) {
		s.log.Warn().Msg("invalid webhook signature")
		s.writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var payload approvalPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if payload.ProposalID == "" || payload.Status == "" {
		s.writeError(w, http.StatusBadRequest, "Missing proposal_id or status")
		return
	}
	if payload.Status != approval.DecisionApproved && payload.Status != approval.DecisionRejected {
		s.writeError(w, http.StatusBadRequest, "Status must be 'approved' or 'rejected'")
		return
	}

	actor := payload.ApprovedBy
	if actor == "" {
		actor = "unknown"
	}

	proposal, err := s.channel.Apply(payload.ProposalID, payload.Status, actor, payload.ApprovalNotes)
	if err != nil {
		switch {
		case funding.IsNotFound(err):
			s.writeError(w, http.StatusNotFound, "Proposal not found")
		case funding.IsInvalidState(err):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Error().Err(err).Str("proposal_id", payload.ProposalID).Msg("failed to apply approval decision")
			s.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	s.log.Info().
		Str("proposal_id", proposal.ProposalID).
		Str("status", string(proposal.Status)).
		Str("actor", actor).
		Msg("proposal decision applied via webhook")

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     fmt.Sprintf("Proposal %s successfully", payload.Status),
		"proposal_id": proposal.ProposalID,
		"status":      proposal.Status,
		"updated_at":  decisionTime(proposal),
	})
}

func decisionTime(p *funding.Proposal) *time.Time {
	if p.ApprovedAt != nil {
		return p.ApprovedAt
	}
	return p.RejectedAt
}

func (s *Server) handleWebhookHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "falconer-webhook",
		"version": s.version,
	})
}

// handleProposalStatus reports the lifecycle state of one proposal.
func (s *Server) handleProposalStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "proposalID")

	proposal, err := s.manager.Get(id)
	if err != nil {
		if funding.IsNotFound(err) {
			s.writeError(w, http.StatusNotFound, "Proposal not found")
			return
		}
		s.log.Error().Err(err).Str("proposal_id", id).Msg("failed to load proposal")
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"proposal_id":           proposal.ProposalID,
		"status":                proposal.Status,
		"created_at":            proposal.CreatedAt,
		"requested_amount_sats": proposal.RequestedAmountSats,
		"approved_at":           proposal.ApprovedAt,
		"approved_by":           proposal.ApprovedBy,
		"executed_at":           proposal.ExecutedAt,
		"execution_txid":        proposal.ExecutionTxid,
	})
}
