package funding

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/CodeByMAB/Falconer/internal/events"
	"github.com/CodeByMAB/Falconer/internal/ledger"
)

const summaryJustificationLimit = 200

// Config controls proposal generation.
type Config struct {
	Enabled           bool
	ThresholdSats     int64 // generate when balance drops below this
	DefaultAmountSats int64
	MaxPending        int
	MaxAgeHours       int // pending proposals older than this are expired
}

// Tunables are the proposal scoring heuristics. They have no derivation
// beyond operational experience; keep them configurable, not hard truths.
type Tunables struct {
	BaseROIRate        float64        // floor for the projected return rate
	ROIProjectionDays  float64        // daily earnings rate is projected over this window
	StrategyROIBonus   float64        // per-strategy multiplier bonus
	BaseRiskScore      float64        // starting risk score
	VolatilityWeight   float64        // weight of (volatility - 0.5)
	ManyStrategies     int            // above this count, risk drops
	FewStrategies      int            // below this count, risk rises
	RiskAdjustment     float64        // magnitude of the strategy-count adjustment
	LowRiskBelow       float64        // score < this -> low
	HighRiskFrom       float64        // score >= this -> high
	DefaultHorizonDays int            // floor for the time horizon
	StrategyHorizons   map[string]int // per-strategy horizon lookup
}

// DefaultTunables returns the stock heuristics.
func DefaultTunables() Tunables {
	return Tunables{
		BaseROIRate:        0.05,
		ROIProjectionDays:  30,
		StrategyROIBonus:   0.1,
		BaseRiskScore:      0.5,
		VolatilityWeight:   0.3,
		ManyStrategies:     3,
		FewStrategies:      2,
		RiskAdjustment:     0.2,
		LowRiskBelow:       0.3,
		HighRiskFrom:       0.7,
		DefaultHorizonDays: 30,
		StrategyHorizons: map[string]int{
			"market_making":       7,
			"arbitrage":           1,
			"yield_farming":       30,
			"liquidity_provision": 14,
		},
	}
}

// Manager owns the proposal state machine. All reads hand out owned copies;
// all mutations persist before returning.
type Manager struct {
	cfg      Config
	tunables Tunables
	store    *ledger.Store
	bus      *events.Bus // optional
	now      func() time.Time
	log      zerolog.Logger
}

// NewManager creates a proposal manager over the ledger store. bus may be nil.
func NewManager(cfg Config, tunables Tunables, store *ledger.Store, bus *events.Bus, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		tunables: tunables,
		store:    store,
		bus:      bus,
		now:      time.Now,
		log:      log.With().Str("component", "funding").Logger(),
	}
}

// MaxAgeHours returns the configured pending-proposal lifetime.
func (m *Manager) MaxAgeHours() int {
	return m.cfg.MaxAgeHours
}

// ShouldPropose reports whether a new funding proposal should be generated
// for the given balance.
func (m *Manager) ShouldPropose(currentBalanceSats int64) bool {
	if !m.cfg.Enabled {
		return false
	}
	return currentBalanceSats < m.cfg.ThresholdSats
}

// Generate drafts a new proposal from the earning context, persists it as
// pending and returns it. Fails with ErrCapacityExceeded when the pending
// ceiling is already reached.
func (m *Manager) Generate(ctx EarningContext) (*Proposal, error) {
	pending, err := m.loadByStatus(StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending proposals: %w", err)
	}
	if len(pending) >= m.cfg.MaxPending {
		return nil, fmt.Errorf("%w (%d)", ErrCapacityExceeded, m.cfg.MaxPending)
	}

	requested := m.cfg.DefaultAmountSats
	proposal := &Proposal{
		ProposalID:          newProposalID(),
		CreatedAt:           m.now().UTC(),
		Status:              StatusPending,
		RequestedAmountSats: requested,
		CurrentBalanceSats:  ctx.CurrentBalanceSats,
		Justification:       m.buildJustification(ctx),
		IntendedUse:         m.buildIntendedUse(ctx),
		ExpectedRoiSats:     m.expectedROI(requested, ctx),
		RiskAssessment:      m.assessRisk(ctx),
		StrategiesToExecute: append([]string(nil), ctx.ActiveStrategies...),
		TimeHorizonDays:     m.timeHorizon(ctx.ActiveStrategies),
	}

	if err := m.save(proposal); err != nil {
		return nil, err
	}

	m.publish(events.ProposalCreated, proposal)
	m.log.Info().
		Str("proposal_id", proposal.ProposalID).
		Int64("requested_sats", proposal.RequestedAmountSats).
		Str("risk", string(proposal.RiskAssessment)).
		Msg("Funding proposal generated")

	return proposal, nil
}

// Get loads a proposal by ID. Returns ErrNotFound when absent.
func (m *Manager) Get(id string) (*Proposal, error) {
	var p Proposal
	found, err := m.store.GetStrict(ledger.ProposalKeyPrefix+id, &p)
	if err != nil {
		return nil, fmt.Errorf("failed to load proposal %s: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &p, nil
}

// List returns proposal summaries newest-created-first, optionally filtered
// by status. Justifications are truncated to 200 characters.
func (m *Manager) List(status Status, limit int) ([]Summary, error) {
	proposals, err := m.loadByStatus(status)
	if err != nil {
		return nil, err
	}

	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].CreatedAt.After(proposals[j].CreatedAt)
	})
	if limit > 0 && len(proposals) > limit {
		proposals = proposals[:limit]
	}

	summaries := make([]Summary, 0, len(proposals))
	for _, p := range proposals {
		justification := p.Justification
		if len(justification) > summaryJustificationLimit {
			justification = justification[:summaryJustificationLimit-3] + "..."
		}
		summaries = append(summaries, Summary{
			ProposalID:          p.ProposalID,
			CreatedAt:           p.CreatedAt,
			Status:              p.Status,
			RequestedAmountSats: p.RequestedAmountSats,
			Justification:       justification,
		})
	}
	return summaries, nil
}

// Approve transitions a pending proposal to approved.
func (m *Manager) Approve(id, approvedBy, notes string) (*Proposal, error) {
	proposal, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if proposal.Status != StatusPending {
		return nil, &InvalidStateError{ProposalID: id, Current: proposal.Status, Required: StatusPending}
	}

	now := m.now().UTC()
	proposal.Status = StatusApproved
	proposal.ApprovedAt = &now
	proposal.ApprovedBy = approvedBy
	proposal.ApprovalNotes = notes

	if err := m.save(proposal); err != nil {
		return nil, err
	}

	m.publish(events.ProposalApproved, proposal)
	m.log.Info().Str("proposal_id", id).Str("approved_by", approvedBy).Msg("Proposal approved")
	return proposal, nil
}

// Reject transitions a pending proposal to rejected.
func (m *Manager) Reject(id, rejectedBy, reason string) (*Proposal, error) {
	proposal, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if proposal.Status != StatusPending {
		return nil, &InvalidStateError{ProposalID: id, Current: proposal.Status, Required: StatusPending}
	}

	now := m.now().UTC()
	proposal.Status = StatusRejected
	proposal.RejectedAt = &now
	proposal.RejectedBy = rejectedBy
	proposal.ApprovalNotes = reason

	if err := m.save(proposal); err != nil {
		return nil, err
	}

	m.publish(events.ProposalRejected, proposal)
	m.log.Info().Str("proposal_id", id).Str("rejected_by", rejectedBy).Msg("Proposal rejected")
	return proposal, nil
}

// MarkExecuted transitions an approved proposal to executed after a real
// broadcast has succeeded.
func (m *Manager) MarkExecuted(id, txid string) (*Proposal, error) {
	proposal, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if proposal.Status != StatusApproved {
		return nil, &InvalidStateError{ProposalID: id, Current: proposal.Status, Required: StatusApproved}
	}

	now := m.now().UTC()
	proposal.Status = StatusExecuted
	proposal.ExecutedAt = &now
	proposal.ExecutionTxid = txid

	if err := m.save(proposal); err != nil {
		return nil, err
	}

	m.publish(events.ProposalExecuted, proposal)
	m.log.Info().Str("proposal_id", id).Str("txid", txid).Msg("Proposal executed")
	return proposal, nil
}

// SetExternalWorkflowID records the review-channel workflow handle returned
// when the proposal was sent out.
func (m *Manager) SetExternalWorkflowID(id, workflowID string) error {
	proposal, err := m.Get(id)
	if err != nil {
		return err
	}
	proposal.ExternalWorkflowID = workflowID
	return m.save(proposal)
}

// ExpireStale transitions pending proposals older than maxAgeHours to
// expired and returns how many were transitioned. Idempotent: proposals
// already out of pending are never touched. A non-positive max age is
// rejected; a zero cutoff would expire every pending proposal at once.
func (m *Manager) ExpireStale(maxAgeHours int) (int, error) {
	if maxAgeHours <= 0 {
		return 0, fmt.Errorf("max age hours must be positive, got %d", maxAgeHours)
	}

	pending, err := m.loadByStatus(StatusPending)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().UTC().Add(-time.Duration(maxAgeHours) * time.Hour)
	expired := 0
	for i := range pending {
		p := &pending[i]
		if p.CreatedAt.Before(cutoff) {
			p.Status = StatusExpired
			if err := m.save(p); err != nil {
				return expired, err
			}
			m.publish(events.ProposalExpired, p)
			expired++
		}
	}

	if expired > 0 {
		m.log.Info().Int("count", expired).Int("max_age_hours", maxAgeHours).
			Msg("Stale proposals expired")
	}
	return expired, nil
}

// Statistics summarizes all proposals. The approval rate counts decided
// proposals only (approved + rejected); zero decided means rate 0.
func (m *Manager) Statistics() (*Statistics, error) {
	proposals, err := m.loadByStatus("")
	if err != nil {
		return nil, err
	}

	stats := &Statistics{ByStatus: make(map[Status]int)}
	stats.TotalCount = len(proposals)
	if len(proposals) == 0 {
		return stats, nil
	}

	for _, p := range proposals {
		stats.ByStatus[p.Status]++
		stats.TotalRequestedSats += p.RequestedAmountSats
		if p.Status == StatusApproved {
			stats.TotalApprovedSats += p.RequestedAmountSats
		}
	}

	decided := stats.ByStatus[StatusApproved] + stats.ByStatus[StatusRejected]
	if decided > 0 {
		stats.ApprovalRate = float64(stats.ByStatus[StatusApproved]) / float64(decided)
	}
	stats.AverageRequestedAmount = stats.TotalRequestedSats / int64(len(proposals))

	return stats, nil
}

// loadByStatus loads all proposals, filtered by status when non-empty.
// Corrupt records are skipped; the proposal table favors availability.
func (m *Manager) loadByStatus(status Status) ([]Proposal, error) {
	keys, err := m.store.Keys(ledger.ProposalKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}

	var proposals []Proposal
	for _, key := range keys {
		var p Proposal
		found, err := m.store.Get(key, &p)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", key, err)
		}
		if !found {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}

func (m *Manager) save(p *Proposal) error {
	if err := m.store.Put(ledger.ProposalKeyPrefix+p.ProposalID, p); err != nil {
		return fmt.Errorf("failed to save proposal %s: %w", p.ProposalID, err)
	}
	return nil
}

func (m *Manager) publish(eventType events.EventType, p *Proposal) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventType, "funding", map[string]interface{}{
		"proposal_id":           p.ProposalID,
		"status":                string(p.Status),
		"requested_amount_sats": p.RequestedAmountSats,
	})
}

// buildJustification assembles the human-facing explanation for the request.
func (m *Manager) buildJustification(ctx EarningContext) string {
	parts := []string{
		fmt.Sprintf("Current balance of %d sats is insufficient for optimal earning operations.", ctx.CurrentBalanceSats),
	}
	if len(ctx.ActiveStrategies) > 0 {
		parts = append(parts, fmt.Sprintf("Active strategies: %s require additional capital.",
			strings.Join(ctx.ActiveStrategies, ", ")))
	}
	if ctx.Market.OpportunityScore > 0.7 {
		parts = append(parts, "Market conditions show high earning opportunities that require immediate capital deployment.")
	}
	if ctx.Recent.DailyEarningsSats > 0 {
		parts = append(parts, fmt.Sprintf("Recent performance shows %d sats daily earnings potential.",
			ctx.Recent.DailyEarningsSats))
	}
	parts = append(parts, "Additional funding will enable increased earning capacity and strategy diversification.")
	return strings.Join(parts, " ")
}

// buildIntendedUse assembles the deployment plan for the requested funds.
func (m *Manager) buildIntendedUse(ctx EarningContext) string {
	parts := []string{"The requested funds will be deployed across multiple earning strategies:"}
	if len(ctx.ActiveStrategies) > 0 {
		for _, strategy := range ctx.ActiveStrategies {
			parts = append(parts, fmt.Sprintf("- %s: Allocate capital based on market conditions and risk assessment", strategy))
		}
	} else {
		parts = append(parts,
			"- Market making: Provide liquidity to earn spread profits",
			"- Arbitrage: Capture price differences across exchanges",
			"- Yield farming: Earn rewards from DeFi protocols",
		)
	}
	parts = append(parts, "Funds will be managed with strict risk controls and monitored continuously.")
	return strings.Join(parts, " ")
}

// expectedROI projects the return on the requested amount: the greater of
// the base rate and the recent daily earnings rate over the projection
// window, scaled up per active strategy.
func (m *Manager) expectedROI(requested int64, ctx EarningContext) int64 {
	rate := m.tunables.BaseROIRate
	if ctx.Recent.DailyEarningsSats > 0 && requested > 0 {
		dailyRate := float64(ctx.Recent.DailyEarningsSats) / float64(requested)
		if projected := dailyRate * m.tunables.ROIProjectionDays; projected > rate {
			rate = projected
		}
	}
	multiplier := 1.0 + float64(len(ctx.ActiveStrategies))*m.tunables.StrategyROIBonus
	return int64(float64(requested) * rate * multiplier)
}

// assessRisk scores risk in [0,1] from volatility and strategy spread, then
// buckets it. More concurrent strategies means more diversification.
func (m *Manager) assessRisk(ctx EarningContext) RiskLevel {
	score := m.tunables.BaseRiskScore
	score += (ctx.Market.Volatility - 0.5) * m.tunables.VolatilityWeight

	switch n := len(ctx.ActiveStrategies); {
	case n > m.tunables.ManyStrategies:
		score -= m.tunables.RiskAdjustment
	case n < m.tunables.FewStrategies:
		score += m.tunables.RiskAdjustment
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	switch {
	case score < m.tunables.LowRiskBelow:
		return RiskLow
	case score < m.tunables.HighRiskFrom:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// timeHorizon picks the longest per-strategy horizon, floored at the default.
func (m *Manager) timeHorizon(strategies []string) int {
	horizon := m.tunables.DefaultHorizonDays
	for _, strategy := range strategies {
		if h, ok := m.tunables.StrategyHorizons[strings.ToLower(strategy)]; ok && h > horizon {
			horizon = h
		}
	}
	return horizon
}

// IsNotFound reports whether err is the absent-proposal error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState reports whether err is an illegal-transition error.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
