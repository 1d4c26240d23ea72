// Package agent runs the autonomous earning loop: market observation,
// policy-guarded spending, and funding proposal generation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CodeByMAB/Falconer/internal/clients/bitcoind"
	"github.com/CodeByMAB/Falconer/internal/clients/mempool"
	"github.com/CodeByMAB/Falconer/internal/events"
	"github.com/CodeByMAB/Falconer/internal/funding"
	"github.com/CodeByMAB/Falconer/internal/market"
	"github.com/CodeByMAB/Falconer/internal/policy"
	"github.com/CodeByMAB/Falconer/internal/wallet"
)

const (
	defaultCycleInterval = 5 * time.Minute
	defaultErrorBackoff  = time.Minute

	// maxSpendAttempts bounds broadcast retries for a queued spend.
	maxSpendAttempts = 3
)

// Config controls the loop cadence and the funding context.
type Config struct {
	CycleInterval    time.Duration
	ErrorBackoff     time.Duration
	ActiveStrategies []string
}

// Deps are the agent's collaborators. Manager and Notifier may be nil,
// which disables the funding subsystem. Bitcoind and Mempool may be nil,
// which disables market sampling.
type Deps struct {
	Engine   *policy.Engine
	Manager  *funding.Manager
	Notifier *funding.Notifier
	Analyzer *market.Analyzer
	Wallet   wallet.Spender
	Bitcoind *bitcoind.Client
	Mempool  *mempool.Client
	Bus      *events.Bus
}

type queuedSpend struct {
	req      policy.TransactionRequest
	attempts int
}

// Agent is the autonomous orchestrator.
type Agent struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu      sync.Mutex
	pending []queuedSpend

	// earnings tracking: positive balance deltas accumulated per UTC day
	lastBalanceSats int64
	balanceKnown    bool
	earningsSats    int64
	earningsDay     string
}

// New creates an agent.
func New(cfg Config, deps Deps, log zerolog.Logger) *Agent {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = defaultCycleInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	return &Agent{
		cfg:  cfg,
		deps: deps,
		log:  log.With().Str("component", "agent").Logger(),
	}
}

// EnqueueSpend queues a transaction request for the next cycle. The
// request is validated against policy before broadcast.
func (a *Agent) EnqueueSpend(req policy.TransactionRequest) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, queuedSpend{req: req})
	a.log.Info().
		Str("destination", req.Destination).
		Int64("amount_sats", req.AmountSats).
		Msg("spend queued")
}

// PendingSpends reports how many spends await the next cycle.
func (a *Agent) PendingSpends() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Run executes cycles until ctx is cancelled. A failed cycle backs off
// for ErrorBackoff instead of the full interval.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info().
		Dur("cycle_interval", a.cfg.CycleInterval).
		Msg("starting autonomous mode")

	for {
		wait := a.cfg.CycleInterval
		if err := a.Cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			a.log.Error().Err(err).Msg("cycle failed")
			wait = a.cfg.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			a.log.Info().Msg("stopping autonomous mode")
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Cycle runs one decision cycle.
func (a *Agent) Cycle(ctx context.Context) error {
	a.log.Debug().Msg("starting cycle")

	a.expireStaleProposals()
	a.observeMarket(ctx)

	balance, err := a.deps.Wallet.BalanceSats(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh balance: %w", err)
	}
	a.trackEarnings(balance)

	a.processPendingSpends(ctx)
	a.maybePropose(ctx, balance)

	a.log.Debug().Int64("balance_sats", balance).Msg("cycle completed")
	return nil
}

func (a *Agent) expireStaleProposals() {
	if a.deps.Manager == nil || a.deps.Manager.MaxAgeHours() <= 0 {
		return
	}
	expired, err := a.deps.Manager.ExpireStale(a.deps.Manager.MaxAgeHours())
	if err != nil {
		a.log.Error().Err(err).Msg("failed to expire stale proposals")
		return
	}
	if expired > 0 {
		a.log.Info().Int("expired", expired).Msg("expired stale proposals")
	}
}

// observeMarket feeds one fee/mempool sample into the analyzer. Market
// data is advisory, so failures degrade to a warning.
func (a *Agent) observeMarket(ctx context.Context) {
	if a.deps.Bitcoind == nil || a.deps.Mempool == nil {
		return
	}

	fees, err := a.deps.Mempool.GetRecommendedFees(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to fetch recommended fees")
		return
	}
	sample := market.Sample{
		Timestamp:   time.Now().UTC(),
		FeeFastest:  fees.FastestFee,
		FeeHalfHour: fees.HalfHourFee,
	}

	if info, err := a.deps.Bitcoind.GetMempoolInfo(ctx); err == nil && info.MaxMempool > 0 {
		sample.MempoolUsagePct = float64(info.Usage) / float64(info.MaxMempool) * 100
	} else if err != nil {
		a.log.Warn().Err(err).Msg("failed to fetch mempool info")
	}
	if chain, err := a.deps.Bitcoind.GetBlockchainInfo(ctx); err == nil {
		sample.TipHeight = chain.Blocks
	}

	a.deps.Analyzer.Observe(sample)
}

// trackEarnings accumulates positive balance deltas for the current UTC
// day as a conservative earnings estimate.
func (a *Agent) trackEarnings(balance int64) {
	today := time.Now().UTC().Format("2006-01-02")
	if a.earningsDay != today {
		a.earningsDay = today
		a.earningsSats = 0
	}
	if a.balanceKnown && balance > a.lastBalanceSats {
		a.earningsSats += balance - a.lastBalanceSats
	}
	a.lastBalanceSats = balance
	a.balanceKnown = true
}

// processPendingSpends drains the spend queue through the policy gate.
// Blocked spends are dropped; broadcast failures are retried up to
// maxSpendAttempts.
func (a *Agent) processPendingSpends(ctx context.Context) {
	a.mu.Lock()
	queue := a.pending
	a.pending = nil
	a.mu.Unlock()

	var retry []queuedSpend
	for _, item := range queue {
		req := item.req
		violations := a.deps.Engine.Validate(req)
		if blocked(violations) {
			a.log.Warn().
				Str("destination", req.Destination).
				Int64("amount_sats", req.AmountSats).
				Int("violations", len(violations)).
				Msg("spend blocked by policy")
			a.publishViolations(req, violations)
			continue
		}

		txid, err := a.deps.Wallet.Send(ctx, req.Destination, req.AmountSats, req.FeeRateSatsPerVbyte)
		if err != nil {
			item.attempts++
			if item.attempts < maxSpendAttempts {
				retry = append(retry, item)
				a.log.Warn().Err(err).Int("attempts", item.attempts).Msg("broadcast failed, will retry")
			} else {
				a.log.Error().Err(err).
					Str("destination", req.Destination).
					Msg("broadcast failed, dropping spend")
			}
			continue
		}

		if err := a.deps.Engine.Record(req, txid); err != nil {
			// The transaction is on the network; a ledger write failure
			// here must be loud.
			a.log.Error().Err(err).Str("txid", txid).Msg("failed to record broadcast spend")
		}
		if a.deps.Bus != nil {
			a.deps.Bus.Publish(events.TransactionRecorded, "agent", map[string]interface{}{
				"txid":        txid,
				"destination": req.Destination,
				"amount_sats": req.AmountSats,
			})
		}
		a.log.Info().
			Str("txid", txid).
			Int64("amount_sats", req.AmountSats).
			Msg("spend broadcast and recorded")
	}

	if len(retry) > 0 {
		a.mu.Lock()
		a.pending = append(retry, a.pending...)
		a.mu.Unlock()
	}
}

// blocked reports whether any violation is an error; warnings alone do
// not stop a spend.
func blocked(violations []policy.Violation) bool {
	for _, v := range violations {
		if v.Severity == policy.SeverityError {
			return true
		}
	}
	return false
}

func (a *Agent) publishViolations(req policy.TransactionRequest, violations []policy.Violation) {
	if a.deps.Bus == nil {
		return
	}
	for _, v := range violations {
		a.deps.Bus.Publish(events.PolicyViolation, "agent", map[string]interface{}{
			"type":        string(v.Type),
			"severity":    string(v.Severity),
			"destination": req.Destination,
			"amount_sats": req.AmountSats,
		})
	}
}

// maybePropose drafts and dispatches a funding proposal when the
// balance has fallen below the configured threshold.
func (a *Agent) maybePropose(ctx context.Context, balance int64) {
	if a.deps.Manager == nil || !a.deps.Manager.ShouldPropose(balance) {
		return
	}

	proposal, err := a.deps.Manager.Generate(funding.EarningContext{
		CurrentBalanceSats: balance,
		ActiveStrategies:   a.cfg.ActiveStrategies,
		Market:             a.deps.Analyzer.Conditions(),
		Recent:             funding.RecentPerformance{DailyEarningsSats: a.earningsSats},
	})
	if err != nil {
		if errors.Is(err, funding.ErrCapacityExceeded) {
			a.log.Debug().Msg("proposal capacity reached, skipping")
			return
		}
		a.log.Error().Err(err).Msg("failed to generate funding proposal")
		return
	}

	a.log.Info().
		Str("proposal_id", proposal.ProposalID).
		Int64("requested_sats", proposal.RequestedAmountSats).
		Msg("funding proposal generated")

	if a.deps.Notifier == nil || !a.deps.Notifier.Configured() {
		return
	}
	result, err := a.deps.Notifier.Send(ctx, proposal)
	if err != nil {
		a.log.Error().Err(err).Str("proposal_id", proposal.ProposalID).Msg("failed to send proposal for review")
		return
	}
	if result.WorkflowID != "" {
		if err := a.deps.Manager.SetExternalWorkflowID(proposal.ProposalID, result.WorkflowID); err != nil {
			a.log.Warn().Err(err).Msg("failed to store review workflow id")
		}
	}
}
