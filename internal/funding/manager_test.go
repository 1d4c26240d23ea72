package funding

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeByMAB/Falconer/internal/database"
	"github.com/CodeByMAB/Falconer/internal/ledger"
	"github.com/CodeByMAB/Falconer/pkg/logger"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()

	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:%s?mode=memory", t.Name()),
		Name: "funding-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.New(logger.Config{Level: "error"})
	store, err := ledger.NewStore(db, log)
	require.NoError(t, err)

	return NewManager(cfg, DefaultTunables(), store, nil, log)
}

func defaultConfig() Config {
	return Config{
		Enabled:           true,
		ThresholdSats:     50000,
		DefaultAmountSats: 100000,
		MaxPending:        3,
		MaxAgeHours:       24,
	}
}

func TestShouldPropose(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	assert.True(t, m.ShouldPropose(25000))
	assert.False(t, m.ShouldPropose(50000))
	assert.False(t, m.ShouldPropose(75000))

	disabled := newTestManager(t, Config{Enabled: false, ThresholdSats: 50000})
	assert.False(t, disabled.ShouldPropose(0))
}

func TestGenerate_PersistsPendingProposal(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	proposal, err := m.Generate(EarningContext{
		CurrentBalanceSats: 25000,
		ActiveStrategies:   []string{"arbitrage"},
		Recent:             RecentPerformance{DailyEarningsSats: 5000},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, proposal.ProposalID)
	assert.Equal(t, StatusPending, proposal.Status)
	assert.Equal(t, int64(100000), proposal.RequestedAmountSats)
	assert.Equal(t, int64(25000), proposal.CurrentBalanceSats)
	assert.Contains(t, proposal.Justification, "arbitrage")
	assert.NotEmpty(t, proposal.IntendedUse)

	// 100000 * max(0.05, (5000/100000)*30) * 1.1 = 100000 * 1.5 * 1.1
	assert.Equal(t, int64(165000), proposal.ExpectedRoiSats)

	// Per-strategy horizon 1 day is below the 30-day floor
	assert.Equal(t, 30, proposal.TimeHorizonDays)

	// Round-trips through the store
	loaded, err := m.Get(proposal.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, proposal.ProposalID, loaded.ProposalID)
	assert.Equal(t, StatusPending, loaded.Status)
}

func TestGenerate_CapacityExceeded(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxPending = 2
	m := newTestManager(t, cfg)

	for i := 0; i < 2; i++ {
		_, err := m.Generate(EarningContext{CurrentBalanceSats: 1000})
		require.NoError(t, err)
	}

	_, err := m.Generate(EarningContext{CurrentBalanceSats: 1000})
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestGenerate_CapacityCountsOnlyPending(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxPending = 1
	m := newTestManager(t, cfg)

	p, err := m.Generate(EarningContext{})
	require.NoError(t, err)

	// Deciding the proposal frees the slot
	_, err = m.Reject(p.ProposalID, "alice", "not now")
	require.NoError(t, err)

	_, err = m.Generate(EarningContext{})
	require.NoError(t, err)
}

func TestExpectedROI_BaseRateFloor(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	// No recent earnings: base 5% rate, no strategy bonus
	proposal, err := m.Generate(EarningContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), proposal.ExpectedRoiSats) // 100000 * 0.05 * 1.0
}

func TestRiskAssessment(t *testing.T) {
	tests := []struct {
		name       string
		volatility float64
		strategies []string
		want       RiskLevel
	}{
		{"calm market, diversified", 0.1, []string{"a", "b", "c", "d"}, RiskLow},
		{"neutral", 0.5, []string{"a", "b"}, RiskMedium},
		{"volatile, single strategy", 0.9, []string{"a"}, RiskHigh},
		{"volatile but diversified", 0.9, []string{"a", "b", "c", "d"}, RiskMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, defaultConfig())
			proposal, err := m.Generate(EarningContext{
				Market:           MarketConditions{Volatility: tt.volatility},
				ActiveStrategies: tt.strategies,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, proposal.RiskAssessment)
		})
	}
}

func TestApprove(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	p, err := m.Generate(EarningContext{})
	require.NoError(t, err)

	approved, err := m.Approve(p.ProposalID, "alice", "looks reasonable")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, "alice", approved.ApprovedBy)
	assert.Equal(t, "looks reasonable", approved.ApprovalNotes)
	require.NotNil(t, approved.ApprovedAt)
}

func TestApprove_NotFound(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	_, err := m.Approve("no-such-id", "alice", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApprove_FailsFromEveryNonPendingStatus(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	setups := map[string]func(t *testing.T) string{
		"approved": func(t *testing.T) string {
			p, err := m.Generate(EarningContext{})
			require.NoError(t, err)
			_, err = m.Approve(p.ProposalID, "alice", "")
			require.NoError(t, err)
			return p.ProposalID
		},
		"rejected": func(t *testing.T) string {
			p, err := m.Generate(EarningContext{})
			require.NoError(t, err)
			_, err = m.Reject(p.ProposalID, "alice", "no")
			require.NoError(t, err)
			return p.ProposalID
		},
		"executed": func(t *testing.T) string {
			p, err := m.Generate(EarningContext{})
			require.NoError(t, err)
			_, err = m.Approve(p.ProposalID, "alice", "")
			require.NoError(t, err)
			_, err = m.MarkExecuted(p.ProposalID, "txid-1")
			require.NoError(t, err)
			return p.ProposalID
		},
	}

	for status, setup := range setups {
		t.Run(status, func(t *testing.T) {
			id := setup(t)
			_, err := m.Approve(id, "bob", "")
			require.ErrorIs(t, err, ErrInvalidState)

			var ise *InvalidStateError
			require.ErrorAs(t, err, &ise)
			assert.Equal(t, id, ise.ProposalID)
		})
	}
}

func TestReject(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	p, err := m.Generate(EarningContext{})
	require.NoError(t, err)

	rejected, err := m.Reject(p.ProposalID, "bob", "too risky")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "bob", rejected.RejectedBy)
	assert.Equal(t, "too risky", rejected.ApprovalNotes)
	require.NotNil(t, rejected.RejectedAt)

	// No transition out of rejected
	_, err = m.Approve(p.ProposalID, "alice", "")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestMarkExecuted_RequiresApproved(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	p, err := m.Generate(EarningContext{})
	require.NoError(t, err)

	// pending -> executed is illegal
	_, err = m.MarkExecuted(p.ProposalID, "txid")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = m.Approve(p.ProposalID, "alice", "")
	require.NoError(t, err)

	executed, err := m.MarkExecuted(p.ProposalID, "txid-99")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, executed.Status)
	assert.Equal(t, "txid-99", executed.ExecutionTxid)
	require.NotNil(t, executed.ExecutedAt)

	// executed is terminal
	_, err = m.MarkExecuted(p.ProposalID, "txid-100")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestExpireStale(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return base.Add(-25 * time.Hour) }
	stale, err := m.Generate(EarningContext{})
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(-1 * time.Hour) }
	fresh, err := m.Generate(EarningContext{})
	require.NoError(t, err)

	m.now = func() time.Time { return base }
	count, err := m.ExpireStale(24)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := m.Get(stale.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	got, err = m.Get(fresh.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestExpireStale_Idempotent(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base.Add(-48 * time.Hour) }
	_, err := m.Generate(EarningContext{})
	require.NoError(t, err)

	m.now = func() time.Time { return base }
	first, err := m.ExpireStale(24)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := m.ExpireStale(24)
	require.NoError(t, err)
	assert.Equal(t, 0, second)
}

func TestExpireStale_RejectsNonPositiveMaxAge(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	p, err := m.Generate(EarningContext{})
	require.NoError(t, err)

	for _, maxAge := range []int{0, -1} {
		count, err := m.ExpireStale(maxAge)
		require.Error(t, err)
		assert.Equal(t, 0, count)
	}

	got, err := m.Get(p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestExpireStale_NeverTouchesDecidedProposals(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base.Add(-48 * time.Hour) }

	approved, err := m.Generate(EarningContext{})
	require.NoError(t, err)
	_, err = m.Approve(approved.ProposalID, "alice", "")
	require.NoError(t, err)

	m.now = func() time.Time { return base }
	count, err := m.ExpireStale(24)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err := m.Get(approved.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestList_NewestFirstWithTruncatedJustification(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return base.Add(-2 * time.Hour) }
	older, err := m.Generate(EarningContext{})
	require.NoError(t, err)

	m.now = func() time.Time { return base }
	newer, err := m.Generate(EarningContext{
		ActiveStrategies: []string{"market_making", "arbitrage", "yield_farming", "liquidity_provision"},
	})
	require.NoError(t, err)

	summaries, err := m.List("", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, newer.ProposalID, summaries[0].ProposalID)
	assert.Equal(t, older.ProposalID, summaries[1].ProposalID)

	for _, s := range summaries {
		assert.LessOrEqual(t, len(s.Justification), 200)
	}
	assert.True(t, strings.HasSuffix(summaries[0].Justification, "..."))
}

func TestList_StatusFilterAndLimit(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	p1, err := m.Generate(EarningContext{})
	require.NoError(t, err)
	_, err = m.Generate(EarningContext{})
	require.NoError(t, err)

	_, err = m.Approve(p1.ProposalID, "alice", "")
	require.NoError(t, err)

	pending, err := m.List(StatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := m.List("", 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStatistics(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	// Empty table
	stats, err := m.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalCount)
	assert.Equal(t, 0.0, stats.ApprovalRate)

	p1, err := m.Generate(EarningContext{})
	require.NoError(t, err)
	p2, err := m.Generate(EarningContext{})
	require.NoError(t, err)
	_, err = m.Generate(EarningContext{})
	require.NoError(t, err)

	// Only pending proposals: still zero decided, rate stays 0
	stats, err = m.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCount)
	assert.Equal(t, 0.0, stats.ApprovalRate)

	_, err = m.Approve(p1.ProposalID, "alice", "")
	require.NoError(t, err)
	_, err = m.Reject(p2.ProposalID, "bob", "no")
	require.NoError(t, err)

	stats, err = m.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCount)
	assert.Equal(t, 1, stats.ByStatus[StatusApproved])
	assert.Equal(t, 1, stats.ByStatus[StatusRejected])
	assert.Equal(t, 1, stats.ByStatus[StatusPending])
	assert.Equal(t, int64(300000), stats.TotalRequestedSats)
	assert.Equal(t, int64(100000), stats.TotalApprovedSats)
	assert.Equal(t, 0.5, stats.ApprovalRate)
	assert.Equal(t, int64(100000), stats.AverageRequestedAmount)
}

func TestTimeHorizon_MaxWithDefaultFloor(t *testing.T) {
	m := newTestManager(t, defaultConfig())

	tests := []struct {
		name       string
		strategies []string
		want       int
	}{
		{"no strategies", nil, 30},
		{"short horizon floored", []string{"arbitrage"}, 30},
		{"unknown strategy uses default", []string{"hodling"}, 30},
		{"mixed picks longest", []string{"arbitrage", "yield_farming"}, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.timeHorizon(tt.strategies))
		})
	}
}
