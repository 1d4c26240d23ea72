package market

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	return NewAnalyzer(t.TempDir(), zerolog.Nop())
}

func observeFees(a *Analyzer, fees ...float64) {
	for i, f := range fees {
		a.Observe(Sample{
			Timestamp:       time.Now().UTC(),
			FeeFastest:      f * 1.5,
			FeeHalfHour:     f,
			MempoolUsagePct: 40,
			TipHeight:       int64(850000 + i),
		})
	}
}

func TestSnapshotColdStartDefaults(t *testing.T) {
	a := newTestAnalyzer(t)

	snap := a.Snapshot()
	assert.Equal(t, 0.5, snap.Volatility)
	assert.Equal(t, 0.5, snap.OpportunityScore)
	assert.Equal(t, "stable", snap.FeeTrend)
	assert.Equal(t, 0, snap.SampleCount)
	assert.Nil(t, snap.FeeRSI)
}

func TestFeeTrend(t *testing.T) {
	tests := []struct {
		name string
		fees []float64
		want string
	}{
		{"rising", []float64{10, 10, 10, 15}, "rising"},
		{"falling", []float64{10, 10, 10, 5}, "falling"},
		{"stable", []float64{10, 10, 10, 11}, "stable"},
		{"at rising boundary", []float64{10, 10, 10, 12}, "stable"},
		{"too few samples", []float64{10, 15}, "stable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, feeTrend(tt.fees))
		})
	}
}

func TestCongestionLevel(t *testing.T) {
	assert.Equal(t, "low", congestionLevel(10))
	assert.Equal(t, "medium", congestionLevel(45))
	assert.Equal(t, "high", congestionLevel(70))
	assert.Equal(t, "critical", congestionLevel(95))
}

func TestOpportunityScore(t *testing.T) {
	tests := []struct {
		name       string
		trend      string
		congestion string
		activity   string
		want       float64
	}{
		{"neutral", "stable", "medium", "normal", 0.5},
		{"rising and critical", "rising", "critical", "high", 1.0},
		{"everything quiet", "falling", "low", "low", 0.2},
		{"high congestion only", "stable", "high", "normal", 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, opportunityScore(tt.trend, tt.congestion, tt.activity), 1e-9)
		})
	}
}

func TestRealizedVolatility(t *testing.T) {
	// Flat fees carry zero realized volatility.
	assert.InDelta(t, 0.0, realizedVolatility([]float64{10, 10, 10, 10}), 1e-9)

	// Wild swings saturate at 1.0.
	assert.Equal(t, 1.0, realizedVolatility([]float64{10, 30, 5, 40, 8}))

	// Too few usable returns falls back to neutral.
	assert.Equal(t, 0.5, realizedVolatility([]float64{0, 0, 10}))
}

func TestObserveEvictsBeyondWindow(t *testing.T) {
	a := newTestAnalyzer(t)
	a.maxWindow = 5

	observeFees(a, 1, 2, 3, 4, 5, 6, 7)

	snap := a.Snapshot()
	assert.Equal(t, 5, snap.SampleCount)
}

func TestFeeRSIRequiresFullPeriod(t *testing.T) {
	a := newTestAnalyzer(t)
	observeFees(a, 10, 11, 12, 13, 14)
	assert.Nil(t, a.Snapshot().FeeRSI)

	observeFees(a, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24)
	rsi := a.Snapshot().FeeRSI
	require.NotNil(t, rsi)
	// Fees rose every sample, so RSI is pinned at the top of the scale.
	assert.InDelta(t, 100.0, *rsi, 1e-6)
}

func TestWindowSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	a := NewAnalyzer(dir, zerolog.Nop())
	observeFees(a, 10, 12, 14, 16)

	b := NewAnalyzer(dir, zerolog.Nop())
	snap := b.Snapshot()
	assert.Equal(t, 4, snap.SampleCount)
}

func TestConditionsMatchSnapshot(t *testing.T) {
	a := newTestAnalyzer(t)
	observeFees(a, 10, 10, 10, 15)

	cond := a.Conditions()
	snap := a.Snapshot()
	assert.Equal(t, snap.Volatility, cond.Volatility)
	assert.Equal(t, snap.OpportunityScore, cond.OpportunityScore)
}
