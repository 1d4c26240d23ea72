package market

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/stat"

	"github.com/CodeByMAB/Falconer/internal/funding"
)

const (
	// DefaultWindowSize is how many samples the analyzer retains.
	DefaultWindowSize = 288 // 24h of 5-minute cycles

	// rsiPeriod is the lookback for the fee-rate RSI.
	rsiPeriod = 14

	// cacheFile is the on-disk snapshot of the sample window, so a
	// restart does not reset trend analysis to cold-start defaults.
	cacheFile = "market_window.msgpack"
)

// Sample is one observation of on-chain fee and mempool state.
type Sample struct {
	Timestamp       time.Time `msgpack:"ts"`
	FeeFastest      float64   `msgpack:"fee_fastest"`
	FeeHalfHour     float64   `msgpack:"fee_half_hour"`
	MempoolUsagePct float64   `msgpack:"mempool_usage_pct"`
	TipHeight       int64     `msgpack:"tip_height"`
}

// Snapshot is the analyzer's current read of market state.
type Snapshot struct {
	Volatility       float64   `json:"volatility"`
	OpportunityScore float64   `json:"opportunity_score"`
	FeeTrend         string    `json:"fee_trend"`         // rising | falling | stable
	Congestion       string    `json:"congestion"`        // low | medium | high | critical
	NetworkActivity  string    `json:"network_activity"`  // low | normal | high
	FeeRSI           *float64  `json:"fee_rsi,omitempty"` // nil until enough samples
	SampleCount      int       `json:"sample_count"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Analyzer maintains a bounded window of fee/mempool samples and derives
// volatility, trend, and an opportunity score from it. All methods are
// safe for concurrent use.
type Analyzer struct {
	mu        sync.Mutex
	window    []Sample
	maxWindow int
	cachePath string
	log       zerolog.Logger
}

// NewAnalyzer creates an analyzer that persists its sample window under
// dataDir. A previously cached window is restored best-effort.
func NewAnalyzer(dataDir string, log zerolog.Logger) *Analyzer {
	a := &Analyzer{
		maxWindow: DefaultWindowSize,
		cachePath: filepath.Join(dataDir, cacheFile),
		log:       log.With().Str("component", "market_analyzer").Logger(),
	}
	a.restore()
	return a
}

// Observe appends a sample to the window, evicting the oldest entries
// beyond the window size, and persists the window to disk.
func (a *Analyzer) Observe(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	a.window = append(a.window, s)
	if len(a.window) > a.maxWindow {
		a.window = a.window[len(a.window)-a.maxWindow:]
	}
	if err := a.persist(); err != nil {
		a.log.Warn().Err(err).Msg("failed to persist market window")
	}
}

// ObserveStream ingests a live fee tick, keeping at most one sample per
// minInterval so a bursty feed does not flood the window.
func (a *Analyzer) ObserveStream(s Sample, minInterval time.Duration) {
	a.mu.Lock()
	if n := len(a.window); n > 0 {
		if ts := s.Timestamp; ts.IsZero() {
			ts = time.Now().UTC()
			s.Timestamp = ts
		}
		if s.Timestamp.Sub(a.window[n-1].Timestamp) < minInterval {
			a.mu.Unlock()
			return
		}
	}
	a.mu.Unlock()
	a.Observe(s)
}

// Conditions returns the inputs the funding manager needs for proposal
// generation. With fewer than three samples both values fall back to a
// neutral 0.5.
func (a *Analyzer) Conditions() funding.MarketConditions {
	snap := a.Snapshot()
	return funding.MarketConditions{
		Volatility:       snap.Volatility,
		OpportunityScore: snap.OpportunityScore,
	}
}

// Snapshot computes the full market read from the current window.
func (a *Analyzer) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Volatility:       0.5,
		OpportunityScore: 0.5,
		FeeTrend:         "stable",
		Congestion:       "medium",
		NetworkActivity:  "normal",
		SampleCount:      len(a.window),
		UpdatedAt:        time.Now().UTC(),
	}
	if len(a.window) < 3 {
		return snap
	}

	fees := make([]float64, 0, len(a.window))
	for _, s := range a.window {
		fees = append(fees, s.FeeHalfHour)
	}

	snap.Volatility = realizedVolatility(fees)
	snap.FeeTrend = feeTrend(fees)
	snap.Congestion = congestionLevel(a.window[len(a.window)-1].MempoolUsagePct)
	snap.NetworkActivity = networkActivity(a.window)
	snap.FeeRSI = feeRSI(fees)
	snap.OpportunityScore = opportunityScore(snap.FeeTrend, snap.Congestion, snap.NetworkActivity)
	return snap
}

// realizedVolatility maps the standard deviation of per-sample fee
// returns onto [0, 1]. A 25% per-sample swing saturates the scale.
func realizedVolatility(fees []float64) float64 {
	returns := make([]float64, 0, len(fees)-1)
	for i := 1; i < len(fees); i++ {
		if fees[i-1] <= 0 {
			continue
		}
		returns = append(returns, (fees[i]-fees[i-1])/fees[i-1])
	}
	if len(returns) < 2 {
		return 0.5
	}
	sd := stat.StdDev(returns, nil)
	if math.IsNaN(sd) {
		return 0.5
	}
	return clamp01(sd / 0.25)
}

// feeTrend compares the latest fee against the mean of the three
// samples before it. More than 20% above is rising, more than 20%
// below is falling.
func feeTrend(fees []float64) string {
	n := len(fees)
	if n < 4 {
		return "stable"
	}
	recent := stat.Mean(fees[n-4:n-1], nil)
	if recent <= 0 {
		return "stable"
	}
	current := fees[n-1]
	switch {
	case current > recent*1.2:
		return "rising"
	case current < recent*0.8:
		return "falling"
	default:
		return "stable"
	}
}

func congestionLevel(usagePct float64) string {
	switch {
	case usagePct > 80:
		return "critical"
	case usagePct > 60:
		return "high"
	case usagePct > 30:
		return "medium"
	default:
		return "low"
	}
}

// networkActivity looks at block production between the last two
// samples: more than two new blocks is high, none is low.
func networkActivity(window []Sample) string {
	n := len(window)
	if n < 2 {
		return "normal"
	}
	diff := window[n-1].TipHeight - window[n-2].TipHeight
	switch {
	case diff > 2:
		return "high"
	case diff < 1:
		return "low"
	default:
		return "normal"
	}
}

func feeRSI(fees []float64) *float64 {
	if len(fees) < rsiPeriod+1 {
		return nil
	}
	rsi := talib.Rsi(fees, rsiPeriod)
	last := rsi[len(rsi)-1]
	if math.IsNaN(last) {
		return nil
	}
	return &last
}

// opportunityScore starts from a neutral 0.5 and shifts it by the
// trend, congestion, and activity reads. Rising fees and a congested
// mempool mean more demand for fee intelligence.
func opportunityScore(trend, congestion, activity string) float64 {
	score := 0.5

	switch trend {
	case "rising":
		score += 0.2
	case "falling":
		score -= 0.1
	}

	switch congestion {
	case "critical":
		score += 0.3
	case "high":
		score += 0.2
	case "low":
		score -= 0.1
	}

	switch activity {
	case "high":
		score += 0.1
	case "low":
		score -= 0.1
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}

func (a *Analyzer) persist() error {
	data, err := msgpack.Marshal(a.window)
	if err != nil {
		return fmt.Errorf("failed to encode market window: %w", err)
	}
	tmp := a.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write market window: %w", err)
	}
	if err := os.Rename(tmp, a.cachePath); err != nil {
		return fmt.Errorf("failed to replace market window: %w", err)
	}
	return nil
}

func (a *Analyzer) restore() {
	data, err := os.ReadFile(a.cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			a.log.Warn().Err(err).Msg("failed to read cached market window")
		}
		return
	}
	var window []Sample
	if err := msgpack.Unmarshal(data, &window); err != nil {
		a.log.Warn().Err(err).Msg("discarding corrupt market window cache")
		return
	}
	if len(window) > a.maxWindow {
		window = window[len(window)-a.maxWindow:]
	}
	a.window = window
	a.log.Debug().Int("samples", len(window)).Msg("restored market window from cache")
}
