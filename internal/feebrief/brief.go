// Package feebrief generates fee intelligence reports from Bitcoin Core
// and mempool data.
package feebrief

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/CodeByMAB/Falconer/internal/clients/bitcoind"
	"github.com/CodeByMAB/Falconer/internal/events"
	"github.com/CodeByMAB/Falconer/internal/ledger"
)

// LatestKey is where the most recent brief is persisted.
const LatestKey = "feebrief/latest"

// confirmationTargets are the block targets a brief estimates fees for.
var confirmationTargets = []int{1, 3, 6, 12, 24, 72, 144}

const recentBlockCount = 5

// FeeEstimate is one confirmation-target estimate in sats/vbyte.
type FeeEstimate struct {
	TargetBlocks        int     `json:"target_blocks"`
	FeeRateSatsPerVbyte float64 `json:"fee_rate_sats_per_vbyte"`
	Confidence          int     `json:"confidence,omitempty"` // blocks the estimator actually used
}

// MempoolStats mirrors the getmempoolinfo fields a brief reports.
type MempoolStats struct {
	Size          int64   `json:"size"`
	Bytes         int64   `json:"bytes"`
	Usage         int64   `json:"usage"`
	MaxMempool    int64   `json:"maxmempool"`
	MempoolMinFee float64 `json:"mempoolminfee"`
	MinRelayTxFee float64 `json:"minrelaytxfee"`
}

// BlockSummary is one recent block's headline numbers.
type BlockSummary struct {
	Height  int64  `json:"height"`
	Hash    string `json:"hash"`
	Time    int64  `json:"time"`
	Size    int64  `json:"size"`
	TxCount int    `json:"tx_count"`
}

// FeeSpread summarizes the distribution of estimates across targets.
type FeeSpread struct {
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
}

// Recommendations is the actionable part of a brief.
type Recommendations struct {
	Urgency            string   `json:"urgency"` // low | normal | medium | high
	RecommendedFeeRate float64  `json:"recommended_fee_rate"`
	Reasoning          []string `json:"reasoning"`
	MarketConditions   string   `json:"market_conditions"` // normal | busy | congested
}

// Brief is a full fee intelligence report.
type Brief struct {
	Timestamp     time.Time       `json:"timestamp"`
	CurrentHeight int64           `json:"current_height"`
	FeeEstimates  []FeeEstimate   `json:"fee_estimates"`
	MempoolStats  MempoolStats    `json:"mempool_stats"`
	RecentBlocks  []BlockSummary  `json:"recent_blocks"`
	FeeSpread     *FeeSpread      `json:"fee_spread,omitempty"`
	Recommends    Recommendations `json:"recommendations"`
}

// Service builds briefs and persists the latest one.
type Service struct {
	bitcoind *bitcoind.Client
	store    *ledger.Store
	bus      *events.Bus
	log      zerolog.Logger
}

// NewService creates a fee brief service. bus may be nil.
func NewService(bc *bitcoind.Client, store *ledger.Store, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		bitcoind: bc,
		store:    store,
		bus:      bus,
		log:      log.With().Str("component", "feebrief").Logger(),
	}
}

// Generate builds a brief from live node data, persists it as the
// latest brief, and announces it on the event bus. Individual fee
// targets and blocks that fail to resolve are skipped with a warning;
// chain and mempool state are required.
func (s *Service) Generate(ctx context.Context) (*Brief, error) {
	info, err := s.bitcoind.GetBlockchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockchain info: %w", err)
	}

	estimates := s.collectEstimates(ctx)

	mempoolInfo, err := s.bitcoind.GetMempoolInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get mempool info: %w", err)
	}
	stats := MempoolStats{
		Size:          mempoolInfo.Size,
		Bytes:         mempoolInfo.Bytes,
		Usage:         mempoolInfo.Usage,
		MaxMempool:    mempoolInfo.MaxMempool,
		MempoolMinFee: mempoolInfo.MempoolMinFee,
		MinRelayTxFee: mempoolInfo.MinRelayTxFee,
	}

	brief := &Brief{
		Timestamp:     time.Now().UTC(),
		CurrentHeight: info.Blocks,
		FeeEstimates:  estimates,
		MempoolStats:  stats,
		RecentBlocks:  s.collectRecentBlocks(ctx, info.Blocks),
		FeeSpread:     feeSpread(estimates),
		Recommends:    buildRecommendations(estimates, stats),
	}

	if err := s.store.Put(LatestKey, brief); err != nil {
		return nil, fmt.Errorf("failed to persist fee brief: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(events.FeeBriefReady, "feebrief", map[string]interface{}{
			"height":          brief.CurrentHeight,
			"estimates_count": len(brief.FeeEstimates),
			"urgency":         brief.Recommends.Urgency,
		})
	}

	s.log.Info().
		Int64("height", brief.CurrentHeight).
		Int64("mempool_size", stats.Size).
		Int("estimates", len(estimates)).
		Msg("fee brief generated")
	return brief, nil
}

// Latest returns the most recently persisted brief, or nil when none
// has been generated yet.
func (s *Service) Latest() (*Brief, error) {
	var brief Brief
	found, err := s.store.Get(LatestKey, &brief)
	if err != nil {
		return nil, fmt.Errorf("failed to load fee brief: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &brief, nil
}

func (s *Service) collectEstimates(ctx context.Context) []FeeEstimate {
	estimates := make([]FeeEstimate, 0, len(confirmationTargets))
	for _, target := range confirmationTargets {
		est, err := s.bitcoind.EstimateSmartFee(ctx, target)
		if err != nil {
			s.log.Warn().Err(err).Int("target", target).Msg("failed to get fee estimate")
			continue
		}
		if est.FeeRateBTCPerKvB <= 0 {
			// No estimate available for this target yet.
			continue
		}
		estimates = append(estimates, FeeEstimate{
			TargetBlocks:        target,
			FeeRateSatsPerVbyte: est.FeeRateSatsPerVbyte(),
			Confidence:          est.Blocks,
		})
	}
	return estimates
}

func (s *Service) collectRecentBlocks(ctx context.Context, tip int64) []BlockSummary {
	blocks := make([]BlockSummary, 0, recentBlockCount)
	for i := int64(0); i < recentBlockCount; i++ {
		height := tip - i
		if height < 0 {
			break
		}
		hash, err := s.bitcoind.GetBlockHash(ctx, height)
		if err != nil {
			s.log.Warn().Err(err).Int64("height", height).Msg("failed to get block hash")
			continue
		}
		block, err := s.bitcoind.GetBlock(ctx, hash)
		if err != nil {
			s.log.Warn().Err(err).Int64("height", height).Msg("failed to get block")
			continue
		}
		blocks = append(blocks, BlockSummary{
			Height:  height,
			Hash:    hash,
			Time:    block.Time,
			Size:    block.Size,
			TxCount: len(block.Tx),
		})
	}
	return blocks
}

// feeSpread computes quartiles across the per-target estimates. Needs
// at least three estimates to be meaningful.
func feeSpread(estimates []FeeEstimate) *FeeSpread {
	if len(estimates) < 3 {
		return nil
	}
	rates := make([]float64, 0, len(estimates))
	for _, e := range estimates {
		rates = append(rates, e.FeeRateSatsPerVbyte)
	}
	sort.Float64s(rates)
	return &FeeSpread{
		P25: stat.Quantile(0.25, stat.Empirical, rates, nil),
		P50: stat.Quantile(0.50, stat.Empirical, rates, nil),
		P75: stat.Quantile(0.75, stat.Empirical, rates, nil),
	}
}

func buildRecommendations(estimates []FeeEstimate, stats MempoolStats) Recommendations {
	rec := Recommendations{
		Urgency:            "normal",
		RecommendedFeeRate: 10.0,
		Reasoning:          []string{},
		MarketConditions:   "normal",
	}

	if len(estimates) == 0 {
		rec.Reasoning = append(rec.Reasoning, "No fee estimates available")
		return rec
	}

	for _, e := range estimates {
		if e.TargetBlocks != 6 {
			continue
		}
		rec.RecommendedFeeRate = e.FeeRateSatsPerVbyte
		switch {
		case e.FeeRateSatsPerVbyte > 50:
			rec.Urgency = "high"
			rec.MarketConditions = "congested"
			rec.Reasoning = append(rec.Reasoning, "High fee rates indicate network congestion")
		case e.FeeRateSatsPerVbyte > 20:
			rec.Urgency = "medium"
			rec.MarketConditions = "busy"
			rec.Reasoning = append(rec.Reasoning, "Moderate fee rates suggest increased activity")
		default:
			rec.Urgency = "low"
			rec.MarketConditions = "normal"
			rec.Reasoning = append(rec.Reasoning, "Low fee rates indicate normal network conditions")
		}
		break
	}

	if stats.MaxMempool > 0 {
		usagePct := float64(stats.Usage) / float64(stats.MaxMempool) * 100
		if usagePct > 80 {
			rec.Urgency = "high"
			rec.Reasoning = append(rec.Reasoning, "Mempool is nearly full")
		} else if usagePct > 60 {
			if rec.Urgency == "low" {
				rec.Urgency = "medium"
			}
			rec.Reasoning = append(rec.Reasoning, "Mempool usage is elevated")
		}
	}

	switch rec.Urgency {
	case "high":
		rec.Reasoning = append(rec.Reasoning, "Consider waiting or using higher fee rates")
	case "low":
		rec.Reasoning = append(rec.Reasoning, "Good time for transactions with standard fees")
	}

	return rec
}
