package policy

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeByMAB/Falconer/internal/database"
	"github.com/CodeByMAB/Falconer/internal/ledger"
	"github.com/CodeByMAB/Falconer/pkg/logger"
)

func newTestEngine(t *testing.T, p Policy) *Engine {
	t.Helper()

	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:%s?mode=memory", t.Name()),
		Name: "policy-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.New(logger.Config{Level: "error"})
	store, err := ledger.NewStore(db, log)
	require.NoError(t, err)

	engine, err := NewEngine(p, store, log)
	require.NoError(t, err)
	return engine
}

func request(amount int64) TransactionRequest {
	return TransactionRequest{
		Destination: "bc1qtestdestination",
		AmountSats:  amount,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestNewEngine_RejectsInvalidPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
	}{
		{"zero daily limit", Policy{MaxDailySpendSats: 0, MaxSingleTxSats: 100}},
		{"zero single limit", Policy{MaxDailySpendSats: 1000, MaxSingleTxSats: 0}},
		{"single exceeds daily", Policy{MaxDailySpendSats: 1000, MaxSingleTxSats: 2000}},
		{"negative fee cap", Policy{MaxDailySpendSats: 1000, MaxSingleTxSats: 500, MaxFeeRateSatsPerVbyte: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.policy.Validate())
		})
	}
}

func TestValidate_AmountLimit(t *testing.T) {
	engine := newTestEngine(t, Policy{MaxDailySpendSats: 100000, MaxSingleTxSats: 5000})

	violations := engine.Validate(request(5001))
	require.Len(t, violations, 1)
	assert.Equal(t, ViolationAmountLimit, violations[0].Type)
	assert.Equal(t, SeverityError, violations[0].Severity)

	assert.Empty(t, engine.Validate(request(5000)))
}

func TestValidate_DailyLimitAfterRecordedSpend(t *testing.T) {
	engine := newTestEngine(t, Policy{MaxDailySpendSats: 10000, MaxSingleTxSats: 8000})

	// First request fits and is recorded
	require.Empty(t, engine.Validate(request(8000)))
	require.NoError(t, engine.Record(request(8000), "txid-a"))

	// 8000 + 3000 > 10000: exactly the daily violation, nothing else
	violations := engine.Validate(request(3000))
	require.Len(t, violations, 1)
	assert.Equal(t, ViolationDailyLimit, violations[0].Type)
	assert.Equal(t, SeverityError, violations[0].Severity)

	// 8000 + 2000 hits the cap exactly, still allowed
	assert.Empty(t, engine.Validate(request(2000)))
}

func TestValidate_DestinationAllowList(t *testing.T) {
	engine := newTestEngine(t, Policy{
		MaxDailySpendSats:   100000,
		MaxSingleTxSats:     50000,
		AllowedDestinations: []string{"bc1qX"},
	})

	req := TransactionRequest{Destination: "bc1qY", AmountSats: 1000, CreatedAt: time.Now()}
	violations := engine.Validate(req)
	require.Len(t, violations, 1)
	assert.Equal(t, ViolationDestination, violations[0].Type)

	req.Destination = "bc1qX"
	assert.Empty(t, engine.Validate(req))
}

func TestValidate_EmptyAllowListIsUnrestricted(t *testing.T) {
	engine := newTestEngine(t, Policy{MaxDailySpendSats: 100000, MaxSingleTxSats: 50000})
	assert.Empty(t, engine.Validate(request(1000)))
}

func TestValidate_FeeRateWarning(t *testing.T) {
	engine := newTestEngine(t, Policy{
		MaxDailySpendSats:      100000,
		MaxSingleTxSats:        50000,
		MaxFeeRateSatsPerVbyte: 20,
	})

	req := request(1000)
	req.FeeRateSatsPerVbyte = 25

	violations := engine.Validate(req)
	require.Len(t, violations, 1)
	assert.Equal(t, ViolationFeeRate, violations[0].Type)
	assert.Equal(t, SeverityWarning, violations[0].Severity)

	// No cap configured: no warning
	uncapped := newTestEngine(t, Policy{MaxDailySpendSats: 100000, MaxSingleTxSats: 50000})
	assert.Empty(t, uncapped.Validate(req))
}

func TestValidate_AccumulatesAllViolationsInOrder(t *testing.T) {
	engine := newTestEngine(t, Policy{
		MaxDailySpendSats:      10000,
		MaxSingleTxSats:        10000,
		AllowedDestinations:    []string{"bc1qX"},
		MaxFeeRateSatsPerVbyte: 10,
	})

	req := TransactionRequest{
		Destination:         "bc1qY",
		AmountSats:          15000,
		FeeRateSatsPerVbyte: 50,
		CreatedAt:           time.Now(),
	}

	violations := engine.Validate(req)
	require.Len(t, violations, 4)
	assert.Equal(t, ViolationAmountLimit, violations[0].Type)
	assert.Equal(t, ViolationDailyLimit, violations[1].Type)
	assert.Equal(t, ViolationDestination, violations[2].Type)
	assert.Equal(t, ViolationFeeRate, violations[3].Type)
}

func TestValidate_PureWithoutInterveningRecord(t *testing.T) {
	engine := newTestEngine(t, Policy{MaxDailySpendSats: 10000, MaxSingleTxSats: 5000})

	req := request(6000)
	first := engine.Validate(req)
	second := engine.Validate(req)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Type, second[i].Type)
		assert.Equal(t, first[i].Severity, second[i].Severity)
		assert.Equal(t, first[i].Message, second[i].Message)
	}
}

func TestIsAllowed(t *testing.T) {
	engine := newTestEngine(t, Policy{MaxDailySpendSats: 10000, MaxSingleTxSats: 5000})

	assert.True(t, engine.IsAllowed(request(5000)))
	assert.False(t, engine.IsAllowed(request(5001)))
}

func TestRecord_AccumulatesDailyTotals(t *testing.T) {
	engine := newTestEngine(t, Policy{MaxDailySpendSats: 100000, MaxSingleTxSats: 50000})

	require.NoError(t, engine.Record(request(1000), "tx-1"))
	require.NoError(t, engine.Record(request(2500), "tx-2"))
	require.NoError(t, engine.Record(request(500), ""))

	summary, err := engine.DailySpendSummary(1)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, int64(4000), summary[0].TotalSpentSats)
	assert.Equal(t, 3, summary[0].TransactionCount)
}

func TestRecord_ConcurrentCallsLoseNoUpdates(t *testing.T) {
	engine := newTestEngine(t, Policy{MaxDailySpendSats: 10000000, MaxSingleTxSats: 10000})

	const workers = 20
	const perWorker = 5

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := engine.Record(request(100), "tx"); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	summary, err := engine.DailySpendSummary(1)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, int64(workers*perWorker*100), summary[0].TotalSpentSats)
	assert.Equal(t, workers*perWorker, summary[0].TransactionCount)
}

func TestDailySpendSummary_NewestFirstMissingDaysOmitted(t *testing.T) {
	engine := newTestEngine(t, Policy{MaxDailySpendSats: 100000, MaxSingleTxSats: 50000})

	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	// Record on two non-adjacent days by moving the engine clock
	engine.now = func() time.Time { return base.AddDate(0, 0, -3) }
	require.NoError(t, engine.Record(request(1000), "tx-old"))

	engine.now = func() time.Time { return base }
	require.NoError(t, engine.Record(request(2000), "tx-new"))

	summary, err := engine.DailySpendSummary(7)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "2025-06-10", summary[0].Date)
	assert.Equal(t, int64(2000), summary[0].TotalSpentSats)
	assert.Equal(t, "2025-06-07", summary[1].Date)
	assert.Equal(t, int64(1000), summary[1].TotalSpentSats)
}

func TestViolationsArePersistedToLog(t *testing.T) {
	engine := newTestEngine(t, Policy{MaxDailySpendSats: 10000, MaxSingleTxSats: 5000})

	engine.Validate(request(9000))
	engine.Validate(request(7000))

	violations := engine.Violations(10)
	require.Len(t, violations, 2)
	// Newest first
	assert.Equal(t, int64(7000), violations[0].Request.AmountSats)
	assert.Equal(t, int64(9000), violations[1].Request.AmountSats)
}

func TestTransactionHistoryNewestFirst(t *testing.T) {
	engine := newTestEngine(t, Policy{MaxDailySpendSats: 100000, MaxSingleTxSats: 50000})

	require.NoError(t, engine.Record(request(100), "tx-1"))
	require.NoError(t, engine.Record(request(200), "tx-2"))

	history := engine.TransactionHistory(10)
	require.Len(t, history, 2)
	assert.Equal(t, "tx-2", history[0].Txid)
	assert.Equal(t, "completed", history[0].Status)
	assert.Equal(t, "tx-1", history[1].Txid)
}
