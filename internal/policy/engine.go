package policy

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CodeByMAB/Falconer/internal/ledger"
)

const (
	dateLayout        = "2006-01-02"
	txHistoryCap      = 1000
	violationLogCap   = 500
	defaultSummaryLen = 7
)

// Engine validates transaction requests against the policy and tracks daily
// spending in the ledger store.
//
// Validate and Record are deliberately separate calls: two requests can both
// pass Validate against the same pre-state and then both Record, overshooting
// the daily cap by at most one request's amount. Closing that gap would need
// a reservation handed from Validate to Record; callers accept the optimistic
// behavior instead. Record's own read-modify-write IS serialized, so no
// recorded amount is ever lost.
type Engine struct {
	policy Policy
	store  *ledger.Store
	now    func() time.Time
	mu     sync.Mutex // serializes Record's daily-spend increment
	log    zerolog.Logger
}

// NewEngine validates the policy and returns an engine bound to the store.
func NewEngine(policy Policy, store *ledger.Store, log zerolog.Logger) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &Engine{
		policy: policy,
		store:  store,
		now:    time.Now,
		log:    log.With().Str("component", "policy").Logger(),
	}, nil
}

// Policy returns the active policy configuration.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Validate checks req against every policy rule and returns all violations
// found, in the fixed order amount, daily, destination, fee rate. An empty
// result means the transaction is allowed. Checks are independent; none
// short-circuits. Each violation is also appended to the violation log.
func (e *Engine) Validate(req TransactionRequest) []Violation {
	var violations []Violation

	if req.AmountSats > e.policy.MaxSingleTxSats {
		violations = append(violations, e.addViolation(Violation{
			Type:     ViolationAmountLimit,
			Severity: SeverityError,
			Message: fmt.Sprintf(
				"Transaction amount %d sats exceeds single transaction limit of %d sats",
				req.AmountSats, e.policy.MaxSingleTxSats),
			Request: req,
		}))
	}

	todaySpent := e.dailyTotal(e.today())
	if todaySpent+req.AmountSats > e.policy.MaxDailySpendSats {
		violations = append(violations, e.addViolation(Violation{
			Type:     ViolationDailyLimit,
			Severity: SeverityError,
			Message: fmt.Sprintf(
				"Transaction would exceed daily spending limit. Today: %d sats, Request: %d sats, Limit: %d sats",
				todaySpent, req.AmountSats, e.policy.MaxDailySpendSats),
			Request: req,
		}))
	}

	if !e.policy.destinationAllowed(req.Destination) {
		violations = append(violations, e.addViolation(Violation{
			Type:     ViolationDestination,
			Severity: SeverityError,
			Message: fmt.Sprintf(
				"Destination %s is not in the allowed destinations list", req.Destination),
			Request: req,
		}))
	}

	if e.policy.MaxFeeRateSatsPerVbyte > 0 && req.FeeRateSatsPerVbyte > 0 &&
		req.FeeRateSatsPerVbyte > float64(e.policy.MaxFeeRateSatsPerVbyte) {
		violations = append(violations, e.addViolation(Violation{
			Type:     ViolationFeeRate,
			Severity: SeverityWarning,
			Message: fmt.Sprintf(
				"Fee rate %.1f sats/vbyte exceeds limit of %d sats/vbyte",
				req.FeeRateSatsPerVbyte, e.policy.MaxFeeRateSatsPerVbyte),
			Request: req,
		}))
	}

	return violations
}

// IsAllowed reports whether req passes validation with zero violations.
func (e *Engine) IsAllowed(req TransactionRequest) bool {
	return len(e.Validate(req)) == 0
}

// Record updates today's spend totals for a transaction that has already
// been validated and successfully submitted. The read-modify-write of the
// daily record is serialized, so concurrent Record calls for the same day
// never lose an update. A failed ledger write propagates to the caller;
// losing a spend record silently would be a correctness bug.
func (e *Engine) Record(req TransactionRequest, txid string) error {
	today := e.today()

	e.mu.Lock()
	spend := DailySpend{Date: today}
	if _, err := e.store.GetStrict(ledger.SpendKeyPrefix+today, &spend); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to load daily spend for %s: %w", today, err)
	}

	spend.TotalSpentSats += req.AmountSats
	spend.TransactionCount++

	if err := e.store.Put(ledger.SpendKeyPrefix+today, spend); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to save daily spend for %s: %w", today, err)
	}
	e.mu.Unlock()

	status := "completed"
	if txid == "" {
		status = "pending"
	}
	record := TransactionRecord{
		Timestamp:           req.CreatedAt,
		Destination:         req.Destination,
		AmountSats:          req.AmountSats,
		FeeRateSatsPerVbyte: req.FeeRateSatsPerVbyte,
		Description:         req.Description,
		Txid:                txid,
		Status:              status,
	}
	if err := e.store.AppendBounded(ledger.TxHistoryLog, record, txHistoryCap); err != nil {
		// History is an ancillary log; the spend totals above are already
		// committed, so degrade to a warning rather than failing the caller.
		e.log.Warn().Err(err).Msg("Failed to append transaction history")
	}

	e.log.Info().
		Str("date", today).
		Int64("amount_sats", req.AmountSats).
		Str("txid", txid).
		Int64("daily_total", spend.TotalSpentSats).
		Msg("Transaction recorded")

	return nil
}

// DailySpendSummary returns spend records for the trailing days calendar
// days, newest first. Days with no recorded spending are omitted.
func (e *Engine) DailySpendSummary(days int) ([]DailySpend, error) {
	if days <= 0 {
		days = defaultSummaryLen
	}

	now := e.now().UTC()
	var summary []DailySpend
	for i := 0; i < days; i++ {
		date := now.AddDate(0, 0, -i).Format(dateLayout)

		var spend DailySpend
		found, err := e.store.Get(ledger.SpendKeyPrefix+date, &spend)
		if err != nil {
			return nil, fmt.Errorf("failed to load daily spend for %s: %w", date, err)
		}
		if found {
			summary = append(summary, spend)
		}
	}
	return summary, nil
}

// Violations returns the most recent policy violations, newest first.
// Degrades to empty on storage trouble; the violation log is advisory.
func (e *Engine) Violations(limit int) []Violation {
	entries, err := e.store.ReadLog(ledger.ViolationLog, limit)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to read violation log")
		return nil
	}
	var violations []Violation
	for _, entry := range entries {
		var v Violation
		if err := json.Unmarshal(entry, &v); err != nil {
			continue
		}
		violations = append(violations, v)
	}
	return violations
}

// TransactionHistory returns the most recent recorded transactions, newest
// first. Degrades to empty on storage trouble.
func (e *Engine) TransactionHistory(limit int) []TransactionRecord {
	entries, err := e.store.ReadLog(ledger.TxHistoryLog, limit)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to read transaction history")
		return nil
	}
	var records []TransactionRecord
	for _, entry := range entries {
		var r TransactionRecord
		if err := json.Unmarshal(entry, &r); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records
}

// addViolation stamps and persists a violation, then returns it. Persistence
// trouble downgrades to a warning; violations are data, not errors.
func (e *Engine) addViolation(v Violation) Violation {
	v.Timestamp = e.now().UTC()

	if err := e.store.AppendBounded(ledger.ViolationLog, v, violationLogCap); err != nil {
		e.log.Warn().Err(err).Str("type", string(v.Type)).
			Msg("Failed to persist policy violation")
	}

	e.log.Warn().
		Str("type", string(v.Type)).
		Str("severity", string(v.Severity)).
		Int64("amount_sats", v.Request.AmountSats).
		Msg("Policy violation")

	return v
}

// dailyTotal reads the committed spend total for date, zero when absent.
func (e *Engine) dailyTotal(date string) int64 {
	var spend DailySpend
	found, err := e.store.Get(ledger.SpendKeyPrefix+date, &spend)
	if err != nil || !found {
		return 0
	}
	return spend.TotalSpentSats
}

func (e *Engine) today() string {
	return e.now().UTC().Format(dateLayout)
}
