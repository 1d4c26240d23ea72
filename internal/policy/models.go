// Package policy enforces spending limits on outgoing transactions. It is the
// single gate every transaction passes through before broadcast, and the sole
// writer of the daily spend ledger.
package policy

import (
	"fmt"
	"time"
)

// ViolationType identifies which rule a transaction request broke.
type ViolationType string

const (
	ViolationAmountLimit ViolationType = "amount_limit_exceeded"
	ViolationDailyLimit  ViolationType = "daily_limit_exceeded"
	ViolationDestination ViolationType = "destination_not_allowed"
	ViolationFeeRate     ViolationType = "fee_rate_exceeded"
)

// Severity grades a violation. Errors block a transaction outright; warnings
// leave the decision to the caller.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Policy is the spending policy configuration. Immutable once constructed;
// Validate rejects inconsistent limits at load time.
type Policy struct {
	MaxDailySpendSats      int64    `json:"max_daily_spend_sats"`
	MaxSingleTxSats        int64    `json:"max_single_tx_sats"`
	AllowedDestinations    []string `json:"allowed_destinations"`
	MaxFeeRateSatsPerVbyte int64    `json:"max_fee_rate_sats_per_vbyte"` // 0 = no cap
	RequireConfirmation    bool     `json:"require_confirmation"`
}

// Validate checks policy invariants. Called at construction time so a broken
// policy never reaches the engine.
func (p Policy) Validate() error {
	if p.MaxDailySpendSats <= 0 {
		return fmt.Errorf("max_daily_spend_sats must be positive, got %d", p.MaxDailySpendSats)
	}
	if p.MaxSingleTxSats <= 0 {
		return fmt.Errorf("max_single_tx_sats must be positive, got %d", p.MaxSingleTxSats)
	}
	if p.MaxSingleTxSats > p.MaxDailySpendSats {
		return fmt.Errorf("max_single_tx_sats (%d) must not exceed max_daily_spend_sats (%d)",
			p.MaxSingleTxSats, p.MaxDailySpendSats)
	}
	if p.MaxFeeRateSatsPerVbyte < 0 {
		return fmt.Errorf("max_fee_rate_sats_per_vbyte must not be negative, got %d", p.MaxFeeRateSatsPerVbyte)
	}
	return nil
}

// destinationAllowed reports whether dest passes the allow-list. An empty
// list means unrestricted.
func (p Policy) destinationAllowed(dest string) bool {
	if len(p.AllowedDestinations) == 0 {
		return true
	}
	for _, d := range p.AllowedDestinations {
		if d == dest {
			return true
		}
	}
	return false
}

// TransactionRequest describes an outgoing transaction to be checked against
// policy. Value object, never mutated after creation.
type TransactionRequest struct {
	Destination         string    `json:"destination"`
	AmountSats          int64     `json:"amount_sats"`
	FeeRateSatsPerVbyte float64   `json:"fee_rate_sats_per_vbyte,omitempty"` // 0 = unspecified
	Description         string    `json:"description,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Violation records a single policy breach for a transaction request.
type Violation struct {
	Type      ViolationType      `json:"violation_type"`
	Message   string             `json:"message"`
	Severity  Severity           `json:"severity"`
	Request   TransactionRequest `json:"transaction_request"`
	Timestamp time.Time          `json:"timestamp"`
}

// DailySpend tracks total outgoing sats for one calendar date (UTC).
// Monotonically non-decreasing within a day.
type DailySpend struct {
	Date             string `json:"date"` // YYYY-MM-DD
	TotalSpentSats   int64  `json:"total_spent_sats"`
	TransactionCount int    `json:"transaction_count"`
}

// TransactionRecord is a transaction history log entry.
type TransactionRecord struct {
	Timestamp           time.Time `json:"timestamp"`
	Destination         string    `json:"destination"`
	AmountSats          int64     `json:"amount_sats"`
	FeeRateSatsPerVbyte float64   `json:"fee_rate_sats_per_vbyte,omitempty"`
	Description         string    `json:"description,omitempty"`
	Txid                string    `json:"txid,omitempty"`
	Status              string    `json:"status"` // completed when txid known, pending otherwise
}
