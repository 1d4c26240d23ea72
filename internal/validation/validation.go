// Package validation holds input checks for addresses, amounts, and
// fee rates before a transaction request reaches the policy engine.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Network identifies which Bitcoin network addresses are validated against.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkRegtest Network = "regtest"
)

// MaxAmountSats is the total Bitcoin supply in satoshis.
const MaxAmountSats int64 = 21_000_000 * 100_000_000

// MaxFeeRate is a sanity ceiling in sats/vbyte.
const MaxFeeRate float64 = 1000

// addressPattern covers Base58 legacy addresses and bech32 segwit
// addresses on mainnet and testnet.
var addressPattern = regexp.MustCompile(
	`^[13][a-km-zA-HJ-NP-Z1-9]{25,34}$|^bc1[a-z0-9]{39,59}$|^tb1[a-z0-9]{39,59}$`,
)

// AddressError reports why an address failed validation.
type AddressError struct {
	Address string
	Reason  string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Address, e.Reason)
}

// ValidateAddress checks format and network fit of a Bitcoin address.
func ValidateAddress(address string, network Network) error {
	if address == "" {
		return &AddressError{Address: address, Reason: "address must be a non-empty string"}
	}
	if len(address) < 26 || len(address) > 62 {
		return &AddressError{Address: address, Reason: "address length is invalid"}
	}
	if !addressPattern.MatchString(address) {
		return &AddressError{Address: address, Reason: "address format is invalid"}
	}

	switch network {
	case NetworkMainnet:
		if strings.HasPrefix(address, "tb1") ||
			strings.HasPrefix(address, "2") ||
			strings.HasPrefix(address, "m") ||
			strings.HasPrefix(address, "n") {
			return &AddressError{Address: address, Reason: "testnet address not allowed on mainnet"}
		}
	case NetworkTestnet:
		if strings.HasPrefix(address, "bc1") ||
			strings.HasPrefix(address, "1") ||
			strings.HasPrefix(address, "3") {
			return &AddressError{Address: address, Reason: "mainnet address not allowed on testnet"}
		}
	}
	return nil
}

// IsValidAddress reports whether an address passes validation.
func IsValidAddress(address string, network Network) bool {
	return ValidateAddress(address, network) == nil
}

// ValidateAddresses validates every address in the list, failing on the
// first invalid one.
func ValidateAddresses(addresses []string, network Network) error {
	for _, address := range addresses {
		if err := ValidateAddress(address, network); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAmountSats checks an amount is positive and within supply.
func ValidateAmountSats(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if amount > MaxAmountSats {
		return fmt.Errorf("amount exceeds maximum Bitcoin supply")
	}
	return nil
}

// ValidateFeeRate checks a fee rate is positive and plausible.
func ValidateFeeRate(feeRate float64) error {
	if feeRate <= 0 {
		return fmt.Errorf("fee rate must be positive")
	}
	if feeRate > MaxFeeRate {
		return fmt.Errorf("fee rate is unreasonably high")
	}
	return nil
}
