// Package wallet abstracts the capability of creating and broadcasting a
// signed transaction. The policy engine decides whether a spend may happen;
// this package only knows how.
package wallet

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/CodeByMAB/Falconer/internal/clients/lnbits"
	"github.com/CodeByMAB/Falconer/internal/validation"
)

// Spender creates signed, broadcastable transactions. Implementations are
// expected to be thin pass-throughs to an external wallet service.
type Spender interface {
	// Send broadcasts amountSats to destination and returns the txid.
	Send(ctx context.Context, destination string, amountSats int64, feeRateSatsPerVbyte float64) (string, error)

	// BalanceSats returns the current spendable balance.
	BalanceSats(ctx context.Context) (int64, error)
}

// LNbitsWallet implements Spender over the LNbits API.
type LNbitsWallet struct {
	client  *lnbits.Client
	network validation.Network
	log     zerolog.Logger
}

// NewLNbitsWallet creates an LNbits-backed wallet
func NewLNbitsWallet(client *lnbits.Client, network validation.Network, log zerolog.Logger) *LNbitsWallet {
	return &LNbitsWallet{
		client:  client,
		network: network,
		log:     log.With().Str("component", "wallet").Logger(),
	}
}

// Send broadcasts an on-chain payment through LNbits. Inputs are
// sanity-checked before anything touches the network; a malformed
// destination must never reach the broadcast path.
func (w *LNbitsWallet) Send(ctx context.Context, destination string, amountSats int64, feeRateSatsPerVbyte float64) (string, error) {
	if w.network != validation.NetworkRegtest {
		if err := validation.ValidateAddress(destination, w.network); err != nil {
			return "", fmt.Errorf("refusing to send: %w", err)
		}
	}
	if err := validation.ValidateAmountSats(amountSats); err != nil {
		return "", fmt.Errorf("refusing to send: %w", err)
	}
	if feeRateSatsPerVbyte > 0 {
		if err := validation.ValidateFeeRate(feeRateSatsPerVbyte); err != nil {
			return "", fmt.Errorf("refusing to send: %w", err)
		}
	}
	return w.client.PayOnchain(ctx, destination, amountSats, feeRateSatsPerVbyte)
}

// BalanceSats returns the wallet's spendable balance
func (w *LNbitsWallet) BalanceSats(ctx context.Context) (int64, error) {
	info, err := w.client.GetWallet(ctx)
	if err != nil {
		return 0, err
	}
	return info.BalanceSats(), nil
}
