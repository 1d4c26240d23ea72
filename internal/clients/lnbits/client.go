// Package lnbits is a thin client for the LNbits wallet API.
package lnbits

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client is an LNbits wallet API client
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new LNbits client
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "lnbits").Logger(),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call lnbits %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("lnbits returned %d for %s", resp.StatusCode, path)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return nil
}

// WalletInfo holds wallet identity and balance
type WalletInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"` // millisats
}

// BalanceSats returns the wallet balance in sats
func (w *WalletInfo) BalanceSats() int64 {
	return w.Balance / 1000
}

// GetWallet fetches wallet info including balance
func (c *Client) GetWallet(ctx context.Context) (*WalletInfo, error) {
	var info WalletInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/wallet", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// PaymentResult is the response to a payment request
type PaymentResult struct {
	PaymentHash string `json:"payment_hash"`
	CheckingID  string `json:"checking_id"`
}

// PayInvoice pays a BOLT11 invoice
func (c *Client) PayInvoice(ctx context.Context, bolt11 string) (*PaymentResult, error) {
	body := map[string]interface{}{"out": true, "bolt11": bolt11}
	var result PaymentResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", body, &result); err != nil {
		return nil, err
	}
	c.log.Info().Str("payment_hash", result.PaymentHash).Msg("Invoice paid")
	return &result, nil
}

// PayOnchain requests an on-chain send through the LNbits onchain extension
func (c *Client) PayOnchain(ctx context.Context, address string, amountSats int64, feeRateSatsPerVbyte float64) (string, error) {
	body := map[string]interface{}{
		"address": address,
		"amount":  amountSats,
	}
	if feeRateSatsPerVbyte > 0 {
		body["fee_rate"] = feeRateSatsPerVbyte
	}

	var result struct {
		Txid string `json:"txid"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/onchain/send", body, &result); err != nil {
		return "", err
	}
	c.log.Info().Str("txid", result.Txid).Int64("amount_sats", amountSats).Msg("Onchain send submitted")
	return result.Txid, nil
}
