// Package electrs is a thin client for the Electrs REST API.
package electrs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Client is an Electrs REST client
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new Electrs client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "electrs").Logger(),
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request %s: %w", path, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("electrs returned %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// TipHeight returns the current best block height
func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/blocks/tip/height", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build tip height request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch tip height: %w", err)
	}
	defer resp.Body.Close()

	var height int64
	if _, err := fmt.Fscan(resp.Body, &height); err != nil {
		return 0, fmt.Errorf("failed to parse tip height: %w", err)
	}
	return height, nil
}

// AddressStats summarizes an address's chain and mempool activity
type AddressStats struct {
	Address    string `json:"address"`
	ChainStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
		TxCount      int   `json:"tx_count"`
	} `json:"chain_stats"`
	MempoolStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
		TxCount      int   `json:"tx_count"`
	} `json:"mempool_stats"`
}

// GetAddressStats fetches stats for a single address
func (c *Client) GetAddressStats(ctx context.Context, address string) (*AddressStats, error) {
	var stats AddressStats
	if err := c.get(ctx, "/address/"+address, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ConfirmedBalanceSats returns the confirmed balance of an address
func (c *Client) ConfirmedBalanceSats(ctx context.Context, address string) (int64, error) {
	stats, err := c.GetAddressStats(ctx, address)
	if err != nil {
		return 0, err
	}
	return stats.ChainStats.FundedTxoSum - stats.ChainStats.SpentTxoSum, nil
}

// BlockTime returns the timestamp of the block at the given height
func (c *Client) BlockTime(ctx context.Context, height int64) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/block-height/"+strconv.FormatInt(height, 10), nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to build block-height request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch block hash: %w", err)
	}
	defer resp.Body.Close()

	var hash string
	if _, err := fmt.Fscan(resp.Body, &hash); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse block hash: %w", err)
	}

	var block struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := c.get(ctx, "/block/"+hash, &block); err != nil {
		return time.Time{}, err
	}
	return time.Unix(block.Timestamp, 0).UTC(), nil
}
