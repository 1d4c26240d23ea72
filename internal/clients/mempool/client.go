// Package mempool is a client for a mempool.space-compatible API, including
// the live fee feed over websocket.
package mempool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// RecommendedFees are the API's current fee rate suggestions, in sats/vbyte
type RecommendedFees struct {
	FastestFee  float64 `json:"fastestFee"`
	HalfHourFee float64 `json:"halfHourFee"`
	HourFee     float64 `json:"hourFee"`
	EconomyFee  float64 `json:"economyFee"`
	MinimumFee  float64 `json:"minimumFee"`
}

// Client is a mempool.space-compatible API client
type Client struct {
	baseURL string
	wsURL   string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new mempool client
func NewClient(baseURL, wsURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		wsURL:   wsURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "mempool").Logger(),
	}
}

// GetRecommendedFees fetches the current recommended fee rates
func (c *Client) GetRecommendedFees(ctx context.Context) (*RecommendedFees, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/fees/recommended", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fees request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recommended fees: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mempool API returned %d for recommended fees", resp.StatusCode)
	}

	var fees RecommendedFees
	if err := json.NewDecoder(resp.Body).Decode(&fees); err != nil {
		return nil, fmt.Errorf("failed to decode recommended fees: %w", err)
	}
	return &fees, nil
}

// FeeUpdate is one message from the live fee feed
type FeeUpdate struct {
	Fees      RecommendedFees
	Timestamp time.Time
}

// StreamFees subscribes to the live fee feed and invokes handler for each
// update until ctx is cancelled or the connection drops. The caller owns
// reconnect policy.
func (c *Client) StreamFees(ctx context.Context, handler func(FeeUpdate)) error {
	conn, _, err := websocket.Dial(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to fee feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Ask for fee updates only
	subscribe := map[string]interface{}{"action": "want", "data": []string{"fees"}}
	if err := wsjson.Write(ctx, conn, subscribe); err != nil {
		return fmt.Errorf("failed to subscribe to fee feed: %w", err)
	}

	c.log.Info().Str("url", c.wsURL).Msg("Fee feed connected")

	for {
		var msg struct {
			Fees *RecommendedFees `json:"fees"`
		}
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fee feed read failed: %w", err)
		}
		if msg.Fees != nil {
			handler(FeeUpdate{Fees: *msg.Fees, Timestamp: time.Now().UTC()})
		}
	}
}
