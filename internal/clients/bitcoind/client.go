// Package bitcoind is a thin JSON-RPC client for Bitcoin Core.
package bitcoind

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client is a Bitcoin Core JSON-RPC client
type Client struct {
	url    string
	user   string
	pass   string
	client *http.Client
	log    zerolog.Logger
}

// NewClient creates a new Bitcoin Core client
func NewClient(url, user, pass string, log zerolog.Logger) *Client {
	return &Client{
		url:    url,
		user:   user,
		pass:   pass,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log.With().Str("client", "bitcoind").Logger(),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("bitcoind rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      "falconer",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.pass)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to parse %s result: %w", method, err)
		}
	}
	return nil
}

// BlockchainInfo is the subset of getblockchaininfo we use
type BlockchainInfo struct {
	Chain  string `json:"chain"`
	Blocks int64  `json:"blocks"`
}

// GetBlockchainInfo returns current chain state
func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SmartFeeEstimate is the result of estimatesmartfee
type SmartFeeEstimate struct {
	FeeRateBTCPerKvB float64 `json:"feerate"` // BTC/kvB; zero when no estimate available
	Blocks           int     `json:"blocks"`
}

// FeeRateSatsPerVbyte converts the estimate to sats/vbyte
func (e *SmartFeeEstimate) FeeRateSatsPerVbyte() float64 {
	return e.FeeRateBTCPerKvB * 1e8 / 1000
}

// EstimateSmartFee asks for a fee estimate targeting confirmation within
// targetBlocks blocks
func (c *Client) EstimateSmartFee(ctx context.Context, targetBlocks int) (*SmartFeeEstimate, error) {
	var estimate SmartFeeEstimate
	if err := c.call(ctx, "estimatesmartfee", []interface{}{targetBlocks}, &estimate); err != nil {
		return nil, err
	}
	return &estimate, nil
}

// MempoolInfo is the subset of getmempoolinfo we use
type MempoolInfo struct {
	Size          int64   `json:"size"`
	Bytes         int64   `json:"bytes"`
	Usage         int64   `json:"usage"`
	MaxMempool    int64   `json:"maxmempool"`
	MempoolMinFee float64 `json:"mempoolminfee"`
	MinRelayTxFee float64 `json:"minrelaytxfee"`
}

// GetMempoolInfo returns current mempool statistics
func (c *Client) GetMempoolInfo(ctx context.Context) (*MempoolInfo, error) {
	var info MempoolInfo
	if err := c.call(ctx, "getmempoolinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetBlockHash returns the block hash at the given height
func (c *Client) GetBlockHash(ctx context.Context, height int64) (string, error) {
	var hash string
	if err := c.call(ctx, "getblockhash", []interface{}{height}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// Block is the subset of getblock (verbosity 1) we use
type Block struct {
	Hash   string   `json:"hash"`
	Height int64    `json:"height"`
	Time   int64    `json:"time"`
	Size   int64    `json:"size"`
	Tx     []string `json:"tx"`
}

// GetBlock returns header and transaction ids for the given block hash
func (c *Client) GetBlock(ctx context.Context, hash string) (*Block, error) {
	var block Block
	if err := c.call(ctx, "getblock", []interface{}{hash}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}
