// Package rpc implements domain.Provider against a remote ledger node's JSON
// API. Transport failures surface as domain.ErrProviderUnavailable so callers
// can distinguish "the node is down" from "the ledger said no".
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quillfi/orderlock/internal/domain"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// ClientConfig holds connection parameters for the ledger node.
type ClientConfig struct {
	// BaseURL is the node's HTTP API root, e.g. "http://localhost:4000".
	BaseURL string

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// PollInterval is how often AwaitInclusion re-queries the receipt when
	// no inclusion watcher is attached.
	PollInterval time.Duration
}

// Client is an HTTP client for a ledger node. It implements domain.Provider.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	watcher      *InclusionWatcher
}

// NewClient creates a new ledger node client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: poll,
	}
}

// WithWatcher attaches a websocket inclusion watcher. When set, AwaitInclusion
// waits on pushed receipts instead of polling.
func (c *Client) WithWatcher(w *InclusionWatcher) *Client {
	c.watcher = w
	return c
}

// SelectCoins asks the node for unspent coins owned by owner of the given
// asset totaling at least amount.
func (c *Client) SelectCoins(ctx context.Context, owner domain.Address, asset domain.AssetID, amount uint64) ([]domain.Coin, error) {
	req := struct {
		Owner  string `json:"owner"`
		Asset  string `json:"asset"`
		Amount uint64 `json:"amount"`
	}{owner.Hex(), asset.Hex(), amount}

	var resp struct {
		Coins []coinDTO `json:"coins"`
	}
	if err := c.post(ctx, "/v1/coins/select", req, &resp); err != nil {
		return nil, fmt.Errorf("rpc: select coins: %w", err)
	}

	coins := make([]domain.Coin, 0, len(resp.Coins))
	for _, d := range resp.Coins {
		coin, err := decodeCoin(d)
		if err != nil {
			return nil, fmt.Errorf("rpc: select coins: %w", err)
		}
		coins = append(coins, coin)
	}
	return coins, nil
}

// Balance returns the total unspent amount of asset held by owner.
func (c *Client) Balance(ctx context.Context, owner domain.Address, asset domain.AssetID) (uint64, error) {
	path := fmt.Sprintf("/v1/balance/%s/%s", owner.Hex(), asset.Hex())

	var resp struct {
		Amount uint64 `json:"amount"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return 0, fmt.Errorf("rpc: balance: %w", err)
	}
	return resp.Amount, nil
}

// Submit sends a transaction to the node. Acceptance into the mempool does
// not imply inclusion; callers follow up with AwaitInclusion.
func (c *Client) Submit(ctx context.Context, tx domain.Transaction) (domain.Hash, error) {
	var resp struct {
		TxID string `json:"tx_id"`
	}
	if err := c.post(ctx, "/v1/tx", encodeTx(tx), &resp); err != nil {
		return domain.Hash{}, fmt.Errorf("rpc: submit: %w", err)
	}

	id, err := hashFromHex(resp.TxID)
	if err != nil {
		return domain.Hash{}, fmt.Errorf("rpc: submit: %w", err)
	}
	return id, nil
}

// AwaitInclusion blocks until the transaction has a receipt or the context
// expires. With a watcher attached it waits on pushed receipts; otherwise it
// polls the receipt endpoint.
func (c *Client) AwaitInclusion(ctx context.Context, id domain.Hash) (domain.Receipt, error) {
	if c.watcher != nil {
		return c.watcher.Await(ctx, id)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, found, err := c.receipt(ctx, id)
		if err != nil {
			return domain.Receipt{}, err
		}
		if found {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return domain.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// receipt fetches the receipt for a transaction. found is false while the
// node has not yet decided the transaction's fate.
func (c *Client) receipt(ctx context.Context, id domain.Hash) (domain.Receipt, bool, error) {
	path := "/v1/tx/" + id.Hex() + "/receipt"

	var dto receiptDTO
	err := c.get(ctx, path, &dto)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Receipt{}, false, nil
	}
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("rpc: receipt: %w", err)
	}

	receipt, err := decodeReceipt(dto)
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("rpc: receipt: %w", err)
	}
	return receipt, true, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, respBody)
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiError maps the node's structured errors onto domain sentinels.
func apiError(status int, body []byte) error {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Code != "" {
		switch e.Code {
		case "insufficient_funds":
			return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, e.Message)
		case "not_found":
			return domain.ErrNotFound
		}
		return fmt.Errorf("HTTP %d: %s: %s", status, e.Code, e.Message)
	}
	if status == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return fmt.Errorf("HTTP %d: %s", status, body)
}

// Compile-time interface check.
var _ domain.Provider = (*Client)(nil)
