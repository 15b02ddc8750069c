// Package client is a signed HTTP client for the shadowtrade API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/httpapi"
	"github.com/aristath/shadowtrade/internal/modules/accounts"
	"github.com/aristath/shadowtrade/internal/modules/computation"
	comphandlers "github.com/aristath/shadowtrade/internal/modules/computation/handlers"
	reghandlers "github.com/aristath/shadowtrade/internal/modules/registry/handlers"
	"github.com/aristath/shadowtrade/internal/modules/settlement"
	settlehandlers "github.com/aristath/shadowtrade/internal/modules/settlement/handlers"
)

// APIError is a non-2xx reply.
type APIError struct {
	Status  int
	Message string
	Kind    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// Client talks to one server. Mutating calls need a signer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *auth.Signer
	clock      clockwork.Clock
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock sets the clock used for request timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// New creates a client for baseURL. signer may be nil for read-only use.
func New(baseURL string, signer *auth.Signer, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     signer,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Signer returns the configured signer, or nil.
func (c *Client) Signer() *auth.Signer {
	return c.signer
}

// InitRegistry creates the registry with the signer as authority.
func (c *Client) InitRegistry(ctx context.Context) (*accounts.Registry, error) {
	var reg accounts.Registry
	if err := c.do(ctx, http.MethodPost, "/api/registry", nil, &reg, true); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Registry fetches the registry snapshot.
func (c *Client) Registry(ctx context.Context) (*accounts.Registry, error) {
	var reg accounts.Registry
	if err := c.do(ctx, http.MethodGet, "/api/registry", nil, &reg, false); err != nil {
		return nil, err
	}
	return &reg, nil
}

// RegistryAddress fetches the registry derivation.
func (c *Client) RegistryAddress(ctx context.Context) (*reghandlers.DerivationResponse, error) {
	var d reghandlers.DerivationResponse
	if err := c.do(ctx, http.MethodGet, "/api/addresses/registry", nil, &d, false); err != nil {
		return nil, err
	}
	return &d, nil
}

// StrategyAddress fetches owner's strategy derivation.
func (c *Client) StrategyAddress(ctx context.Context, owner domain.Pubkey) (*reghandlers.DerivationResponse, error) {
	var d reghandlers.DerivationResponse
	if err := c.do(ctx, http.MethodGet, "/api/addresses/strategies/"+owner.String(), nil, &d, false); err != nil {
		return nil, err
	}
	return &d, nil
}

// RequestRSI submits an RSI request.
func (c *Client) RequestRSI(ctx context.Context, prices domain.Ciphertext, params computation.RSIParams) (*computation.Receipt, error) {
	return c.request(ctx, "/api/computations/rsi", comphandlers.RSIRequest{EncryptedPrices: prices, RSIParams: params})
}

// RequestPositionSize submits a position sizing request.
func (c *Client) RequestPositionSize(ctx context.Context, balance domain.Ciphertext, params computation.PositionSizeParams) (*computation.Receipt, error) {
	return c.request(ctx, "/api/computations/position-size", comphandlers.PositionSizeRequest{EncryptedBalance: balance, PositionSizeParams: params})
}

// RequestPerformance submits a performance metrics request.
func (c *Client) RequestPerformance(ctx context.Context, trades, initialBalance domain.Ciphertext) (*computation.Receipt, error) {
	return c.request(ctx, "/api/computations/performance", comphandlers.PerformanceRequest{
		EncryptedTrades:         trades,
		EncryptedInitialBalance: initialBalance,
	})
}

func (c *Client) request(ctx context.Context, path string, body interface{}) (*computation.Receipt, error) {
	var receipt computation.Receipt
	if err := c.do(ctx, http.MethodPost, path, body, &receipt, true); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Pending lists unsettled performance requests.
func (c *Client) Pending(ctx context.Context, limit int) ([]*computation.Receipt, error) {
	var resp struct {
		Pending []*computation.Receipt `json:"pending"`
	}
	path := "/api/computations/pending?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Pending, nil
}

// Settle commits summary for owner, or for the signer when owner is nil.
func (c *Client) Settle(ctx context.Context, owner *domain.Pubkey, summary settlement.Summary) (*accounts.StrategyView, error) {
	var view accounts.StrategyView
	req := settlehandlers.SettleRequest{Owner: owner, Summary: summary}
	if err := c.do(ctx, http.MethodPost, "/api/strategies/settle", req, &view, true); err != nil {
		return nil, err
	}
	return &view, nil
}

// Strategy fetches owner's strategy snapshot.
func (c *Client) Strategy(ctx context.Context, owner domain.Pubkey) (*accounts.StrategyView, error) {
	var view accounts.StrategyView
	if err := c.do(ctx, http.MethodGet, "/api/strategies/"+owner.String(), nil, &view, false); err != nil {
		return nil, err
	}
	return &view, nil
}

// Events fetches one page of the audit log.
func (c *Client) Events(ctx context.Context, after int64, limit int) (*events.Page, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	q.Set("limit", strconv.Itoa(limit))

	var page events.Page
	if err := c.do(ctx, http.MethodGet, "/api/events?"+q.Encode(), nil, &page, false); err != nil {
		return nil, err
	}
	return &page, nil
}

// Account fetches the raw persisted layout at addr and its kind.
func (c *Client) Account(ctx context.Context, addr domain.Pubkey) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/accounts/"+addr.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", decodeError(resp.StatusCode, data)
	}
	return data, resp.Header.Get("X-Account-Kind"), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, signed bool) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if c.signer == nil {
			return fmt.Errorf("%s %s requires a signer", method, path)
		}
		c.signer.SignRequest(req, body, c.clock.Now())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var e httpapi.ErrorResponse
	if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
		return &APIError{Status: status, Message: strings.TrimSpace(string(data))}
	}
	return &APIError{Status: status, Message: e.Error, Kind: e.Kind}
}
