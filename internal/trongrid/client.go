package trongrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/suspectuso/usdt-tracker/internal/metrics"
)

// USDTDecimals is the fixed precision of TRC20 USDT
const USDTDecimals = 6

// DefaultRetryDelay is the base of the linear backoff between attempts
const DefaultRetryDelay = 500 * time.Millisecond

// ErrUnavailable marks failures worth retrying on the next tick:
// transport errors, timeouts, 429 and 5xx responses.
var ErrUnavailable = errors.New("trongrid unavailable")

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trongrid API error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed later
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Is lets errors.Is(err, ErrUnavailable) match temporary API errors
func (e *APIError) Is(target error) bool {
	return target == ErrUnavailable && e.Temporary()
}

// Client is a TronGrid HTTP client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger

	contract      string
	decimals      int32
	symbol        string
	limit         int
	onlyConfirmed bool
	verifyOnline  bool

	maxRetries int
	retryDelay time.Duration
}

// Option configures the Client
type Option func(*Client)

// WithContract sets the tracked TRC20 contract
func WithContract(contract string) Option {
	return func(c *Client) {
		c.contract = contract
	}
}

// WithTransferLimit sets how many recent transfers are fetched per wallet
func WithTransferLimit(n int) Option {
	return func(c *Client) {
		c.limit = n
	}
}

// WithOnlyConfirmed restricts transfer listings to confirmed blocks
func WithOnlyConfirmed(v bool) Option {
	return func(c *Client) {
		c.onlyConfirmed = v
	}
}

// WithOnlineValidation makes ValidateAddress also query the account
func WithOnlineValidation(v bool) Option {
	return func(c *Client) {
		c.verifyOnline = v
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries configures retry behavior for temporary failures
func WithRetries(maxRetries int, retryDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = retryDelay
	}
}

// WithRateLimit caps outgoing requests per second
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a new TronGrid client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter:    rate.NewLimiter(rate.Limit(5), 1), // public keys allow well above this
		log:        slog.Default(),
		contract:   "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		decimals:   USDTDecimals,
		symbol:     "USDT",
		limit:      20,
		maxRetries: 2,
		retryDelay: DefaultRetryDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Contract returns the tracked TRC20 contract address
func (c *Client) Contract() string {
	return c.contract
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.RecordChainRequest("retry")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		data, err := c.once(ctx, u)
		if err == nil {
			metrics.RecordChainRequest("success")
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if !errors.Is(err, ErrUnavailable) {
			break
		}
		c.log.Debug("trongrid request failed", "path", path, "attempt", attempt+1, "error", err)
	}

	metrics.RecordChainRequest("failed")
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, u string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
	}

	return data, nil
}

// GetAccount returns account information. A valid address that never received
// funds yields an empty account, not an error.
func (c *Client) GetAccount(ctx context.Context, address string) (*Account, error) {
	data, err := c.doRequest(ctx, "/v1/accounts/"+url.PathEscape(address), nil)
	if err != nil {
		return nil, err
	}

	var resp AccountResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if !resp.Success && resp.Error != "" {
		return nil, &APIError{StatusCode: http.StatusOK, Body: resp.Error}
	}

	if len(resp.Data) == 0 {
		return &Account{}, nil
	}
	return &resp.Data[0], nil
}

// GetBalance returns the tracked token balance of an address, zero if it holds none
func (c *Client) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	acc, err := c.GetAccount(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}

	for _, holding := range acc.TRC20 {
		raw, ok := holding[c.contract]
		if !ok {
			continue
		}
		units, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse balance %q: %w", raw, err)
		}
		return units.Shift(-c.decimals), nil
	}

	return decimal.Zero, nil
}

// ListRecentTransfers returns the most recent token transfers where address is
// sender or recipient, oldest first.
func (c *Client) ListRecentTransfers(ctx context.Context, address string) ([]Transfer, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.limit))
	q.Set("contract_address", c.contract)
	if c.onlyConfirmed {
		q.Set("only_confirmed", "true")
	}

	path := fmt.Sprintf("/v1/accounts/%s/transactions/trc20", url.PathEscape(address))
	data, err := c.doRequest(ctx, path, q)
	if err != nil {
		return nil, err
	}

	var resp TRC20Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	transfers := make([]Transfer, 0, len(resp.Data))
	for _, tr := range resp.Data {
		t, err := c.normalize(tr)
		if err != nil {
			c.log.Warn("skip malformed transfer", "tx_hash", tr.TransactionID, "error", err)
			continue
		}
		transfers = append(transfers, t)
	}

	sort.SliceStable(transfers, func(i, j int) bool {
		return transfers[i].Timestamp.Before(transfers[j].Timestamp)
	})

	return transfers, nil
}

func (c *Client) normalize(tr TRC20Transfer) (Transfer, error) {
	if tr.TransactionID == "" {
		return Transfer{}, errors.New("missing transaction id")
	}

	units, err := decimal.NewFromString(tr.Value)
	if err != nil {
		return Transfer{}, fmt.Errorf("parse value %q: %w", tr.Value, err)
	}

	decimals := c.decimals
	if tr.TokenInfo.Decimals > 0 {
		decimals = int32(tr.TokenInfo.Decimals)
	}

	symbol := strings.ToUpper(tr.TokenInfo.Symbol)
	if symbol == "" {
		symbol = c.symbol
	}

	return Transfer{
		TxHash:    tr.TransactionID,
		From:      tr.From,
		To:        tr.To,
		Amount:    units.Shift(-decimals),
		Currency:  symbol,
		Timestamp: time.UnixMilli(tr.BlockTimestamp),
	}, nil
}

// ValidateAddress checks the address format and, when online validation is
// enabled, that TronGrid answers for it. It never returns an error.
func (c *Client) ValidateAddress(ctx context.Context, address string) bool {
	if !IsValidAddress(address) {
		return false
	}
	if !c.verifyOnline {
		return true
	}

	if _, err := c.GetAccount(ctx, address); err != nil {
		c.log.Warn("address lookup failed", "address", address, "error", err)
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
