// Package swapd is a small Go client for the swapd REST API.
package swapd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Swaps wait for on-chain receipts, so it is longer than a typical API call.
const DefaultHTTPTimeout = 6 * time.Minute

// Client wraps the HTTP interactions with a swapd instance.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// envelope is the {success,data,error,code} wrapper every endpoint returns.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// APIError is returned when the server reports success=false or an HTTP error.
// Data keeps the raw payload, which for failed swaps still holds the tx hash.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Data       json.RawMessage
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("swapd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("swapd api error (%d): %s", e.StatusCode, e.Message)
}

// Health mirrors GET /api/health.
type Health struct {
	Status    string `json:"status"`
	Network   string `json:"network"`
	Connected bool   `json:"connected"`
	ChainID   string `json:"chain_id,omitempty"`
}

// TokenInfo mirrors the token info payload.
type TokenInfo struct {
	Address         string `json:"address"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        uint8  `json:"decimals"`
	UniversalRouter string `json:"universal_router"`
}

// Balance mirrors the token balance payload. Balance is in base units.
type Balance struct {
	Balance         string `json:"balance"`
	ReadableBalance string `json:"readable_balance"`
	Decimals        uint8  `json:"decimals"`
}

// SwapRequest is the body of /api/swap/execute. Amounts are decimal strings.
type SwapRequest struct {
	PrivateKey    string `json:"private_key"`
	WalletAddress string `json:"wallet_address,omitempty"`
	TokenAddress  string `json:"token_address"`
	AmountIn      string `json:"amount_in"`
	TradeType     string `json:"trade_type,omitempty"`
	Slippage      string `json:"slippage,omitempty"`
}

// ScheduleRequest is the body of /api/swap/schedule. A nil ThreadCount or
// RunCount lets the server default it to 1; a set value is sent as given.
type ScheduleRequest struct {
	SwapRequest
	ScheduleTime time.Time `json:"schedule_time"`
	ThreadCount  *int      `json:"thread_count,omitempty"`
	RunCount     *int      `json:"run_count,omitempty"`
}

// SwapResult is the confirmed swap summary.
type SwapResult struct {
	TxHash            string   `json:"tx_hash"`
	ApprovalTxHash    string   `json:"approval_tx_hash,omitempty"`
	BlockNumber       uint64   `json:"block_number"`
	GasUsed           uint64   `json:"gas_used"`
	EffectiveGasPrice string   `json:"effective_gas_price"`
	Status            string   `json:"status"`
	Notes             []string `json:"notes,omitempty"`
}

// Task is a scheduled swap record.
type Task struct {
	ID           string  `json:"task_id"`
	Wallet       string  `json:"wallet_address"`
	Token        string  `json:"token_address"`
	Amount       string  `json:"amount_in"`
	TradeType    string  `json:"trade_type"`
	ScheduleTime int64   `json:"schedule_time"`
	DelaySeconds float64 `json:"delay_seconds"`
	TotalTrades  int     `json:"total_trades"`
	Status       string  `json:"status"`
	LastError    string  `json:"last_error,omitempty"`
}

// MonitorRequest is the body of /api/pool/monitor/start.
type MonitorRequest struct {
	TokenAddress  string `json:"token_address"`
	WalletAddress string `json:"wallet_address"`
	Threshold     string `json:"threshold,omitempty"`
	AutoTrade     bool   `json:"auto_trade"`
}

// Monitor is an active balance monitor.
type Monitor struct {
	ID          string  `json:"monitor_id"`
	Token       string  `json:"token_address"`
	Wallet      string  `json:"wallet_address"`
	Threshold   string  `json:"threshold"`
	AutoTrade   bool    `json:"auto_trade"`
	LastBalance *string `json:"last_balance"`
}

// HistoryRecord is one swap ledger entry.
type HistoryRecord struct {
	ID          string `json:"record_id"`
	Wallet      string `json:"wallet"`
	Token       string `json:"token"`
	Direction   string `json:"direction"`
	Status      string `json:"status"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	ErrorCode   string `json:"error_code"`
	CreatedAt   int64  `json:"created_at"`
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the currently stored bearer token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken stores the bearer token sent with mutating calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Health reports RPC connectivity. The endpoint is not wrapped in an envelope.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/health", nil, nil)
	if err != nil {
		return Health{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return h, &APIError{StatusCode: resp.StatusCode, Message: h.Status}
	}
	return h, nil
}

// TokenInfo fetches token metadata and the resolved router.
func (c *Client) TokenInfo(ctx context.Context, token string) (TokenInfo, error) {
	var out TokenInfo
	err := c.call(ctx, http.MethodPost, "/api/token/info", map[string]string{"token_address": token}, &out)
	return out, err
}

// TokenBalance fetches the balance of wallet in token.
func (c *Client) TokenBalance(ctx context.Context, token, wallet string) (Balance, error) {
	var out Balance
	err := c.call(ctx, http.MethodPost, "/api/token/balance",
		map[string]string{"token_address": token, "wallet_address": wallet}, &out)
	return out, err
}

// ExecuteSwap runs a swap and waits for the receipt server-side.
func (c *Client) ExecuteSwap(ctx context.Context, req SwapRequest) (SwapResult, error) {
	var out SwapResult
	err := c.call(ctx, http.MethodPost, "/api/swap/execute", req, &out)
	return out, err
}

// ScheduleSwap registers a one-shot future swap.
func (c *Client) ScheduleSwap(ctx context.Context, req ScheduleRequest) (Task, error) {
	var out Task
	err := c.call(ctx, http.MethodPost, "/api/swap/schedule", req, &out)
	return out, err
}

// TaskFilter narrows ScheduledTasks. Empty fields are not sent.
type TaskFilter struct {
	Statuses      []string
	WalletAddress string
	TokenAddress  string
	TradeType     string
}

func (f TaskFilter) values() url.Values {
	q := url.Values{}
	if len(f.Statuses) > 0 {
		q.Set("status", strings.Join(f.Statuses, ","))
	}
	for key, value := range map[string]string{
		"wallet_address": f.WalletAddress,
		"token_address":  f.TokenAddress,
		"trade_type":     f.TradeType,
	} {
		if value != "" {
			q.Set(key, value)
		}
	}
	return q
}

// ScheduledTasks lists scheduled swaps in submission order.
func (c *Client) ScheduledTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.callQuery(ctx, "/api/scheduled/tasks", filter.values(), &out)
	return out.Tasks, err
}

// StartMonitor starts a balance monitor and returns its id.
func (c *Client) StartMonitor(ctx context.Context, req MonitorRequest) (string, error) {
	var out struct {
		MonitorID string `json:"monitor_id"`
	}
	err := c.call(ctx, http.MethodPost, "/api/pool/monitor/start", req, &out)
	return out.MonitorID, err
}

// StopMonitor stops a monitor.
func (c *Client) StopMonitor(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/api/pool/monitor/stop", map[string]string{"monitor_id": id}, nil)
}

// Monitors lists active monitors.
func (c *Client) Monitors(ctx context.Context) ([]Monitor, error) {
	var out struct {
		Monitors []Monitor `json:"monitors"`
	}
	err := c.call(ctx, http.MethodGet, "/api/pool/monitor/status", nil, &out)
	return out.Monitors, err
}

// History returns recent ledger entries, optionally for one wallet.
func (c *Client) History(ctx context.Context, wallet string, limit int) ([]HistoryRecord, error) {
	q := url.Values{}
	if wallet != "" {
		q.Set("wallet_address", wallet)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Records []HistoryRecord `json:"records"`
	}
	err := c.callQuery(ctx, "/api/swap/history", q, &out)
	return out.Records, err
}

func (c *Client) call(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, endpoint, nil, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) callQuery(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Error, Data: env.Data}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
