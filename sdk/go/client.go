package flowaisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal FlowAI worker HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  30 * time.Second,
	}
}

type Health struct {
	Status              string `json:"status"`
	BlockchainConnected bool   `json:"blockchain_connected"`
	AgentReady          bool   `json:"agent_ready"`
	CycleInFlight       bool   `json:"cycle_in_flight"`
}

// Task is a task with text fields resolved to one locale.
type Task struct {
	ID           uint64 `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Requirements string `json:"requirements"`
	Reward       string `json:"reward"`
	RewardEther  string `json:"reward_eth"`
	Category     string `json:"task_type"`
	Deadline     int64  `json:"deadline"`
	Publisher    string `json:"publisher"`
	Worker       string `json:"worker"`
	IsClaimed    bool   `json:"is_claimed"`
	IsCompleted  bool   `json:"is_completed"`
}

// RawTask keeps multi-locale fields as returned by the ledger.
type RawTask struct {
	ID           uint64 `json:"id"`
	Title        any    `json:"title"`
	Description  any    `json:"description"`
	Requirements any    `json:"requirements"`
	Reward       string `json:"reward"`
	Category     string `json:"task_type"`
}

type TaskSummary struct {
	ID                uint64  `json:"id"`
	Title             string  `json:"title"`
	RewardEther       string  `json:"reward_eth"`
	Category          string  `json:"task_type"`
	Difficulty        string  `json:"difficulty"`
	EstimatedDuration string  `json:"estimated_duration"`
	Deadline          string  `json:"deadline"`
	TimeLeft          string  `json:"time_left"`
	Expired           bool    `json:"expired"`
	Publisher         string  `json:"publisher"`
	Score             float64 `json:"score"`
}

type WorkerStats struct {
	Address        string `json:"address"`
	Reputation     int64  `json:"reputation"`
	CompletedTasks uint64 `json:"completed_tasks"`
	TotalEarnings  string `json:"total_earnings"`
	EarningsEther  string `json:"total_earnings_eth"`
	IsActive       bool   `json:"is_active"`
}

type Balance struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Ether   string `json:"balance_eth"`
}

type NetworkInfo struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	GasPrice    string `json:"gas_price"`
	IsConnected bool   `json:"is_connected"`
}

// Outcome is the result of one work cycle.
type Outcome struct {
	CycleID    string `json:"cycle_id"`
	Status     string `json:"status"`
	Stage      string `json:"stage"`
	TaskID     uint64 `json:"task_id"`
	TaskTitle  string `json:"task_title"`
	Reward     string `json:"reward"`
	Result     string `json:"result"`
	Message    string `json:"message"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
}

// AvailableTasks lists open tasks resolved to lang ("" for the server default).
func (c *Client) AvailableTasks(ctx context.Context, lang string) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withLang("tasks/available", lang), nil, &resp)
	return resp.Items, err
}

func (c *Client) Task(ctx context.Context, id uint64, lang string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, withLang(fmt.Sprintf("tasks/%d", id), lang), nil, &resp)
	return resp, err
}

func (c *Client) RawTask(ctx context.Context, id uint64) (RawTask, error) {
	var resp RawTask
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d/raw", id), nil, &resp)
	return resp, err
}

func (c *Client) TaskSummary(ctx context.Context, id uint64, lang string) (TaskSummary, error) {
	var resp TaskSummary
	err := c.do(ctx, http.MethodGet, withLang(fmt.Sprintf("tasks/%d/summary", id), lang), nil, &resp)
	return resp, err
}

// TaskResult returns the result submitted for a completed task.
func (c *Client) TaskResult(ctx context.Context, id uint64) (string, error) {
	var resp struct {
		Result string `json:"result"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d/result", id), nil, &resp)
	return resp.Result, err
}

// ClaimTask returns an *APIError with status 409 when the ledger refuses.
func (c *Client) ClaimTask(ctx context.Context, id uint64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%d/claim", id), nil, nil)
}

func (c *Client) CompleteTask(ctx context.Context, id uint64, result string) error {
	body := map[string]any{"result": result}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%d/complete", id), body, nil)
}

func (c *Client) WorkerStats(ctx context.Context) (WorkerStats, error) {
	var resp WorkerStats
	err := c.do(ctx, http.MethodGet, "worker/stats", nil, &resp)
	return resp, err
}

func (c *Client) Balance(ctx context.Context) (Balance, error) {
	var resp Balance
	err := c.do(ctx, http.MethodGet, "worker/balance", nil, &resp)
	return resp, err
}

func (c *Client) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	var resp NetworkInfo
	err := c.do(ctx, http.MethodGet, "network/info", nil, &resp)
	return resp, err
}

func (c *Client) AccountAddress(ctx context.Context) (string, error) {
	var resp struct {
		Address string `json:"address"`
	}
	err := c.do(ctx, http.MethodGet, "account/address", nil, &resp)
	return resp.Address, err
}

// StartWork launches a background cycle. A busy worker is reported as an
// outcome with status "busy", not as an error.
func (c *Client) StartWork(ctx context.Context, alreadyClaimed []uint64) (Outcome, error) {
	return c.work(ctx, "agent/work", alreadyClaimed)
}

// RunWork runs one cycle and returns its outcome whatever the status.
func (c *Client) RunWork(ctx context.Context, alreadyClaimed []uint64) (Outcome, error) {
	return c.work(ctx, "agent/work/sync", alreadyClaimed)
}

func (c *Client) work(ctx context.Context, endpoint string, alreadyClaimed []uint64) (Outcome, error) {
	body := map[string]any{}
	if len(alreadyClaimed) > 0 {
		body["already_claimed"] = alreadyClaimed
	}
	status, data, err := c.send(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Outcome{}, err
	}
	var out Outcome
	if jsonErr := json.Unmarshal(data, &out); jsonErr != nil || out.Status == "" {
		return Outcome{}, &APIError{StatusCode: status, Body: string(data)}
	}
	return out, nil
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	status, data, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return &APIError{StatusCode: status, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (int, []byte, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func withLang(endpoint, lang string) string {
	if lang == "" {
		return endpoint
	}
	return endpoint + "?lang=" + url.QueryEscape(lang)
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base
}
