package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// Tag — пара ключ/значение run'а.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID          string         `json:"id"`
	JobName     string         `json:"job_name"`
	Status      string         `json:"status"`
	Tags        []Tag          `json:"tags,omitempty"`
	Priority    int            `json:"priority"`
	Payload     map[string]any `json:"payload,omitempty"`
	Error       string         `json:"error,omitempty"`
	SubmittedAt string         `json:"submitted_at"`
	StartedAt   string         `json:"started_at,omitempty"`
	FinishedAt  string         `json:"finished_at,omitempty"`
}

// TickResponse — tick из API.
type TickResponse struct {
	ID         string   `json:"id"`
	TargetID   string   `json:"target_id"`
	Kind       string   `json:"kind"`
	Status     string   `json:"status"`
	RunIDs     []string `json:"run_ids,omitempty"`
	Error      string   `json:"error,omitempty"`
	SkipReason string   `json:"skip_reason,omitempty"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at,omitempty"`
}

// TargetResponse — target из API.
type TargetResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	JobName     string `json:"job_name"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone"`
	Enabled     bool   `json:"enabled"`
	NextDueAt   string `json:"next_due_at"`
	LastTickAt  string `json:"last_tick_at,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// LedgerResponse — снимок Concurrency Ledger из API.
type LedgerResponse struct {
	Global      int            `json:"global"`
	GlobalLimit int            `json:"global_limit"`
	Counts      map[string]int `json:"counts"`
	Limits      map[string]int `json:"limits"`
}

// TerminateResponse — итог batch-остановки из API.
type TerminateResponse struct {
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// --- Request types ---

// SubmitRunRequest — приём run.
type SubmitRunRequest struct {
	JobName  string         `json:"job_name"`
	Tags     []Tag          `json:"tags,omitempty"`
	Priority int            `json:"priority,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// TerminateRunsRequest — batch-остановка runs.
type TerminateRunsRequest struct {
	Runs  map[string]bool `json:"runs"`
	Force bool            `json:"force,omitempty"`
}

// CreateTargetRequest — создание target.
type CreateTargetRequest struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	JobName     string `json:"job_name"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Status string
	Limit  int
}

// ListTicksOpts — параметры фильтрации ticks.
type ListTicksOpts struct {
	TargetID string
	Status   string
	Limit    int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conductor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// SubmitRun принимает новый run.
func (c *Client) SubmitRun(req SubmitRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &run)
	return &run, err
}

// TerminateRuns останавливает runs батчем.
func (c *Client) TerminateRuns(req TerminateRunsRequest) (*TerminateResponse, error) {
	var result TerminateResponse
	err := c.post("/api/v1/runs/terminate", req, &result)
	return &result, err
}

// --- Targets ---

// ListTargets возвращает targets, опционально по виду.
func (c *Client) ListTargets(kind string) ([]TargetResponse, error) {
	params := url.Values{}
	if kind != "" {
		params.Set("kind", kind)
	}

	var targets []TargetResponse
	err := c.list("/api/v1/targets", params, &targets)
	return targets, err
}

// CreateTarget создаёт target.
func (c *Client) CreateTarget(req CreateTargetRequest) (*TargetResponse, error) {
	var target TargetResponse
	err := c.post("/api/v1/targets", req, &target)
	return &target, err
}

// GetTarget возвращает target по ID.
func (c *Client) GetTarget(id string) (*TargetResponse, error) {
	var target TargetResponse
	err := c.get("/api/v1/targets/"+id, &target)
	return &target, err
}

// EnableTarget включает target.
func (c *Client) EnableTarget(id string) (*TargetResponse, error) {
	return c.setTargetEnabled(id, true)
}

// DisableTarget выключает target.
func (c *Client) DisableTarget(id string) (*TargetResponse, error) {
	return c.setTargetEnabled(id, false)
}

func (c *Client) setTargetEnabled(id string, enabled bool) (*TargetResponse, error) {
	var target TargetResponse
	body := map[string]bool{"enabled": enabled}
	err := c.put("/api/v1/targets/"+id+"/enabled", body, &target)
	return &target, err
}

// --- Ticks ---

// ListTicks возвращает историю ticks.
func (c *Client) ListTicks(opts ListTicksOpts) ([]TickResponse, error) {
	params := url.Values{}
	if opts.TargetID != "" {
		params.Set("target_id", opts.TargetID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var ticks []TickResponse
	err := c.list("/api/v1/ticks", params, &ticks)
	return ticks, err
}

// --- Ledger ---

// GetLedger возвращает снимок Concurrency Ledger.
func (c *Client) GetLedger() (*LedgerResponse, error) {
	var snapshot LedgerResponse
	err := c.get("/api/v1/ledger", &snapshot)
	return &snapshot, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(lr.Data) == 0 || string(lr.Data) == "null" {
		return nil
	}
	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
