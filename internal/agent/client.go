package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the server root, e.g. http://lognexus:8080.
	BaseURL string
	// Timeout bounds a single HTTP attempt (default: 30s).
	Timeout time.Duration
	// Retries is how often a failed attempt is repeated (default: 3).
	// Negative disables retries.
	Retries int
	Backoff Backoff
	// UserAgent defaults to the agent's.
	UserAgent string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the LogNexus JSON API.
type Client struct {
	base    string
	http    *http.Client
	retries int
	backoff Backoff
	ua      string
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base url must be an http(s) url, got %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	switch {
	case cfg.Retries == 0:
		cfg.Retries = 3
	case cfg.Retries < 0:
		cfg.Retries = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = config.UserAgent("lognexus-agent")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		base:    strings.TrimRight(u.String(), "/") + "/api/v1",
		http:    hc,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		ua:      cfg.UserAgent,
	}, nil
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// RetryAfter is set on 429 answers that carry the header.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("lognexus: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("lognexus: %d %s", e.StatusCode, e.Message)
}

// retryable reports whether another attempt may succeed.
func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the server.
func IsConflict(err error) bool {
	return statusOf(err) == http.StatusConflict
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do sends one request, retrying transport failures, 429 and 5xx with
// backoff. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := c.backoff.Delay(attempt - 1)
			var apiErr *APIError
			if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > wait {
				wait = apiErr.RetryAfter
			}
			if !sleepCtx(ctx, wait) {
				return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
			}
		}

		err := c.attempt(ctx, method, target, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.ua)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		// Non-JSON bodies (proxies, 502 pages) still yield an APIError below.
		_ = json.Unmarshal(raw, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
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

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimSuffix(u.Path, "/api/v1") + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.ua)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET /health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return out, nil
}

// SendLogs posts entries in one request and returns the accepted count.
func (c *Client) SendLogs(ctx context.Context, entries []*models.LogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	var out struct {
		Accepted int `json:"accepted"`
	}
	if err := c.do(ctx, http.MethodPost, "/logs", nil, entries, &out); err != nil {
		return 0, err
	}
	return out.Accepted, nil
}

// LogQuery filters QueryLogs. Zero fields are omitted.
type LogQuery struct {
	Start      time.Time
	End        time.Time
	Levels     []models.LogLevel
	MinLevel   models.LogLevel
	ServerName string
	JobID      string
	Execution  string
	Contains   string
	Page       int
	PerPage    int
}

func (q LogQuery) values() url.Values {
	v := url.Values{}
	if !q.Start.IsZero() {
		v.Set("start", q.Start.UTC().Format(time.RFC3339))
	}
	if !q.End.IsZero() {
		v.Set("end", q.End.UTC().Format(time.RFC3339))
	}
	if len(q.Levels) > 0 {
		levels := make([]string, len(q.Levels))
		for i, l := range q.Levels {
			levels[i] = string(l)
		}
		v.Set("level", strings.Join(levels, ","))
	}
	if q.MinLevel != "" {
		v.Set("min_level", string(q.MinLevel))
	}
	if q.ServerName != "" {
		v.Set("server_name", q.ServerName)
	}
	if q.JobID != "" {
		v.Set("job_id", q.JobID)
	}
	if q.Execution != "" {
		v.Set("execution_id", q.Execution)
	}
	if q.Contains != "" {
		v.Set("q", q.Contains)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	return v
}

// LogPage is one page of QueryLogs results.
type LogPage struct {
	Items      []*models.LogEntry `json:"items"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
	TotalPages int                `json:"total_pages"`
	HasMore    bool               `json:"has_more"`
}

// QueryLogs searches stored logs.
func (c *Client) QueryLogs(ctx context.Context, q LogQuery) (*LogPage, error) {
	var page LogPage
	if err := c.do(ctx, http.MethodGet, "/logs", q.values(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// LogStats holds the statistics window and optionally the one before it.
type LogStats struct {
	Current  *models.LogStatistics `json:"current"`
	Previous *models.LogStatistics `json:"previous,omitempty"`
}

// LogStats returns level counts for [start, end).
func (c *Client) LogStats(ctx context.Context, start, end time.Time, compare bool) (*LogStats, error) {
	v := LogQuery{Start: start, End: end}.values()
	if compare {
		v.Set("compare", "true")
	}
	var stats LogStats
	if err := c.do(ctx, http.MethodGet, "/logs/stats", v, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Heartbeat reports the server alive and returns its record.
func (c *Client) Heartbeat(ctx context.Context, hb models.Heartbeat) (*models.Server, error) {
	var srv models.Server
	if err := c.do(ctx, http.MethodPost, "/servers/heartbeat", nil, hb, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// ListServers returns every server, optionally filtered by status.
func (c *Client) ListServers(ctx context.Context, status models.ServerStatus) ([]*models.Server, error) {
	v := url.Values{}
	if status != "" {
		v.Set("status", string(status))
	}
	var servers []*models.Server
	if err := c.do(ctx, http.MethodGet, "/servers", v, nil, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// GetServer returns one server.
func (c *Client) GetServer(ctx context.Context, name string) (*models.Server, error) {
	var srv models.Server
	if err := c.do(ctx, http.MethodGet, "/servers/"+url.PathEscape(name), nil, nil, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// SetMaintenance puts a server into maintenance or takes it out.
func (c *Client) SetMaintenance(ctx context.Context, name string, enabled bool) (*models.Server, error) {
	method := http.MethodPost
	if !enabled {
		method = http.MethodDelete
	}
	var srv models.Server
	if err := c.do(ctx, method, "/servers/"+url.PathEscape(name)+"/maintenance", nil, nil, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// JobRegistration declares or updates a job.
type JobRegistration struct {
	JobID          string   `json:"job_id"`
	DisplayName    string   `json:"display_name,omitempty"`
	ServerName     string   `json:"server_name"`
	Description    string   `json:"description,omitempty"`
	Schedule       string   `json:"schedule,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	IsActive       *bool    `json:"is_active,omitempty"`
	TimeoutMinutes int      `json:"timeout_minutes,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// RegisterJob creates or updates a job definition.
func (c *Client) RegisterJob(ctx context.Context, reg JobRegistration) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/jobs/register", nil, reg, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns registered jobs.
func (c *Client) ListJobs(ctx context.Context, activeOnly bool) ([]*models.Job, error) {
	v := url.Values{}
	if activeOnly {
		v.Set("active", "true")
	}
	var jobs []*models.Job
	if err := c.do(ctx, http.MethodGet, "/jobs", v, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob returns one job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ExecutionStart records the start of a job run. An empty ID lets the
// server assign one.
type ExecutionStart struct {
	ID          string         `json:"id,omitempty"`
	JobID       string         `json:"job_id"`
	ServerName  string         `json:"server_name,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	TriggerType string         `json:"trigger_type,omitempty"`
	TriggeredBy string         `json:"triggered_by,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// StartExecution records a running execution.
func (c *Client) StartExecution(ctx context.Context, start ExecutionStart) (*models.Execution, error) {
	var exec models.Execution
	if err := c.do(ctx, http.MethodPost, "/executions", nil, start, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// CompleteExecution finishes a run with a final status.
func (c *Client) CompleteExecution(ctx context.Context, id string, status models.ExecutionStatus, errMsg, output string) (*models.Execution, error) {
	body := map[string]string{
		"status":         string(status),
		"error_message":  errMsg,
		"output_message": output,
	}
	var exec models.Execution
	if err := c.do(ctx, http.MethodPut, "/executions/"+url.PathEscape(id)+"/complete", nil, body, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// CancelExecution cancels a running execution.
func (c *Client) CancelExecution(ctx context.Context, id, reason string) (*models.Execution, error) {
	var exec models.Execution
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, "/executions/"+url.PathEscape(id)+"/cancel", nil, body, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// GetExecution returns one execution.
func (c *Client) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	var exec models.Execution
	if err := c.do(ctx, http.MethodGet, "/executions/"+url.PathEscape(id), nil, nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// ListRules returns every alert rule.
func (c *Client) ListRules(ctx context.Context) ([]*models.AlertRule, error) {
	var rules []*models.AlertRule
	if err := c.do(ctx, http.MethodGet, "/alerts/rules", nil, nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// SetRuleEnabled toggles a rule.
func (c *Client) SetRuleEnabled(ctx context.Context, id string, enabled bool) (*models.AlertRule, error) {
	var rule models.AlertRule
	body := map[string]bool{"enabled": enabled}
	if err := c.do(ctx, http.MethodPut, "/alerts/rules/"+url.PathEscape(id)+"/enabled", nil, body, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// TriggerRule fires a rule by hand. The instance is nil when the rule was
// disabled or throttled.
func (c *Client) TriggerRule(ctx context.Context, id, message string) (*models.AlertInstance, error) {
	var out struct {
		Triggered bool                  `json:"triggered"`
		Instance  *models.AlertInstance `json:"instance"`
	}
	body := map[string]string{"message": message}
	if err := c.do(ctx, http.MethodPost, "/alerts/rules/"+url.PathEscape(id)+"/trigger", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Instance, nil
}

// ActiveAlerts returns instances that are New or Acknowledged.
func (c *Client) ActiveAlerts(ctx context.Context) ([]*models.AlertInstance, error) {
	var items []*models.AlertInstance
	if err := c.do(ctx, http.MethodGet, "/alerts/instances/active", nil, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// InstancePage is one page of alert instances.
type InstancePage struct {
	Items   []*models.AlertInstance `json:"items"`
	Total   int64                   `json:"total"`
	Page    int                     `json:"page"`
	PerPage int                     `json:"per_page"`
}

// ListAlerts pages through instances, optionally filtered by status.
func (c *Client) ListAlerts(ctx context.Context, status string, page, perPage int) (*InstancePage, error) {
	v := url.Values{}
	if status != "" {
		v.Set("status", status)
	}
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		v.Set("per_page", strconv.Itoa(perPage))
	}
	var out InstancePage
	if err := c.do(ctx, http.MethodGet, "/alerts/instances", v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Acknowledge marks an instance acknowledged.
func (c *Client) Acknowledge(ctx context.Context, id, actor, notes string) (*models.AlertInstance, error) {
	return c.transition(ctx, id, "acknowledge", actor, notes)
}

// Resolve marks an instance resolved.
func (c *Client) Resolve(ctx context.Context, id, actor, notes string) (*models.AlertInstance, error) {
	return c.transition(ctx, id, "resolve", actor, notes)
}

// Suppress marks an instance suppressed.
func (c *Client) Suppress(ctx context.Context, id, actor, notes string) (*models.AlertInstance, error) {
	return c.transition(ctx, id, "suppress", actor, notes)
}

func (c *Client) transition(ctx context.Context, id, action, actor, notes string) (*models.AlertInstance, error) {
	var inst models.AlertInstance
	body := map[string]string{"actor": actor, "notes": notes}
	if err := c.do(ctx, http.MethodPost, "/alerts/instances/"+url.PathEscape(id)+"/"+action, nil, body, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// AlertSummary returns counts of active instances.
func (c *Client) AlertSummary(ctx context.Context) (*models.AlertSummary, error) {
	var summary models.AlertSummary
	if err := c.do(ctx, http.MethodGet, "/alerts/summary", nil, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
