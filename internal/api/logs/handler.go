// Package logs provides HTTP handlers for log ingestion, query and statistics.
package logs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// Response helpers (local to avoid import cycle with api package)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeInternalError    = "INTERNAL_ERROR"
	errCodeTimeout          = "TIMEOUT"
	errCodeUnavailable      = "UNAVAILABLE"

	maxFilterLength     = 1000
	maxMessageLength    = 64 * 1024
	defaultMaxBatchSize = 1000
	defaultQueryTimeout = 30 * time.Second
	defaultQueryWindow  = time.Hour
	maxQueryRange       = 90 * 24 * time.Hour
	defaultPerPage      = 100
	maxPerPage          = 1000
)

var log = logger.WithPrefix("api-logs")

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Errorf("json encode error: %v", err)
	}
}

func jsonError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiResponse{Error: &apiError{Code: code, Message: message}})
}

func jsonOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Data: data})
}

// Sink accepts ingested entries. *storage.LogBuffer satisfies it.
type Sink interface {
	Add(ctx context.Context, entries ...*models.LogEntry) error
}

// Config tunes the logs handler.
type Config struct {
	// MaxBatchSize caps the number of entries in one ingest request.
	MaxBatchSize int
	// QueryTimeout bounds a single query or statistics request.
	QueryTimeout time.Duration
}

// Handler handles log ingestion, query and statistics endpoints.
type Handler struct {
	sink Sink
	logs storage.LogRepository
	cfg  Config
	now  func() time.Time
}

// NewHandler creates a new logs handler. logs may be nil when no log store
// is configured; queries then answer 503.
func NewHandler(sink Sink, logs storage.LogRepository, cfg Config) *Handler {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	return &Handler{sink: sink, logs: logs, cfg: cfg, now: time.Now}
}

// IngestEntry is one log entry as submitted by agents. Level accepts the
// usual aliases (info, warn, fatal, ...).
type IngestEntry struct {
	ID            string         `json:"id,omitempty"`
	Timestamp     *time.Time     `json:"timestamp,omitempty"`
	Level         string         `json:"level"`
	Message       string         `json:"message"`
	ServerName    string         `json:"server_name"`
	JobID         string         `json:"job_id,omitempty"`
	ExecutionID   string         `json:"execution_id,omitempty"`
	Category      string         `json:"category,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Exception     string         `json:"exception,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
}

// toModel validates e and converts it. Missing id and timestamp are filled in.
func (e *IngestEntry) toModel(now time.Time) (*models.LogEntry, error) {
	level, ok := models.ParseLogLevel(e.Level)
	if !ok {
		return nil, fmt.Errorf("invalid level %q", e.Level)
	}
	if strings.TrimSpace(e.Message) == "" {
		return nil, errors.New("message is required")
	}
	if len(e.Message) > maxMessageLength {
		return nil, fmt.Errorf("message exceeds %d bytes", maxMessageLength)
	}
	if strings.TrimSpace(e.ServerName) == "" {
		return nil, errors.New("server_name is required")
	}

	entry := &models.LogEntry{
		ID:            e.ID,
		Timestamp:     now,
		Level:         level,
		Message:       e.Message,
		ServerName:    e.ServerName,
		JobID:         e.JobID,
		ExecutionID:   e.ExecutionID,
		Category:      e.Category,
		CorrelationID: e.CorrelationID,
		Exception:     e.Exception,
		Properties:    e.Properties,
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if e.Timestamp != nil && !e.Timestamp.IsZero() {
		entry.Timestamp = e.Timestamp.UTC()
	}
	return entry, nil
}

// IngestResponse reports how many entries were accepted.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// Ingest handles POST /api/v1/logs. The body is either one entry or an
// array of entries; a batch is accepted or rejected as a whole.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, int64(h.cfg.MaxBatchSize)*maxMessageLength)
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid JSON body")
		return
	}

	var batch []IngestEntry
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid JSON body")
			return
		}
	} else {
		var one IngestEntry
		if err := json.Unmarshal(trimmed, &one); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid JSON body")
			return
		}
		batch = []IngestEntry{one}
	}

	if len(batch) == 0 {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "no entries")
		return
	}
	if len(batch) > h.cfg.MaxBatchSize {
		jsonError(w, http.StatusRequestEntityTooLarge, errCodeValidationFailed,
			fmt.Sprintf("batch exceeds %d entries", h.cfg.MaxBatchSize))
		return
	}

	now := h.now().UTC()
	entries := make([]*models.LogEntry, 0, len(batch))
	for i := range batch {
		entry, err := batch[i].toModel(now)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, fmt.Sprintf("entry %d: %v", i, err))
			return
		}
		entries = append(entries, entry)
	}

	// The buffer only refuses entries while the server shuts down; the
	// agent keeps them and retries.
	if err := h.sink.Add(r.Context(), entries...); err != nil {
		log.Warnf("refused %d entries: %v", len(entries), err)
		w.Header().Set("Retry-After", "5")
		jsonError(w, http.StatusServiceUnavailable, errCodeUnavailable, "log ingestion is shutting down")
		return
	}
	metrics.IngestedEntriesTotal.Add(float64(len(entries)))

	writeJSON(w, http.StatusAccepted, apiResponse{Data: IngestResponse{Accepted: len(entries)}})
}

// LogsResponse wraps a paginated list of logs.
type LogsResponse struct {
	Items      []*models.LogEntry `json:"items"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
	TotalPages int                `json:"total_pages"`
	HasMore    bool               `json:"has_more"`
}

// Query handles GET /api/v1/logs.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeInternalError, "log storage not configured")
		return
	}

	filter, err := h.parseFilter(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	page, perPage := 1, defaultPerPage
	if s := q.Get("page"); s != "" {
		page, err = strconv.Atoi(s)
		if err != nil || page < 1 {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid page number")
			return
		}
	}
	if s := q.Get("per_page"); s != "" {
		perPage, err = strconv.Atoi(s)
		if err != nil || perPage < 1 || perPage > maxPerPage {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest,
				fmt.Sprintf("per_page must be between 1 and %d", maxPerPage))
			return
		}
	}
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.QueryTimeout)
	defer cancel()

	result, err := h.logs.Query(ctx, filter)
	if err != nil {
		h.storageError(ctx, w, "query logs", err)
		return
	}

	items := result.Entries
	if items == nil {
		items = []*models.LogEntry{}
	}
	totalPages := int((result.Total + int64(perPage) - 1) / int64(perPage))
	jsonOK(w, &LogsResponse{
		Items:      items,
		Total:      result.Total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		HasMore:    result.HasMore,
	})
}

// StatsResponse holds statistics for the requested window and, when asked
// for, the window of equal length right before it.
type StatsResponse struct {
	Current  *models.LogStatistics `json:"current"`
	Previous *models.LogStatistics `json:"previous,omitempty"`
}

// Stats handles GET /api/v1/logs/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeInternalError, "log storage not configured")
		return
	}

	filter, err := h.parseFilter(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	compare := r.URL.Query().Get("compare") == "true"

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.QueryTimeout)
	defer cancel()

	var resp StatsResponse
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := h.logs.Statistics(gctx, filter)
		if err != nil {
			return fmt.Errorf("current window: %w", err)
		}
		resp.Current = stats
		return nil
	})
	if compare {
		prev := *filter
		span := filter.EndTime.Sub(filter.StartTime)
		prev.EndTime = filter.StartTime
		prev.StartTime = filter.StartTime.Add(-span)
		g.Go(func() error {
			stats, err := h.logs.Statistics(gctx, &prev)
			if err != nil {
				return fmt.Errorf("previous window: %w", err)
			}
			resp.Previous = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.storageError(ctx, w, "log statistics", err)
		return
	}
	jsonOK(w, &resp)
}

func (h *Handler) storageError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		jsonError(w, http.StatusGatewayTimeout, errCodeTimeout, "query timed out")
		return
	}
	log.Errorf("%s: %v", op, err)
	jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to "+op)
}

// parseFilter reads the shared query parameters: start and end (RFC3339,
// default the last hour), level (comma separated), min_level, server_name,
// job_id, execution_id and q.
func (h *Handler) parseFilter(r *http.Request) (*storage.LogFilter, error) {
	q := r.URL.Query()
	now := h.now().UTC()
	filter := &storage.LogFilter{EndTime: now}

	if s := q.Get("end"); s != "" {
		end, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, errors.New("invalid end time format (use RFC3339)")
		}
		filter.EndTime = end
	}
	filter.StartTime = filter.EndTime.Add(-defaultQueryWindow)
	if s := q.Get("start"); s != "" {
		start, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, errors.New("invalid start time format (use RFC3339)")
		}
		filter.StartTime = start
	}
	if filter.StartTime.After(filter.EndTime) {
		return nil, errors.New("start time must be before end time")
	}
	if filter.EndTime.Sub(filter.StartTime) > maxQueryRange {
		return nil, fmt.Errorf("time range exceeds %d days", int(maxQueryRange.Hours()/24))
	}

	if s := q.Get("level"); s != "" {
		for _, part := range strings.Split(s, ",") {
			level, ok := models.ParseLogLevel(part)
			if !ok {
				return nil, fmt.Errorf("invalid level %q", part)
			}
			filter.Levels = append(filter.Levels, level)
		}
	}
	if s := q.Get("min_level"); s != "" {
		level, ok := models.ParseLogLevel(s)
		if !ok {
			return nil, fmt.Errorf("invalid min_level %q", s)
		}
		filter.MinLevel = level
	}

	for param, dst := range map[string]*string{
		"server_name":  &filter.ServerName,
		"job_id":       &filter.JobID,
		"execution_id": &filter.ExecutionID,
		"q":            &filter.MessageContains,
	} {
		v := q.Get(param)
		if len(v) > maxFilterLength {
			return nil, fmt.Errorf("%s exceeds %d characters", param, maxFilterLength)
		}
		*dst = v
	}
	return filter, nil
}
