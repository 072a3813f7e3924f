package logs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

func setupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "lognexus-api-logs-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	store := storage.NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate database: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		os.RemoveAll(tmpDir)
	})
	return store
}

// recordingSink collects ingested entries in memory.
type recordingSink struct {
	mu      sync.Mutex
	entries []*models.LogEntry
	err     error
}

func (s *recordingSink) Add(_ context.Context, entries ...*models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return s.err
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(sink Sink, repo storage.LogRepository, cfg Config) *Handler {
	h := NewHandler(sink, repo, cfg)
	h.now = func() time.Time { return fixedNow }
	return h
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	resp := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if err := json.Unmarshal(resp.Data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestIngest_SingleEntry(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHandler(sink, nil, Config{})

	body := `{"level":"warn","message":"disk almost full","server_name":"WEB-1","properties":{"pct":91}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var resp IngestResponse
	decodeData(t, rec, &resp)
	if resp.Accepted != 1 {
		t.Errorf("accepted = %d, want 1", resp.Accepted)
	}

	if len(sink.entries) != 1 {
		t.Fatalf("sink got %d entries, want 1", len(sink.entries))
	}
	e := sink.entries[0]
	if e.Level != models.LevelWarning {
		t.Errorf("level = %q, want Warning", e.Level)
	}
	if e.ID == "" {
		t.Error("id not assigned")
	}
	if !e.Timestamp.Equal(fixedNow) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, fixedNow)
	}
}

func TestIngest_Batch(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHandler(sink, nil, Config{})

	body := `[
		{"id":"a","timestamp":"2026-03-01T11:00:00Z","level":"Error","message":"one","server_name":"WEB-1","job_id":"IMPORT-01"},
		{"level":"information","message":"two","server_name":"WEB-1"}
	]`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(sink.entries) != 2 {
		t.Fatalf("sink got %d entries, want 2", len(sink.entries))
	}
	if sink.entries[0].ID != "a" || sink.entries[0].JobID != "IMPORT-01" {
		t.Errorf("first entry = %+v", sink.entries[0])
	}
	if want := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC); !sink.entries[0].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", sink.entries[0].Timestamp, want)
	}
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		cfg  Config
		want int
	}{
		{"invalid json", `{`, Config{}, http.StatusBadRequest},
		{"empty batch", `[]`, Config{}, http.StatusBadRequest},
		{"bad level", `{"level":"loud","message":"x","server_name":"s"}`, Config{}, http.StatusBadRequest},
		{"missing message", `{"level":"info","server_name":"s"}`, Config{}, http.StatusBadRequest},
		{"missing server", `{"level":"info","message":"x"}`, Config{}, http.StatusBadRequest},
		{
			"batch too large",
			`[{"level":"info","message":"x","server_name":"s"},{"level":"info","message":"y","server_name":"s"}]`,
			Config{MaxBatchSize: 1},
			http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			h := newTestHandler(sink, nil, tt.cfg)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Ingest(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if len(sink.entries) != 0 {
				t.Errorf("sink got %d entries, want none", len(sink.entries))
			}
		})
	}
}

func TestIngest_SinkRefusal(t *testing.T) {
	sink := &recordingSink{err: storage.ErrBufferClosed}
	h := newTestHandler(sink, nil, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs",
		strings.NewReader(`{"level":"info","message":"x","server_name":"s"}`))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if rec.Header().Get("Retry-After") == "" || !strings.Contains(rec.Body.String(), "UNAVAILABLE") {
		t.Errorf("response = %v %s", rec.Header(), rec.Body.String())
	}
}

func seedLogs(t *testing.T, repo storage.LogRepository) {
	t.Helper()
	entries := []*models.LogEntry{
		{Timestamp: fixedNow.Add(-10 * time.Minute), Level: models.LevelError, Message: "import failed", ServerName: "WEB-1", JobID: "IMPORT-01"},
		{Timestamp: fixedNow.Add(-20 * time.Minute), Level: models.LevelInformation, Message: "import started", ServerName: "WEB-1", JobID: "IMPORT-01"},
		{Timestamp: fixedNow.Add(-30 * time.Minute), Level: models.LevelCritical, Message: "out of memory", ServerName: "DB-1"},
		{Timestamp: fixedNow.Add(-90 * time.Minute), Level: models.LevelError, Message: "old error", ServerName: "WEB-1"},
	}
	if err := repo.InsertBatch(context.Background(), entries); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
}

func TestQuery(t *testing.T) {
	store := setupTestDB(t)
	seedLogs(t, store.Logs())
	h := newTestHandler(&recordingSink{}, store.Logs(), Config{})

	tests := []struct {
		name      string
		query     string
		wantTotal int64
		wantFirst string
	}{
		{"default window is last hour", "", 3, "import failed"},
		{"explicit range", "?start=2026-03-01T10:00:00Z&end=2026-03-01T12:00:00Z", 4, "import failed"},
		{"min level", "?min_level=error", 2, "import failed"},
		{"level list", "?level=critical,information", 2, "import started"},
		{"server", "?server_name=DB-1", 1, "out of memory"},
		{"job", "?job_id=IMPORT-01", 2, "import failed"},
		{"message", "?q=memory", 1, "out of memory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/logs"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.Query(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			var resp LogsResponse
			decodeData(t, rec, &resp)
			if resp.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", resp.Total, tt.wantTotal)
			}
			if len(resp.Items) == 0 || resp.Items[0].Message != tt.wantFirst {
				t.Errorf("items = %+v, want first %q", resp.Items, tt.wantFirst)
			}
		})
	}
}

func TestQuery_Paging(t *testing.T) {
	store := setupTestDB(t)
	seedLogs(t, store.Logs())
	h := newTestHandler(&recordingSink{}, store.Logs(), Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs?per_page=2&page=2", nil)
	rec := httptest.NewRecorder()
	h.Query(rec, req)

	var resp LogsResponse
	decodeData(t, rec, &resp)
	if resp.Total != 3 || len(resp.Items) != 1 || resp.TotalPages != 2 || resp.HasMore {
		t.Errorf("response = total %d, items %d, pages %d, more %v", resp.Total, len(resp.Items), resp.TotalPages, resp.HasMore)
	}
	if resp.Items[0].Message != "out of memory" {
		t.Errorf("page 2 item = %q", resp.Items[0].Message)
	}
}

func TestQuery_BadRequests(t *testing.T) {
	store := setupTestDB(t)
	h := newTestHandler(&recordingSink{}, store.Logs(), Config{})

	tests := []struct {
		name  string
		query string
	}{
		{"bad start", "?start=yesterday"},
		{"bad end", "?end=now"},
		{"start after end", "?start=2026-03-01T12:00:00Z&end=2026-03-01T10:00:00Z"},
		{"range too wide", "?start=2025-01-01T00:00:00Z&end=2026-03-01T00:00:00Z"},
		{"bad level", "?level=loud"},
		{"bad min level", "?min_level=loud"},
		{"bad page", "?page=0"},
		{"per_page too large", "?per_page=5000"},
		{"filter too long", "?q=" + strings.Repeat("x", maxFilterLength+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/logs"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.Query(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestQuery_NoLogStorage(t *testing.T) {
	h := newTestHandler(&recordingSink{}, nil, Config{})

	for name, fn := range map[string]http.HandlerFunc{"query": h.Query, "stats": h.Stats} {
		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodGet, "/api/v1/logs", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", name, rec.Code)
		}
	}
}

func TestStats(t *testing.T) {
	store := setupTestDB(t)
	seedLogs(t, store.Logs())
	h := newTestHandler(&recordingSink{}, store.Logs(), Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/stats?compare=true", nil)
	rec := httptest.NewRecorder()
	h.Stats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp StatsResponse
	decodeData(t, rec, &resp)
	if resp.Current == nil || resp.Current.Total != 3 || resp.Current.ErrorCount != 2 {
		t.Errorf("current = %+v, want total 3 and 2 errors", resp.Current)
	}
	if resp.Current.ByLevel[models.LevelCritical] != 1 {
		t.Errorf("critical = %d, want 1", resp.Current.ByLevel[models.LevelCritical])
	}
	if resp.Previous == nil || resp.Previous.Total != 1 {
		t.Errorf("previous = %+v, want total 1", resp.Previous)
	}
}
