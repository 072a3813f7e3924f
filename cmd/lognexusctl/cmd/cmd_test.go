package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// fakeAPI serves canned envelopes and records request bodies.
type fakeAPI struct {
	mu     sync.Mutex
	mux    *http.ServeMux
	bodies map[string]map[string]any
	hits   map[string]int
}

func newFakeAPI(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	f := &fakeAPI{
		mux:    http.NewServeMux(),
		bodies: make(map[string]map[string]any),
		hits:   make(map[string]int),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		f.mu.Lock()
		f.hits[key]++
		raw, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(raw))
		var body map[string]any
		if json.Unmarshal(raw, &body) == nil {
			f.bodies[key] = body
		}
		f.mu.Unlock()
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func (f *fakeAPI) handle(pattern string, status int, data any) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 400 {
			json.NewEncoder(w).Encode(map[string]any{"error": data})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	})
}

func (f *fakeAPI) body(key string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func (f *fakeAPI) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

func resetFlags(c *cobra.Command) {
	reset := func(fl *pflag.Flag) {
		fl.Value.Set(fl.DefValue)
		fl.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func runCLI(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--url", url, "--timeout", "2s"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestServersList(t *testing.T) {
	api, url := newFakeAPI(t)
	hb := time.Now().Add(-time.Minute)
	api.handle("GET /api/v1/servers", http.StatusOK, []models.Server{
		{Name: "web-1", Status: models.ServerStatusOnline, LastHeartbeat: &hb, AgentVersion: "1.2.0"},
		{Name: "db-1", Status: models.ServerStatusMaintenance},
	})

	out, err := runCLI(t, url, "servers", "list")
	if err != nil {
		t.Fatalf("servers list: %v", err)
	}
	for _, want := range []string{"NAME", "web-1", "Online", "1.2.0", "db-1", "Maintenance", "Total: 2 server(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, url, "servers", "list", "-o", "json")
	if err != nil {
		t.Fatalf("servers list json: %v", err)
	}
	var servers []models.Server
	if err := json.Unmarshal([]byte(out), &servers); err != nil {
		t.Fatalf("decode json output: %v\n%s", err, out)
	}
	if len(servers) != 2 || servers[1].Name != "db-1" {
		t.Errorf("servers = %+v", servers)
	}
}

func TestServersList_InvalidStatus(t *testing.T) {
	api, url := newFakeAPI(t)
	if _, err := runCLI(t, url, "servers", "list", "--status", "sleepy"); err == nil {
		t.Error("expected error for invalid status")
	}
	if api.count("GET /api/v1/servers") != 0 {
		t.Error("request sent despite invalid status")
	}
}

func TestServersMaintenance(t *testing.T) {
	api, url := newFakeAPI(t)
	api.handle("POST /api/v1/servers/db-1/maintenance", http.StatusOK,
		models.Server{Name: "db-1", Status: models.ServerStatusMaintenance})

	out, err := runCLI(t, url, "servers", "maintenance", "db-1", "on")
	if err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	if !strings.Contains(out, "db-1 is now Maintenance") {
		t.Errorf("output = %q", out)
	}
	if _, err := runCLI(t, url, "servers", "maintenance", "db-1", "maybe"); err == nil {
		t.Error("expected error for maybe")
	}
}

func TestLogsList(t *testing.T) {
	api, url := newFakeAPI(t)
	var query string
	api.mux.HandleFunc("GET /api/v1/logs", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"items": []models.LogEntry{{
				Timestamp:  time.Now(),
				Level:      models.LevelError,
				Message:    "connection refused\nretrying",
				ServerName: "web-1",
			}},
			"total":       1,
			"page":        1,
			"per_page":    50,
			"total_pages": 1,
		}})
	})

	out, err := runCLI(t, url, "logs", "list", "--server", "web-1", "--level", "error,crit")
	if err != nil {
		t.Fatalf("logs list: %v", err)
	}
	for _, want := range []string{"server_name=web-1", "level=Error%2CCritical", "per_page=50", "start="} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q missing %q", query, want)
		}
	}
	if !strings.Contains(out, "connection refused retrying") || !strings.Contains(out, "Page 1 of 1, 1 entries") {
		t.Errorf("output = %s", out)
	}

	if _, err := runCLI(t, url, "logs", "list", "--level", "loud"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestLogsSend(t *testing.T) {
	api, url := newFakeAPI(t)
	var sent []models.LogEntry
	api.mux.HandleFunc("POST /api/v1/logs", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&sent)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]int{"accepted": 1}})
	})

	out, err := runCLI(t, url, "logs", "send", "disk almost full", "--level", "warn", "--server", "db-1", "--job", "cleanup")
	if err != nil {
		t.Fatalf("logs send: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("sent %d entries", len(sent))
	}
	e := sent[0]
	if e.Level != models.LevelWarning || e.ServerName != "db-1" || e.JobID != "cleanup" || e.ID == "" {
		t.Errorf("entry = %+v", e)
	}
	if !strings.Contains(out, "Sent Warning entry "+e.ID) {
		t.Errorf("output = %q", out)
	}
}

func TestLogsStats(t *testing.T) {
	api, url := newFakeAPI(t)
	api.handle("GET /api/v1/logs/stats", http.StatusOK, map[string]any{
		"current":  models.LogStatistics{Total: 12, ByLevel: map[models.LogLevel]int64{models.LevelError: 2, models.LevelInformation: 10}},
		"previous": models.LogStatistics{Total: 5, ByLevel: map[models.LogLevel]int64{models.LevelError: 1}},
	})

	out, err := runCLI(t, url, "logs", "stats", "--compare")
	if err != nil {
		t.Fatalf("logs stats: %v", err)
	}
	for _, want := range []string{"PREVIOUS", "Error", "TOTAL"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(strings.Join(strings.Fields(out), " "), "TOTAL 12 5") {
		t.Errorf("totals wrong:\n%s", out)
	}
}

func TestExecutionsLifecycle(t *testing.T) {
	api, url := newFakeAPI(t)
	api.handle("POST /api/v1/executions", http.StatusCreated,
		models.Execution{ID: "exec-1", JobID: "nightly-sync", Status: models.ExecutionRunning})
	api.handle("PUT /api/v1/executions/exec-1/complete", http.StatusOK,
		models.Execution{ID: "exec-1", Status: models.ExecutionFailed, DurationMs: 61000})

	out, err := runCLI(t, url, "executions", "start", "nightly-sync", "--server", "batch-01", "--triggered-by", "cron")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if strings.TrimSpace(out) != "exec-1" {
		t.Errorf("start output = %q, want the id alone", out)
	}
	body := api.body("POST /api/v1/executions")
	if body["job_id"] != "nightly-sync" || body["server_name"] != "batch-01" || body["triggered_by"] != "cron" {
		t.Errorf("start body = %v", body)
	}

	out, err = runCLI(t, url, "executions", "complete", "exec-1", "--status", "failed", "--error", "exit 2")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	body = api.body("PUT /api/v1/executions/exec-1/complete")
	if body["status"] != "Failed" || body["error_message"] != "exit 2" {
		t.Errorf("complete body = %v", body)
	}
	if !strings.Contains(out, "Failed after 1m1s") {
		t.Errorf("complete output = %q", out)
	}

	if _, err := runCLI(t, url, "executions", "complete", "exec-1", "--status", "running"); err == nil {
		t.Error("expected error for non-final status")
	}
}

func TestJobsDeactivate(t *testing.T) {
	api, url := newFakeAPI(t)
	api.handle("GET /api/v1/jobs/nightly-sync", http.StatusOK, models.Job{
		JobID: "nightly-sync", ServerName: "batch-01", Schedule: "0 2 * * *",
		Priority: models.JobPriorityHigh, IsActive: true, Tags: []string{"erp"},
	})
	api.handle("POST /api/v1/jobs/register", http.StatusOK, models.Job{
		JobID: "nightly-sync", ServerName: "batch-01", IsActive: false,
	})

	out, err := runCLI(t, url, "jobs", "deactivate", "nightly-sync")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	body := api.body("POST /api/v1/jobs/register")
	if body["is_active"] != false || body["schedule"] != "0 2 * * *" || body["priority"] != "High" {
		t.Errorf("register body = %v", body)
	}
	if !strings.Contains(out, "nightly-sync is now inactive") {
		t.Errorf("output = %q", out)
	}
}

func TestJobsRegister_RequiresServer(t *testing.T) {
	_, url := newFakeAPI(t)
	if _, err := runCLI(t, url, "jobs", "register", "nightly-sync"); err == nil {
		t.Error("expected error without --server")
	}
	if _, err := runCLI(t, url, "jobs", "register", "nightly-sync", "--server", "b", "--priority", "urgent"); err == nil {
		t.Error("expected error for invalid priority")
	}
}

func TestAlertsAck(t *testing.T) {
	api, url := newFakeAPI(t)
	api.handle("POST /api/v1/alerts/instances/inst-1/acknowledge", http.StatusOK,
		models.AlertInstance{ID: "inst-1", Status: models.AlertStatusAcknowledged})

	out, err := runCLI(t, url, "alerts", "ack", "inst-1", "--actor", "ops", "--notes", "looking")
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	body := api.body("POST /api/v1/alerts/instances/inst-1/acknowledge")
	if body["actor"] != "ops" || body["notes"] != "looking" {
		t.Errorf("body = %v", body)
	}
	if !strings.Contains(out, "Alert inst-1 acknowledged (Acknowledged)") {
		t.Errorf("output = %q", out)
	}
}

func TestAlertsAck_Conflict(t *testing.T) {
	api, url := newFakeAPI(t)
	api.handle("POST /api/v1/alerts/instances/inst-1/acknowledge", http.StatusConflict,
		map[string]string{"code": "INVALID_TRANSITION", "message": "alert is Resolved"})

	_, err := runCLI(t, url, "alerts", "ack", "inst-1")
	if err == nil || !strings.Contains(err.Error(), "alert is Resolved") {
		t.Errorf("err = %v", err)
	}
}

func TestAlertsTrigger_NotFired(t *testing.T) {
	api, url := newFakeAPI(t)
	api.handle("POST /api/v1/alerts/rules/r1/trigger", http.StatusOK, map[string]any{"triggered": false})

	out, err := runCLI(t, url, "alerts", "trigger", "r1")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !strings.Contains(out, "did not fire") {
		t.Errorf("output = %q", out)
	}
}

func TestAlertsList_Active(t *testing.T) {
	api, url := newFakeAPI(t)
	api.handle("GET /api/v1/alerts/instances/active", http.StatusOK, []models.AlertInstance{
		{ID: "inst-1", RuleName: "sync failed", Severity: models.SeverityCritical, Status: models.AlertStatusNew},
	})

	out, err := runCLI(t, url, "alerts", "list", "--active")
	if err != nil {
		t.Fatalf("alerts list: %v", err)
	}
	if !strings.Contains(out, "sync failed") || !strings.Contains(out, "1 active alert(s)") {
		t.Errorf("output = %s", out)
	}
}

func TestStatus(t *testing.T) {
	api, url := newFakeAPI(t)
	api.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0.0"})
	})
	api.handle("GET /api/v1/servers", http.StatusOK, []models.Server{
		{Name: "a", Status: models.ServerStatusOnline},
		{Name: "b", Status: models.ServerStatusOnline},
		{Name: "c", Status: models.ServerStatusOffline},
	})
	api.handle("GET /api/v1/alerts/summary", http.StatusOK, models.AlertSummary{Total: 3, Critical: 1, High: 1, New: 2})

	out, err := runCLI(t, url, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"ok, version 1.0.0", "2 online, 1 offline", "(3 total)", "3 active (1 critical, 1 high, 2 new)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionWithServer(t *testing.T) {
	api, url := newFakeAPI(t)
	api.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "2.3.0", "commit": "abc", "uptime": "5m0s"})
	})

	out, err := runCLI(t, url, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "lognexusctl ") || strings.Contains(out, "server ") {
		t.Errorf("client-only output = %q", out)
	}
	if api.hits["GET /health"] != 0 {
		t.Error("plain version must not call the server")
	}

	out, err = runCLI(t, url, "version", "--server")
	if err != nil {
		t.Fatalf("version --server: %v", err)
	}
	if !strings.Contains(out, "server 2.3.0 (abc)") || !strings.Contains(out, "up 5m0s") {
		t.Errorf("output = %q", out)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	_, url := newFakeAPI(t)
	if _, err := runCLI(t, url, "servers", "list", "-o", "yaml"); err == nil {
		t.Error("expected error for yaml output")
	}
}

func TestShorten(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"multi\nline\ttext", 20, "multi line text"},
		{"abcdefghij", 6, "abc..."},
	}
	for _, tt := range tests {
		if got := shorten(tt.in, tt.n); got != tt.want {
			t.Errorf("shorten(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
