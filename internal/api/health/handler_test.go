package health

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/good-yellow-bee/lognexus/internal/logger"
)

type fakeChecker struct {
	name string
	err  error
}

func (c fakeChecker) Name() string                    { return c.name }
func (c fakeChecker) Check(ctx context.Context) error { return c.err }

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type fakeRedis struct{ err error }

func (f fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "ping")
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestHealthAndLive(t *testing.T) {
	h := NewHandler()

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || decode(t, rec).Status != "ok" {
		t.Errorf("health = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK || decode(t, rec).Status != "live" {
		t.Errorf("live = %d", rec.Code)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name: "all healthy",
			checkers: []Checker{
				NewClickHouseChecker(fakePinger{}),
				NewRedisChecker(fakeRedis{}),
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"clickhouse": "ok", "redis": "ok"},
		},
		{
			name: "one failing",
			checkers: []Checker{
				fakeChecker{name: "sqlite"},
				NewRedisChecker(fakeRedis{err: errors.New("connection refused")}),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"sqlite": "ok", "redis": "connection refused"},
		},
		{
			name:       "not configured",
			checkers:   []Checker{NewClickHouseChecker(nil), NewSQLiteChecker(nil)},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{
				"clickhouse": "clickhouse not configured",
				"sqlite":     "sqlite not configured",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			for _, c := range tt.checkers {
				h.RegisterChecker(c)
			}
			rec := httptest.NewRecorder()
			h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			resp := decode(t, rec)
			for name, want := range tt.wantChecks {
				if resp.Checks[name] != want {
					t.Errorf("checks[%s] = %q, want %q", name, resp.Checks[name], want)
				}
			}
		})
	}
}

func TestLoopChecker(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	c := NewLoopChecker()
	c.started = start
	c.now = func() time.Time { return now }
	c.Track("alert-evaluation", 30*time.Second, 10*time.Second)
	c.Track("maintenance", time.Hour, time.Minute)

	now = start.Add(95 * time.Second)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("within startup grace: %v", err)
	}

	now = start.Add(101 * time.Second)
	err := c.Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "alert-evaluation") || strings.Contains(err.Error(), "maintenance") {
		t.Fatalf("expected only alert-evaluation stalled, got %v", err)
	}

	c.Observe("alert-evaluation", time.Millisecond, errors.New("tick errors still count as progress"))
	now = now.Add(80 * time.Second)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("after a recent tick: %v", err)
	}

	now = now.Add(20 * time.Second)
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected stall after three missed intervals")
	}
	if c.Name() != "loops" {
		t.Errorf("Name = %q", c.Name())
	}
}

type panicChecker struct{}

func (panicChecker) Name() string                  { return "broken" }
func (panicChecker) Check(_ context.Context) error { panic("nil store") }

func TestReady_PanickingChecker(t *testing.T) {
	h := NewHandler()
	h.RegisterChecker(panicChecker{})
	h.RegisterChecker(fakeChecker{name: "sqlite"})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode(t, rec)
	if !strings.Contains(resp.Checks["broken"], "nil store") || resp.Checks["sqlite"] != "ok" {
		t.Errorf("checks = %v", resp.Checks)
	}
}

func TestReady_LogsTransitionsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)

	failure := errors.New("connection refused")
	h := NewHandler()
	h.RegisterChecker(checkerFunc{name: "redis", fn: func() error { return failure }})

	probe := func() {
		h.Ready(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	}
	probe()
	probe()
	failure = nil
	probe()

	out := buf.String()
	if n := strings.Count(out, "redis not ready"); n != 1 {
		t.Errorf("failure logged %d times: %s", n, out)
	}
	if !strings.Contains(out, "redis recovered") {
		t.Errorf("recovery not logged: %s", out)
	}
}

type checkerFunc struct {
	name string
	fn   func() error
}

func (c checkerFunc) Name() string                  { return c.name }
func (c checkerFunc) Check(_ context.Context) error { return c.fn() }

func TestHealth_ReportsUptime(t *testing.T) {
	h := NewHandler()
	h.started = time.Now().Add(-90 * time.Second)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	resp := decode(t, rec)
	if resp.Uptime != "1m30s" {
		t.Errorf("uptime = %q", resp.Uptime)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("probe responses must not be cached")
	}
}
