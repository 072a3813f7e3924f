// Package health serves the liveness and readiness probes. Readiness is
// the conjunction of registered dependency checks.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

const checkTimeout = 5 * time.Second

var log = logger.WithPrefix("health")

// Checker is one readiness dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Handler serves /health, /health/live and /health/ready.
type Handler struct {
	started time.Time

	mu       sync.RWMutex
	checkers []Checker
	// failing remembers the last failure per checker so transitions are
	// logged once instead of on every probe.
	failing map[string]string
}

// NewHandler starts the uptime clock.
func NewHandler() *Handler {
	return &Handler{started: time.Now(), failing: make(map[string]string)}
}

// RegisterChecker adds a dependency to the readiness probe.
func (h *Handler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// HealthResponse is the body of every probe.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Commit  string            `json:"commit,omitempty"`
	Uptime  string            `json:"uptime,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Errorf("encode response: %v", err)
	}
}

// Health reports the process is up, with build and uptime.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: config.Version,
		Commit:  config.Commit,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	})
}

// Live never consults dependencies.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "live"})
}

// Ready runs every checker concurrently and answers 200 only when all
// pass.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	results := runChecks(ctx, checkers)
	h.logTransitions(results)

	resp := HealthResponse{Status: "ready", Checks: make(map[string]string, len(results))}
	status := http.StatusOK
	for name, err := range results {
		if err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// runChecks returns one result per checker name. A panicking checker
// counts as failed.
func runChecks(ctx context.Context, checkers []Checker) map[string]error {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]error, len(checkers))
	)
	for _, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("check panicked: %v", p)
				}
				mu.Lock()
				results[c.Name()] = err
				mu.Unlock()
			}()
			err = c.Check(ctx)
		}()
	}
	wg.Wait()
	return results
}

func (h *Handler) logTransitions(results map[string]error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		err := results[name]
		prev, wasFailing := h.failing[name]
		switch {
		case err != nil && (!wasFailing || prev != err.Error()):
			log.Warnf("%s not ready: %v", name, err)
			h.failing[name] = err.Error()
		case err == nil && wasFailing:
			log.Infof("%s recovered", name)
			delete(h.failing, name)
		}
	}
}
