// Package agent ships log files from a host to a LogNexus server and keeps
// the host's heartbeat current.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

// Config contains agent configuration.
type Config struct {
	ServerName  string
	DisplayName string

	BatchSize     int           // entries per request (default: 100)
	FlushInterval time.Duration // max wait before a partial batch is sent (default: 1s)
	MaxBuffered   int           // unsent entries kept in memory (default: 10000)
	// ShutdownTimeout bounds the final flush after Run's context ends.
	ShutdownTimeout time.Duration

	Heartbeat HeartbeatConfig
	Sources   []SourceConfig
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = 10000
	}
	if c.MaxBuffered < c.BatchSize {
		c.MaxBuffered = c.BatchSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Transport is what the agent needs from the server. *Client satisfies it.
type Transport interface {
	HeartbeatSender
	SendLogs(ctx context.Context, entries []*models.LogEntry) (int, error)
}

// Stats is a snapshot of agent counters.
type Stats struct {
	Collected        int64 `json:"collected"`
	Sent             int64 `json:"sent"`
	Dropped          int64 `json:"dropped"`
	FailedRequests   int64 `json:"failed_requests"`
	Pending          int   `json:"pending"`
	Sources          int   `json:"sources"`
	HeartbeatsSent   int64 `json:"heartbeats_sent"`
	HeartbeatsMissed int   `json:"heartbeats_missed"`
}

// Agent collects entries from its sources and sends them in batches.
type Agent struct {
	config    Config
	transport Transport
	log       *logger.Logger

	heartbeater *Heartbeater
	collectors  []*Collector
	entries     chan *models.LogEntry

	// pending is owned by the send loop; pendingLen mirrors its length.
	pending    []*models.LogEntry
	pendingLen atomic.Int64

	collected atomic.Int64
	sent      atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	running bool
}

// New creates an agent. Collectors are created here so that bad source
// configuration fails before anything runs.
func New(cfg Config, transport Transport) (*Agent, error) {
	if cfg.ServerName == "" {
		return nil, errors.New("server name is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	cfg.applyDefaults()

	a := &Agent{
		config:    cfg,
		transport: transport,
		log:       logger.WithPrefix("agent"),
		entries:   make(chan *models.LogEntry, cfg.BatchSize*2),
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if src.Name == "" || src.Path == "" {
			return nil, fmt.Errorf("source %q: name and path are required", src.Name)
		}
		if seen[src.Name] {
			return nil, fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = true

		c, err := NewCollector(src, cfg.ServerName)
		if err != nil {
			return nil, err
		}
		a.collectors = append(a.collectors, c)
	}

	a.heartbeater = NewHeartbeater(transport, cfg.Heartbeat, a.status)
	return a, nil
}

// Run starts heartbeats and collection and blocks until ctx is cancelled.
// Entries still pending at that point get one last flush attempt.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("agent already running")
	}
	a.running = true
	a.mu.Unlock()

	a.log.Infof("starting for server %s with %d sources", a.config.ServerName, len(a.collectors))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.heartbeater.Run(gctx) })

	for _, c := range a.collectors {
		if err := c.Start(gctx); err != nil {
			a.stopCollectors()
			return fmt.Errorf("source %s: %w", c.Source().Name, err)
		}
		a.log.Infof("tailing %s (%s)", c.Source().Name, c.Source().Path)
		g.Go(func() error {
			a.forward(gctx, c)
			return nil
		})
	}

	g.Go(func() error {
		a.sendLoop(gctx)
		return nil
	})

	err := g.Wait()
	a.stopCollectors()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.ShutdownTimeout)
	defer cancel()
	a.drain()
	a.flush(flushCtx)
	if n := len(a.pending); n > 0 {
		a.log.Warnf("shutting down with %d unsent entries", n)
	}

	a.log.Infof("stopped")
	return err
}

func (a *Agent) forward(ctx context.Context, c *Collector) {
	for entry := range c.Entries() {
		a.collected.Add(1)
		select {
		case a.entries <- entry:
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) sendLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-a.entries:
			a.enqueue(entry)
			if len(a.pending) >= a.config.BatchSize {
				a.flush(ctx)
			}
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

// drain moves whatever the forwarders already queued into pending.
func (a *Agent) drain() {
	for {
		select {
		case entry := <-a.entries:
			a.enqueue(entry)
		default:
			return
		}
	}
}

// enqueue appends entry, dropping the oldest entries once MaxBuffered is
// exceeded.
func (a *Agent) enqueue(entry *models.LogEntry) {
	a.pending = append(a.pending, entry)
	if over := len(a.pending) - a.config.MaxBuffered; over > 0 {
		clear(a.pending[:over])
		a.pending = a.pending[over:]
		if a.dropped.Add(int64(over)) == int64(over) {
			a.log.Warnf("buffer full (%d entries), dropping oldest", a.config.MaxBuffered)
		}
	}
	a.pendingLen.Store(int64(len(a.pending)))
}

// flush sends pending entries in batches until it runs out or a request
// fails. Failed batches stay queued, except ones the server rejected as
// invalid, which would fail forever.
func (a *Agent) flush(ctx context.Context) {
	defer func() { a.pendingLen.Store(int64(len(a.pending))) }()

	for len(a.pending) > 0 {
		n := min(len(a.pending), a.config.BatchSize)
		batch := a.pending[:n]

		accepted, err := a.transport.SendLogs(ctx, batch)
		if err != nil {
			a.failed.Add(1)
			if rejected(err) {
				a.log.Errorf("server rejected batch of %d entries, dropping: %v", n, err)
				a.dropped.Add(int64(n))
				a.pending = a.pending[n:]
				continue
			}
			if ctx.Err() == nil {
				a.log.Warnf("send failed, %d entries pending: %v", len(a.pending), err)
			}
			return
		}

		a.sent.Add(int64(accepted))
		a.log.Debugf("sent %d entries", accepted)
		a.pending = a.pending[n:]
	}
	a.pending = nil
}

func rejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusRequestEntityTooLarge
}

func (a *Agent) stopCollectors() {
	for _, c := range a.collectors {
		c.Stop()
	}
}

func (a *Agent) status() models.Heartbeat {
	return models.Heartbeat{
		ServerName:   a.config.ServerName,
		DisplayName:  a.config.DisplayName,
		AgentVersion: config.Version,
		IPAddress:    outboundIP(),
		OSInfo:       runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Stats returns current counters.
func (a *Agent) Stats() Stats {
	return Stats{
		Collected:        a.collected.Load(),
		Sent:             a.sent.Load(),
		Dropped:          a.dropped.Load(),
		FailedRequests:   a.failed.Load(),
		Pending:          int(a.pendingLen.Load()),
		Sources:          len(a.collectors),
		HeartbeatsSent:   a.heartbeater.Sent(),
		HeartbeatsMissed: a.heartbeater.Missed(),
	}
}

// outboundIP returns the first non-loopback IPv4 address, or "".
func outboundIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
