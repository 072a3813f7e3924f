// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/api/health"
	"github.com/good-yellow-bee/lognexus/internal/api/logs"
	"github.com/good-yellow-bee/lognexus/internal/api/middleware"
	"github.com/good-yellow-bee/lognexus/internal/api/stream"
	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

var log = logger.WithPrefix("api")

// Config contains HTTP API server configuration.
type Config struct {
	Address     string
	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string

	// QueryTimeout bounds storage-backed log queries.
	QueryTimeout time.Duration
	// IngestRateLimit is each agent's request budget per minute on the
	// ingestion endpoints.
	IngestRateLimit int
	// TrustedProxies lists CIDRs whose X-Forwarded-For is believed when
	// identifying agents.
	TrustedProxies []string
	// MaxBatchSize caps entries per log ingest request.
	MaxBatchSize int

	Stream stream.Config

	Verbose bool
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.IngestRateLimit == 0 {
		c.IngestRateLimit = 600
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 1000
	}
}

// Deps are the collaborators the handlers are built on.
type Deps struct {
	Store storage.Storage
	// Logs may be nil when no log store is configured.
	Logs      storage.LogRepository
	Sink      logs.Sink
	Alerts    *alerting.Service
	Hub       *notifier.Hub
	Publisher alerting.Publisher
}

func (d *Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("storage is required")
	case d.Sink == nil:
		return errors.New("log sink is required")
	case d.Alerts == nil:
		return errors.New("alert service is required")
	case d.Hub == nil:
		return errors.New("notification hub is required")
	case d.Publisher == nil:
		return errors.New("publisher is required")
	}
	return nil
}

// Server serves the agent ingestion API, the operator API and the live
// streams.
type Server struct {
	config        *Config
	deps          Deps
	server        *http.Server
	healthHandler *health.Handler
	ingestLimiter *middleware.RateLimiter
	ingestKey     middleware.KeyFunc

	mu       sync.Mutex
	boundTo  net.Addr
	listener net.Listener
}

// New validates the configuration and builds the router. Nothing listens
// until Run.
func New(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:        cfg,
		deps:          deps,
		healthHandler: health.NewHandler(),
		ingestLimiter: middleware.NewRateLimiter(cfg.IngestRateLimit),
		ingestKey:     middleware.ClientIP(proxies),
	}
	s.server = &http.Server{
		Handler:           s.setupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: SSE and websocket streams are long-lived and
		// bounded by Stream.MaxDuration instead.
		IdleTimeout: 60 * time.Second,
		ErrorLog:    log.StdLogger(),
	}
	if cfg.TLSEnabled {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS13}
	}
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Listen binds the configured address. Run calls it when needed; calling
// it first surfaces bind errors before other components start.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Address, err)
	}
	if s.config.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("load TLS key pair: %w", err)
		}
		tlsCfg := s.server.TLSConfig.Clone()
		tlsCfg.Certificates = []tls.Certificate{cert}
		ln = tls.NewListener(ln, tlsCfg)
	}
	s.listener = ln
	s.boundTo = ln.Addr()
	return nil
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to 10 seconds.
func (s *Server) Run(ctx context.Context) error {
	defer s.ingestLimiter.Close()
	if err := s.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP API listening on %s (tls=%v)", s.Address(), s.config.TLSEnabled)
		errCh <- s.server.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		log.Infof("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http api: %w", err)
	}
}

// Address returns the bound address once listening, else the configured
// one.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boundTo != nil {
		return s.boundTo.String()
	}
	return s.config.Address
}

// RegisterHealthChecker adds a readiness checker.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.healthHandler.RegisterChecker(c)
}
