package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/models"
)

// HeartbeatConfig configures the heartbeat loop.
type HeartbeatConfig struct {
	Interval time.Duration // how often to report (default: 30s)
	Timeout  time.Duration // per-heartbeat deadline (default: 10s)
}

// DefaultHeartbeatConfig returns the default heartbeat settings.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// HeartbeatSender is the part of Client the heartbeat loop needs.
type HeartbeatSender interface {
	Heartbeat(ctx context.Context, hb models.Heartbeat) (*models.Server, error)
}

// Heartbeater reports the local server alive at a fixed interval.
type Heartbeater struct {
	config HeartbeatConfig
	sender HeartbeatSender
	status func() models.Heartbeat
	log    *logger.Logger

	missed atomic.Int32
	sent   atomic.Int64
	// lastStatus is the server status from the latest successful reply.
	lastStatus atomic.Value
}

// NewHeartbeater creates a heartbeat loop. status is called before every
// heartbeat.
func NewHeartbeater(sender HeartbeatSender, config HeartbeatConfig, status func() models.Heartbeat) *Heartbeater {
	d := DefaultHeartbeatConfig()
	if config.Interval <= 0 {
		config.Interval = d.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	return &Heartbeater{
		config: config,
		sender: sender,
		status: status,
		log:    logger.WithPrefix("heartbeat"),
	}
}

// Run sends one heartbeat immediately and then one per interval until ctx
// is cancelled.
func (h *Heartbeater) Run(ctx context.Context) error {
	h.log.Infof("started, interval=%v", h.config.Interval)
	defer h.log.Infof("stopped")

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	h.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeater) beat(ctx context.Context) {
	hbCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	srv, err := h.sender.Heartbeat(hbCtx, h.status())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		missed := h.missed.Add(1)
		h.log.Warnf("heartbeat failed (missed=%d): %v", missed, err)
		return
	}

	if missed := h.missed.Swap(0); missed > 0 {
		h.log.Infof("heartbeat recovered after %d misses", missed)
	}
	h.sent.Add(1)
	if srv != nil {
		if prev, _ := h.lastStatus.Load().(models.ServerStatus); prev != srv.Status {
			h.log.Infof("server %s is %s", srv.Name, srv.Status)
		}
		h.lastStatus.Store(srv.Status)
	}
}

// Missed returns the number of consecutive failed heartbeats.
func (h *Heartbeater) Missed() int {
	return int(h.missed.Load())
}

// Sent returns the number of successful heartbeats.
func (h *Heartbeater) Sent() int64 {
	return h.sent.Load()
}

// ServerStatus returns the status reported by the last successful
// heartbeat, or empty before the first one.
func (h *Heartbeater) ServerStatus() models.ServerStatus {
	s, _ := h.lastStatus.Load().(models.ServerStatus)
	return s
}
