// Package stream serves the push channel: Server-Sent Events and websocket
// endpoints fed by the in-process notification hub.
package stream

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
	retryMs        = 3000
)

// Config tunes keepalives and stream lifetime.
type Config struct {
	// HeartbeatInterval is the SSE keepalive period.
	HeartbeatInterval time.Duration
	// PingInterval is the websocket ping period. The read deadline is
	// derived from it.
	PingInterval time.Duration
	// MaxDuration closes streams after this long. Zero means unlimited.
	MaxDuration time.Duration
	// Buffer is the per-subscriber queue length.
	Buffer int
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
}

// Handler serves stream endpoints.
type Handler struct {
	hub      *notifier.Hub
	cfg      Config
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHandler creates a stream handler on hub.
func NewHandler(hub *notifier.Hub, cfg Config) *Handler {
	cfg.setDefaults()
	return &Handler{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards are served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.WithPrefix("stream"),
	}
}

// eventType extracts the type field of an encoded event for the SSE event name.
func eventType(payload []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Type == "" {
		return "message"
	}
	return head.Type
}

// SSE handles GET /api/v1/stream?groups=a,b.
func (h *Handler) SSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	groups := notifier.ParseGroups(r.URL.Query().Get("groups"))
	sub := h.hub.Subscribe(groups, h.cfg.Buffer)
	defer sub.Close()

	gauge := metrics.StreamSubscribers.WithLabelValues("sse")
	gauge.Inc()
	defer gauge.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sse := NewSSEWriter(w, flusher)
	if err := sse.Retry(retryMs); err != nil {
		return
	}
	hello, _ := json.Marshal(map[string]any{"groups": groups})
	if err := sse.Send("subscribed", hello); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	deadline := h.deadline()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			_ = sse.Send("close", []byte(`{"reason":"timeout"}`))
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if err := sse.Send(eventType(msg), msg); err != nil {
				return
			}
		case now := <-heartbeat.C:
			if err := sse.Comment("heartbeat " + now.UTC().Format(time.RFC3339)); err != nil {
				return
			}
		}
	}
}

// WebSocket handles GET /api/v1/ws?groups=a,b. Events are sent as JSON
// text frames; client messages are read only to process control frames.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debugf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	groups := notifier.ParseGroups(r.URL.Query().Get("groups"))
	sub := h.hub.Subscribe(groups, h.cfg.Buffer)
	defer sub.Close()

	gauge := metrics.StreamSubscribers.WithLabelValues("websocket")
	gauge.Inc()
	defer gauge.Dec()

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()
	deadline := h.deadline()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-deadline:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "timeout"),
				time.Now().Add(writeWait))
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pongs and close frames are processed.
// It closes done when the peer goes away.
func (h *Handler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	pongWait := h.cfg.PingInterval * 2
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugf("websocket read: %v", err)
			}
			return
		}
	}
}

func (h *Handler) deadline() <-chan time.Time {
	if h.cfg.MaxDuration <= 0 {
		return nil
	}
	return time.After(h.cfg.MaxDuration)
}
