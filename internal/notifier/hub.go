package notifier

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 64

// Hub is the in-process transport. Stream handlers subscribe to groups and
// receive encoded events on a buffered channel. A subscriber that falls
// behind loses messages rather than blocking the broadcaster.
type Hub struct {
	mu      sync.RWMutex
	groups  map[string]map[*Subscription]struct{}
	dropped atomic.Int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[*Subscription]struct{})}
}

// Subscription receives messages for a set of groups.
type Subscription struct {
	C <-chan []byte

	ch     chan []byte
	hub    *Hub
	groups []string
	once   sync.Once
}

// Name returns "hub".
func (h *Hub) Name() string {
	return "hub"
}

// Subscribe registers a subscriber for groups. buffer <= 0 uses the default.
func (h *Hub) Subscribe(groups []string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan []byte, buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, groups: groups}

	h.mu.Lock()
	for _, g := range groups {
		set, ok := h.groups[g]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.groups[g] = set
		}
		set[sub] = struct{}{}
	}
	h.mu.Unlock()
	return sub
}

// Groups returns the groups the subscription listens to.
func (s *Subscription) Groups() []string {
	return s.groups
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		for _, g := range s.groups {
			if set, ok := h.groups[g]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.groups, g)
				}
			}
		}
		close(s.ch)
		h.mu.Unlock()
	})
}

// BroadcastToGroup sends payload to every subscriber of group. It never
// blocks on a slow subscriber.
func (h *Hub) BroadcastToGroup(_ context.Context, group string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.groups[group] {
		select {
		case sub.ch <- payload:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers returns the number of subscribers of group.
func (h *Hub) Subscribers(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Dropped returns the number of messages lost to full subscriber buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
