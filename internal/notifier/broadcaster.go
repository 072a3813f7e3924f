package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
)

// Transport delivers an encoded event to every subscriber of a group.
type Transport interface {
	// Name identifies the transport in logs.
	Name() string
	BroadcastToGroup(ctx context.Context, group string, payload []byte) error
}

// Broadcaster fans events out to groups over one or more transports.
// A failing group or transport is logged and skipped; the remaining
// groups still receive the event.
type Broadcaster struct {
	transports []Transport
	log        *logger.Logger
}

// NewBroadcaster creates a broadcaster over the given transports.
func NewBroadcaster(transports ...Transport) *Broadcaster {
	return &Broadcaster{
		transports: transports,
		log:        logger.WithPrefix("broadcast"),
	}
}

// Broadcast delivers ev to each of its groups. The returned error joins the
// per-group failures and is informational: callers never roll anything back
// because of it.
func (b *Broadcaster) Broadcast(ctx context.Context, ev *Event) error {
	if b == nil || ev == nil {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Errorf("encode %s event: %v", ev.Type, err)
		return fmt.Errorf("encode event: %w", err)
	}

	var errs []error
	for _, group := range ev.Groups() {
		for _, t := range b.transports {
			if err := b.send(ctx, t, group, payload); err != nil {
				b.log.Warnf("deliver %s to group %s via %s: %v", ev.Type, group, t.Name(), err)
				metrics.BroadcastsTotal.WithLabelValues(string(ev.Type), "failure").Inc()
				errs = append(errs, fmt.Errorf("group %s: %w", group, err))
				continue
			}
			metrics.BroadcastsTotal.WithLabelValues(string(ev.Type), "success").Inc()
		}
	}
	return errors.Join(errs...)
}

func (b *Broadcaster) send(ctx context.Context, t Transport, group string, payload []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return t.BroadcastToGroup(ctx, group, payload)
}
