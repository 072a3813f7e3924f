package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
)

var (
	// ErrRateLimited is recorded when a delivery is dropped by the rate limiter.
	ErrRateLimited = errors.New("notification rate limited")
	// ErrChannelNotConfigured is recorded when a rule targets an unknown channel.
	ErrChannelNotConfigured = errors.New("notification channel not configured")
)

// Message is what a channel delivers for one alert instance.
type Message struct {
	Instance    *models.AlertInstance
	Description string
	// Recipient overrides the channel's configured destination when set.
	Recipient string
}

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the channel name (e.g., "email", "slack").
	Name() string
	Send(ctx context.Context, msg *Message) error
	Close() error
}

// Dispatcher routes alert instances to the channels their rule targets and
// returns the delivery audit trail.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	rateLimiter *RateLimiter
	timeout     time.Duration
	// retryDelay spaces the single retry of a temporary channel failure.
	retryDelay time.Duration
	log        *logger.Logger
}

// NewDispatcher creates a dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with custom rate limit configuration.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(config),
		timeout:     30 * time.Second,
		retryDelay:  2 * time.Second,
		log:         logger.WithPrefix("dispatch"),
	}
}

// Register adds a notifier to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[strings.ToLower(n.Name())] = n
}

// Get returns a notifier by name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[strings.ToLower(name)]
	return n, ok
}

// Channels returns the registered channel names.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		names = append(names, name)
	}
	return names
}

// Deliver sends inst to every target and records one delivery per target.
// One rate limit token, charged to both the global and the rule budget,
// covers the whole instance and is returned when every attempted delivery
// failed. A failing channel never stops the others.
func (d *Dispatcher) Deliver(ctx context.Context, inst *models.AlertInstance, description string, targets []models.NotificationTarget) []models.NotificationDelivery {
	if len(targets) == 0 {
		return nil
	}

	now := time.Now().UTC()
	deliveries := make([]models.NotificationDelivery, 0, len(targets))

	release, ok := d.rateLimiter.Acquire(inst.RuleID)
	if !ok {
		for _, target := range targets {
			deliveries = append(deliveries, failedDelivery(target, ErrRateLimited, now))
			metrics.ChannelDeliveriesTotal.WithLabelValues(target.Channel, "rate_limited").Inc()
		}
		d.log.Warnf("alert %s: deliveries dropped: %v", inst.ID, ErrRateLimited)
		return deliveries
	}

	anySuccess := false
	for _, target := range targets {
		err := d.send(ctx, target, &Message{Instance: inst, Description: description, Recipient: target.Recipient})
		if err != nil {
			d.log.Warnf("alert %s: %s delivery failed: %v", inst.ID, target.Channel, err)
			metrics.ChannelDeliveriesTotal.WithLabelValues(target.Channel, "failure").Inc()
			deliveries = append(deliveries, failedDelivery(target, err, now))
			continue
		}
		anySuccess = true
		metrics.ChannelDeliveriesTotal.WithLabelValues(target.Channel, "success").Inc()
		deliveries = append(deliveries, models.NotificationDelivery{
			Channel:     target.Channel,
			Recipient:   target.Recipient,
			Success:     true,
			AttemptedAt: now,
		})
	}

	if !anySuccess {
		release()
	}
	return deliveries
}

func (d *Dispatcher) send(ctx context.Context, target models.NotificationTarget, msg *Message) (err error) {
	n, ok := d.Get(target.Channel)
	if !ok {
		return fmt.Errorf("%s: %w", target.Channel, ErrChannelNotConfigured)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err = n.Send(ctx, msg)

	var de *DeliveryError
	if errors.As(err, &de) && de.Temporary() {
		d.log.Debugf("alert %s: %s answered %d, retrying once", msg.Instance.ID, target.Channel, de.Status)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(d.retryDelay):
		}
		err = n.Send(ctx, msg)
	}
	return err
}

func failedDelivery(target models.NotificationTarget, err error, at time.Time) models.NotificationDelivery {
	return models.NotificationDelivery{
		Channel:     target.Channel,
		Recipient:   target.Recipient,
		Success:     false,
		Error:       err.Error(),
		AttemptedAt: at,
	}
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	return d.rateLimiter.Stats()
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)
	return errors.Join(errs...)
}
