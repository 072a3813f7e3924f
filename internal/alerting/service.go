package alerting

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("alert rule not found")
	// ErrInstanceNotFound is returned when an instance ID does not exist.
	ErrInstanceNotFound = errors.New("alert instance not found")
	// ErrInvalidTransition is returned when an instance cannot move to the
	// requested status. Nothing is written.
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

// Publisher pushes events to subscriber groups.
type Publisher interface {
	Broadcast(ctx context.Context, ev *notifier.Event) error
}

// Deliverer sends an instance to a rule's notification targets.
type Deliverer interface {
	Deliver(ctx context.Context, inst *models.AlertInstance, description string, targets []models.NotificationTarget) []models.NotificationDelivery
}

// TriggerRequest asks for one instance of a rule. Empty scope fields fall
// back to the rule's own scope.
type TriggerRequest struct {
	RuleID     string
	Message    string
	Context    map[string]any
	JobID      string
	ServerName string
}

// maxConcurrentDeliveries bounds instances being sent to channels at once.
const maxConcurrentDeliveries = 4

// Service creates alert instances and applies lifecycle transitions.
// Every state change is written before it is broadcast. Channel delivery
// runs in the background so a slow channel never holds up a trigger.
type Service struct {
	rules     storage.RuleRepository
	instances storage.InstanceRepository
	publisher Publisher
	deliverer Deliverer
	now       func() time.Time
	log       *logger.Logger

	sending  *semaphore.Weighted
	inflight sync.WaitGroup
	sendCtx  context.Context
	stopSend context.CancelFunc
}

// NewService creates a trigger service. publisher and deliverer may be nil.
func NewService(rules storage.RuleRepository, instances storage.InstanceRepository, publisher Publisher, deliverer Deliverer) *Service {
	sendCtx, stopSend := context.WithCancel(context.Background())
	return &Service{
		rules:     rules,
		instances: instances,
		publisher: publisher,
		deliverer: deliverer,
		now:       time.Now,
		log:       logger.WithPrefix("alerts"),
		sending:   semaphore.NewWeighted(maxConcurrentDeliveries),
		sendCtx:   sendCtx,
		stopSend:  stopSend,
	}
}

// TriggerAlert creates an instance for the rule unless it is disabled or
// throttled, in which case it returns nil without error. The instance and
// the rule's trigger bookkeeping are written atomically; a store failure is
// returned to the caller.
func (s *Service) TriggerAlert(ctx context.Context, req TriggerRequest) (*models.AlertInstance, error) {
	rule, err := s.rules.GetByID(ctx, req.RuleID)
	if err != nil {
		return nil, fmt.Errorf("get rule %s: %w", req.RuleID, err)
	}
	if rule == nil {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, req.RuleID)
	}

	// SQLite stores millisecond timestamps; the throttle gate must compare
	// the same value that gets persisted.
	now := s.now().UTC().Truncate(time.Millisecond)
	if !rule.CanTriggerAt(now) {
		s.throttled(rule, now)
		return nil, nil
	}

	inst := models.NewAlertInstance(rule, req.Message, now)
	inst.ID = uuid.New().String()
	inst.JobID = firstNonEmpty(req.JobID, rule.JobID)
	inst.ServerName = firstNonEmpty(req.ServerName, rule.ServerName)
	for k, v := range req.Context {
		inst.Context[k] = v
	}

	ok, err := s.rules.RecordTrigger(ctx, inst)
	if err != nil {
		return nil, fmt.Errorf("record trigger for rule %s: %w", rule.Name, err)
	}
	if !ok {
		// Another evaluator won the throttle window.
		s.throttled(rule, now)
		return nil, nil
	}

	metrics.AlertsTriggeredTotal.WithLabelValues(string(rule.Type), string(rule.Severity)).Inc()
	s.log.Warnf("alert triggered: rule=%q severity=%s job=%s server=%s: %s",
		rule.Name, inst.Severity, inst.JobID, inst.ServerName, inst.Message)

	s.publish(ctx, notifier.NewAlertEvent(notifier.EventAlertTriggered, inst))
	s.deliver(rule, inst)
	return inst, nil
}

func (s *Service) throttled(rule *models.AlertRule, now time.Time) {
	metrics.AlertsThrottledTotal.WithLabelValues(string(rule.Type)).Inc()
	if !rule.Enabled {
		s.log.Debugf("rule %q is disabled, not triggering", rule.Name)
		return
	}
	s.log.Debugf("rule %q throttled for %s", rule.Name, rule.ThrottleRemainingAt(now).Round(time.Second))
}

// deliver queues inst for the rule's channels and returns at once. The
// goroutine works on a copy; the caller keeps inst.
func (s *Service) deliver(rule *models.AlertRule, inst *models.AlertInstance) {
	if s.deliverer == nil || len(rule.Notify) == 0 {
		return
	}
	snap := *inst
	description := rule.Description
	targets := slices.Clone(rule.Notify)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.sending.Acquire(s.sendCtx, 1); err != nil {
			s.log.Warnf("alert %s: deliveries abandoned: %v", snap.ID, err)
			return
		}
		defer s.sending.Release(1)

		deliveries := s.deliverer.Deliver(s.sendCtx, &snap, description, targets)
		if len(deliveries) == 0 {
			return
		}
		// The audit trail is written even when shutdown cut the sends short.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.sendCtx), 5*time.Second)
		defer cancel()
		if err := s.instances.AddDeliveries(ctx, snap.ID, deliveries); err != nil {
			s.log.Errorf("record deliveries for instance %s: %v", snap.ID, err)
		}
	}()
}

// Drain waits for queued deliveries. If ctx ends first the remaining
// sends are cancelled, and Drain still waits for them to return.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.stopSend()
		<-done
		return ctx.Err()
	}
}

func (s *Service) publish(ctx context.Context, ev *notifier.Event) {
	if s.publisher == nil {
		return
	}
	// Failures are logged per group by the broadcaster.
	_ = s.publisher.Broadcast(ctx, ev)
}

// Acknowledge moves a New instance to Acknowledged.
func (s *Service) Acknowledge(ctx context.Context, id, actor, note string) (*models.AlertInstance, error) {
	return s.transition(ctx, id, notifier.EventAlertAcknowledged, func(inst *models.AlertInstance, now time.Time) bool {
		return inst.Acknowledge(actor, note, now)
	})
}

// Resolve moves a New or Acknowledged instance to Resolved.
func (s *Service) Resolve(ctx context.Context, id, actor, note string) (*models.AlertInstance, error) {
	return s.transition(ctx, id, notifier.EventAlertResolved, func(inst *models.AlertInstance, now time.Time) bool {
		return inst.Resolve(actor, note, now)
	})
}

// Suppress moves a New or Acknowledged instance to Suppressed.
func (s *Service) Suppress(ctx context.Context, id, actor, note string) (*models.AlertInstance, error) {
	return s.transition(ctx, id, notifier.EventAlertSuppressed, func(inst *models.AlertInstance, now time.Time) bool {
		return inst.Suppress(actor, note, now)
	})
}

func (s *Service) transition(ctx context.Context, id string, event notifier.EventType, apply func(*models.AlertInstance, time.Time) bool) (*models.AlertInstance, error) {
	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}

	from := inst.Status
	if !apply(inst, s.now().UTC().Truncate(time.Millisecond)) {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, from)
	}
	ok, err := s.instances.UpdateStatus(ctx, inst, from)
	if err != nil {
		return nil, fmt.Errorf("update instance %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
	}

	s.log.Infof("alert %s %s by %s", id, strings.ToLower(string(inst.Status)), actorName(inst))
	s.publish(ctx, notifier.NewAlertEvent(event, inst))
	s.PublishSummary(ctx)
	return inst, nil
}

func actorName(inst *models.AlertInstance) string {
	switch inst.Status {
	case models.AlertStatusAcknowledged:
		return inst.AcknowledgedBy
	case models.AlertStatusResolved:
		return inst.ResolvedBy
	case models.AlertStatusSuppressed:
		return inst.SuppressedBy
	}
	return ""
}

// Summary returns the aggregate of active instances.
func (s *Service) Summary(ctx context.Context) (*models.AlertSummary, error) {
	summary, err := s.instances.Summary(ctx)
	if err != nil {
		return nil, fmt.Errorf("alert summary: %w", err)
	}
	return summary, nil
}

// PublishSummary broadcasts the current summary. Failures are logged only.
func (s *Service) PublishSummary(ctx context.Context) {
	summary, err := s.Summary(ctx)
	if err != nil {
		s.log.Warnf("%v", err)
		return
	}
	metrics.AlertsActive.WithLabelValues("critical").Set(float64(summary.Critical))
	metrics.AlertsActive.WithLabelValues("high").Set(float64(summary.High))
	metrics.AlertsActive.WithLabelValues("all").Set(float64(summary.Total))
	metrics.AlertsActive.WithLabelValues("new").Set(float64(summary.New))
	s.publish(ctx, notifier.NewSummaryEvent(summary))
}

// RulesOfType returns the enabled rules of type t.
func (s *Service) RulesOfType(ctx context.Context, t models.AlertType) ([]*models.AlertRule, error) {
	rules, err := s.rules.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	var out []*models.AlertRule
	for _, r := range rules {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out, nil
}

// MatchingRules returns the enabled rules of type t whose scope covers
// jobID and serverName.
func (s *Service) MatchingRules(ctx context.Context, t models.AlertType, jobID, serverName string) ([]*models.AlertRule, error) {
	rules, err := s.RulesOfType(ctx, t)
	if err != nil {
		return nil, err
	}
	out := rules[:0]
	for _, r := range rules {
		if r.MatchesScope(jobID, serverName) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Fire triggers rule for decision.
func (s *Service) Fire(ctx context.Context, rule *models.AlertRule, d Decision) (*models.AlertInstance, error) {
	return s.TriggerAlert(ctx, TriggerRequest{
		RuleID:     rule.ID,
		Message:    d.Message,
		Context:    d.Context,
		JobID:      d.JobID,
		ServerName: d.ServerName,
	})
}
