package alerting

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// Engine runs one evaluation pass over the enabled rules per tick.
type Engine struct {
	rules      storage.RuleRepository
	query      StateQuery
	service    *Service
	evaluators map[models.AlertType]Evaluator
	conditions *conditionCache
	now        func() time.Time
	log        *logger.Logger
}

// NewEngine creates an evaluation engine.
func NewEngine(rules storage.RuleRepository, query StateQuery, service *Service) *Engine {
	evaluators := make(map[models.AlertType]Evaluator, len(defaultEvaluators))
	for t, ev := range defaultEvaluators {
		evaluators[t] = ev
	}
	return &Engine{
		rules:      rules,
		query:      query,
		service:    service,
		evaluators: evaluators,
		conditions: newConditionCache(),
		now:        time.Now,
		log:        logger.WithPrefix("alert-eval"),
	}
}

// Tick evaluates every enabled rule once. A failing rule is logged and
// skipped. The returned error only reports failure to load the rules.
func (e *Engine) Tick(ctx context.Context) error {
	rules, err := e.rules.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list enabled rules: %w", err)
	}
	if len(rules) == 0 {
		e.log.Debugf("no enabled rules")
		e.conditions.retain(nil)
		return nil
	}

	now := e.now().UTC()
	keep := make(map[string]bool, len(rules))
	triggered := 0
	for _, rule := range rules {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		keep[rule.ID] = true

		n, err := e.evaluateRule(ctx, rule, now)
		if err != nil {
			metrics.RuleEvaluationErrors.WithLabelValues(string(rule.Type)).Inc()
			e.log.Errorf("evaluate rule %q (%s): %v", rule.Name, rule.ID, err)
			continue
		}
		triggered += n
	}
	e.conditions.retain(keep)

	if triggered > 0 {
		e.log.Infof("evaluated %d rules, %d alerts triggered", len(rules), triggered)
	}
	e.service.PublishSummary(ctx)
	return nil
}

// evaluateRule runs one rule and triggers its decisions. Panics are
// converted to errors so one rule cannot stop the pass.
func (e *Engine) evaluateRule(ctx context.Context, rule *models.AlertRule, now time.Time) (triggered int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()

	evaluate, ok := e.evaluators[rule.Type]
	if !ok {
		return 0, nil
	}

	decisions, err := evaluate(ctx, e.query, rule, e.conditions.get(rule), now)
	if err != nil {
		return 0, err
	}
	for _, d := range decisions {
		inst, err := e.service.Fire(ctx, rule, d)
		if err != nil {
			return triggered, err
		}
		if inst != nil {
			triggered++
		}
	}
	return triggered, nil
}
