package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// maxFailuresPerTick bounds how many failures a JobFailure rule inspects.
const maxFailuresPerTick = 100

// Decision is one request to trigger a rule.
type Decision struct {
	Message    string
	Context    map[string]any
	JobID      string
	ServerName string
}

// StateQuery is the read-only state an evaluator may consult.
type StateQuery struct {
	Logs       storage.LogRepository
	Executions storage.ExecutionRepository
}

// Evaluator inspects state for one rule and returns its trigger decisions.
type Evaluator func(ctx context.Context, q StateQuery, rule *models.AlertRule, cond Condition, now time.Time) ([]Decision, error)

// defaultEvaluators is the generic dispatch table. ServerOffline and
// DurationExceeded are owned by the monitor loops; Custom rules only fire
// on a manual trigger.
var defaultEvaluators = map[models.AlertType]Evaluator{
	models.AlertTypeErrorThreshold:      evaluateErrorThreshold,
	models.AlertTypeJobFailure:          evaluateJobFailure,
	models.AlertTypeConsecutiveFailures: evaluateConsecutiveFailures,
}

// Evaluates reports whether the generic evaluation loop handles t.
func Evaluates(t models.AlertType) bool {
	_, ok := defaultEvaluators[t]
	return ok
}

func evaluateErrorThreshold(ctx context.Context, q StateQuery, rule *models.AlertRule, cond Condition, now time.Time) ([]Decision, error) {
	c, ok := cond.(ErrorThresholdCondition)
	if !ok {
		return nil, fmt.Errorf("unexpected condition %T", cond)
	}

	jobID := firstNonEmpty(c.JobID, rule.JobID)
	server := firstNonEmpty(c.ServerName, rule.ServerName)

	count, err := q.Logs.Count(ctx, &storage.LogFilter{
		StartTime:  now.Add(-c.Window()),
		EndTime:    now.Add(time.Millisecond),
		MinLevel:   models.LevelError,
		JobID:      jobID,
		ServerName: server,
	})
	if err != nil {
		return nil, fmt.Errorf("count errors: %w", err)
	}
	if count < int64(c.Threshold) {
		return nil, nil
	}

	msg := fmt.Sprintf("Error threshold exceeded: %d errors in the last %d minutes (threshold: %d)%s",
		count, c.WindowMinutes, c.Threshold, scopeSuffix(jobID, server))

	return []Decision{{
		Message: msg,
		Context: map[string]any{
			"errorCount":    count,
			"threshold":     c.Threshold,
			"windowMinutes": c.WindowMinutes,
		},
		JobID:      jobID,
		ServerName: server,
	}}, nil
}

func evaluateJobFailure(ctx context.Context, q StateQuery, rule *models.AlertRule, cond Condition, now time.Time) ([]Decision, error) {
	c, ok := cond.(JobFailureCondition)
	if !ok {
		return nil, fmt.Errorf("unexpected condition %T", cond)
	}

	failures, err := q.Executions.ListRecentFailures(ctx, now.Add(-c.Lookback()), maxFailuresPerTick, rule.JobID)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}

	// Oldest first so the earliest failure wins the throttle window.
	decisions := make([]Decision, 0, len(failures))
	for i := len(failures) - 1; i >= 0; i-- {
		exec := failures[i]
		if !rule.MatchesScope(exec.JobID, exec.ServerName) {
			continue
		}
		msg := fmt.Sprintf("Job %s %s on %s", exec.JobID, strings.ToLower(string(exec.Status)), exec.ServerName)
		if exec.ErrorMessage != "" {
			msg += ": " + exec.ErrorMessage
		}
		decisions = append(decisions, Decision{
			Message: msg,
			Context: map[string]any{
				"executionId": exec.ID,
				"status":      string(exec.Status),
				"durationMs":  exec.DurationMs,
			},
			JobID:      exec.JobID,
			ServerName: exec.ServerName,
		})
	}
	return decisions, nil
}

func evaluateConsecutiveFailures(ctx context.Context, q StateQuery, rule *models.AlertRule, cond Condition, now time.Time) ([]Decision, error) {
	c, ok := cond.(ConsecutiveFailuresCondition)
	if !ok {
		return nil, fmt.Errorf("unexpected condition %T", cond)
	}
	if rule.JobID == "" {
		return nil, fmt.Errorf("rule %q needs a job scope", rule.Name)
	}

	recent, err := q.Executions.ListRecentCompleted(ctx, rule.JobID, c.Count)
	if err != nil {
		return nil, fmt.Errorf("list completed: %w", err)
	}
	if len(recent) < c.Count {
		return nil, nil
	}
	for _, exec := range recent {
		if !exec.Status.IsFailure() {
			return nil, nil
		}
	}

	last := recent[0]
	return []Decision{{
		Message: fmt.Sprintf("Job %s failed %d times in a row", rule.JobID, c.Count),
		Context: map[string]any{
			"count":           c.Count,
			"lastExecutionId": last.ID,
			"lastError":       last.ErrorMessage,
		},
		JobID:      rule.JobID,
		ServerName: last.ServerName,
	}}, nil
}

// ServerOfflineDecision returns the decision for an Offline server under a
// ServerOffline rule, or false when the rule does not apply.
func ServerOfflineDecision(rule *models.AlertRule, srv *models.Server, now time.Time) (Decision, bool) {
	c, ok := ParseCondition(rule).(ServerOfflineCondition)
	if !ok || srv.Status != models.ServerStatusOffline || !rule.MatchesScope("", srv.Name) {
		return Decision{}, false
	}
	age := srv.HeartbeatAge(now)
	if age < time.Duration(c.OfflineMinutes)*time.Minute {
		return Decision{}, false
	}

	msg := fmt.Sprintf("Server %s is offline", srv.Name)
	ctx := map[string]any{"offlineMinutes": c.OfflineMinutes}
	if srv.LastHeartbeat != nil {
		msg += fmt.Sprintf(": no heartbeat for %d minutes", int(age.Minutes()))
		ctx["lastHeartbeat"] = srv.LastHeartbeat.UTC().Format(time.RFC3339)
	}
	return Decision{Message: msg, Context: ctx, ServerName: srv.Name}, true
}

// DurationExceededDecision returns the decision for an execution under a
// DurationExceeded rule. Timed out executions always qualify; running ones
// qualify once they pass the rule's maxDurationMinutes.
func DurationExceededDecision(rule *models.AlertRule, exec *models.Execution, now time.Time) (Decision, bool) {
	c, ok := ParseCondition(rule).(DurationExceededCondition)
	if !ok || !rule.MatchesScope(exec.JobID, exec.ServerName) {
		return Decision{}, false
	}

	elapsed := exec.Elapsed(now)
	var msg string
	switch {
	case exec.Status == models.ExecutionTimedOut:
		msg = fmt.Sprintf("Job %s timed out on %s after %d minutes", exec.JobID, exec.ServerName, int(elapsed.Minutes()))
	case exec.Status == models.ExecutionRunning && c.MaxDuration() > 0 && elapsed > c.MaxDuration():
		msg = fmt.Sprintf("Job %s on %s running for %d minutes (limit: %d)",
			exec.JobID, exec.ServerName, int(elapsed.Minutes()), c.MaxDurationMinutes)
	default:
		return Decision{}, false
	}

	return Decision{
		Message: msg,
		Context: map[string]any{
			"executionId":    exec.ID,
			"elapsedMinutes": int(elapsed.Minutes()),
		},
		JobID:      exec.JobID,
		ServerName: exec.ServerName,
	}, true
}

func scopeSuffix(jobID, server string) string {
	var parts []string
	if jobID != "" {
		parts = append(parts, "job "+jobID)
	}
	if server != "" {
		parts = append(parts, "server "+server)
	}
	if len(parts) == 0 {
		return ""
	}
	return " for " + strings.Join(parts, " on ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
