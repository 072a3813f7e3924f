// Package alerting evaluates standing alert rules against stored state,
// creates throttled alert instances and drives their lifecycle.
package alerting

import (
	"strings"
	"sync"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

// Condition defaults.
const (
	DefaultThreshold       = 100
	DefaultWindowMinutes   = 60
	DefaultLookbackMinutes = 5
	DefaultFailureCount    = 3
	DefaultOfflineMinutes  = 5
)

// Condition is the typed form of a rule's condition map.
type Condition interface {
	Type() models.AlertType
}

// ErrorThresholdCondition counts Error and Critical log entries.
type ErrorThresholdCondition struct {
	Threshold     int
	WindowMinutes int
	// ServerName narrows the count beyond the rule's own scope.
	ServerName string
	JobID      string
}

func (ErrorThresholdCondition) Type() models.AlertType { return models.AlertTypeErrorThreshold }

// Window returns the counting window.
func (c ErrorThresholdCondition) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// JobFailureCondition looks back for failed executions.
type JobFailureCondition struct {
	LookbackMinutes int
}

func (JobFailureCondition) Type() models.AlertType { return models.AlertTypeJobFailure }

// Lookback returns the failure lookback.
func (c JobFailureCondition) Lookback() time.Duration {
	return time.Duration(c.LookbackMinutes) * time.Minute
}

// ConsecutiveFailuresCondition fires when the last Count runs all failed.
type ConsecutiveFailuresCondition struct {
	Count int
}

func (ConsecutiveFailuresCondition) Type() models.AlertType {
	return models.AlertTypeConsecutiveFailures
}

// ServerOfflineCondition fires for servers offline for at least OfflineMinutes.
type ServerOfflineCondition struct {
	OfflineMinutes int
}

func (ServerOfflineCondition) Type() models.AlertType { return models.AlertTypeServerOffline }

// DurationExceededCondition fires for timed out executions and, when
// MaxDurationMinutes is set, for running executions beyond that limit.
type DurationExceededCondition struct {
	MaxDurationMinutes int
}

func (DurationExceededCondition) Type() models.AlertType { return models.AlertTypeDurationExceeded }

// MaxDuration returns the explicit duration limit, or zero.
func (c DurationExceededCondition) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationMinutes) * time.Minute
}

// CustomCondition is never evaluated automatically.
type CustomCondition struct{}

func (CustomCondition) Type() models.AlertType { return models.AlertTypeCustom }

// ParseCondition reads rule.Condition into its typed form. Missing keys,
// values that cannot be coerced and non-positive numbers use the defaults;
// parsing never fails.
func ParseCondition(rule *models.AlertRule) Condition {
	s := config.Settings(rule.Condition)
	switch rule.Type {
	case models.AlertTypeErrorThreshold:
		return ErrorThresholdCondition{
			Threshold:     positive(s, "threshold", DefaultThreshold),
			WindowMinutes: positive(s, "windowMinutes", DefaultWindowMinutes),
			ServerName:    strings.TrimSpace(config.GetValue(s, "serverName", "")),
			JobID:         strings.TrimSpace(config.GetValue(s, "jobId", "")),
		}
	case models.AlertTypeJobFailure:
		return JobFailureCondition{
			LookbackMinutes: positive(s, "lookbackMinutes", DefaultLookbackMinutes),
		}
	case models.AlertTypeConsecutiveFailures:
		return ConsecutiveFailuresCondition{
			Count: positive(s, "count", DefaultFailureCount),
		}
	case models.AlertTypeServerOffline:
		return ServerOfflineCondition{
			OfflineMinutes: positive(s, "offlineMinutes", DefaultOfflineMinutes),
		}
	case models.AlertTypeDurationExceeded:
		limit := config.GetValue(s, "maxDurationMinutes", 0)
		if limit < 0 {
			limit = 0
		}
		return DurationExceededCondition{MaxDurationMinutes: limit}
	default:
		return CustomCondition{}
	}
}

func positive(s config.Settings, key string, def int) int {
	if v := config.GetValue(s, key, def); v > 0 {
		return v
	}
	return def
}

// conditionCache holds parsed conditions per rule version.
type conditionCache struct {
	mu      sync.Mutex
	entries map[string]cachedCondition
}

type cachedCondition struct {
	updatedAt time.Time
	cond      Condition
}

func newConditionCache() *conditionCache {
	return &conditionCache{entries: make(map[string]cachedCondition)}
}

// get returns the parsed condition for the rule, reparsing when the rule
// was updated since the cached version.
func (c *conditionCache) get(rule *models.AlertRule) Condition {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[rule.ID]; ok && e.updatedAt.Equal(rule.UpdatedAt) {
		return e.cond
	}
	cond := ParseCondition(rule)
	c.entries[rule.ID] = cachedCondition{updatedAt: rule.UpdatedAt, cond: cond}
	return cond
}

// retain evicts entries for rules not in keep.
func (c *conditionCache) retain(keep map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id := range c.entries {
		if !keep[id] {
			delete(c.entries, id)
		}
	}
}

func (c *conditionCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
