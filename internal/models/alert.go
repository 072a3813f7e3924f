package models

import (
	"strings"
	"time"
)

// AlertType represents the kind of condition an alert rule watches.
type AlertType string

const (
	AlertTypeErrorThreshold      AlertType = "ErrorThreshold"
	AlertTypeJobFailure          AlertType = "JobFailure"
	AlertTypeConsecutiveFailures AlertType = "ConsecutiveFailures"
	AlertTypeServerOffline       AlertType = "ServerOffline"
	AlertTypeDurationExceeded    AlertType = "DurationExceeded"
	AlertTypeCustom              AlertType = "Custom"
)

// AlertTypes lists every known alert type.
var AlertTypes = []AlertType{
	AlertTypeErrorThreshold,
	AlertTypeJobFailure,
	AlertTypeConsecutiveFailures,
	AlertTypeServerOffline,
	AlertTypeDurationExceeded,
	AlertTypeCustom,
}

// ParseAlertType converts a string to AlertType. Matching is case-insensitive
// and ignores underscores, so "error_threshold" and "ErrorThreshold" are equal.
func ParseAlertType(s string) (AlertType, bool) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for _, t := range AlertTypes {
		if strings.ToLower(string(t)) == norm {
			return t, true
		}
	}
	// ExecutionTimeout is the name used by older agents.
	if norm == "executiontimeout" {
		return AlertTypeDurationExceeded, true
	}
	return "", false
}

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// ParseSeverity converts a string to Severity, defaulting to Medium.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "info":
		return SeverityLow
	case "medium", "warning":
		return SeverityMedium
	case "high", "error":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Rank orders severities from Low (1) to Critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// NotificationTarget is a delivery destination configured on a rule.
type NotificationTarget struct {
	Channel   string `json:"channel" yaml:"channel"`
	Recipient string `json:"recipient,omitempty" yaml:"recipient,omitempty"`
}

// AlertRule is a standing condition definition.
type AlertRule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        AlertType `json:"type"`
	Severity    Severity  `json:"severity"`
	// Condition holds type-specific parameters such as threshold or windowMinutes.
	Condition       map[string]any       `json:"condition,omitempty"`
	Enabled         bool                 `json:"enabled"`
	ThrottleMinutes int                  `json:"throttle_minutes"`
	JobID           string               `json:"job_id,omitempty"`
	ServerName      string               `json:"server_name,omitempty"`
	Notify          []NotificationTarget `json:"notify,omitempty"`
	LastTriggeredAt *time.Time           `json:"last_triggered_at,omitempty"`
	TriggerCount    int64                `json:"trigger_count"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// NewAlertRule creates an enabled AlertRule with initialized timestamps.
func NewAlertRule(name string, alertType AlertType, severity Severity) *AlertRule {
	now := time.Now().UTC()
	return &AlertRule{
		Name:      name,
		Type:      alertType,
		Severity:  severity,
		Enabled:   true,
		Condition: map[string]any{},
		Notify:    []NotificationTarget{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Throttle returns the minimum spacing between two triggers.
func (r *AlertRule) Throttle() time.Duration {
	if r.ThrottleMinutes <= 0 {
		return 0
	}
	return time.Duration(r.ThrottleMinutes) * time.Minute
}

// CanTriggerAt reports whether the rule may fire at now.
func (r *AlertRule) CanTriggerAt(now time.Time) bool {
	return CanTrigger(now, r.LastTriggeredAt, r.Throttle(), r.Enabled)
}

// ThrottleRemainingAt returns how long the rule stays throttled after now.
func (r *AlertRule) ThrottleRemainingAt(now time.Time) time.Duration {
	return ThrottleRemaining(now, r.LastTriggeredAt, r.Throttle())
}

// MatchesScope reports whether an event for jobID/serverName falls within
// the rule's optional job and server scope.
func (r *AlertRule) MatchesScope(jobID, serverName string) bool {
	if r.JobID != "" && !strings.EqualFold(r.JobID, jobID) {
		return false
	}
	if r.ServerName != "" && !strings.EqualFold(r.ServerName, serverName) {
		return false
	}
	return true
}

// CanTrigger is the throttle gate: enabled and either never triggered or
// now >= lastTriggered + throttle.
func CanTrigger(now time.Time, lastTriggered *time.Time, throttle time.Duration, enabled bool) bool {
	if !enabled {
		return false
	}
	return ThrottleRemaining(now, lastTriggered, throttle) == 0
}

// ThrottleRemaining returns the time left in the throttle window, or zero.
func ThrottleRemaining(now time.Time, lastTriggered *time.Time, throttle time.Duration) time.Duration {
	if lastTriggered == nil {
		return 0
	}
	remaining := lastTriggered.Add(throttle).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AlertStatus is the lifecycle state of an alert instance.
type AlertStatus string

const (
	AlertStatusNew          AlertStatus = "New"
	AlertStatusAcknowledged AlertStatus = "Acknowledged"
	AlertStatusResolved     AlertStatus = "Resolved"
	AlertStatusSuppressed   AlertStatus = "Suppressed"
)

// ParseAlertStatus converts a string to AlertStatus.
func ParseAlertStatus(s string) (AlertStatus, bool) {
	for _, st := range []AlertStatus{AlertStatusNew, AlertStatusAcknowledged, AlertStatusResolved, AlertStatusSuppressed} {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusResolved || s == AlertStatusSuppressed
}

// NotificationDelivery is one entry of an instance's delivery audit trail.
type NotificationDelivery struct {
	Channel     string    `json:"channel"`
	Recipient   string    `json:"recipient,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// AlertInstance is one occurrence of a rule firing.
type AlertInstance struct {
	ID          string         `json:"id"`
	RuleID      string         `json:"rule_id"`
	RuleName    string         `json:"rule_name"`
	RuleType    AlertType      `json:"rule_type"`
	TriggeredAt time.Time      `json:"triggered_at"`
	Message     string         `json:"message"`
	Severity    Severity       `json:"severity"`
	Status      AlertStatus    `json:"status"`
	JobID       string         `json:"job_id,omitempty"`
	ServerName  string         `json:"server_name,omitempty"`
	Context     map[string]any `json:"context,omitempty"`

	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgeNote string     `json:"acknowledge_note,omitempty"`

	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`

	SuppressedBy string     `json:"suppressed_by,omitempty"`
	SuppressedAt *time.Time `json:"suppressed_at,omitempty"`
	SuppressNote string     `json:"suppress_note,omitempty"`

	Deliveries []NotificationDelivery `json:"deliveries,omitempty"`
}

// NewAlertInstance creates a New instance for rule with the rule's current
// severity.
func NewAlertInstance(rule *AlertRule, message string, at time.Time) *AlertInstance {
	return &AlertInstance{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		RuleType:    rule.Type,
		TriggeredAt: at,
		Message:     message,
		Severity:    rule.Severity,
		Status:      AlertStatusNew,
		Context:     map[string]any{},
	}
}

// IsActive reports whether the instance still needs attention.
func (a *AlertInstance) IsActive() bool {
	return a.Status == AlertStatusNew || a.Status == AlertStatusAcknowledged
}

// Acknowledge moves a New instance to Acknowledged.
func (a *AlertInstance) Acknowledge(actor, note string, now time.Time) bool {
	if a.Status != AlertStatusNew {
		return false
	}
	a.Status = AlertStatusAcknowledged
	a.AcknowledgedBy = actor
	a.AcknowledgedAt = &now
	a.AcknowledgeNote = note
	return true
}

// Resolve moves a New or Acknowledged instance to Resolved. An instance that
// was never acknowledged gets its acknowledgement stamped with the resolver
// and the same timestamp.
func (a *AlertInstance) Resolve(actor, note string, now time.Time) bool {
	if !a.IsActive() {
		return false
	}
	if a.Status == AlertStatusNew {
		a.AcknowledgedBy = actor
		a.AcknowledgedAt = &now
	}
	a.Status = AlertStatusResolved
	a.ResolvedBy = actor
	a.ResolvedAt = &now
	a.ResolutionNote = note
	return true
}

// Suppress moves a New or Acknowledged instance to Suppressed.
func (a *AlertInstance) Suppress(actor, note string, now time.Time) bool {
	if !a.IsActive() {
		return false
	}
	a.Status = AlertStatusSuppressed
	a.SuppressedBy = actor
	a.SuppressedAt = &now
	a.SuppressNote = note
	return true
}

// AlertSummary aggregates active instances.
type AlertSummary struct {
	Total    int64 `json:"total"`
	Critical int64 `json:"critical"`
	High     int64 `json:"high"`
	New      int64 `json:"new"`
}
