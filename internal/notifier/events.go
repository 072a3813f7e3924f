// Package notifier fans alerting and monitoring events out to subscriber
// groups and delivers rule notifications to external channels.
package notifier

import (
	"strings"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// EventType identifies a pushed event.
type EventType string

const (
	EventAlertTriggered    EventType = "alert.triggered"
	EventAlertAcknowledged EventType = "alert.acknowledged"
	EventAlertResolved     EventType = "alert.resolved"
	EventAlertSuppressed   EventType = "alert.suppressed"
	EventSummaryUpdated    EventType = "alert.summary"
	EventExecutionTimeout  EventType = "execution.timeout"
	EventServerStatus      EventType = "server.status"
	EventDashboard         EventType = "dashboard.snapshot"
	EventLogStats          EventType = "logs.stats"
	EventJobHealth         EventType = "job.health"
)

// Group keys.
const (
	GroupAlerts         = "alerts"
	GroupAlertsCritical = "alerts:critical"
	GroupAlertsHigh     = "alerts:high"
	GroupDashboard      = "dashboard"

	groupTypePrefix   = "alerts:type:"
	groupJobPrefix    = "job:"
	groupServerPrefix = "server:"
)

// TypeGroup returns the group key for subscribers of one alert type.
func TypeGroup(t models.AlertType) string {
	return groupTypePrefix + strings.ToLower(string(t))
}

// JobGroup returns the group key for subscribers of one job.
func JobGroup(jobID string) string {
	return groupJobPrefix + strings.ToLower(jobID)
}

// ServerGroup returns the group key for subscribers of one server.
func ServerGroup(name string) string {
	return groupServerPrefix + strings.ToLower(name)
}

// Event is the payload pushed to subscriber groups.
type Event struct {
	Type       EventType        `json:"type"`
	Timestamp  time.Time        `json:"timestamp"`
	Severity   models.Severity  `json:"severity,omitempty"`
	AlertType  models.AlertType `json:"alert_type,omitempty"`
	JobID      string           `json:"job_id,omitempty"`
	ServerName string           `json:"server_name,omitempty"`
	Data       any              `json:"data,omitempty"`

	// groups overrides the derived routing when set.
	groups []string
}

// NewAlertEvent builds an event about an alert instance state change.
func NewAlertEvent(t EventType, inst *models.AlertInstance) *Event {
	return &Event{
		Type:       t,
		Timestamp:  time.Now().UTC(),
		Severity:   inst.Severity,
		AlertType:  inst.RuleType,
		JobID:      inst.JobID,
		ServerName: inst.ServerName,
		Data:       inst,
	}
}

// NewSummaryEvent builds the aggregate alert summary event.
func NewSummaryEvent(summary *models.AlertSummary) *Event {
	return &Event{
		Type:      EventSummaryUpdated,
		Timestamp: time.Now().UTC(),
		Data:      summary,
		groups:    []string{GroupAlerts, GroupDashboard},
	}
}

// NewDashboardEvent builds an event routed to the dashboard group only.
func NewDashboardEvent(t EventType, data any) *Event {
	return &Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
		groups:    []string{GroupDashboard},
	}
}

// NewScopedEvent builds an event for the dashboard plus the job and server
// groups it concerns.
func NewScopedEvent(t EventType, jobID, serverName string, data any) *Event {
	ev := &Event{
		Type:       t,
		Timestamp:  time.Now().UTC(),
		JobID:      jobID,
		ServerName: serverName,
		Data:       data,
	}
	ev.groups = append([]string{GroupDashboard}, ev.scopeGroups()...)
	return ev
}

// Groups returns the subscriber groups the event is delivered to. Alert
// events go to the global alerts group, the severity tier group for Critical
// and High, the alert type group and the job and server groups when scoped.
func (e *Event) Groups() []string {
	if len(e.groups) > 0 {
		return e.groups
	}

	groups := []string{GroupAlerts}
	switch e.Severity {
	case models.SeverityCritical:
		groups = append(groups, GroupAlertsCritical)
	case models.SeverityHigh:
		groups = append(groups, GroupAlertsHigh)
	}
	if e.AlertType != "" {
		groups = append(groups, TypeGroup(e.AlertType))
	}
	return append(groups, e.scopeGroups()...)
}

func (e *Event) scopeGroups() []string {
	var groups []string
	if e.JobID != "" {
		groups = append(groups, JobGroup(e.JobID))
	}
	if e.ServerName != "" {
		groups = append(groups, ServerGroup(e.ServerName))
	}
	return groups
}

// ParseGroups splits a comma separated list of group keys. An empty list
// subscribes to the global alerts group.
func ParseGroups(raw string) []string {
	var groups []string
	seen := make(map[string]bool)
	for _, g := range strings.Split(raw, ",") {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		groups = append(groups, g)
	}
	if len(groups) == 0 {
		groups = []string{GroupAlerts}
	}
	return groups
}
