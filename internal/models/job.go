package models

import (
	"time"
)

// JobPriority ranks jobs for operators.
type JobPriority string

const (
	JobPriorityLow      JobPriority = "Low"
	JobPriorityNormal   JobPriority = "Normal"
	JobPriorityHigh     JobPriority = "High"
	JobPriorityCritical JobPriority = "Critical"
)

// Job is a registered recurring unit of work on a server.
type Job struct {
	JobID               string          `json:"job_id"`
	DisplayName         string          `json:"display_name"`
	ServerName          string          `json:"server_name"`
	Description         string          `json:"description,omitempty"`
	Schedule            string          `json:"schedule,omitempty"`
	Priority            JobPriority     `json:"priority"`
	IsActive            bool            `json:"is_active"`
	TimeoutMinutes      int             `json:"timeout_minutes,omitempty"`
	LastExecutionAt     *time.Time      `json:"last_execution_at,omitempty"`
	LastExecutionStatus ExecutionStatus `json:"last_execution_status,omitempty"`
	Tags                []string        `json:"tags,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// ExecutionStatus is the state of one job run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "Pending"
	ExecutionRunning   ExecutionStatus = "Running"
	ExecutionSuccess   ExecutionStatus = "Success"
	ExecutionFailed    ExecutionStatus = "Failed"
	ExecutionCancelled ExecutionStatus = "Cancelled"
	ExecutionTimedOut  ExecutionStatus = "TimedOut"
)

// IsCompleted reports whether the execution reached a final state.
func (s ExecutionStatus) IsCompleted() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailed, ExecutionCancelled, ExecutionTimedOut:
		return true
	}
	return false
}

// IsFailure reports whether the final state counts as a failure.
func (s ExecutionStatus) IsFailure() bool {
	return s == ExecutionFailed || s == ExecutionTimedOut
}

// ParseExecutionStatus converts a string to ExecutionStatus.
func ParseExecutionStatus(s string) (ExecutionStatus, bool) {
	for _, st := range []ExecutionStatus{ExecutionPending, ExecutionRunning, ExecutionSuccess, ExecutionFailed, ExecutionCancelled, ExecutionTimedOut} {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// TriggerType records what started an execution.
type TriggerType string

const (
	TriggerManual    TriggerType = "Manual"
	TriggerScheduled TriggerType = "Scheduled"
	TriggerTriggered TriggerType = "Triggered"
	TriggerRetry     TriggerType = "Retry"
)

// Execution is one run of a job.
type Execution struct {
	ID            string          `json:"id"`
	JobID         string          `json:"job_id"`
	ServerName    string          `json:"server_name"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	DurationMs    int64           `json:"duration_ms,omitempty"`
	TriggerType   TriggerType     `json:"trigger_type"`
	TriggeredBy   string          `json:"triggered_by,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	OutputMessage string          `json:"output_message,omitempty"`
	Parameters    map[string]any  `json:"parameters,omitempty"`
}

// Elapsed returns the run time so far, or the final duration once completed.
func (e *Execution) Elapsed(now time.Time) time.Duration {
	if e.CompletedAt != nil {
		return e.CompletedAt.Sub(e.StartedAt)
	}
	return now.Sub(e.StartedAt)
}

// Complete stamps the execution with a final status. It returns false when
// the execution already completed or status is not a final state.
func (e *Execution) Complete(status ExecutionStatus, errMsg, output string, now time.Time) bool {
	if e.Status.IsCompleted() || !status.IsCompleted() {
		return false
	}
	e.Status = status
	e.CompletedAt = &now
	e.DurationMs = now.Sub(e.StartedAt).Milliseconds()
	if errMsg != "" {
		e.ErrorMessage = errMsg
	}
	if output != "" {
		e.OutputMessage = output
	}
	return true
}

// JobStats counts completed executions of a job inside a window.
type JobStats struct {
	JobID     string `json:"job_id"`
	Total     int64  `json:"total"`
	Succeeded int64  `json:"succeeded"`
	Failed    int64  `json:"failed"`
}

// SuccessRate returns the success percentage (0-100). A job without
// completed executions scores 100.
func (s JobStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 100
	}
	return float64(s.Succeeded) * 100 / float64(s.Total)
}
