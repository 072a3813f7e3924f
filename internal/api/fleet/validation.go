package fleet

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

const (
	maxNameLength    = 100
	maxTextLength    = 4000
	maxTimeoutMinute = 7 * 24 * 60
)

// ValidateName checks server names and job ids.
func ValidateName(field, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%s must be %d characters or less", field, maxNameLength)
	}
	return nil
}

// HeartbeatRequest is sent periodically by agents.
type HeartbeatRequest struct {
	models.Heartbeat
}

func (r *HeartbeatRequest) Validate() error {
	return ValidateName("server_name", r.ServerName)
}

// RegisterJobRequest declares or updates a job definition.
type RegisterJobRequest struct {
	JobID          string   `json:"job_id"`
	DisplayName    string   `json:"display_name"`
	ServerName     string   `json:"server_name"`
	Description    string   `json:"description"`
	Schedule       string   `json:"schedule"`
	Priority       string   `json:"priority"`
	IsActive       *bool    `json:"is_active"`
	TimeoutMinutes int      `json:"timeout_minutes"`
	Tags           []string `json:"tags"`
}

func (r *RegisterJobRequest) Validate() error {
	if err := ValidateName("job_id", r.JobID); err != nil {
		return err
	}
	if err := ValidateName("server_name", r.ServerName); err != nil {
		return err
	}
	if len(r.DisplayName) > maxNameLength*2 {
		return fmt.Errorf("display_name must be %d characters or less", maxNameLength*2)
	}
	if len(r.Description) > maxTextLength {
		return fmt.Errorf("description must be %d characters or less", maxTextLength)
	}
	if _, err := ValidatePriority(r.Priority); err != nil {
		return err
	}
	if r.TimeoutMinutes < 0 || r.TimeoutMinutes > maxTimeoutMinute {
		return fmt.Errorf("timeout_minutes must be between 0 and %d", maxTimeoutMinute)
	}
	return nil
}

// toModel converts a validated request.
func (r *RegisterJobRequest) toModel(now time.Time) *models.Job {
	priority, _ := ValidatePriority(r.Priority)
	job := &models.Job{
		JobID:          strings.TrimSpace(r.JobID),
		DisplayName:    strings.TrimSpace(r.DisplayName),
		ServerName:     strings.TrimSpace(r.ServerName),
		Description:    r.Description,
		Schedule:       r.Schedule,
		Priority:       priority,
		IsActive:       r.IsActive == nil || *r.IsActive,
		TimeoutMinutes: r.TimeoutMinutes,
		Tags:           r.Tags,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if job.DisplayName == "" {
		job.DisplayName = job.JobID
	}
	return job
}

// ValidatePriority parses a job priority; empty means Normal.
func ValidatePriority(s string) (models.JobPriority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return models.JobPriorityNormal, nil
	case "low":
		return models.JobPriorityLow, nil
	case "normal":
		return models.JobPriorityNormal, nil
	case "high":
		return models.JobPriorityHigh, nil
	case "critical":
		return models.JobPriorityCritical, nil
	default:
		return "", errors.New("priority must be one of: Low, Normal, High, Critical")
	}
}

// ValidateTriggerType parses an execution trigger type; empty means Manual.
func ValidateTriggerType(s string) (models.TriggerType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "manual":
		return models.TriggerManual, nil
	case "scheduled":
		return models.TriggerScheduled, nil
	case "triggered":
		return models.TriggerTriggered, nil
	case "retry":
		return models.TriggerRetry, nil
	default:
		return "", errors.New("trigger_type must be one of: Manual, Scheduled, Triggered, Retry")
	}
}

// StartExecutionRequest records the start of a job run.
type StartExecutionRequest struct {
	ID          string         `json:"id"`
	JobID       string         `json:"job_id"`
	ServerName  string         `json:"server_name"`
	StartedAt   *time.Time     `json:"started_at"`
	TriggerType string         `json:"trigger_type"`
	TriggeredBy string         `json:"triggered_by"`
	Parameters  map[string]any `json:"parameters"`
}

func (r *StartExecutionRequest) Validate() error {
	if err := ValidateName("job_id", r.JobID); err != nil {
		return err
	}
	if len(r.ID) > maxNameLength {
		return fmt.Errorf("id must be %d characters or less", maxNameLength)
	}
	if len(r.TriggeredBy) > maxNameLength {
		return fmt.Errorf("triggered_by must be %d characters or less", maxNameLength)
	}
	_, err := ValidateTriggerType(r.TriggerType)
	return err
}

// CompleteExecutionRequest finishes a job run.
type CompleteExecutionRequest struct {
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message"`
	OutputMessage string `json:"output_message"`
}

// Validate returns the parsed final status.
func (r *CompleteExecutionRequest) Validate() (models.ExecutionStatus, error) {
	status, ok := models.ParseExecutionStatus(r.Status)
	if !ok || !status.IsCompleted() {
		return "", errors.New("status must be one of: Success, Failed, Cancelled, TimedOut")
	}
	if len(r.ErrorMessage) > maxTextLength || len(r.OutputMessage) > maxTextLength {
		return "", fmt.Errorf("messages must be %d characters or less", maxTextLength)
	}
	return status, nil
}

// CancelExecutionRequest cancels a running job.
type CancelExecutionRequest struct {
	Reason string `json:"reason"`
}
