package alerts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

const (
	maxMessageLength = 2000
	maxNotesLength   = 1000
	maxActorLength   = 100
	defaultActor     = "api"
)

// TriggerRequest is the body of POST /alerts/rules/{id}/trigger.
type TriggerRequest struct {
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
	JobID      string         `json:"job_id,omitempty"`
	ServerName string         `json:"server_name,omitempty"`
}

// Validate checks the trigger request.
func (r *TriggerRequest) Validate() error {
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		return errors.New("message is required")
	}
	if len(msg) > maxMessageLength {
		return fmt.Errorf("message must be %d characters or less", maxMessageLength)
	}
	return nil
}

// TransitionRequest is the body of the acknowledge, resolve and suppress
// endpoints. Both fields are optional.
type TransitionRequest struct {
	Actor string `json:"actor"`
	Notes string `json:"notes"`
}

// Validate checks field lengths.
func (r *TransitionRequest) Validate() error {
	if len(strings.TrimSpace(r.Actor)) > maxActorLength {
		return fmt.Errorf("actor must be %d characters or less", maxActorLength)
	}
	if len(r.Notes) > maxNotesLength {
		return fmt.Errorf("notes must be %d characters or less", maxNotesLength)
	}
	return nil
}

func (r *TransitionRequest) actor() string {
	if a := strings.TrimSpace(r.Actor); a != "" {
		return a
	}
	return defaultActor
}

// ValidateSeverity parses a severity filter. Matching is case-insensitive.
func ValidateSeverity(s string) (models.Severity, error) {
	for _, sev := range []models.Severity{models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical} {
		if strings.EqualFold(string(sev), strings.TrimSpace(s)) {
			return sev, nil
		}
	}
	return "", errors.New("severity must be Low, Medium, High or Critical")
}
