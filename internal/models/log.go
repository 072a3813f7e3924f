// Package models contains the core data structures for LogNexus.
package models

import (
	"strings"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel string

const (
	LevelTrace       LogLevel = "Trace"
	LevelDebug       LogLevel = "Debug"
	LevelInformation LogLevel = "Information"
	LevelWarning     LogLevel = "Warning"
	LevelError       LogLevel = "Error"
	LevelCritical    LogLevel = "Critical"
)

// LogLevels lists levels from least to most severe.
var LogLevels = []LogLevel{LevelTrace, LevelDebug, LevelInformation, LevelWarning, LevelError, LevelCritical}

// Rank orders levels from Trace (0) to Critical (5). Unknown levels rank -1.
func (l LogLevel) Rank() int {
	for i, lv := range LogLevels {
		if lv == l {
			return i
		}
	}
	return -1
}

// AtLeast returns every level whose rank is >= l, most severe last.
func (l LogLevel) AtLeast() []LogLevel {
	r := l.Rank()
	if r < 0 {
		return nil
	}
	return append([]LogLevel(nil), LogLevels[r:]...)
}

// ParseLogLevel converts common level spellings to a LogLevel.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "verbose":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "information", "info", "notice":
		return LevelInformation, true
	case "warning", "warn":
		return LevelWarning, true
	case "error", "err":
		return LevelError, true
	case "critical", "crit", "fatal", "emergency", "alert":
		return LevelCritical, true
	default:
		return "", false
	}
}

// LogEntry is a single structured log record pushed by an agent.
type LogEntry struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Level         LogLevel       `json:"level"`
	Message       string         `json:"message"`
	ServerName    string         `json:"server_name"`
	JobID         string         `json:"job_id,omitempty"`
	ExecutionID   string         `json:"execution_id,omitempty"`
	Category      string         `json:"category,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Exception     string         `json:"exception,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
}

// IsError reports whether the entry is at Error level or above.
func (e *LogEntry) IsError() bool {
	return e.Level.Rank() >= LevelError.Rank()
}

// String returns a one-line representation of the entry.
func (e *LogEntry) String() string {
	return e.Timestamp.Format(time.RFC3339) + " [" + string(e.Level) + "] " + e.Message
}

// LogStatistics summarises log volume over a window.
type LogStatistics struct {
	Since      time.Time          `json:"since"`
	Until      time.Time          `json:"until"`
	Total      int64              `json:"total"`
	ByLevel    map[LogLevel]int64 `json:"by_level"`
	ErrorCount int64              `json:"error_count"`
}
