package storage

import (
	"context"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// LogRepository persists ingested log entries. SQLite serves it by default;
// ClickHouse takes over for high-volume deployments.
type LogRepository interface {
	// InsertBatch stores entries, skipping ids that are already present
	// where the backend can detect them.
	InsertBatch(ctx context.Context, entries []*models.LogEntry) error
	Query(ctx context.Context, filter *LogFilter) (*LogQueryResult, error)
	Count(ctx context.Context, filter *LogFilter) (int64, error)
	// Statistics groups the filtered entries by level.
	Statistics(ctx context.Context, filter *LogFilter) (*models.LogStatistics, error)
	// DeleteBefore drops entries older than before and reports how many
	// matched.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// LogFilter selects log entries. Zero fields do not constrain.
type LogFilter struct {
	StartTime time.Time // inclusive
	EndTime   time.Time // exclusive

	// Levels wins over MinLevel when both are set.
	MinLevel models.LogLevel
	Levels   []models.LogLevel

	// ServerName and JobID match case-insensitively; ExecutionID exactly.
	ServerName  string
	JobID       string
	ExecutionID string

	MessageContains string

	Limit  int
	Offset int
}

func (f *LogFilter) levels() []models.LogLevel {
	switch {
	case len(f.Levels) > 0:
		return f.Levels
	case f.MinLevel != "":
		return f.MinLevel.AtLeast()
	}
	return nil
}

// LogQueryResult is one page of entries, newest first.
type LogQueryResult struct {
	Entries []*models.LogEntry
	Total   int64
	HasMore bool
}

func newLogStatistics(filter *LogFilter) *models.LogStatistics {
	return &models.LogStatistics{
		Since:   filter.StartTime,
		Until:   filter.EndTime,
		ByLevel: make(map[models.LogLevel]int64),
	}
}

// addLevelCount folds one "level, count" row into stats.
func addLevelCount(stats *models.LogStatistics, level string, n int64) {
	lv := models.LogLevel(level)
	stats.ByLevel[lv] += n
	stats.Total += n
	if lv.Rank() >= models.LevelError.Rank() {
		stats.ErrorCount += n
	}
}
