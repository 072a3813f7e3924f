package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// LogStats publishes per-level log counts over the last interval.
type LogStats struct {
	logs      storage.LogRepository
	publisher alerting.Publisher
	window    time.Duration
	now       func() time.Time
}

// NewLogStats creates the loop. window is normally the loop interval.
func NewLogStats(logs storage.LogRepository, publisher alerting.Publisher, window time.Duration) *LogStats {
	return &LogStats{logs: logs, publisher: publisher, window: window, now: time.Now}
}

// Run publishes one statistics event.
func (l *LogStats) Run(ctx context.Context) error {
	now := l.now().UTC()
	stats, err := l.logs.Statistics(ctx, &storage.LogFilter{
		StartTime: now.Add(-l.window),
		EndTime:   now,
	})
	if err != nil {
		return fmt.Errorf("log statistics: %w", err)
	}
	if l.publisher != nil {
		_ = l.publisher.Broadcast(ctx, notifier.NewDashboardEvent(notifier.EventLogStats, stats))
	}
	return nil
}
