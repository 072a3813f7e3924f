//go:build integration

package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// openTestClickHouse connects to LOGNEXUS_CLICKHOUSE_ADDR (default
// localhost:9000) and skips when nothing answers.
func openTestClickHouse(t *testing.T) *ClickHouseStorage {
	t.Helper()

	addr := os.Getenv("LOGNEXUS_CLICKHOUSE_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}
	s := NewClickHouseStorage(ClickHouseConfig{
		Addresses:     []string{addr},
		Username:      "default",
		MaxOpenConns:  2,
		Compression:   true,
		RetentionDays: 1,
	})

	ctx := context.Background()
	if err := s.Open(ctx); err != nil {
		t.Skipf("clickhouse not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := s.conn.Exec(ctx, "TRUNCATE TABLE logs"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestClickHouseLogs_Integration(t *testing.T) {
	s := openTestClickHouse(t)
	repo := s.Logs()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	batch := []*models.LogEntry{
		{ID: "web-1:1", Timestamp: now, Level: models.LevelError, Message: "db timeout", ServerName: "web-1", JobID: "IMPORT-01"},
		{ID: "web-1:2", Timestamp: now, Level: models.LevelCritical, Message: "disk full", ServerName: "web-1"},
		{ID: "web-2:1", Timestamp: now, Level: models.LevelInformation, Message: "started", ServerName: "web-2",
			Properties: map[string]any{"pid": float64(42)}},
	}
	if err := repo.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	// A retried batch must not inflate counts.
	if err := repo.InsertBatch(ctx, batch[:1]); err != nil {
		t.Fatalf("InsertBatch retry: %v", err)
	}

	window := &LogFilter{StartTime: now.Add(-time.Minute), EndTime: now.Add(time.Minute)}
	stats, err := repo.Statistics(ctx, window)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Total != 3 || stats.ErrorCount != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	count, err := repo.Count(ctx, &LogFilter{StartTime: now.Add(-time.Minute), MinLevel: models.LevelError, ServerName: "WEB-1"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 errors on web-1, got %d", count)
	}

	res, err := repo.Query(ctx, &LogFilter{MessageContains: "STARTED"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Properties["pid"] != float64(42) {
		t.Fatalf("unexpected query result %+v", res.Entries)
	}
}
