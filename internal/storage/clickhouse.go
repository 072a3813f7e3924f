package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/models"
)

// logIDNamespace maps agent-supplied ids that are not UUIDs onto stable
// UUIDs, so a retried batch produces the same row keys.
var logIDNamespace = uuid.MustParse("6f1c2f4e-6b8a-4b51-9a57-2f0d6c1e9b3a")

// ClickHouseConfig holds the native-protocol connection settings.
type ClickHouseConfig struct {
	Addresses    []string // host:port, native port 9000
	Database     string
	Username     string
	Password     string
	MaxOpenConns int
	MaxIdleConns int
	DialTimeout  time.Duration
	Compression  bool // LZ4
	// RetentionDays becomes the table TTL.
	RetentionDays int
}

func (c ClickHouseConfig) withDefaults() ClickHouseConfig {
	if c.Database == "" {
		c.Database = "default"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 5
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	return c
}

func (c ClickHouseConfig) options() *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: c.Addresses,
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:  c.DialTimeout,
		MaxOpenConns: c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,
	}
	if c.Compression {
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}
	return opts
}

// ClickHouseStorage keeps log entries in a ClickHouse table. Metadata stays
// in SQLite.
type ClickHouseStorage struct {
	config ClickHouseConfig
	conn   driver.Conn
}

// NewClickHouseStorage applies defaults; call Open before use.
func NewClickHouseStorage(config ClickHouseConfig) *ClickHouseStorage {
	return &ClickHouseStorage{config: config.withDefaults()}
}

// Open connects and verifies the server answers.
func (s *ClickHouseStorage) Open(ctx context.Context) error {
	conn, err := clickhouse.Open(s.config.options())
	if err != nil {
		return fmt.Errorf("connect clickhouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.config.DialTimeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.conn = conn
	return nil
}

// Close releases the connection pool.
func (s *ClickHouseStorage) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Ping implements the readiness probe.
func (s *ClickHouseStorage) Ping(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("clickhouse not open")
	}
	return s.conn.Ping(ctx)
}

// logsTableDDL uses ReplacingMergeTree keyed on id so rows re-sent by a
// retrying agent collapse on merge.
const logsTableDDL = `
CREATE TABLE IF NOT EXISTS logs (
	id             UUID,
	timestamp      DateTime64(3, 'UTC'),
	level          LowCardinality(String),
	message        String,
	server_name    LowCardinality(String),
	job_id         String,
	execution_id   String,
	category       LowCardinality(String),
	correlation_id String,
	exception      String,
	properties     String,
	day            Date DEFAULT toDate(timestamp)
)
ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(day)
ORDER BY (server_name, timestamp, id)
TTL day + INTERVAL %d DAY DELETE`

// logsSkipIndexes speed up message search and job drill-down. Older
// servers reject some index types; failures are logged, not fatal.
var logsSkipIndexes = []string{
	"ALTER TABLE logs ADD INDEX IF NOT EXISTS idx_message message TYPE tokenbf_v1(32768, 3, 0) GRANULARITY 4",
	"ALTER TABLE logs ADD INDEX IF NOT EXISTS idx_job_id job_id TYPE bloom_filter(0.01) GRANULARITY 4",
	"ALTER TABLE logs ADD INDEX IF NOT EXISTS idx_execution_id execution_id TYPE bloom_filter(0.01) GRANULARITY 4",
	"ALTER TABLE logs ADD INDEX IF NOT EXISTS idx_level level TYPE set(8) GRANULARITY 4",
}

// Migrate creates the logs table and its skip indexes.
func (s *ClickHouseStorage) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.conn.Exec(ctx, fmt.Sprintf(logsTableDDL, s.config.RetentionDays)); err != nil {
		return fmt.Errorf("create logs table: %w", err)
	}
	for _, stmt := range logsSkipIndexes {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			logger.Warnf("clickhouse: %v", err)
		}
	}
	return nil
}

// Logs returns the log repository backed by this connection.
func (s *ClickHouseStorage) Logs() LogRepository {
	return &clickhouseLogRepo{conn: s.conn}
}

type clickhouseLogRepo struct {
	conn driver.Conn
}

const chLogColumns = "id, timestamp, level, message, server_name, job_id, execution_id, category, correlation_id, exception, properties"

// rowID returns the UUID stored for an entry, assigning one when the entry
// has no id yet.
func rowID(e *models.LogEntry) uuid.UUID {
	if e.ID == "" {
		id := uuid.New()
		e.ID = id.String()
		return id
	}
	if id, err := uuid.Parse(e.ID); err == nil {
		return id
	}
	return uuid.NewSHA1(logIDNamespace, []byte(e.ID))
}

// InsertBatch sends entries as one native block.
func (r *clickhouseLogRepo) InsertBatch(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO logs ("+chLogColumns+")")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range entries {
		var props string
		if len(e.Properties) > 0 {
			raw, err := json.Marshal(e.Properties)
			if err != nil {
				batch.Abort()
				return fmt.Errorf("encode properties of %s: %w", e.ID, err)
			}
			props = string(raw)
		}
		if err := batch.Append(
			rowID(e), e.Timestamp.UTC(), string(e.Level), e.Message,
			e.ServerName, e.JobID, e.ExecutionID, e.Category,
			e.CorrelationID, e.Exception, props,
		); err != nil {
			batch.Abort()
			return fmt.Errorf("append row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch of %d: %w", len(entries), err)
	}
	return nil
}

// Query returns one page, newest first. FINAL hides not-yet-merged
// duplicates.
func (r *clickhouseLogRepo) Query(ctx context.Context, filter *LogFilter) (*LogQueryResult, error) {
	where, args := clickhouseLogWhere(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	sel := strings.Replace(chLogColumns, "id,", "toString(id),", 1)
	query := fmt.Sprintf("SELECT %s FROM logs FINAL%s ORDER BY timestamp DESC LIMIT %d OFFSET %d",
		sel, where, limit, filter.Offset)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		var (
			e     models.LogEntry
			level string
			props string
		)
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &level, &e.Message,
			&e.ServerName, &e.JobID, &e.ExecutionID, &e.Category,
			&e.CorrelationID, &e.Exception, &props,
		); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		e.Level = models.LogLevel(level)
		if props != "" {
			if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
				logger.Debugf("clickhouse: log %s has malformed properties: %v", e.ID, err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}

	total, err := r.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &LogQueryResult{
		Entries: entries,
		Total:   total,
		HasMore: int64(filter.Offset+len(entries)) < total,
	}, nil
}

// Count counts distinct ids so unmerged duplicates are not double counted.
func (r *clickhouseLogRepo) Count(ctx context.Context, filter *LogFilter) (int64, error) {
	where, args := clickhouseLogWhere(filter)
	var n uint64
	if err := r.conn.QueryRow(ctx, "SELECT uniqExact(id) FROM logs"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return int64(n), nil
}

// Statistics groups the filtered entries by level.
func (r *clickhouseLogRepo) Statistics(ctx context.Context, filter *LogFilter) (*models.LogStatistics, error) {
	where, args := clickhouseLogWhere(filter)
	rows, err := r.conn.Query(ctx, "SELECT level, uniqExact(id) FROM logs"+where+" GROUP BY level", args...)
	if err != nil {
		return nil, fmt.Errorf("log statistics: %w", err)
	}
	defer rows.Close()

	stats := newLogStatistics(filter)
	for rows.Next() {
		var (
			level string
			n     uint64
		)
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scan statistics row: %w", err)
		}
		addLevelCount(stats, level, int64(n))
	}
	return stats, rows.Err()
}

// DeleteBefore issues an asynchronous mutation. The table TTL normally
// does this already; the call serves retention shorter than the TTL.
func (r *clickhouseLogRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var n uint64
	if err := r.conn.QueryRow(ctx, "SELECT count() FROM logs WHERE timestamp < ?", before).Scan(&n); err != nil {
		return 0, fmt.Errorf("count expired logs: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := r.conn.Exec(ctx, "ALTER TABLE logs DELETE WHERE timestamp < ?", before); err != nil {
		return 0, fmt.Errorf("delete expired logs: %w", err)
	}
	return int64(n), nil
}

// clickhouseLogWhere renders filter as a WHERE clause with positional args.
func clickhouseLogWhere(filter *LogFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, vals ...any) {
		conds = append(conds, cond)
		args = append(args, vals...)
	}

	if !filter.StartTime.IsZero() {
		add("timestamp >= ?", filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		add("timestamp < ?", filter.EndTime)
	}
	if levels := filter.levels(); len(levels) > 0 {
		vals := make([]any, len(levels))
		for i, l := range levels {
			vals[i] = string(l)
		}
		add("level IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(levels)), ", ")+")", vals...)
	}
	if filter.ServerName != "" {
		add("lower(server_name) = lower(?)", filter.ServerName)
	}
	if filter.JobID != "" {
		add("lower(job_id) = lower(?)", filter.JobID)
	}
	if filter.ExecutionID != "" {
		add("execution_id = ?", filter.ExecutionID)
	}
	if filter.MessageContains != "" {
		add("positionCaseInsensitive(message, ?) > 0", filter.MessageContains)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
