package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Pure Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

// pragmas are applied by the driver to every connection it opens.
var pragmas = []string{"foreign_keys(1)", "journal_mode(WAL)", "busy_timeout(5000)"}

// SQLiteStorage keeps metadata and, unless ClickHouse is enabled, logs.
// It holds a single connection: SQLite has one writer, and sharing the
// connection serialises writers without SQLITE_BUSY retries.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	rules      *sqliteRuleRepo
	instances  *sqliteInstanceRepo
	servers    *sqliteServerRepo
	jobs       *sqliteJobRepo
	executions *sqliteExecutionRepo
	logs       *sqliteLogRepo
}

// NewSQLiteStorage does not touch the file until Open.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

func (s *SQLiteStorage) dsn() string {
	q := make(url.Values)
	q["_pragma"] = pragmas
	return "file:" + s.path + "?" + q.Encode()
}

// Open creates the parent directory if needed and connects.
func (s *SQLiteStorage) Open() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("connect %s: %w", s.path, err)
	}

	s.db = db
	s.rules = &sqliteRuleRepo{db: db}
	s.instances = &sqliteInstanceRepo{db: db}
	s.servers = &sqliteServerRepo{db: db}
	s.jobs = &sqliteJobRepo{db: db}
	s.executions = &sqliteExecutionRepo{db: db}
	s.logs = &sqliteLogRepo{db: db}
	return nil
}

// Close is safe on a store that never opened.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB is exposed for the readiness checker.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate brings the schema to the latest version.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(context.Background(), s.db)
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Vacuum reclaims the pages freed by retention.
func (s *SQLiteStorage) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Rules() RuleRepository { return s.rules }
func (s *SQLiteStorage) Instances() InstanceRepository { return s.instances }
func (s *SQLiteStorage) Servers() ServerRepository { return s.servers }
func (s *SQLiteStorage) Jobs() JobRepository { return s.jobs }
func (s *SQLiteStorage) Executions() ExecutionRepository { return s.executions }
func (s *SQLiteStorage) Logs() LogRepository { return s.logs }

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Times are stored as UTC unix milliseconds.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ?" for n = 3.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
