package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

const logColumns = `id, timestamp_ms, level, message, server_name, job_id, execution_id,
	category, correlation_id, exception, properties_json`

// sqliteLogRepo implements LogRepository for deployments without ClickHouse.
type sqliteLogRepo struct {
	db *sql.DB
}

func (r *sqliteLogRepo) InsertBatch(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Agents retry with the same ids; a replayed entry is skipped.
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO logs (`+logColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		var props sql.NullString
		if len(entry.Properties) > 0 {
			data, err := json.Marshal(entry.Properties)
			if err != nil {
				return fmt.Errorf("marshal properties: %w", err)
			}
			props = sql.NullString{String: string(data), Valid: true}
		}

		_, err := stmt.ExecContext(ctx,
			entry.ID, toMillis(entry.Timestamp), entry.Level, entry.Message,
			nullString(entry.ServerName), nullString(entry.JobID), nullString(entry.ExecutionID),
			nullString(entry.Category), nullString(entry.CorrelationID), nullString(entry.Exception),
			props,
		)
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *sqliteLogRepo) Query(ctx context.Context, filter *LogFilter) (*LogQueryResult, error) {
	where, args := sqliteLogWhere(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + logColumns + ` FROM logs` + where + ` ORDER BY timestamp_ms DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		entry := &models.LogEntry{}
		var ts int64
		var server, job, execID, category, corr, exception, props sql.NullString
		if err := rows.Scan(&entry.ID, &ts, &entry.Level, &entry.Message, &server, &job,
			&execID, &category, &corr, &exception, &props); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entry.Timestamp = fromMillis(ts)
		entry.ServerName = server.String
		entry.JobID = job.String
		entry.ExecutionID = execID.String
		entry.Category = category.String
		entry.CorrelationID = corr.String
		entry.Exception = exception.String
		if props.Valid {
			json.Unmarshal([]byte(props.String), &entry.Properties)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
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

func (r *sqliteLogRepo) Count(ctx context.Context, filter *LogFilter) (int64, error) {
	where, args := sqliteLogWhere(filter)
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func (r *sqliteLogRepo) Statistics(ctx context.Context, filter *LogFilter) (*models.LogStatistics, error) {
	where, args := sqliteLogWhere(filter)
	rows, err := r.db.QueryContext(ctx, "SELECT level, COUNT(*) FROM logs"+where+" GROUP BY level", args...)
	if err != nil {
		return nil, fmt.Errorf("log statistics: %w", err)
	}
	defer rows.Close()

	stats := newLogStatistics(filter)
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		addLevelCount(stats, level, n)
	}
	return stats, rows.Err()
}

func (r *sqliteLogRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM logs WHERE timestamp_ms < ?", toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("delete logs: %w", err)
	}
	return result.RowsAffected()
}

func sqliteLogWhere(filter *LogFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "timestamp_ms >= ?")
		args = append(args, toMillis(filter.StartTime))
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "timestamp_ms < ?")
		args = append(args, toMillis(filter.EndTime))
	}
	if levels := filter.levels(); len(levels) > 0 {
		conditions = append(conditions, "level IN ("+placeholders(len(levels))+")")
		for _, l := range levels {
			args = append(args, l)
		}
	}
	if filter.ServerName != "" {
		conditions = append(conditions, "server_name = ? COLLATE NOCASE")
		args = append(args, filter.ServerName)
	}
	if filter.JobID != "" {
		conditions = append(conditions, "job_id = ? COLLATE NOCASE")
		args = append(args, filter.JobID)
	}
	if filter.ExecutionID != "" {
		conditions = append(conditions, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.MessageContains != "" {
		conditions = append(conditions, "message LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(filter.MessageContains)+"%")
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
