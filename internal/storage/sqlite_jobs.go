package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

const jobColumns = `job_id, display_name, server_name, description, schedule, priority,
	is_active, timeout_minutes, last_execution_ms, last_execution_status, tags_json,
	created_ms, updated_ms`

type sqliteJobRepo struct {
	db *sql.DB
}

func (r *sqliteJobRepo) Register(ctx context.Context, job *models.Job) error {
	tags := job.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	priority := job.Priority
	if priority == "" {
		priority = models.JobPriorityNormal
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, display_name, server_name, description, schedule, priority,
			is_active, timeout_minutes, tags_json, created_ms, updated_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			display_name = excluded.display_name,
			server_name = excluded.server_name,
			description = excluded.description,
			schedule = excluded.schedule,
			priority = excluded.priority,
			is_active = excluded.is_active,
			timeout_minutes = excluded.timeout_minutes,
			tags_json = excluded.tags_json,
			updated_ms = excluded.updated_ms
	`,
		job.JobID, job.DisplayName, job.ServerName, nullString(job.Description),
		nullString(job.Schedule), priority, boolToInt(job.IsActive), job.TimeoutMinutes,
		string(tagsJSON), toMillis(job.CreatedAt), toMillis(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("register job: %w", err)
	}
	return nil
}

func (r *sqliteJobRepo) GetByID(ctx context.Context, jobID string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (r *sqliteJobRepo) List(ctx context.Context) ([]*models.Job, error) {
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY job_id`)
}

func (r *sqliteJobRepo) ListActive(ctx context.Context) ([]*models.Job, error) {
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE is_active = 1 ORDER BY job_id`)
}

func (r *sqliteJobRepo) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(s scanner) (*models.Job, error) {
	job := &models.Job{}
	var description, schedule, lastStatus sql.NullString
	var lastMs sql.NullInt64
	var active int
	var tagsJSON string
	var createdMs, updatedMs int64

	err := s.Scan(
		&job.JobID, &job.DisplayName, &job.ServerName, &description, &schedule,
		&job.Priority, &active, &job.TimeoutMinutes, &lastMs, &lastStatus, &tagsJSON,
		&createdMs, &updatedMs,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Description = description.String
	job.Schedule = schedule.String
	job.IsActive = active != 0
	job.LastExecutionAt = timePtr(lastMs)
	job.LastExecutionStatus = models.ExecutionStatus(lastStatus.String)
	job.CreatedAt = fromMillis(createdMs)
	job.UpdatedAt = fromMillis(updatedMs)

	if err := json.Unmarshal([]byte(tagsJSON), &job.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return job, nil
}

const executionColumns = `id, job_id, server_name, status, started_ms, completed_ms,
	duration_ms, trigger_type, triggered_by, error_message, output_message, parameters_json`

type sqliteExecutionRepo struct {
	db *sql.DB
}

func (r *sqliteExecutionRepo) Create(ctx context.Context, exec *models.Execution) error {
	var params sql.NullString
	if len(exec.Parameters) > 0 {
		data, err := json.Marshal(exec.Parameters)
		if err != nil {
			return fmt.Errorf("marshal parameters: %w", err)
		}
		params = sql.NullString{String: string(data), Valid: true}
	}
	triggerType := exec.TriggerType
	if triggerType == "" {
		triggerType = models.TriggerManual
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID, exec.JobID, exec.ServerName, exec.Status, toMillis(exec.StartedAt),
		nullMillis(exec.CompletedAt), exec.DurationMs, triggerType, nullString(exec.TriggeredBy),
		nullString(exec.ErrorMessage), nullString(exec.OutputMessage), params,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE jobs SET last_execution_ms = ?, last_execution_status = ? WHERE job_id = ?",
		toMillis(exec.StartedAt), exec.Status, exec.JobID,
	)
	if err != nil {
		return fmt.Errorf("update job last execution: %w", err)
	}
	return tx.Commit()
}

func (r *sqliteExecutionRepo) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

func (r *sqliteExecutionRepo) Complete(ctx context.Context, exec *models.Execution) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE executions SET status = ?, completed_ms = ?, duration_ms = ?,
			error_message = ?, output_message = ?
		WHERE id = ? AND status IN (?, ?)
	`,
		exec.Status, nullMillis(exec.CompletedAt), exec.DurationMs,
		nullString(exec.ErrorMessage), nullString(exec.OutputMessage),
		exec.ID, models.ExecutionPending, models.ExecutionRunning,
	)
	if err != nil {
		return false, fmt.Errorf("complete execution: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE jobs SET last_execution_status = ? WHERE job_id = ?",
		exec.Status, exec.JobID,
	)
	if err != nil {
		return false, fmt.Errorf("update job last execution: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit execution: %w", err)
	}
	return true, nil
}

func (r *sqliteExecutionRepo) ListRunning(ctx context.Context) ([]*models.Execution, error) {
	return r.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE status = ? ORDER BY started_ms`,
		models.ExecutionRunning)
}

func (r *sqliteExecutionRepo) ListRecentFailures(ctx context.Context, since time.Time, limit int, jobID string) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE status IN (?, ?) AND completed_ms >= ?`
	args := []interface{}{models.ExecutionFailed, models.ExecutionTimedOut, toMillis(since)}
	if jobID != "" {
		query += ` AND job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY completed_ms DESC LIMIT ?`
	return r.queryExecutions(ctx, query, append(args, limit)...)
}

func (r *sqliteExecutionRepo) ListRecentCompleted(ctx context.Context, jobID string, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.queryExecutions(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE job_id = ? AND completed_ms IS NOT NULL
		ORDER BY completed_ms DESC LIMIT ?
	`, jobID, limit)
}

func (r *sqliteExecutionRepo) JobStats(ctx context.Context, since time.Time) ([]models.JobStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, COUNT(*),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END)
		FROM executions
		WHERE completed_ms >= ? AND status IN (?, ?, ?)
		GROUP BY job_id
		ORDER BY job_id
	`,
		models.ExecutionSuccess, models.ExecutionFailed, models.ExecutionTimedOut,
		toMillis(since), models.ExecutionSuccess, models.ExecutionFailed, models.ExecutionTimedOut,
	)
	if err != nil {
		return nil, fmt.Errorf("query job stats: %w", err)
	}
	defer rows.Close()

	var stats []models.JobStats
	for rows.Next() {
		var s models.JobStats
		if err := rows.Scan(&s.JobID, &s.Total, &s.Succeeded, &s.Failed); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *sqliteExecutionRepo) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM executions WHERE completed_ms IS NOT NULL AND completed_ms < ?",
		toMillis(before),
	)
	if err != nil {
		return 0, fmt.Errorf("delete executions: %w", err)
	}
	return result.RowsAffected()
}

func (r *sqliteExecutionRepo) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(s scanner) (*models.Execution, error) {
	exec := &models.Execution{}
	var startedMs int64
	var completedMs, durationMs sql.NullInt64
	var triggeredBy, errMsg, output, params sql.NullString

	err := s.Scan(
		&exec.ID, &exec.JobID, &exec.ServerName, &exec.Status, &startedMs, &completedMs,
		&durationMs, &exec.TriggerType, &triggeredBy, &errMsg, &output, &params,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	exec.StartedAt = fromMillis(startedMs)
	exec.CompletedAt = timePtr(completedMs)
	exec.DurationMs = durationMs.Int64
	exec.TriggeredBy = triggeredBy.String
	exec.ErrorMessage = errMsg.String
	exec.OutputMessage = output.String
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &exec.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	return exec, nil
}
