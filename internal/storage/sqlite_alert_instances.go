package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

const instanceColumns = `id, rule_id, rule_name, rule_type, triggered_ms, message, severity,
	status, job_id, server_name, context_json,
	acknowledged_by, acknowledged_ms, acknowledge_note,
	resolved_by, resolved_ms, resolution_note,
	suppressed_by, suppressed_ms, suppress_note, deliveries_json`

type sqliteInstanceRepo struct {
	db *sql.DB
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertInstance(ctx context.Context, db execer, inst *models.AlertInstance) error {
	contextJSON, err := marshalOrEmpty(inst.Context, "{}")
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	deliveriesJSON, err := marshalOrEmpty(inst.Deliveries, "[]")
	if err != nil {
		return fmt.Errorf("marshal deliveries: %w", err)
	}

	query := `
		INSERT INTO alert_instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		inst.ID, inst.RuleID, inst.RuleName, inst.RuleType, toMillis(inst.TriggeredAt),
		inst.Message, inst.Severity, inst.Status,
		nullString(inst.JobID), nullString(inst.ServerName), contextJSON,
		nullString(inst.AcknowledgedBy), nullMillis(inst.AcknowledgedAt), nullString(inst.AcknowledgeNote),
		nullString(inst.ResolvedBy), nullMillis(inst.ResolvedAt), nullString(inst.ResolutionNote),
		nullString(inst.SuppressedBy), nullMillis(inst.SuppressedAt), nullString(inst.SuppressNote),
		deliveriesJSON,
	)
	if err != nil {
		return fmt.Errorf("insert alert instance: %w", err)
	}
	return nil
}

func (r *sqliteInstanceRepo) GetByID(ctx context.Context, id string) (*models.AlertInstance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM alert_instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

func (r *sqliteInstanceRepo) List(ctx context.Context, filter *InstanceFilter) ([]*models.AlertInstance, int64, error) {
	if filter == nil {
		filter = &InstanceFilter{}
	}

	var conditions []string
	var args []interface{}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if filter.RuleID != "" {
		conditions = append(conditions, "rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.JobID != "" {
		conditions = append(conditions, "job_id = ? COLLATE NOCASE")
		args = append(args, filter.JobID)
	}
	if filter.ServerName != "" {
		conditions = append(conditions, "server_name = ? COLLATE NOCASE")
		args = append(args, filter.ServerName)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_instances"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alert instances: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + instanceColumns + ` FROM alert_instances` + where +
		` ORDER BY triggered_ms DESC LIMIT ? OFFSET ?`
	instances, err := r.queryInstances(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return instances, total, nil
}

func (r *sqliteInstanceRepo) ListActive(ctx context.Context) ([]*models.AlertInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM alert_instances
		WHERE status IN (?, ?) ORDER BY triggered_ms DESC`
	return r.queryInstances(ctx, query, models.AlertStatusNew, models.AlertStatusAcknowledged)
}

func (r *sqliteInstanceRepo) UpdateStatus(ctx context.Context, inst *models.AlertInstance, from models.AlertStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alert_instances SET status = ?,
			acknowledged_by = ?, acknowledged_ms = ?, acknowledge_note = ?,
			resolved_by = ?, resolved_ms = ?, resolution_note = ?,
			suppressed_by = ?, suppressed_ms = ?, suppress_note = ?
		WHERE id = ? AND status = ?
	`,
		inst.Status,
		nullString(inst.AcknowledgedBy), nullMillis(inst.AcknowledgedAt), nullString(inst.AcknowledgeNote),
		nullString(inst.ResolvedBy), nullMillis(inst.ResolvedAt), nullString(inst.ResolutionNote),
		nullString(inst.SuppressedBy), nullMillis(inst.SuppressedAt), nullString(inst.SuppressNote),
		inst.ID, from,
	)
	if err != nil {
		return false, fmt.Errorf("update alert instance status: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *sqliteInstanceRepo) AddDeliveries(ctx context.Context, id string, deliveries []models.NotificationDelivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT deliveries_json FROM alert_instances WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("alert instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load deliveries: %w", err)
	}

	var existing []models.NotificationDelivery
	if err := json.Unmarshal([]byte(current), &existing); err != nil {
		return fmt.Errorf("unmarshal deliveries: %w", err)
	}
	data, err := json.Marshal(append(existing, deliveries...))
	if err != nil {
		return fmt.Errorf("marshal deliveries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE alert_instances SET deliveries_json = ? WHERE id = ?", string(data), id); err != nil {
		return fmt.Errorf("update deliveries: %w", err)
	}
	return tx.Commit()
}

func (r *sqliteInstanceRepo) Summary(ctx context.Context) (*models.AlertSummary, error) {
	summary := &models.AlertSummary{}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN severity = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN severity = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM alert_instances WHERE status IN (?, ?)
	`,
		models.SeverityCritical, models.SeverityHigh, models.AlertStatusNew,
		models.AlertStatusNew, models.AlertStatusAcknowledged,
	).Scan(&summary.Total, &summary.Critical, &summary.High, &summary.New)
	if err != nil {
		return nil, fmt.Errorf("alert summary: %w", err)
	}
	return summary, nil
}

func (r *sqliteInstanceRepo) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM alert_instances WHERE status IN (?, ?) AND triggered_ms < ?",
		models.AlertStatusResolved, models.AlertStatusSuppressed, toMillis(before),
	)
	if err != nil {
		return 0, fmt.Errorf("delete alert instances: %w", err)
	}
	return result.RowsAffected()
}

func (r *sqliteInstanceRepo) queryInstances(ctx context.Context, query string, args ...interface{}) ([]*models.AlertInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alert instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.AlertInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func scanInstance(s scanner) (*models.AlertInstance, error) {
	inst := &models.AlertInstance{}
	var triggeredMs int64
	var jobID, serverName sql.NullString
	var ackBy, ackNote, resBy, resNote, supBy, supNote sql.NullString
	var ackMs, resMs, supMs sql.NullInt64
	var contextJSON, deliveriesJSON string

	err := s.Scan(
		&inst.ID, &inst.RuleID, &inst.RuleName, &inst.RuleType, &triggeredMs,
		&inst.Message, &inst.Severity, &inst.Status, &jobID, &serverName, &contextJSON,
		&ackBy, &ackMs, &ackNote,
		&resBy, &resMs, &resNote,
		&supBy, &supMs, &supNote, &deliveriesJSON,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert instance: %w", err)
	}

	inst.TriggeredAt = fromMillis(triggeredMs)
	inst.JobID = jobID.String
	inst.ServerName = serverName.String
	inst.AcknowledgedBy = ackBy.String
	inst.AcknowledgedAt = timePtr(ackMs)
	inst.AcknowledgeNote = ackNote.String
	inst.ResolvedBy = resBy.String
	inst.ResolvedAt = timePtr(resMs)
	inst.ResolutionNote = resNote.String
	inst.SuppressedBy = supBy.String
	inst.SuppressedAt = timePtr(supMs)
	inst.SuppressNote = supNote.String

	if err := json.Unmarshal([]byte(contextJSON), &inst.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := json.Unmarshal([]byte(deliveriesJSON), &inst.Deliveries); err != nil {
		return nil, fmt.Errorf("unmarshal deliveries: %w", err)
	}
	return inst, nil
}

func marshalOrEmpty(v interface{}, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}
