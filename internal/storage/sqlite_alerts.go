package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

const ruleColumns = `id, name, description, type, severity, condition_json, enabled,
	throttle_minutes, job_id, server_name, notify_json, last_triggered_ms,
	trigger_count, created_ms, updated_ms`

type sqliteRuleRepo struct {
	db *sql.DB
}

func (r *sqliteRuleRepo) Create(ctx context.Context, rule *models.AlertRule) error {
	conditionJSON, notifyJSON, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alert_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, nullString(rule.Description), rule.Type, rule.Severity,
		conditionJSON, boolToInt(rule.Enabled), rule.ThrottleMinutes,
		nullString(rule.JobID), nullString(rule.ServerName), notifyJSON,
		nullMillis(rule.LastTriggeredAt), rule.TriggerCount,
		toMillis(rule.CreatedAt), toMillis(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert alert rule: %w", err)
	}
	return nil
}

func (r *sqliteRuleRepo) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = ?`
	return r.scanRuleRow(r.db.QueryRowContext(ctx, query, id))
}

func (r *sqliteRuleRepo) GetByName(ctx context.Context, name string) (*models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE name = ?`
	return r.scanRuleRow(r.db.QueryRowContext(ctx, query, name))
}

func (r *sqliteRuleRepo) Update(ctx context.Context, rule *models.AlertRule) error {
	conditionJSON, notifyJSON, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE alert_rules SET name = ?, description = ?, type = ?, severity = ?,
			condition_json = ?, enabled = ?, throttle_minutes = ?, job_id = ?,
			server_name = ?, notify_json = ?, updated_ms = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.Name, nullString(rule.Description), rule.Type, rule.Severity,
		conditionJSON, boolToInt(rule.Enabled), rule.ThrottleMinutes,
		nullString(rule.JobID), nullString(rule.ServerName), notifyJSON,
		toMillis(rule.UpdatedAt), rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert rule %s: %w", rule.ID, ErrNotFound)
	}
	return nil
}

func (r *sqliteRuleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteRuleRepo) List(ctx context.Context) ([]*models.AlertRule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules ORDER BY name`)
}

func (r *sqliteRuleRepo) ListEnabled(ctx context.Context) ([]*models.AlertRule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE enabled = 1 ORDER BY name`)
}

func (r *sqliteRuleRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_rules SET enabled = ?, updated_ms = ? WHERE id = ?",
		boolToInt(enabled), toMillis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set alert rule enabled: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteRuleRepo) RecordTrigger(ctx context.Context, inst *models.AlertInstance) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	at := toMillis(inst.TriggeredAt)
	result, err := tx.ExecContext(ctx, `
		UPDATE alert_rules
		SET last_triggered_ms = ?, trigger_count = trigger_count + 1
		WHERE id = ? AND enabled = 1
			AND (last_triggered_ms IS NULL
				OR (last_triggered_ms < ? AND last_triggered_ms + MAX(throttle_minutes, 0) * 60000 <= ?))
	`, at, inst.RuleID, at, at)
	if err != nil {
		return false, fmt.Errorf("update rule bookkeeping: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if err := insertInstance(ctx, tx, inst); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit trigger: %w", err)
	}
	return true, nil
}

func (r *sqliteRuleRepo) queryRules(ctx context.Context, query string, args ...interface{}) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *sqliteRuleRepo) scanRuleRow(row *sql.Row) (*models.AlertRule, error) {
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rule, err
}

func scanRule(s scanner) (*models.AlertRule, error) {
	rule := &models.AlertRule{}
	var description, jobID, serverName sql.NullString
	var conditionJSON, notifyJSON string
	var lastTriggered sql.NullInt64
	var createdMs, updatedMs int64
	var enabled int

	err := s.Scan(
		&rule.ID, &rule.Name, &description, &rule.Type, &rule.Severity,
		&conditionJSON, &enabled, &rule.ThrottleMinutes, &jobID, &serverName,
		&notifyJSON, &lastTriggered, &rule.TriggerCount, &createdMs, &updatedMs,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert rule: %w", err)
	}

	rule.Description = description.String
	rule.JobID = jobID.String
	rule.ServerName = serverName.String
	rule.Enabled = enabled != 0
	rule.LastTriggeredAt = timePtr(lastTriggered)
	rule.CreatedAt = fromMillis(createdMs)
	rule.UpdatedAt = fromMillis(updatedMs)

	if err := json.Unmarshal([]byte(conditionJSON), &rule.Condition); err != nil {
		return nil, fmt.Errorf("unmarshal condition: %w", err)
	}
	if err := json.Unmarshal([]byte(notifyJSON), &rule.Notify); err != nil {
		return nil, fmt.Errorf("unmarshal notify: %w", err)
	}
	return rule, nil
}

func marshalRuleJSON(rule *models.AlertRule) (string, string, error) {
	condition := rule.Condition
	if condition == nil {
		condition = map[string]any{}
	}
	conditionJSON, err := json.Marshal(condition)
	if err != nil {
		return "", "", fmt.Errorf("marshal condition: %w", err)
	}
	notify := rule.Notify
	if notify == nil {
		notify = []models.NotificationTarget{}
	}
	notifyJSON, err := json.Marshal(notify)
	if err != nil {
		return "", "", fmt.Errorf("marshal notify: %w", err)
	}
	return string(conditionJSON), string(notifyJSON), nil
}
