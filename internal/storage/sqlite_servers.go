package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

const serverColumns = `name, display_name, status, agent_version, last_heartbeat_ms,
	is_active, ip_address, os_info, created_ms, updated_ms`

type sqliteServerRepo struct {
	db *sql.DB
}

func (r *sqliteServerRepo) Heartbeat(ctx context.Context, hb *models.Heartbeat, at time.Time) (models.ServerStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	previous := models.ServerStatusUnknown
	var status string
	err = tx.QueryRowContext(ctx, "SELECT status FROM servers WHERE name = ?", hb.ServerName).Scan(&status)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO servers (`+serverColumns+`)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
		`,
			hb.ServerName, nullString(hb.DisplayName), models.ServerStatusOnline,
			nullString(hb.AgentVersion), toMillis(at), nullString(hb.IPAddress),
			nullString(hb.OSInfo), toMillis(at), toMillis(at),
		)
		if err != nil {
			return "", fmt.Errorf("insert server: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("load server: %w", err)
	default:
		previous = models.ServerStatus(status)
		next := models.ServerStatusOnline
		if previous == models.ServerStatusMaintenance {
			next = previous
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE servers SET status = ?, last_heartbeat_ms = ?,
				display_name = COALESCE(?, display_name),
				agent_version = COALESCE(?, agent_version),
				ip_address = COALESCE(?, ip_address),
				os_info = COALESCE(?, os_info),
				updated_ms = ?
			WHERE name = ?
		`,
			next, toMillis(at), nullString(hb.DisplayName), nullString(hb.AgentVersion),
			nullString(hb.IPAddress), nullString(hb.OSInfo), toMillis(at), hb.ServerName,
		)
		if err != nil {
			return "", fmt.Errorf("update server heartbeat: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit heartbeat: %w", err)
	}
	return previous, nil
}

func (r *sqliteServerRepo) GetByName(ctx context.Context, name string) (*models.Server, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE name = ?`, name)
	srv, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return srv, err
}

func (r *sqliteServerRepo) List(ctx context.Context) ([]*models.Server, error) {
	return r.queryServers(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY name`)
}

func (r *sqliteServerRepo) ListByStatus(ctx context.Context, status models.ServerStatus) ([]*models.Server, error) {
	return r.queryServers(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE status = ? AND is_active = 1 ORDER BY name`, status)
}

func (r *sqliteServerRepo) ListStale(ctx context.Context, before time.Time) ([]*models.Server, error) {
	return r.queryServers(ctx, `
		SELECT `+serverColumns+` FROM servers
		WHERE status = ? AND is_active = 1
			AND (last_heartbeat_ms IS NULL OR last_heartbeat_ms < ?)
		ORDER BY name
	`, models.ServerStatusOnline, toMillis(before))
}

func (r *sqliteServerRepo) SetStatus(ctx context.Context, name string, from, to models.ServerStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE servers SET status = ?, updated_ms = ? WHERE name = ? AND status = ?",
		to, toMillis(time.Now()), name, from,
	)
	if err != nil {
		return false, fmt.Errorf("set server status: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *sqliteServerRepo) SetMaintenance(ctx context.Context, name string, enabled bool) error {
	var result sql.Result
	var err error
	now := toMillis(time.Now())
	if enabled {
		result, err = r.db.ExecContext(ctx,
			"UPDATE servers SET status = ?, updated_ms = ? WHERE name = ?",
			models.ServerStatusMaintenance, now, name)
	} else {
		result, err = r.db.ExecContext(ctx,
			"UPDATE servers SET status = ?, updated_ms = ? WHERE name = ? AND status = ?",
			models.ServerStatusOnline, now, name, models.ServerStatusMaintenance)
	}
	if err != nil {
		return fmt.Errorf("set server maintenance: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		srv, err := r.GetByName(ctx, name)
		if err != nil {
			return err
		}
		if srv == nil {
			return fmt.Errorf("server %s: %w", name, ErrNotFound)
		}
	}
	return nil
}

func (r *sqliteServerRepo) StatusCounts(ctx context.Context) (map[models.ServerStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM servers WHERE is_active = 1 GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count servers: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ServerStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan server count: %w", err)
		}
		counts[models.ServerStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *sqliteServerRepo) queryServers(ctx context.Context, query string, args ...interface{}) ([]*models.Server, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	var servers []*models.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

func scanServer(s scanner) (*models.Server, error) {
	srv := &models.Server{}
	var displayName, agentVersion, ip, osInfo sql.NullString
	var heartbeat sql.NullInt64
	var active int
	var createdMs, updatedMs int64

	err := s.Scan(
		&srv.Name, &displayName, &srv.Status, &agentVersion, &heartbeat,
		&active, &ip, &osInfo, &createdMs, &updatedMs,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan server: %w", err)
	}

	srv.DisplayName = displayName.String
	srv.AgentVersion = agentVersion.String
	srv.LastHeartbeat = timePtr(heartbeat)
	srv.IsActive = active != 0
	srv.IPAddress = ip.String
	srv.OSInfo = osInfo.String
	srv.CreatedAt = fromMillis(createdMs)
	srv.UpdatedAt = fromMillis(updatedMs)
	return srv, nil
}
