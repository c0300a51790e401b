// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/petwell/internal/alerts"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound      = errors.New("alert not found in store")
	ErrDatabaseError = errors.New("database error")
)

// =============================================================================
// ALERT STORE
// =============================================================================

// AlertStore persists alerts in a SQLite database.
type AlertStore struct {
	db   *sql.DB
	path string
}

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Open opens or creates the database at path.
func Open(path string) (*AlertStore, error) {
	if path != MemoryPath {
		if strings.HasPrefix(path, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				path = filepath.Join(home, path[1:])
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, and an in-memory database
	// exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record schema version: %w", err)
	}

	return &AlertStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *AlertStore) Close() error {
	return s.db.Close()
}

// Path returns the database location.
func (s *AlertStore) Path() string {
	return s.path
}

// SaveAlert inserts or updates an alert. Saving an active alert resolves any
// other active row for the same (pet, rule) with reason "other", which can
// exist only if an earlier resolution failed to persist.
func (s *AlertStore) SaveAlert(ctx context.Context, a alerts.Alert) error {
	recs, err := json.Marshal(a.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to encode recommendations: %w", err)
	}
	data, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("failed to encode alert data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if a.Status == alerts.StatusActive {
		now := time.Now().UnixNano()
		if _, err := tx.ExecContext(ctx, `
			UPDATE alerts
			SET status = 'resolved', resolved_at = ?, updated_at = ?, resolution_reason = ?
			WHERE pet_id = ? AND rule_id = ? AND status = 'active' AND id != ?`,
			now, now, string(alerts.ReasonOther), a.PetID, a.RuleID, a.ID,
		); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alerts (
			id, pet_id, pet_name, rule_id, rule_name, category, severity, message,
			recommendations, data, created_at, updated_at, status,
			acknowledged, acknowledged_at, resolved_at, resolution_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pet_name = excluded.pet_name,
			message = excluded.message,
			recommendations = excluded.recommendations,
			data = excluded.data,
			updated_at = excluded.updated_at,
			status = excluded.status,
			acknowledged = excluded.acknowledged,
			acknowledged_at = excluded.acknowledged_at,
			resolved_at = excluded.resolved_at,
			resolution_reason = excluded.resolution_reason`,
		a.ID, a.PetID, a.PetName, a.RuleID, a.RuleName, string(a.Category), int(a.Severity), a.Message,
		string(recs), string(data), a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano(), string(a.Status),
		boolInt(a.Acknowledged), nullTime(a.AcknowledgedAt), nullTime(a.ResolvedAt), string(a.ResolutionReason),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return tx.Commit()
}

const selectColumns = `
	SELECT id, pet_id, pet_name, rule_id, rule_name, category, severity, message,
	       recommendations, data, created_at, updated_at, status,
	       acknowledged, acknowledged_at, resolved_at, resolution_reason
	FROM alerts`

// Get returns one alert by id.
func (s *AlertStore) Get(ctx context.Context, id string) (alerts.Alert, error) {
	list, err := s.query(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return alerts.Alert{}, err
	}
	if len(list) == 0 {
		return alerts.Alert{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return list[0], nil
}

// LoadActive returns every active alert, oldest first.
func (s *AlertStore) LoadActive(ctx context.Context) ([]alerts.Alert, error) {
	return s.query(ctx, selectColumns+` WHERE status = 'active' ORDER BY created_at ASC, id ASC`)
}

// LoadActiveForPet returns the active alerts of one pet, oldest first.
func (s *AlertStore) LoadActiveForPet(ctx context.Context, petID string) ([]alerts.Alert, error) {
	return s.query(ctx, selectColumns+` WHERE status = 'active' AND pet_id = ? ORDER BY created_at ASC, id ASC`, petID)
}

// History returns resolved alerts, most recently resolved first. A limit of
// zero or less returns all of them.
func (s *AlertStore) History(ctx context.Context, limit int) ([]alerts.Alert, error) {
	q := selectColumns + ` WHERE status = 'resolved' ORDER BY resolved_at DESC, id ASC`
	if limit > 0 {
		return s.query(ctx, q+` LIMIT ?`, limit)
	}
	return s.query(ctx, q)
}

// Prune deletes resolved alerts resolved before cutoff.
func (s *AlertStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM alerts WHERE status = 'resolved' AND resolved_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return res.RowsAffected()
}

func (s *AlertStore) query(ctx context.Context, q string, args ...any) ([]alerts.Alert, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		var (
			a                   alerts.Alert
			category, status    string
			reason              sql.NullString
			severity            int
			recs, data          sql.NullString
			created, updated    int64
			acked               int
			ackedAt, resolvedAt sql.NullInt64
		)
		if err := rows.Scan(
			&a.ID, &a.PetID, &a.PetName, &a.RuleID, &a.RuleName, &category, &severity, &a.Message,
			&recs, &data, &created, &updated, &status,
			&acked, &ackedAt, &resolvedAt, &reason,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}

		a.Category = alerts.Category(category)
		a.Severity = alerts.Severity(severity)
		a.Status = alerts.Status(status)
		a.ResolutionReason = alerts.ResolutionReason(reason.String)
		a.CreatedAt = fromNanos(created)
		a.UpdatedAt = fromNanos(updated)
		a.Acknowledged = acked != 0
		a.AcknowledgedAt = timePtr(ackedAt)
		a.ResolvedAt = timePtr(resolvedAt)

		if recs.Valid && recs.String != "" && recs.String != "null" {
			if err := json.Unmarshal([]byte(recs.String), &a.Recommendations); err != nil {
				return nil, fmt.Errorf("alert %s: bad recommendations: %w", a.ID, err)
			}
		}
		if data.Valid && data.String != "" && data.String != "null" {
			if err := json.Unmarshal([]byte(data.String), &a.Data); err != nil {
				return nil, fmt.Errorf("alert %s: bad data: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
