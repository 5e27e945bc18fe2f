package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
)

// SyncErrorRepository is the failure ledger. At most one unresolved row
// exists per (task, target); repeat failures bump its retry count, a later
// success resolves it in place.
type SyncErrorRepository struct {
	db *database.DB
}

func NewSyncErrorRepository(db *database.DB) *SyncErrorRepository {
	return &SyncErrorRepository{db: db}
}

// Record logs a failure. A fresh failure opens a row; a repeat failure for
// the same (task, target) increments retry_count and refreshes the kind and
// message.
func (r *SyncErrorRepository) Record(ctx context.Context, taskName, targetCode, kind, message string) error {
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sync_errors
			SET retry_count = retry_count + 1, error_kind = ?, message = ?, last_retry_at = datetime('now')
			WHERE task_name = ? AND target_code = ? AND resolved_at IS NULL`,
			kind, message, taskName, targetCode)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_errors (task_name, target_code, error_kind, message)
			VALUES (?, ?, ?, ?)`, taskName, targetCode, kind, message)
		return err
	})
	if err != nil {
		return fmt.Errorf("record sync error for %s/%s: %w", taskName, targetCode, err)
	}
	return nil
}

// Resolve closes the open row for (task, target) if one exists.
func (r *SyncErrorRepository) Resolve(ctx context.Context, taskName, targetCode string) error {
	_, err := r.db.Conn().ExecContext(ctx, `
		UPDATE sync_errors SET resolved_at = datetime('now')
		WHERE task_name = ? AND target_code = ? AND resolved_at IS NULL`,
		taskName, targetCode)
	if err != nil {
		return fmt.Errorf("resolve sync error for %s/%s: %w", taskName, targetCode, err)
	}
	return nil
}

// Open returns the unresolved row for (task, target), or nil.
func (r *SyncErrorRepository) Open(ctx context.Context, taskName, targetCode string) (*domain.SyncError, error) {
	row := r.db.Conn().QueryRowContext(ctx, `
		SELECT id, task_name, target_code, error_kind, message, retry_count, last_retry_at, created_at, resolved_at
		FROM sync_errors WHERE task_name = ? AND target_code = ? AND resolved_at IS NULL`,
		taskName, targetCode)
	e, err := scanSyncError(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ListOpen returns unresolved rows, oldest first, up to limit.
func (r *SyncErrorRepository) ListOpen(ctx context.Context, limit int) ([]domain.SyncError, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, task_name, target_code, error_kind, message, retry_count, last_retry_at, created_at, resolved_at
		FROM sync_errors WHERE resolved_at IS NULL ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list open sync errors: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncError
	for rows.Next() {
		e, err := scanSyncError(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// RetryableTargets returns the unresolved, unquarantined target codes for a
// task. The doctor's backfill planner feeds on this.
func (r *SyncErrorRepository) RetryableTargets(ctx context.Context, taskName string) ([]string, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT target_code FROM sync_errors
		WHERE task_name = ? AND resolved_at IS NULL AND retry_count < ? AND target_code != ''
		ORDER BY created_at`, taskName, domain.QuarantineRetryLimit)
	if err != nil {
		return nil, fmt.Errorf("retryable targets for %s: %w", taskName, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

// CountOpen returns the number of unresolved rows.
func (r *SyncErrorRepository) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := r.db.Conn().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_errors WHERE resolved_at IS NULL").Scan(&n)
	return n, err
}

func scanSyncError(row rowScanner) (*domain.SyncError, error) {
	var e domain.SyncError
	var lastRetry, resolved sql.NullString
	var created string
	if err := row.Scan(&e.ID, &e.TaskName, &e.TargetCode, &e.ErrorKind, &e.Message,
		&e.RetryCount, &lastRetry, &created, &resolved); err != nil {
		return nil, err
	}
	if t, err := parseDate(created); err == nil {
		e.CreatedAt = t
	}
	if lastRetry.Valid {
		if t, err := parseDate(lastRetry.String); err == nil {
			e.LastRetryAt = &t
		}
	}
	if resolved.Valid {
		if t, err := parseDate(resolved.String); err == nil {
			e.ResolvedAt = &t
		}
	}
	return &e, nil
}
