package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
)

// AuditRepository persists data-doctor reports.
type AuditRepository struct {
	db *database.DB
}

func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Save persists a report and returns its assigned ID.
func (r *AuditRepository) Save(ctx context.Context, report *domain.AuditReport) (int64, error) {
	checks, err := json.Marshal(report.Checks)
	if err != nil {
		return 0, fmt.Errorf("encode audit checks: %w", err)
	}
	res, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO audit_reports (run_at, checks, action_required, backfill_jobs)
		VALUES (?, ?, ?, ?)`,
		report.RunAt.Format(tsLayout), string(checks), boolInt(report.ActionRequired), report.BackfillJobs)
	if err != nil {
		return 0, fmt.Errorf("save audit report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	report.ID = id
	return id, nil
}

// Latest returns the most recent report, or nil when none exist.
func (r *AuditRepository) Latest(ctx context.Context) (*domain.AuditReport, error) {
	row := r.db.Conn().QueryRowContext(ctx, `
		SELECT id, run_at, checks, action_required, backfill_jobs
		FROM audit_reports ORDER BY id DESC LIMIT 1`)

	var report domain.AuditReport
	var runAt, checks string
	var action int
	err := row.Scan(&report.ID, &runAt, &checks, &action, &report.BackfillJobs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest audit report: %w", err)
	}
	if t, err := parseDate(runAt); err == nil {
		report.RunAt = t
	}
	if err := json.Unmarshal([]byte(checks), &report.Checks); err != nil {
		return nil, fmt.Errorf("decode audit checks: %w", err)
	}
	report.ActionRequired = action != 0
	return &report, nil
}
