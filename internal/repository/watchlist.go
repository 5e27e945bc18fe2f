package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/errkind"
)

// WatchlistRepository manages the user-tracked symbol set that scopes the
// intraday sync tier.
type WatchlistRepository struct {
	db *database.DB
}

func NewWatchlistRepository(db *database.DB) *WatchlistRepository {
	return &WatchlistRepository{db: db}
}

// Add tracks a symbol. Adding an already-tracked symbol updates its note.
func (r *WatchlistRepository) Add(ctx context.Context, code, note string) error {
	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO watchlist (code, note) VALUES (?, ?)
		ON CONFLICT(code) DO UPDATE SET note = excluded.note`, code, nullStr(note))
	if err != nil {
		return fmt.Errorf("add %s to watchlist: %w", code, err)
	}
	return nil
}

// Remove untracks a symbol. Removing an untracked symbol is an error so
// callers can report typos.
func (r *WatchlistRepository) Remove(ctx context.Context, code string) error {
	res, err := r.db.Conn().ExecContext(ctx, "DELETE FROM watchlist WHERE code = ?", code)
	if err != nil {
		return fmt.Errorf("remove %s from watchlist: %w", code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errkind.Newf(errkind.ValidationRejected, "%s is not on the watchlist", code)
	}
	return nil
}

// List returns all entries ordered by when they were added.
func (r *WatchlistRepository) List(ctx context.Context) ([]domain.WatchlistEntry, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		"SELECT code, COALESCE(note,''), added_at FROM watchlist ORDER BY added_at, code")
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()

	var out []domain.WatchlistEntry
	for rows.Next() {
		var e domain.WatchlistEntry
		var added string
		if err := rows.Scan(&e.Code, &e.Note, &added); err != nil {
			return nil, err
		}
		if e.AddedAt, err = parseDate(added); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Codes returns just the tracked symbol codes, ordered.
func (r *WatchlistRepository) Codes(ctx context.Context) ([]string, error) {
	rows, err := r.db.Conn().QueryContext(ctx, "SELECT code FROM watchlist ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("watchlist codes: %w", err)
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

// Contains reports whether a symbol is tracked.
func (r *WatchlistRepository) Contains(ctx context.Context, code string) (bool, error) {
	var one int
	err := r.db.Conn().QueryRowContext(ctx, "SELECT 1 FROM watchlist WHERE code = ?", code).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
