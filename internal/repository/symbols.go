package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
)

// SymbolRepository manages the security roster.
type SymbolRepository struct {
	db *database.DB
}

func NewSymbolRepository(db *database.DB) *SymbolRepository {
	return &SymbolRepository{db: db}
}

var symbolSpec = upsertSpec{
	table:    "symbols",
	columns:  []string{"code", "name", "market", "asset_type", "industry", "list_date", "is_active", "updated_at"},
	conflict: []string{"code"},
	update:   []string{"name", "market", "asset_type", "industry", "list_date", "is_active", "updated_at"},
}

// Upsert writes the roster idempotently.
func (r *SymbolRepository) Upsert(ctx context.Context, symbols []domain.Symbol) (int, error) {
	rows := make([][]any, 0, len(symbols))
	for _, s := range symbols {
		var industry any
		if s.Industry != "" {
			industry = s.Industry
		}
		rows = append(rows, []any{
			s.Code, s.Name, string(s.Market), string(s.AssetType),
			industry, optDateStr(s.ListDate), boolInt(s.IsActive), s.UpdatedAt.Format(tsLayout),
		})
	}
	return upsertChunked(ctx, r.db, symbolSpec, rows)
}

// DeactivateMissing soft-deactivates symbols of the given asset type that
// are absent from the latest roster. Nothing is deleted; history for
// delisted symbols stays queryable.
func (r *SymbolRepository) DeactivateMissing(ctx context.Context, assetType domain.AssetType, present []string) (int64, error) {
	if len(present) == 0 {
		// An empty roster means the fetch failed upstream, not a delisting
		// of the whole market. Refuse rather than deactivate everything.
		return 0, fmt.Errorf("refusing to deactivate all %s symbols: empty roster", assetType)
	}

	placeholders := strings.Repeat("?,", len(present)-1) + "?"
	args := make([]any, 0, len(present)+1)
	args = append(args, string(assetType))
	for _, code := range present {
		args = append(args, code)
	}

	res, err := r.db.Conn().ExecContext(ctx,
		"UPDATE symbols SET is_active = 0, updated_at = datetime('now') WHERE asset_type = ? AND is_active = 1 AND code NOT IN ("+placeholders+")",
		args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate missing symbols: %w", err)
	}
	return res.RowsAffected()
}

// Get returns one symbol by code.
func (r *SymbolRepository) Get(ctx context.Context, code string) (*domain.Symbol, error) {
	row := r.db.Conn().QueryRowContext(ctx,
		"SELECT code, name, market, asset_type, COALESCE(industry,''), list_date, is_active, updated_at FROM symbols WHERE code = ?", code)
	return scanSymbol(row)
}

// ListActive returns active symbols of the given type, ordered by code.
func (r *SymbolRepository) ListActive(ctx context.Context, assetType domain.AssetType) ([]domain.Symbol, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		"SELECT code, name, market, asset_type, COALESCE(industry,''), list_date, is_active, updated_at FROM symbols WHERE is_active = 1 AND asset_type = ? ORDER BY code",
		string(assetType))
	if err != nil {
		return nil, fmt.Errorf("list active symbols: %w", err)
	}
	defer rows.Close()

	var out []domain.Symbol
	for rows.Next() {
		s, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// CountActive returns the number of active symbols of the given type.
func (r *SymbolRepository) CountActive(ctx context.Context, assetType domain.AssetType) (int, error) {
	var n int
	err := r.db.Conn().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM symbols WHERE is_active = 1 AND asset_type = ?", string(assetType)).Scan(&n)
	return n, err
}

// IndustryCoverage returns the fraction of active stocks with a non-empty
// industry classification.
func (r *SymbolRepository) IndustryCoverage(ctx context.Context) (float64, error) {
	var total, classified int
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(CASE WHEN industry IS NOT NULL AND industry != '' THEN 1 ELSE 0 END)
		FROM symbols WHERE is_active = 1 AND asset_type = 'stock'`).Scan(&total, &classified)
	if err != nil {
		return 0, fmt.Errorf("industry coverage: %w", err)
	}
	if total == 0 {
		return 1, nil
	}
	return float64(classified) / float64(total), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSymbol(row rowScanner) (*domain.Symbol, error) {
	var s domain.Symbol
	var market, assetType string
	var listDate sql.NullString
	var active int
	var updatedAt string
	if err := row.Scan(&s.Code, &s.Name, &market, &assetType, &s.Industry, &listDate, &active, &updatedAt); err != nil {
		return nil, err
	}
	s.Market = domain.Market(market)
	s.AssetType = domain.AssetType(assetType)
	s.IsActive = active != 0
	if listDate.Valid && listDate.String != "" {
		if t, err := parseDate(listDate.String); err == nil {
			s.ListDate = &t
		}
	}
	if t, err := parseDate(updatedAt); err == nil {
		s.UpdatedAt = t
	}
	return &s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
