package datasource

import (
	"strings"
	"time"

	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/frame"
)

// MergeSymbolDetail left-joins the primary roster with the secondary detail
// roster on code. Every primary row survives; detail fields fill gaps. When
// secondaryWins is set, a non-empty secondary industry overrides the
// primary's value (the secondary source publishes reclassifications first).
func MergeSymbolDetail(primary, detail *frame.Frame, secondaryWins bool) ([]domain.Symbol, error) {
	if err := primary.Require("code", "name"); err != nil {
		return nil, err
	}

	type detailRow struct {
		industry string
		listDate *time.Time
	}
	details := make(map[string]detailRow)
	if detail != nil && detail.HasColumn("code") {
		for i := 0; i < detail.Len(); i++ {
			code, err := detail.String(i, "code")
			if err != nil || code == "" {
				continue
			}
			var d detailRow
			if detail.HasColumn("industry") {
				d.industry, _ = detail.String(i, "industry")
			}
			if detail.HasColumn("list_date") && !detail.IsNil(i, "list_date") {
				if t, err := detail.Time(i, "list_date", "2006-01-02", "20060102"); err == nil {
					d.listDate = &t
				}
			}
			details[code] = d
		}
	}

	now := time.Now()
	out := make([]domain.Symbol, 0, primary.Len())
	for i := 0; i < primary.Len(); i++ {
		code, err := primary.String(i, "code")
		if err != nil || strings.TrimSpace(code) == "" {
			continue
		}
		name, _ := primary.String(i, "name")

		sym := domain.Symbol{
			Code:      code,
			Name:      name,
			Market:    domain.MarketForCode(code),
			AssetType: domain.AssetStock,
			IsActive:  true,
			UpdatedAt: now,
		}
		if primary.HasColumn("industry") {
			sym.Industry, _ = primary.String(i, "industry")
		}
		if primary.HasColumn("list_date") && !primary.IsNil(i, "list_date") {
			if t, err := primary.Time(i, "list_date", "2006-01-02", "20060102"); err == nil {
				sym.ListDate = &t
			}
		}

		if d, ok := details[code]; ok {
			if d.industry != "" && (sym.Industry == "" || secondaryWins) {
				sym.Industry = d.industry
			}
			if sym.ListDate == nil && d.listDate != nil {
				sym.ListDate = d.listDate
			}
		}
		out = append(out, sym)
	}
	return out, nil
}
