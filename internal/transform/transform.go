// Package transform turns upstream frames into validated domain rows.
// Every dataset goes through the same shape: project the columns it needs,
// typecast each cell (rejecting what cannot be represented), then apply the
// dataset's cleaning rules in a fixed order. Rejections are counted per
// rule and reported back to the caller; the shard runner aggregates the
// counters across a shard and treats losing more than half the rows as
// schema drift rather than dirty data. A single frame never escalates on
// its own: one inverted row in a one-row response is dirt, not drift.
package transform

import (
	"math"
	"time"

	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/errkind"
	"github.com/leeksaver/leeksaver/internal/frame"
)

// Cleaning rule identifiers, in application order.
const (
	RuleTypecast     = "typecast"       // cell not representable in target type
	RuleMissingField = "missing_field"  // required cell empty
	RuleNonPositive  = "nonpositive"    // price or volume below zero / price at zero
	RuleOHLCBounds   = "ohlc_bounds"    // low <= open,close <= high violated
	RuleChangeRange  = "change_range"   // |change_pct| above the 30% board limit
	RuleInconsistent = "inconsistent"   // cross-field contradiction (e.g. pub date before period end)
	RuleDuplicate    = "duplicate"      // same primary key twice; the last occurrence wins
)

// maxChangePct is the widest single-day move any A-share board allows.
const maxChangePct = 30.0

// Counters tracks per-rule rejection totals for one batch.
type Counters struct {
	Accepted int
	Rejected map[string]int
}

// NewCounters returns a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{Rejected: make(map[string]int)}
}

// Reject records one rejection under the named rule.
func (c *Counters) Reject(rule string) { c.Rejected[rule]++ }

// RejectedTotal sums rejections across all rules.
func (c *Counters) RejectedTotal() int {
	n := 0
	for _, v := range c.Rejected {
		n += v
	}
	return n
}

// Merge folds another counter set into this one. A nil argument is a no-op
// so callers without counters can pass through.
func (c *Counters) Merge(o *Counters) {
	if o == nil {
		return
	}
	c.Accepted += o.Accepted
	for rule, n := range o.Rejected {
		c.Rejected[rule] += n
	}
}

// minDriftSample is the smallest batch the drift heuristic applies to. A
// handful of rows cannot distinguish dirty data from a moved schema.
const minDriftSample = 10

// Check returns a schema-drift error when more than half of a batch was
// rejected. That failure profile means the upstream shape moved, not that
// individual rows were dirty. Meant to run over a whole shard's aggregate,
// not a single symbol's frame.
func (c *Counters) Check() error {
	total := c.Accepted + c.RejectedTotal()
	if total < minDriftSample {
		return nil
	}
	if float64(c.RejectedTotal())/float64(total) > 0.5 {
		return errkind.Newf(errkind.SchemaDrift,
			"rejected %d of %d rows; upstream schema likely changed", c.RejectedTotal(), total)
	}
	return nil
}

// dedupLast drops all but the last occurrence of every primary key, counting
// the displaced rows under RuleDuplicate. Upstream responses occasionally
// repeat a day after a restatement; the later row is the corrected one.
func dedupLast[T any](rows []T, key func(T) string, c *Counters) []T {
	seen := make(map[string]int, len(rows))
	out := rows[:0]
	for _, row := range rows {
		if at, ok := seen[key(row)]; ok {
			out[at] = row
			c.Reject(RuleDuplicate)
			c.Accepted--
			continue
		}
		seen[key(row)] = len(out)
		out = append(out, row)
	}
	return out
}

// dailyBarColumns are required after the adapter's rename pass.
var dailyBarColumns = []string{
	"trade_date", "open", "high", "low", "close",
	"volume", "amount", "change", "change_pct", "turnover_rate",
}

// DailyBars decodes a quotes frame into bars for one symbol.
func DailyBars(f *frame.Frame, code string) ([]domain.DailyBar, *Counters, error) {
	if err := f.Require(dailyBarColumns...); err != nil {
		return nil, nil, err
	}

	counters := NewCounters()
	bars := make([]domain.DailyBar, 0, f.Len())

	for i := 0; i < f.Len(); i++ {
		bar, rule := decodeDailyBar(f, i, code)
		if rule != "" {
			counters.Reject(rule)
			continue
		}
		counters.Accepted++
		bars = append(bars, bar)
	}

	bars = dedupLast(bars, func(b domain.DailyBar) string {
		return b.TradeDate.Format(time.DateOnly)
	}, counters)
	return bars, counters, nil
}

// decodeDailyBar returns the decoded bar, or the name of the rule that
// rejected the row.
func decodeDailyBar(f *frame.Frame, row int, code string) (domain.DailyBar, string) {
	var bar domain.DailyBar
	bar.Code = code

	if f.IsNil(row, "trade_date") || f.IsNil(row, "close") {
		return bar, RuleMissingField
	}

	date, err := f.Time(row, "trade_date")
	if err != nil {
		return bar, RuleTypecast
	}
	bar.TradeDate = date

	floats := map[string]*float64{
		"open": &bar.Open, "high": &bar.High, "low": &bar.Low, "close": &bar.Close,
		"amount": &bar.Amount, "change": &bar.Change, "change_pct": &bar.ChangePct,
		"turnover_rate": &bar.TurnoverRate,
	}
	for col, dst := range floats {
		v, err := f.Float64(row, col)
		if err != nil {
			return bar, RuleTypecast
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return bar, RuleTypecast
		}
		*dst = v
	}
	vol, err := f.Int64(row, "volume")
	if err != nil {
		return bar, RuleTypecast
	}
	bar.Volume = vol

	if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 || bar.Volume < 0 {
		return bar, RuleNonPositive
	}
	if bar.Low > bar.Open || bar.Low > bar.Close || bar.Open > bar.High || bar.Close > bar.High {
		return bar, RuleOHLCBounds
	}
	if math.Abs(bar.ChangePct) > maxChangePct {
		return bar, RuleChangeRange
	}
	return bar, ""
}

var minuteBarColumns = []string{"ts", "open", "high", "low", "close", "volume", "amount"}

// MinuteBars decodes a minute-quotes frame for one symbol.
func MinuteBars(f *frame.Frame, code string) ([]domain.MinuteBar, *Counters, error) {
	if err := f.Require(minuteBarColumns...); err != nil {
		return nil, nil, err
	}

	counters := NewCounters()
	bars := make([]domain.MinuteBar, 0, f.Len())

	for i := 0; i < f.Len(); i++ {
		if f.IsNil(i, "ts") {
			counters.Reject(RuleMissingField)
			continue
		}
		ts, err := f.Time(i, "ts", "2006-01-02 15:04:05", "2006-01-02 15:04", time.RFC3339)
		if err != nil {
			counters.Reject(RuleTypecast)
			continue
		}

		var bar domain.MinuteBar
		bar.Code = code
		bar.Timestamp = ts

		bad := false
		for col, dst := range map[string]*float64{
			"open": &bar.Open, "high": &bar.High, "low": &bar.Low,
			"close": &bar.Close, "amount": &bar.Amount,
		} {
			v, err := f.Float64(i, col)
			if err != nil {
				bad = true
				break
			}
			*dst = v
		}
		if bad {
			counters.Reject(RuleTypecast)
			continue
		}
		vol, err := f.Int64(i, "volume")
		if err != nil {
			counters.Reject(RuleTypecast)
			continue
		}
		bar.Volume = vol

		if bar.Close <= 0 {
			counters.Reject(RuleNonPositive)
			continue
		}
		if bar.Low > bar.High {
			counters.Reject(RuleOHLCBounds)
			continue
		}

		counters.Accepted++
		bars = append(bars, bar)
	}

	bars = dedupLast(bars, func(b domain.MinuteBar) string {
		return b.Timestamp.Format(time.RFC3339)
	}, counters)
	return bars, counters, nil
}

// Valuations decodes a daily valuation frame for one symbol. Optional
// metrics map nil/garbage cells to absent pointers instead of rejecting the
// row; only a missing date rejects.
func Valuations(f *frame.Frame, code string) ([]domain.Valuation, *Counters, error) {
	if err := f.Require("trade_date"); err != nil {
		return nil, nil, err
	}

	counters := NewCounters()
	out := make([]domain.Valuation, 0, f.Len())

	for i := 0; i < f.Len(); i++ {
		date, err := f.Time(i, "trade_date")
		if err != nil {
			counters.Reject(RuleTypecast)
			continue
		}
		v := domain.Valuation{Code: code, TradeDate: date}
		v.PETTM = optFloat(f, i, "pe_ttm")
		v.PB = optFloat(f, i, "pb")
		v.PS = optFloat(f, i, "ps")
		v.PEG = optFloat(f, i, "peg")
		v.TotalMktCap = optFloat(f, i, "total_mkt_cap")
		v.CircMktCap = optFloat(f, i, "circ_mkt_cap")
		v.DividendYield = optFloat(f, i, "dividend_yield")

		counters.Accepted++
		out = append(out, v)
	}
	return out, counters, nil
}

// optFloat reads an optional metric, returning nil when absent or unparseable.
func optFloat(f *frame.Frame, row int, col string) *float64 {
	if !f.HasColumn(col) || f.IsNil(row, col) {
		return nil
	}
	v, err := f.Float64(row, col)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// OptFloat is the exported form used by syncers decoding dataset-specific
// frames that do not warrant a dedicated converter here.
func OptFloat(f *frame.Frame, row int, col string) *float64 { return optFloat(f, row, col) }
