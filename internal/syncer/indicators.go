package syncer

import (
	"context"
	"math"
	"time"

	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/transform"
)

// Indicator parameters follow the conventions A-share charting tools use.
const (
	macdFast, macdSlow, macdSignal = 12, 26, 9
	rsiPeriod                      = 14
	kdjPeriod                      = 9
	bollPeriod                     = 20
	bollWidth                      = 2.0
	cciPeriod                      = 14
	atrPeriod                      = 14
)

// IndicatorSyncer derives technical indicators from stored daily bars.
// It reads nothing from upstream; a bar restatement inside the quotes
// safety window is picked up on the next run when recompute is enabled.
type IndicatorSyncer struct {
	deps    *Deps
	targets []string
}

func NewIndicatorSyncer(d *Deps) *IndicatorSyncer { return &IndicatorSyncer{deps: d} }

// NewIndicatorBackfill returns a syncer scoped to the given symbols.
func NewIndicatorBackfill(d *Deps, targets []string) *IndicatorSyncer {
	return &IndicatorSyncer{deps: d, targets: targets}
}

// WithScope returns a copy narrowed to the given codes. The start date is
// ignored: indicators always re-derive from the stored bar series.
func (s *IndicatorSyncer) WithScope(sc Scope) Syncer {
	return NewIndicatorBackfill(s.deps, sc.Codes)
}

func (s *IndicatorSyncer) Name() string { return "tech_indicators" }

func (s *IndicatorSyncer) Run(ctx context.Context) (Result, error) {
	d := s.deps

	targets := s.targets
	if targets == nil {
		var err error
		if targets, err = activeStockCodes(ctx, d); err != nil {
			return Result{}, err
		}
	}

	return runSharded(ctx, d, s.Name(), targets, func(ctx context.Context, code string) (int, *transform.Counters, error) {
		rows, err := s.syncOne(ctx, code)
		return rows, nil, err
	})
}

func (s *IndicatorSyncer) syncOne(ctx context.Context, code string) (int, error) {
	d := s.deps

	bars, err := d.Market.BarsSince(ctx, code, time.Time{})
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}

	indicators := ComputeIndicators(code, bars)

	latest, err := d.Indicators.LatestDate(ctx, code)
	if err != nil {
		return 0, err
	}

	// Pick which days to write. Recompute mode re-derives the trailing
	// safety window so restated bars flow into the indicators; otherwise
	// only strictly new days are written.
	var toWrite []domain.TechIndicator
	switch {
	case latest.IsZero():
		toWrite = indicators
	case d.Cfg.IndicatorRecomputeChanged:
		cut := latest.AddDate(0, 0, -safetyWindowDays)
		for _, ind := range indicators {
			if !ind.TradeDate.Before(cut) {
				toWrite = append(toWrite, ind)
			}
		}
	default:
		for _, ind := range indicators {
			if ind.TradeDate.After(latest) {
				toWrite = append(toWrite, ind)
			}
		}
	}

	return d.Indicators.Upsert(ctx, toWrite)
}

// ComputeIndicators derives the full indicator set for a bar series. Bars
// must be oldest-first. Values whose lookback is not yet filled are nil.
func ComputeIndicators(code string, bars []domain.DailyBar) []domain.TechIndicator {
	n := len(bars)
	if n == 0 {
		return nil
	}

	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, b := range bars {
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
		volume[i] = float64(b.Volume)
	}

	// talib assumes len >= period; a series shorter than an indicator's
	// lookback skips that indicator entirely and leaves its values nil.
	var ma5, ma10, ma20, ma60 []float64
	if n >= 5 {
		ma5 = talib.Sma(closes, 5)
	}
	if n >= 10 {
		ma10 = talib.Sma(closes, 10)
	}
	if n >= 20 {
		ma20 = talib.Sma(closes, 20)
	}
	if n >= 60 {
		ma60 = talib.Sma(closes, 60)
	}
	var dif, dea, hist []float64
	if n >= macdSlow+macdSignal {
		dif, dea, hist = talib.Macd(closes, macdFast, macdSlow, macdSignal)
	}
	var rsi []float64
	if n > rsiPeriod {
		rsi = talib.Rsi(closes, rsiPeriod)
	}
	var cci []float64
	if n >= cciPeriod {
		cci = talib.Cci(high, low, closes, cciPeriod)
	}
	var atr []float64
	if n > atrPeriod {
		atr = talib.Atr(high, low, closes, atrPeriod)
	}
	obv := talib.Obv(closes, volume)
	k, dLine, j := kdj(high, low, closes, kdjPeriod)

	out := make([]domain.TechIndicator, n)
	for i := range bars {
		ind := domain.TechIndicator{Code: code, TradeDate: bars[i].TradeDate}

		ind.MA5 = at(ma5, i, 5-1)
		ind.MA10 = at(ma10, i, 10-1)
		ind.MA20 = at(ma20, i, 20-1)
		ind.MA60 = at(ma60, i, 60-1)

		if dif != nil && i >= macdSlow+macdSignal-2 {
			ind.MACDDif = ptr(dif[i])
			ind.MACDDea = ptr(dea[i])
			// Charting convention doubles the histogram.
			ind.MACDBar = ptr(hist[i] * 2)
		}
		ind.RSI14 = at(rsi, i, rsiPeriod)
		if i >= kdjPeriod-1 {
			ind.KDJK = ptr(k[i])
			ind.KDJD = ptr(dLine[i])
			ind.KDJJ = ptr(j[i])
		}
		if i >= bollPeriod-1 {
			window := closes[i-bollPeriod+1 : i+1]
			mid := stat.Mean(window, nil)
			sd := stat.StdDev(window, nil)
			ind.BollMid = ptr(mid)
			ind.BollUpper = ptr(mid + bollWidth*sd)
			ind.BollLower = ptr(mid - bollWidth*sd)
		}
		ind.CCI = at(cci, i, cciPeriod-1)
		ind.ATR14 = at(atr, i, atrPeriod)
		ind.OBV = ptr(obv[i])

		out[i] = ind
	}
	return out
}

// kdj computes the K/D/J lines with the recursive 1/3 smoothing used by
// A-share charting tools.
func kdj(high, low, closes []float64, period int) (k, d, j []float64) {
	n := len(closes)
	k = make([]float64, n)
	d = make([]float64, n)
	j = make([]float64, n)

	prevK, prevD := 50.0, 50.0
	for i := 0; i < n; i++ {
		lo, hi := low[i], high[i]
		for b := i - period + 1; b < i; b++ {
			if b < 0 {
				continue
			}
			lo = math.Min(lo, low[b])
			hi = math.Max(hi, high[b])
		}

		rsv := 50.0
		if hi > lo {
			rsv = (closes[i] - lo) / (hi - lo) * 100
		}

		prevK = prevK*2/3 + rsv/3
		prevD = prevD*2/3 + prevK/3
		k[i] = prevK
		d[i] = prevD
		j[i] = 3*prevK - 2*prevD
	}
	return k, d, j
}

// at returns the series value at i as a pointer, nil while the warmup
// window is unfilled.
func at(series []float64, i, warmup int) *float64 {
	if i < warmup || i >= len(series) {
		return nil
	}
	return ptr(series[i])
}

func ptr(v float64) *float64 { return &v }
