package syncer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeksaver/leeksaver/internal/domain"
)

// synthBars builds a deterministic oscillating series long enough for every
// indicator's warmup.
func synthBars(n int) []domain.DailyBar {
	bars := make([]domain.DailyBar, n)
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := 100 + 10*math.Sin(float64(i)/7)
		bars[i] = domain.DailyBar{
			Code:      "600519",
			TradeDate: base.AddDate(0, 0, i),
			Open:      c - 0.5,
			High:      c + 1.5,
			Low:       c - 1.5,
			Close:     c,
			Volume:    int64(1000 + 50*i),
		}
	}
	return bars
}

func TestComputeIndicators_WarmupIsNil(t *testing.T) {
	inds := ComputeIndicators("600519", synthBars(100))
	require.Len(t, inds, 100)

	first := inds[0]
	assert.Nil(t, first.MA5)
	assert.Nil(t, first.RSI14)
	assert.Nil(t, first.BollMid)
	assert.Nil(t, first.MACDDif)
	assert.NotNil(t, first.OBV, "OBV has no warmup")

	assert.Nil(t, inds[58].MA60)
	assert.NotNil(t, inds[59].MA60)
}

func TestComputeIndicators_MA5MatchesMean(t *testing.T) {
	bars := synthBars(20)
	inds := ComputeIndicators("600519", bars)

	i := 10
	want := 0.0
	for b := i - 4; b <= i; b++ {
		want += bars[b].Close
	}
	want /= 5

	require.NotNil(t, inds[i].MA5)
	assert.InDelta(t, want, *inds[i].MA5, 1e-9)
}

func TestComputeIndicators_BollBandsBracketMid(t *testing.T) {
	inds := ComputeIndicators("600519", synthBars(60))
	ind := inds[40]
	require.NotNil(t, ind.BollMid)
	require.NotNil(t, ind.BollUpper)
	require.NotNil(t, ind.BollLower)
	assert.Greater(t, *ind.BollUpper, *ind.BollMid)
	assert.Less(t, *ind.BollLower, *ind.BollMid)
	assert.InDelta(t, *ind.BollUpper-*ind.BollMid, *ind.BollMid-*ind.BollLower, 1e-9)
}

func TestComputeIndicators_KDJRange(t *testing.T) {
	inds := ComputeIndicators("600519", synthBars(80))
	for _, ind := range inds[20:] {
		require.NotNil(t, ind.KDJK)
		assert.GreaterOrEqual(t, *ind.KDJK, 0.0)
		assert.LessOrEqual(t, *ind.KDJK, 100.0)
		assert.InDelta(t, 3**ind.KDJK-2**ind.KDJD, *ind.KDJJ, 1e-9)
	}
}

func TestComputeIndicators_MACDBarDoublesHistogram(t *testing.T) {
	inds := ComputeIndicators("600519", synthBars(80))
	ind := inds[70]
	require.NotNil(t, ind.MACDDif)
	require.NotNil(t, ind.MACDDea)
	require.NotNil(t, ind.MACDBar)
	assert.InDelta(t, (*ind.MACDDif-*ind.MACDDea)*2, *ind.MACDBar, 1e-9)
}

func TestComputeIndicators_ShortSeriesSkipsLongLookbacks(t *testing.T) {
	// A young listing may have fewer bars than the longest lookback; those
	// indicators stay nil instead of being computed (or panicking) on too
	// little data.
	inds := ComputeIndicators("600519", synthBars(20))
	require.Len(t, inds, 20)

	last := inds[19]
	require.NotNil(t, last.MA5)
	require.NotNil(t, last.MA10)
	require.NotNil(t, last.MA20)
	require.NotNil(t, last.RSI14)
	require.NotNil(t, last.OBV)
	assert.Nil(t, last.MA60)
	assert.Nil(t, last.MACDDif)
	assert.Nil(t, last.MACDBar)
}

func TestComputeIndicators_Empty(t *testing.T) {
	assert.Nil(t, ComputeIndicators("600519", nil))
}
