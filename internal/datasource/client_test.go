package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeksaver/leeksaver/internal/errkind"
	"github.com/leeksaver/leeksaver/internal/frame"
	"github.com/leeksaver/leeksaver/internal/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, ratelimit.New(1000, 1000, zerolog.Nop()), zerolog.Nop())
}

func TestDailyQuotes_DecodesAndRenames(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stock/daily", r.URL.Path)
		assert.Equal(t, "600519", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"code": 0,
			"data": {
				"columns": ["日期","开盘","最高","最低","收盘","成交量","成交额","涨跌额","涨跌幅","换手率"],
				"rows": [["2026-08-25", 1840.0, 1862.0, 1835.0, 1850.5, 32000, 59216000.0, 10.5, 0.57, 0.25]]
			}
		}`))
	})

	f, err := c.DailyQuotes(context.Background(), "600519",
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, f.Len())

	require.NoError(t, f.Require("trade_date", "open", "close", "volume"))
	closePrice, err := f.Float64(0, "close")
	require.NoError(t, err)
	assert.Equal(t, 1850.5, closePrice)
}

func TestFetch_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   errkind.Kind
	}{
		{http.StatusTooManyRequests, errkind.RateLimited},
		{http.StatusBadGateway, errkind.UpstreamUnavailable},
		{http.StatusNotFound, errkind.ValidationRejected},
	}
	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, err := c.MarketSentiment(context.Background())
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.want, errkind.KindOf(err), "status %d", tt.status)
	}
}

func TestFetch_EmptyRowsIsEmptyKind(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"columns":["日期"],"rows":[]}}`))
	})
	_, err := c.NorthboundFlow(context.Background())
	require.Error(t, err)
	assert.Equal(t, errkind.Empty, errkind.KindOf(err))
}

func TestFetch_RaggedRowsIsSchemaDrift(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"columns":["a","b"],"rows":[[1]]}}`))
	})
	_, err := c.GlobalNews(context.Background())
	require.Error(t, err)
	assert.Equal(t, errkind.SchemaDrift, errkind.KindOf(err))
}

func TestMergeSymbolDetail_SecondaryWins(t *testing.T) {
	primary := frame.New("code", "name", "industry")
	primary.AppendRow("600519", "贵州茅台", "酿酒")
	primary.AppendRow("000001", "平安银行", "")

	detail := frame.New("code", "industry", "list_date")
	detail.AppendRow("600519", "白酒", "2001-08-27")
	detail.AppendRow("000001", "银行", "1991-04-03")

	syms, err := MergeSymbolDetail(primary, detail, true)
	require.NoError(t, err)
	require.Len(t, syms, 2)

	assert.Equal(t, "白酒", syms[0].Industry, "secondary industry overrides")
	require.NotNil(t, syms[0].ListDate)
	assert.Equal(t, 2001, syms[0].ListDate.Year())
	assert.Equal(t, "银行", syms[1].Industry, "secondary fills gaps")
}

func TestMergeSymbolDetail_PrimaryWinsWhenConfigured(t *testing.T) {
	primary := frame.New("code", "name", "industry")
	primary.AppendRow("600519", "贵州茅台", "酿酒")

	detail := frame.New("code", "industry")
	detail.AppendRow("600519", "白酒")

	syms, err := MergeSymbolDetail(primary, detail, false)
	require.NoError(t, err)
	assert.Equal(t, "酿酒", syms[0].Industry)
}

func TestMergeSymbolDetail_LeftJoinKeepsUnmatched(t *testing.T) {
	primary := frame.New("code", "name")
	primary.AppendRow("830799", "艾融软件")

	syms, err := MergeSymbolDetail(primary, nil, true)
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "BJ", string(syms[0].Market))
}
