// Package datasource is the single upstream adapter. It speaks the data
// gateway's columnar JSON protocol, maps transport failures onto error
// kinds, and renames upstream column headers to the canonical names the
// transform stage expects. Every request is funneled through the shared
// rate gate; no other package performs upstream I/O.
package datasource

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/leeksaver/leeksaver/internal/errkind"
	"github.com/leeksaver/leeksaver/internal/frame"
	"github.com/leeksaver/leeksaver/internal/ratelimit"
)

// envelope is the gateway's columnar response shape.
type envelope struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    *payload `json:"data"`
}

type payload struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Client fetches datasets from the upstream gateway.
type Client struct {
	base string
	http *http.Client
	gate *ratelimit.Gate
	log  zerolog.Logger
}

// New creates an adapter rooted at baseURL, gated by gate.
func New(baseURL string, gate *ratelimit.Gate, log zerolog.Logger) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
		gate: gate,
		log:  log.With().Str("component", "datasource").Logger(),
	}
}

// fetch performs one gated GET and returns the decoded frame with columns
// renamed per mapping. A response with zero rows is an Empty error so
// callers can distinguish "nothing upstream" from "empty result is fine".
func (c *Client) fetch(ctx context.Context, path string, params url.Values, rename map[string]string) (*frame.Frame, error) {
	var f *frame.Frame
	err := c.gate.Do(ctx, path, func(ctx context.Context) error {
		var err error
		f, err = c.fetchOnce(ctx, path, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rename != nil {
		f.Rename(rename)
	}
	return f, nil
}

func (c *Client) fetchOnce(ctx context.Context, path string, params url.Values) (*frame.Frame, error) {
	u := c.base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.ConfigError, "build request for "+path)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.KindOf(err), "fetch "+path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errkind.Newf(errkind.RateLimited, "upstream throttled %s", path)
	case resp.StatusCode >= 500:
		return nil, errkind.Newf(errkind.UpstreamUnavailable, "upstream returned %d for %s", resp.StatusCode, path)
	case resp.StatusCode != http.StatusOK:
		return nil, errkind.Newf(errkind.ValidationRejected, "upstream returned %d for %s", resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, errkind.Wrap(err, errkind.UpstreamUnavailable, "read body for "+path)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errkind.Wrap(err, errkind.SchemaDrift, "decode envelope for "+path)
	}
	if env.Code != 0 {
		return nil, errkind.Newf(errkind.UpstreamUnavailable, "gateway error %d for %s: %s", env.Code, path, env.Message)
	}
	if env.Data == nil || len(env.Data.Rows) == 0 {
		return nil, errkind.Newf(errkind.Empty, "no rows for %s", path)
	}

	f := frame.New(env.Data.Columns...)
	for i, row := range env.Data.Rows {
		if len(row) != len(env.Data.Columns) {
			return nil, errkind.Newf(errkind.SchemaDrift,
				"row %d has %d cells for %d columns in %s", i, len(row), len(env.Data.Columns), path)
		}
		f.AppendRow(row...)
	}
	return f, nil
}

const dateLayout = "2006-01-02"

// quoteRename maps the gateway's exchange-native headers to canonical names.
var quoteRename = map[string]string{
	"日期":  "trade_date",
	"时间":  "ts",
	"开盘":  "open",
	"最高":  "high",
	"最低":  "low",
	"收盘":  "close",
	"成交量": "volume",
	"成交额": "amount",
	"涨跌额": "change",
	"涨跌幅": "change_pct",
	"换手率": "turnover_rate",
}

// SymbolList fetches the full listed-stock roster.
func (c *Client) SymbolList(ctx context.Context) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/stock/list", nil, map[string]string{
		"代码": "code", "名称": "name", "上市日期": "list_date",
	})
}

// ETFList fetches the listed ETF roster.
func (c *Client) ETFList(ctx context.Context) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/etf/list", nil, map[string]string{
		"代码": "code", "名称": "name",
	})
}

// SymbolDetail fetches the secondary roster carrying industry metadata.
func (c *Client) SymbolDetail(ctx context.Context) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/stock/detail", nil, map[string]string{
		"代码": "code", "名称": "name", "所属行业": "industry", "上市时间": "list_date",
	})
}

// DailyQuotes fetches forward-adjusted daily bars for one symbol.
func (c *Client) DailyQuotes(ctx context.Context, code string, start, end time.Time) (*frame.Frame, error) {
	params := url.Values{
		"symbol": {code},
		"start":  {start.Format(dateLayout)},
		"end":    {end.Format(dateLayout)},
		"adjust": {"qfq"},
	}
	return c.fetch(ctx, "/api/stock/daily", params, quoteRename)
}

// ETFDailyQuotes fetches daily bars for one ETF.
func (c *Client) ETFDailyQuotes(ctx context.Context, code string, start, end time.Time) (*frame.Frame, error) {
	params := url.Values{
		"symbol": {code},
		"start":  {start.Format(dateLayout)},
		"end":    {end.Format(dateLayout)},
	}
	return c.fetch(ctx, "/api/etf/daily", params, quoteRename)
}

// MinuteQuotes fetches the current session's 1-minute bars for one symbol.
func (c *Client) MinuteQuotes(ctx context.Context, code string) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/stock/minute", url.Values{"symbol": {code}, "period": {"1"}}, quoteRename)
}

// RealtimeQuotes fetches the live snapshot for a set of symbols.
func (c *Client) RealtimeQuotes(ctx context.Context, codes []string) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/stock/realtime", url.Values{"symbols": {strings.Join(codes, ",")}}, map[string]string{
		"代码": "code", "名称": "name", "最新价": "price", "涨跌幅": "change_pct",
		"成交量": "volume", "成交额": "amount", "最高": "high", "最低": "low", "今开": "open",
	})
}

// Financials fetches the report history for one symbol.
func (c *Client) Financials(ctx context.Context, code string) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/stock/financials", url.Values{"symbol": {code}}, map[string]string{
		"报告期": "end_date", "公告日期": "pub_date", "营业收入": "revenue", "净利润": "net_profit",
		"营业收入同比增长": "revenue_yoy", "净利润同比增长": "net_profit_yoy",
		"每股收益": "eps", "净资产收益率": "roe", "销售毛利率": "gross_margin",
		"资产负债率": "debt_asset_ratio", "每股经营现金流": "operating_cfps", "每股净资产": "bvps",
		"总资产": "total_assets", "总负债": "total_liability",
	})
}

// Valuations fetches daily valuation metrics for one symbol.
func (c *Client) Valuations(ctx context.Context, code string, start, end time.Time) (*frame.Frame, error) {
	params := url.Values{
		"symbol": {code},
		"start":  {start.Format(dateLayout)},
		"end":    {end.Format(dateLayout)},
	}
	return c.fetch(ctx, "/api/stock/valuation", params, map[string]string{
		"日期": "trade_date", "市盈率TTM": "pe_ttm", "市净率": "pb", "市销率": "ps", "PEG值": "peg",
		"总市值": "total_mkt_cap", "流通市值": "circ_mkt_cap", "股息率": "dividend_yield",
	})
}

// GlobalNews fetches the market-wide news feed.
func (c *Client) GlobalNews(ctx context.Context) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/news/global", nil, map[string]string{
		"标题": "title", "内容": "body", "发布时间": "publish_time", "链接": "url", "来源": "source",
	})
}

// StockNews fetches recent news for one symbol.
func (c *Client) StockNews(ctx context.Context, code string) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/news/stock", url.Values{"symbol": {code}}, map[string]string{
		"新闻标题": "title", "新闻内容": "body", "发布时间": "publish_time", "新闻链接": "url", "文章来源": "source",
	})
}

// FundFlow fetches the per-symbol capital flow history.
func (c *Client) FundFlow(ctx context.Context, code string) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/stock/fundflow", url.Values{"symbol": {code}}, map[string]string{
		"日期": "trade_date", "主力净流入-净额": "main_net", "主力净流入-净占比": "main_net_pct",
		"超大单净流入-净额": "super_net", "大单净流入-净额": "large_net",
		"中单净流入-净额": "medium_net", "小单净流入-净额": "small_net",
	})
}

// MarginTrades fetches the market-wide margin balances for one trading day.
func (c *Client) MarginTrades(ctx context.Context, date time.Time) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/market/margin", url.Values{"date": {date.Format(dateLayout)}}, map[string]string{
		"代码": "code", "融资余额": "fin_balance", "融资买入额": "fin_buy",
		"融券余额": "sec_balance", "融券卖出量": "sec_sell_volume", "融资融券余额": "total_balance",
	})
}

// DragonTiger fetches the exchange disclosure list for one trading day.
func (c *Client) DragonTiger(ctx context.Context, date time.Time) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/market/dragon-tiger", url.Values{"date": {date.Format(dateLayout)}}, map[string]string{
		"代码": "code", "上榜日": "trade_date", "解读": "reason", "上榜原因": "reason",
		"龙虎榜买入额": "buy_amount", "龙虎榜卖出额": "sell_amount", "龙虎榜净买额": "net_amount",
	})
}

// NorthboundFlow fetches the Stock Connect daily aggregate series.
func (c *Client) NorthboundFlow(ctx context.Context) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/market/northbound", nil, map[string]string{
		"日期": "trade_date", "当日成交净买额": "net_buy", "买入成交额": "buy_amount",
		"卖出成交额": "sell_amount", "历史累计净买额": "accumulated",
	})
}

// MarketSentiment fetches the post-close market breadth snapshot.
func (c *Client) MarketSentiment(ctx context.Context) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/market/sentiment", nil, map[string]string{
		"日期": "trade_date", "上涨家数": "up_count", "下跌家数": "down_count", "平盘家数": "flat_count",
		"涨停家数": "limit_up_count", "跌停家数": "limit_down_count", "总成交额": "total_amount",
	})
}

// LimitUpPool fetches the limit-up pool for one trading day.
func (c *Client) LimitUpPool(ctx context.Context, date time.Time) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/market/limit-up", url.Values{"date": {date.Format(dateLayout)}}, map[string]string{
		"代码": "code", "名称": "name", "封板资金": "seal_amount", "首次封板时间": "first_seal_at",
		"炸板次数": "open_times", "连板数": "streak",
	})
}

// Sectors fetches the industry and concept board roster.
func (c *Client) Sectors(ctx context.Context, kind string) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/sector/list", url.Values{"kind": {kind}}, map[string]string{
		"板块代码": "code", "板块名称": "name",
	})
}

// SectorQuotes fetches today's quote for every board of the given kind.
func (c *Client) SectorQuotes(ctx context.Context, kind string) (*frame.Frame, error) {
	return c.fetch(ctx, "/api/sector/quotes", url.Values{"kind": {kind}}, map[string]string{
		"板块代码": "sector_code", "最新价": "close", "涨跌幅": "change_pct", "换手率": "turnover_rate",
		"领涨股票代码": "leader_code", "主力净流入": "net_inflow",
	})
}
