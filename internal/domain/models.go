// Package domain defines the persisted entities of the analytical store.
// All time-series entities carry a composite primary key; date-only fields
// use the exchange-local trading day.
package domain

import "time"

// Market identifies the listing exchange.
type Market string

const (
	MarketShanghai Market = "SH"
	MarketShenzhen Market = "SZ"
	MarketBeijing  Market = "BJ"
)

// MarketForCode derives the listing market from an A-share code prefix.
func MarketForCode(code string) Market {
	if code == "" {
		return MarketShenzhen
	}
	switch code[0] {
	case '6', '5', '9':
		return MarketShanghai
	case '4', '8':
		return MarketBeijing
	default:
		return MarketShenzhen
	}
}

// AssetType distinguishes stocks from exchange-traded funds.
type AssetType string

const (
	AssetStock AssetType = "stock"
	AssetETF   AssetType = "etf"
)

// Symbol is a listed security. Created by the symbol-list syncer,
// soft-deactivated when upstream omits it, never hard-deleted.
type Symbol struct {
	Code      string     `json:"code"` // PRIMARY KEY
	Name      string     `json:"name"`
	Market    Market     `json:"market"`
	AssetType AssetType  `json:"asset_type"`
	Industry  string     `json:"industry,omitempty"`
	ListDate  *time.Time `json:"list_date,omitempty"`
	IsActive  bool       `json:"is_active"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DailyBar is one day of OHLCV data, keyed by (code, trade_date).
// Accepted rows satisfy low <= open,close <= high and |change_pct| <= 30.
type DailyBar struct {
	Code         string    `json:"code"`
	TradeDate    time.Time `json:"trade_date"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       int64     `json:"volume"` // shares
	Amount       float64   `json:"amount"` // yuan
	Change       float64   `json:"change"`
	ChangePct    float64   `json:"change_pct"`
	TurnoverRate float64   `json:"turnover_rate"`
}

// MinuteBar is a 1-minute OHLCV bar, retained only for watchlist symbols.
type MinuteBar struct {
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	Amount    float64   `json:"amount"`
}

// Financial holds one quarterly or annual report, keyed by (code, end_date).
// PubDate is never before EndDate.
type Financial struct {
	Code            string     `json:"code"`
	EndDate         time.Time  `json:"end_date"`
	PubDate         *time.Time `json:"pub_date,omitempty"`
	Revenue         *float64   `json:"revenue,omitempty"`
	NetProfit       *float64   `json:"net_profit,omitempty"`
	RevenueYoY      *float64   `json:"revenue_yoy,omitempty"`
	NetProfitYoY    *float64   `json:"net_profit_yoy,omitempty"`
	EPS             *float64   `json:"eps,omitempty"`
	ROE             *float64   `json:"roe,omitempty"`
	GrossMargin     *float64   `json:"gross_margin,omitempty"`
	DebtAssetRatio  *float64   `json:"debt_asset_ratio,omitempty"`
	OperatingCFPS   *float64   `json:"operating_cfps,omitempty"`
	BVPS            *float64   `json:"bvps,omitempty"`
	TotalAssets     *float64   `json:"total_assets,omitempty"`
	TotalLiability  *float64   `json:"total_liability,omitempty"`
	ReportType      string     `json:"report_type,omitempty"` // quarterly | annual
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Valuation is a daily valuation snapshot, keyed by (code, trade_date).
type Valuation struct {
	Code          string    `json:"code"`
	TradeDate     time.Time `json:"trade_date"`
	PETTM         *float64  `json:"pe_ttm,omitempty"`
	PB            *float64  `json:"pb,omitempty"`
	PS            *float64  `json:"ps,omitempty"`
	PEG           *float64  `json:"peg,omitempty"`
	TotalMktCap   *float64  `json:"total_mkt_cap,omitempty"`
	CircMktCap    *float64  `json:"circ_mkt_cap,omitempty"`
	DividendYield *float64  `json:"dividend_yield,omitempty"`
}

// TechIndicator holds derived technical indicators for one trading day.
// Derived solely from DailyBar over a 60-bar lookback.
type TechIndicator struct {
	Code      string    `json:"code"`
	TradeDate time.Time `json:"trade_date"`
	MA5       *float64  `json:"ma5,omitempty"`
	MA10      *float64  `json:"ma10,omitempty"`
	MA20      *float64  `json:"ma20,omitempty"`
	MA60      *float64  `json:"ma60,omitempty"`
	MACDDif   *float64  `json:"macd_dif,omitempty"`
	MACDDea   *float64  `json:"macd_dea,omitempty"`
	MACDBar   *float64  `json:"macd_bar,omitempty"`
	RSI14     *float64  `json:"rsi_14,omitempty"`
	KDJK      *float64  `json:"kdj_k,omitempty"`
	KDJD      *float64  `json:"kdj_d,omitempty"`
	KDJJ      *float64  `json:"kdj_j,omitempty"`
	BollUpper *float64  `json:"boll_upper,omitempty"`
	BollMid   *float64  `json:"boll_middle,omitempty"`
	BollLower *float64  `json:"boll_lower,omitempty"`
	CCI       *float64  `json:"cci,omitempty"`
	ATR14     *float64  `json:"atr_14,omitempty"`
	OBV       *float64  `json:"obv,omitempty"`
}

// FundFlow is the per-symbol daily capital flow breakdown.
type FundFlow struct {
	Code         string    `json:"code"`
	TradeDate    time.Time `json:"trade_date"`
	MainNet      float64   `json:"main_net"`
	MainNetPct   float64   `json:"main_net_pct"`
	SuperNet     float64   `json:"super_net"`
	LargeNet     float64   `json:"large_net"`
	MediumNet    float64   `json:"medium_net"`
	SmallNet     float64   `json:"small_net"`
}

// MarginTrade is the daily margin trading balance for one symbol.
type MarginTrade struct {
	Code          string    `json:"code"`
	TradeDate     time.Time `json:"trade_date"`
	FinBalance    float64   `json:"fin_balance"`     // financing balance
	FinBuy        float64   `json:"fin_buy"`         // financing buy amount
	SecBalance    float64   `json:"sec_balance"`     // securities lending balance
	SecSellVolume int64     `json:"sec_sell_volume"` // securities lending sell volume
	TotalBalance  float64   `json:"total_balance"`
}

// DragonTiger is one exchange disclosure-list entry (append-only).
type DragonTiger struct {
	Code       string    `json:"code"`
	TradeDate  time.Time `json:"trade_date"`
	Reason     string    `json:"reason"`
	BuyAmount  float64   `json:"buy_amount"`
	SellAmount float64   `json:"sell_amount"`
	NetAmount  float64   `json:"net_amount"`
}

// NorthboundFlow is the daily Stock Connect aggregate flow.
type NorthboundFlow struct {
	TradeDate   time.Time `json:"trade_date"` // PRIMARY KEY
	NetBuy      float64   `json:"net_buy"`
	BuyAmount   float64   `json:"buy_amount"`
	SellAmount  float64   `json:"sell_amount"`
	Accumulated float64   `json:"accumulated"`
}

// MarketSentiment is the post-close market-wide breadth snapshot.
type MarketSentiment struct {
	TradeDate    time.Time `json:"trade_date"` // PRIMARY KEY
	UpCount      int       `json:"up_count"`
	DownCount    int       `json:"down_count"`
	FlatCount    int       `json:"flat_count"`
	LimitUpCount int       `json:"limit_up_count"`
	LimitDownCnt int       `json:"limit_down_count"`
	TotalAmount  float64   `json:"total_amount"`
}

// LimitUpStock is one entry of the daily limit-up pool.
type LimitUpStock struct {
	Code        string    `json:"code"`
	TradeDate   time.Time `json:"trade_date"`
	Name        string    `json:"name"`
	SealAmount  float64   `json:"seal_amount"`
	FirstSealAt string    `json:"first_seal_at,omitempty"` // HH:MM:SS
	OpenTimes   int       `json:"open_times"`
	Streak      int       `json:"streak"` // consecutive limit-up days
}

// NewsArticle is a single news item, deduplicated by source-native ID or
// (source, url). Embedding is populated lazily by the embeddings syncer.
type NewsArticle struct {
	ID             int64      `json:"id"`
	SourceID       string     `json:"source_id,omitempty"`
	Title          string     `json:"title"`
	Body           string     `json:"body,omitempty"`
	Source         string     `json:"source"`
	URL            string     `json:"url,omitempty"`
	PublishTime    time.Time  `json:"publish_time"`
	RelatedSymbols []string   `json:"related_symbols,omitempty"`
	Embedding      []float32  `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Sector is an industry or concept grouping.
type Sector struct {
	Code string `json:"code"` // PRIMARY KEY
	Name string `json:"name"`
	Kind string `json:"kind"` // industry | concept
}

// SectorQuote is one day of a sector index, keyed by (sector_code, trade_date).
type SectorQuote struct {
	SectorCode string    `json:"sector_code"`
	TradeDate  time.Time `json:"trade_date"`
	Close      float64   `json:"close"`
	ChangePct  float64   `json:"change_pct"`
	TurnoverRate float64 `json:"turnover_rate"`
	LeaderCode string    `json:"leader_code,omitempty"`
	NetInflow  float64   `json:"net_inflow"`
}

// WatchlistEntry is one user-tracked symbol. The watchlist drives L2 scope.
type WatchlistEntry struct {
	Code    string    `json:"code"` // PRIMARY KEY
	Note    string    `json:"note,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// SyncError records a sync failure for one (task, target) pair. The row is
// resolved in place when the same pair later succeeds; an unresolved row
// whose retry budget is exhausted is quarantined.
type SyncError struct {
	ID          int64      `json:"id"`
	TaskName    string     `json:"task_name"`
	TargetCode  string     `json:"target_code,omitempty"`
	ErrorKind   string     `json:"error_kind"`
	Message     string     `json:"message"`
	RetryCount  int        `json:"retry_count"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// QuarantineRetryLimit is the retry budget after which an unresolved
// SyncError is excluded from automatic retry.
const QuarantineRetryLimit = 5

// Quarantined reports whether this error is excluded from automatic retry.
func (e *SyncError) Quarantined() bool {
	return e.ResolvedAt == nil && e.RetryCount >= QuarantineRetryLimit
}
