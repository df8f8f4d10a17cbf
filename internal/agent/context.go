package agent

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"perpagent/internal/analysis/indicator"
	"perpagent/internal/execution"
	"perpagent/internal/gateway/exchange"
	"perpagent/internal/journal"
	"perpagent/internal/logger"
	"perpagent/internal/market"
)

const (
	intradayInterval = "5m"
	longTermInterval = "4h"
	candleLimit      = 100
	seriesLen        = 10
	priceHistoryLen  = 60
	diaryLen         = 10
	openOrdersLen    = 50
	fillsFetchLen    = 50
	fillsShownLen    = 20

	// Binance 永续每 8 小时结算一次资金费。
	fundingPeriodsPerYear = 3 * 365

	requirementText = "Decide actions for all assets and return a strict JSON array matching the schema."
)

// DiaryReader 读取最近的交易日志，供模型回顾。
type DiaryReader interface {
	Tail(n int) ([]journal.Entry, error)
}

type ContextParams struct {
	Assets  []string
	Gateway exchange.Gateway
	Candles market.CandleSource
	Derivs  market.DerivativesSource
	Diary   DiaryReader
	Now     func() time.Time
}

// ContextBuilder 组装每轮发送给模型的 JSON 上下文，并维护跨轮状态：
// 价格历史、初始账户价值与账户价值序列（用于夏普比率）。
type ContextBuilder struct {
	assets  []string
	gw      exchange.Gateway
	candles market.CandleSource
	derivs  market.DerivativesSource
	diary   DiaryReader
	now     func() time.Time
	started time.Time

	mu            sync.Mutex
	history       map[string][]float64
	initialValue  float64
	accountValues []float64
}

func NewContextBuilder(p ContextParams) *ContextBuilder {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &ContextBuilder{
		assets:  append([]string(nil), p.Assets...),
		gw:      p.Gateway,
		candles: p.Candles,
		derivs:  p.Derivs,
		diary:   p.Diary,
		now:     now,
		started: now(),
		history: make(map[string][]float64),
	}
}

// Snapshot 是本轮对账之后的账户视图。
type Snapshot struct {
	Invocation int
	State      exchange.UserState
	OpenOrders []exchange.Order
	Managed    []execution.ManagedTrade
}

type Document struct {
	Invocation   InvocationInfo `json:"invocation"`
	Account      AccountSection `json:"account"`
	MarketData   []AssetSection `json:"market_data"`
	Instructions Instructions   `json:"instructions"`
}

type InvocationInfo struct {
	MinutesSinceStart float64 `json:"minutes_since_start"`
	CurrentTime       string  `json:"current_time"`
	InvocationCount   int     `json:"invocation_count"`
}

type AccountSection struct {
	TotalReturnPct float64                  `json:"total_return_pct"`
	Balance        float64                  `json:"balance"`
	AccountValue   float64                  `json:"account_value"`
	SharpeRatio    float64                  `json:"sharpe_ratio"`
	Positions      []PositionView           `json:"positions"`
	ActiveTrades   []execution.ManagedTrade `json:"active_trades"`
	OpenOrders     []OrderView              `json:"open_orders"`
	RecentDiary    []journal.Entry          `json:"recent_diary"`
	RecentFills    []FillView               `json:"recent_fills"`
}

type PositionView struct {
	Symbol           string  `json:"symbol"`
	Quantity         float64 `json:"quantity"`
	EntryPrice       float64 `json:"entry_price"`
	CurrentPrice     float64 `json:"current_price"`
	LiquidationPrice float64 `json:"liquidation_price"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	Leverage         float64 `json:"leverage"`
}

type OrderView struct {
	Coin         string   `json:"coin"`
	OrderID      string   `json:"oid"`
	IsBuy        bool     `json:"is_buy"`
	Size         float64  `json:"size"`
	Price        float64  `json:"price"`
	TriggerPrice *float64 `json:"trigger_price"`
	OrderType    string   `json:"order_type"`
}

type FillView struct {
	Timestamp string  `json:"timestamp"`
	Coin      string  `json:"coin"`
	IsBuy     bool    `json:"is_buy"`
	Size      float64 `json:"size"`
	Price     float64 `json:"price"`
}

type AssetSection struct {
	Asset                string       `json:"asset"`
	CurrentPrice         float64      `json:"current_price"`
	Intraday             IntradayView `json:"intraday"`
	LongTerm             LongTermView `json:"long_term"`
	OpenInterest         *float64     `json:"open_interest"`
	FundingRate          *float64     `json:"funding_rate"`
	FundingAnnualizedPct *float64     `json:"funding_annualized_pct"`
	RecentMidPrices      []float64    `json:"recent_mid_prices"`
}

type IntradayView struct {
	EMA20  *float64       `json:"ema20"`
	MACD   *float64       `json:"macd"`
	RSI7   *float64       `json:"rsi7"`
	RSI14  *float64       `json:"rsi14"`
	Series IntradaySeries `json:"series"`
}

type IntradaySeries struct {
	EMA20 []float64 `json:"ema20"`
	MACD  []float64 `json:"macd"`
	RSI7  []float64 `json:"rsi7"`
	RSI14 []float64 `json:"rsi14"`
}

type LongTermView struct {
	EMA20      *float64  `json:"ema20"`
	EMA50      *float64  `json:"ema50"`
	ATR3       *float64  `json:"atr3"`
	ATR14      *float64  `json:"atr14"`
	MACDSeries []float64 `json:"macd_series"`
	RSISeries  []float64 `json:"rsi_series"`
}

type Instructions struct {
	Assets      []string `json:"assets"`
	Requirement string   `json:"requirement"`
}

// Prices 返回本轮成功取到价格的资产。
func (d Document) Prices() map[string]float64 {
	out := make(map[string]float64, len(d.MarketData))
	for _, m := range d.MarketData {
		if m.CurrentPrice > 0 {
			out[m.Asset] = m.CurrentPrice
		}
	}
	return out
}

// Build 生成本轮上下文。单个资产的行情失败只会让该资产缺席 market_data。
func (b *ContextBuilder) Build(ctx context.Context, snap Snapshot) (Document, error) {
	now := b.now()
	markets, err := b.marketData(ctx)
	if err != nil {
		return Document{}, err
	}
	doc := Document{
		Invocation: InvocationInfo{
			MinutesSinceStart: round2(now.Sub(b.started).Minutes()),
			CurrentTime:       now.UTC().Format(time.RFC3339),
			InvocationCount:   snap.Invocation,
		},
		MarketData:   markets,
		Instructions: Instructions{Assets: append([]string(nil), b.assets...), Requirement: requirementText},
	}
	doc.Account = b.account(ctx, snap, doc.Prices())
	return doc, nil
}

func (b *ContextBuilder) account(ctx context.Context, snap Snapshot, prices map[string]float64) AccountSection {
	state := snap.State
	totalReturn, ratio := b.trackAccountValue(state.AccountValue)
	acc := AccountSection{
		TotalReturnPct: totalReturn,
		Balance:        round2(state.Balance),
		AccountValue:   round2(state.AccountValue),
		SharpeRatio:    ratio,
		Positions:      make([]PositionView, 0, len(state.Positions)),
		ActiveTrades:   snap.Managed,
		OpenOrders:     make([]OrderView, 0, len(snap.OpenOrders)),
		RecentDiary:    []journal.Entry{},
		RecentFills:    []FillView{},
	}
	if acc.ActiveTrades == nil {
		acc.ActiveTrades = []execution.ManagedTrade{}
	}
	for _, p := range state.Positions {
		if p.Size == 0 {
			continue
		}
		current := p.MarkPrice
		if current <= 0 {
			current = prices[p.Asset]
		}
		acc.Positions = append(acc.Positions, PositionView{
			Symbol:           p.Asset,
			Quantity:         p.Size,
			EntryPrice:       p.EntryPrice,
			CurrentPrice:     current,
			LiquidationPrice: p.LiquidationPrice,
			UnrealizedPnL:    round2(p.UnrealizedPnL),
			Leverage:         p.Leverage,
		})
	}
	for i, o := range snap.OpenOrders {
		if i >= openOrdersLen {
			break
		}
		view := OrderView{
			Coin:      o.Asset,
			OrderID:   o.OrderID,
			IsBuy:     strings.EqualFold(o.Side, "buy"),
			Size:      o.Amount,
			Price:     o.Price,
			OrderType: o.Type,
		}
		if o.TriggerPrice > 0 {
			tp := o.TriggerPrice
			view.TriggerPrice = &tp
		}
		acc.OpenOrders = append(acc.OpenOrders, view)
	}
	if b.diary != nil {
		entries, err := b.diary.Tail(diaryLen)
		if err != nil {
			logger.Warnf("[agent] read diary failed: %v", err)
		} else if entries != nil {
			acc.RecentDiary = entries
		}
	}
	fills, err := b.gw.RecentFills(ctx, fillsFetchLen)
	if err != nil {
		logger.Warnf("[agent] recent fills failed: %v", err)
	}
	for _, f := range indicator.Tail(fills, fillsShownLen) {
		acc.RecentFills = append(acc.RecentFills, FillView{
			Timestamp: f.Time.UTC().Format(time.RFC3339),
			Coin:      f.Asset,
			IsBuy:     strings.EqualFold(f.Side, "buy"),
			Size:      f.Amount,
			Price:     f.Price,
		})
	}
	return acc
}

// trackAccountValue 记录本轮账户价值，返回相对首次观测的收益率与逐轮收益的夏普比率。
func (b *ContextBuilder) trackAccountValue(value float64) (float64, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if value <= 0 {
		return 0, sharpe(b.accountValues)
	}
	if b.initialValue <= 0 {
		b.initialValue = value
	}
	b.accountValues = append(b.accountValues, value)
	return round2((value/b.initialValue - 1) * 100), sharpe(b.accountValues)
}

func sharpe(values []float64) float64 {
	if len(values) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		returns = append(returns, values[i]/values[i-1]-1)
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std == 0 {
		return 0
	}
	return round2(mean / std)
}

func (b *ContextBuilder) marketData(ctx context.Context) ([]AssetSection, error) {
	sections := make([]*AssetSection, len(b.assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, asset := range b.assets {
		g.Go(func() error {
			sec, err := b.assetSection(gctx, asset)
			if err != nil {
				logger.Warnf("[agent] market data %s skipped: %v", asset, err)
				return nil
			}
			sections[i] = &sec
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]AssetSection, 0, len(sections))
	for _, s := range sections {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (b *ContextBuilder) assetSection(ctx context.Context, asset string) (AssetSection, error) {
	price, err := b.gw.CurrentPrice(ctx, asset)
	if err != nil {
		return AssetSection{}, err
	}
	sec := AssetSection{
		Asset:           asset,
		CurrentPrice:    price,
		RecentMidPrices: b.recordPrice(asset, price),
	}
	intraday, err := b.candles.Klines(ctx, asset, intradayInterval, candleLimit)
	if err != nil {
		return AssetSection{}, err
	}
	sec.Intraday = intradayView(intraday)
	longTerm, err := b.candles.Klines(ctx, asset, longTermInterval, candleLimit)
	if err != nil {
		return AssetSection{}, err
	}
	sec.LongTerm = longTermView(longTerm)
	if b.derivs != nil {
		d, err := b.derivs.Derivatives(ctx, asset)
		if err != nil {
			logger.Warnf("[agent] derivatives %s unavailable: %v", asset, err)
		} else {
			oi := round2(d.OpenInterest)
			funding := math.Round(d.FundingRate*1e8) / 1e8
			annual := round2(d.FundingRate * fundingPeriodsPerYear * 100)
			sec.OpenInterest, sec.FundingRate, sec.FundingAnnualizedPct = &oi, &funding, &annual
		}
	}
	return sec, nil
}

// recordPrice 追加价格并返回最近 seriesLen 个。
func (b *ContextBuilder) recordPrice(asset string, price float64) []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := append(b.history[asset], price)
	if len(h) > priceHistoryLen {
		h = h[len(h)-priceHistoryLen:]
	}
	b.history[asset] = h
	return roundAll(indicator.Tail(h, seriesLen))
}

func intradayView(candles []market.Candle) IntradayView {
	_, _, closes, _ := market.Columns(candles)
	ema20 := indicator.EMA(closes, 20)
	macd, _, _ := indicator.MACD(closes)
	rsi7 := indicator.RSI(closes, 7)
	rsi14 := indicator.RSI(closes, 14)
	return IntradayView{
		EMA20: last2(ema20),
		MACD:  last2(macd),
		RSI7:  last2(rsi7),
		RSI14: last2(rsi14),
		Series: IntradaySeries{
			EMA20: roundAll(indicator.Tail(ema20, seriesLen)),
			MACD:  roundAll(indicator.Tail(macd, seriesLen)),
			RSI7:  roundAll(indicator.Tail(rsi7, seriesLen)),
			RSI14: roundAll(indicator.Tail(rsi14, seriesLen)),
		},
	}
}

func longTermView(candles []market.Candle) LongTermView {
	_, _, closes, _ := market.Columns(candles)
	macd, _, _ := indicator.MACD(closes)
	return LongTermView{
		EMA20:      last2(indicator.EMA(closes, 20)),
		EMA50:      last2(indicator.EMA(closes, 50)),
		ATR3:       last2(indicator.ATR(candles, 3)),
		ATR14:      last2(indicator.ATR(candles, 14)),
		MACDSeries: roundAll(indicator.Tail(macd, seriesLen)),
		RSISeries:  roundAll(indicator.Tail(indicator.RSI(closes, 14), seriesLen)),
	}
}

func last2(series []float64) *float64 {
	v := indicator.Last(series)
	if v == nil {
		return nil
	}
	r := round2(*v)
	return &r
}

func roundAll(series []float64) []float64 {
	out := make([]float64, len(series))
	for i, v := range series {
		out[i] = round2(v)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// sortedAssets 仅用于日志输出。
func sortedAssets(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
