package indicator

import (
	"context"
	"fmt"
	"strings"

	"perpagent/internal/market"
	"perpagent/internal/pkg/maputil"
	"perpagent/internal/pkg/symbol"
)

// Calculator 按需拉取 K 线并计算 fetch_indicator 请求的指标。
type Calculator struct {
	candles    market.CandleSource
	quoteAsset string
}

func NewCalculator(src market.CandleSource, quoteAsset string) *Calculator {
	return &Calculator{candles: src, quoteAsset: quoteAsset}
}

// FetchIndicator 返回 backtrack 根之前的指标值；数据不足时返回 nil 值而非错误。
func (c *Calculator) FetchIndicator(ctx context.Context, q market.IndicatorQuery) (any, error) {
	if q.Backtrack < 0 {
		return nil, fmt.Errorf("backtrack must be >= 0")
	}
	series, err := c.Series(ctx, q, q.Backtrack+1)
	if err != nil {
		return nil, err
	}
	if q.Backtrack >= seriesLen(series) {
		return nil, nil
	}
	return pick(series, seriesLen(series)-1-q.Backtrack), nil
}

// Series 返回最近 results 个指标值（最新在最后）。
func (c *Calculator) Series(ctx context.Context, q market.IndicatorQuery, results int) (any, error) {
	if results <= 0 {
		results = 1
	}
	limit := 100
	if results*3 > limit {
		limit = results * 3
	}
	name := strings.ToLower(strings.TrimSpace(q.Indicator))
	if !Supported(name) {
		return nil, errUnsupported(q.Indicator)
	}
	sym := symbol.Parse(q.Symbol, c.quoteAsset).Binance()
	if sym == "" {
		return nil, fmt.Errorf("invalid symbol %q", q.Symbol)
	}
	candles, err := c.candles.Klines(ctx, sym, q.Interval, limit+minWarmup(name, q))
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s %s: %w", sym, q.Interval, err)
	}
	out, err := Compute(name, candles, q)
	if err != nil {
		return nil, err
	}
	return tailAny(out, results), nil
}

// Supported 列出 fetch_indicator 可计算的指标。
func Supported(name string) bool {
	switch name {
	case "ema", "sma", "rsi", "macd", "macd_signal", "macd_hist", "atr", "bbands", "stoch", "stochastic", "adx":
		return true
	}
	return false
}

// Compute 对一组 K 线计算指定指标，返回 []float64、[]Bands 或 []Stoch。
func Compute(name string, candles []market.Candle, q market.IndicatorQuery) (any, error) {
	_, _, closes, _ := market.Columns(candles)
	period := q.Period
	if period <= 0 {
		period = maputil.Int(q.Params, "period")
	}
	switch name {
	case "ema":
		return EMA(closes, period), nil
	case "sma":
		return SMA(closes, period), nil
	case "rsi":
		return RSI(closes, period), nil
	case "macd":
		m, _, _ := MACD(closes)
		return m, nil
	case "macd_signal":
		_, s, _ := MACD(closes)
		return s, nil
	case "macd_hist":
		_, _, h := MACD(closes)
		return h, nil
	case "atr":
		return ATR(candles, period), nil
	case "bbands":
		return BBands(closes, period, maputil.Float(q.Params, "stddev")), nil
	case "stoch", "stochastic":
		return Stochastic(candles), nil
	case "adx":
		return ADX(candles, period), nil
	default:
		return nil, errUnsupported(name)
	}
}

func minWarmup(name string, q market.IndicatorQuery) int {
	period := q.Period
	if period <= 0 {
		period = maputil.Int(q.Params, "period")
	}
	switch name {
	case "adx":
		return 2 * period
	default:
		return period
	}
}

func seriesLen(series any) int {
	switch s := series.(type) {
	case []float64:
		return len(s)
	case []Bands:
		return len(s)
	case []Stoch:
		return len(s)
	}
	return 0
}

func tailAny(series any, n int) any {
	switch s := series.(type) {
	case []float64:
		return Tail(s, n)
	case []Bands:
		return Tail(s, n)
	case []Stoch:
		return Tail(s, n)
	}
	return series
}

func pick(series any, idx int) any {
	switch s := series.(type) {
	case []float64:
		return s[idx]
	case []Bands:
		return s[idx]
	case []Stoch:
		return s[idx]
	}
	return nil
}
