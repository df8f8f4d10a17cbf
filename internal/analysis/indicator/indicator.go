package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"perpagent/internal/market"
)

const (
	defaultEMAPeriod    = 20
	defaultRSIPeriod    = 14
	defaultATRPeriod    = 14
	defaultBBandsPeriod = 20
	defaultADXPeriod    = 14
	macdFast            = 12
	macdSlow            = 26
	macdSignal          = 9
)

// EMA 返回去掉 TA-Lib 预热段后的 EMA 序列。
func EMA(closes []float64, period int) []float64 {
	if period <= 0 {
		period = defaultEMAPeriod
	}
	if len(closes) < period {
		return nil
	}
	return sanitizeSeries(dropLookback(talib.Ema(closes, period), period-1))
}

func SMA(closes []float64, period int) []float64 {
	if period <= 0 {
		period = defaultEMAPeriod
	}
	if len(closes) < period {
		return nil
	}
	return sanitizeSeries(dropLookback(talib.Sma(closes, period), period-1))
}

func RSI(closes []float64, period int) []float64 {
	if period <= 0 {
		period = defaultRSIPeriod
	}
	if len(closes) <= period {
		return nil
	}
	return sanitizeSeries(dropLookback(talib.Rsi(closes, period), period))
}

// MACD 返回 (12,26,9) 的 MACD 线、信号线与柱状图。
func MACD(closes []float64) (macd, signal, hist []float64) {
	lookback := macdSlow - 1 + macdSignal - 1
	if len(closes) <= lookback {
		return nil, nil, nil
	}
	m, s, h := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	return sanitizeSeries(dropLookback(m, lookback)),
		sanitizeSeries(dropLookback(s, lookback)),
		sanitizeSeries(dropLookback(h, lookback))
}

func ATR(candles []market.Candle, period int) []float64 {
	if period <= 0 {
		period = defaultATRPeriod
	}
	if len(candles) <= period {
		return nil
	}
	highs, lows, closes, _ := market.Columns(candles)
	return sanitizeSeries(dropLookback(talib.Atr(highs, lows, closes, period), period))
}

// Bands 是布林带单点取值。
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

func BBands(closes []float64, period int, dev float64) []Bands {
	if period <= 0 {
		period = defaultBBandsPeriod
	}
	if dev <= 0 {
		dev = 2
	}
	if len(closes) < period {
		return nil
	}
	up, mid, lo := talib.BBands(closes, period, dev, dev, talib.SMA)
	up, mid, lo = dropLookback(up, period-1), dropLookback(mid, period-1), dropLookback(lo, period-1)
	out := make([]Bands, 0, len(mid))
	for i := range mid {
		if !finite(up[i]) || !finite(mid[i]) || !finite(lo[i]) {
			continue
		}
		out = append(out, Bands{Upper: round4(up[i]), Middle: round4(mid[i]), Lower: round4(lo[i])})
	}
	return out
}

// Stoch 是随机指标单点取值。
type Stoch struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

func Stochastic(candles []market.Candle) []Stoch {
	const lookback = (14 - 1) + (3 - 1) + (3 - 1)
	if len(candles) <= lookback {
		return nil
	}
	highs, lows, closes, _ := market.Columns(candles)
	k, d := talib.Stoch(highs, lows, closes, 14, 3, talib.SMA, 3, talib.SMA)
	k, d = dropLookback(k, lookback), dropLookback(d, lookback)
	out := make([]Stoch, 0, len(k))
	for i := range k {
		if !finite(k[i]) || !finite(d[i]) {
			continue
		}
		out = append(out, Stoch{K: round4(k[i]), D: round4(d[i])})
	}
	return out
}

func ADX(candles []market.Candle, period int) []float64 {
	if period <= 0 {
		period = defaultADXPeriod
	}
	lookback := 2*period - 1
	if len(candles) <= lookback {
		return nil
	}
	highs, lows, closes, _ := market.Columns(candles)
	return sanitizeSeries(dropLookback(talib.Adx(highs, lows, closes, period), lookback))
}

// Tail 返回序列最后 n 个值。
func Tail[T any](series []T, n int) []T {
	if n <= 0 || len(series) <= n {
		return series
	}
	return series[len(series)-n:]
}

// Last 返回序列最新值，空序列返回 nil。
func Last(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	return &v
}

func dropLookback(series []float64, lookback int) []float64 {
	if lookback <= 0 {
		return series
	}
	if lookback >= len(series) {
		return nil
	}
	return series[lookback:]
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if !finite(v) {
			continue
		}
		out = append(out, round4(v))
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func errUnsupported(name string) error {
	return fmt.Errorf("unsupported indicator: %s", name)
}
