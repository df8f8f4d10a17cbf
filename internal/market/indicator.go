package market

import "context"

// IndicatorQuery 对应 fetch_indicator 工具的一次调用。
type IndicatorQuery struct {
	Indicator string
	Symbol    string // BTC/USDT 或 BTCUSDT
	Interval  string
	Period    int // 0 表示使用指标默认周期
	Backtrack int // 向前回看的 K 线根数，0 表示最新一根
	Params    map[string]any
}

// IndicatorSource 按需计算单个指标；值可能是数字、对象（如布林带）或 nil（数据不足）。
type IndicatorSource interface {
	FetchIndicator(ctx context.Context, q IndicatorQuery) (any, error)
}
