package market

import "context"

// CandleSource 提供历史 K 线，symbol 使用交易所格式（BTCUSDT）。
type CandleSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// Derivatives 是单个合约的资金费率与持仓量快照。
type Derivatives struct {
	FundingRate  float64
	OpenInterest float64
}

// DerivativesSource 提供资金费率与持仓量。
type DerivativesSource interface {
	Derivatives(ctx context.Context, symbol string) (Derivatives, error)
}
