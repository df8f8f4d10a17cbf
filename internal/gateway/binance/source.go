package binance

import (
	"context"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2/futures"

	"perpagent/internal/market"
)

const maxHistoryLimit = 1500

// Source 基于 go-binance SDK 实现 market.CandleSource 与 market.DerivativesSource，只访问公开接口。
type Source struct {
	cfg    Config
	client *futures.Client
}

func NewSource(cfg Config) *Source {
	final := cfg.withDefaults()
	return &Source{cfg: final, client: newFuturesClient(final)}
}

func (s *Source) Klines(ctx context.Context, sym, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	clean := s.cfg.exchangeSymbol(sym)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

// Derivatives 获取最新资金费率（例如 0.0001 即 0.01%）与当前持仓量。
func (s *Source) Derivatives(ctx context.Context, sym string) (market.Derivatives, error) {
	clean := s.cfg.exchangeSymbol(sym)
	if clean == "" {
		return market.Derivatives{}, fmt.Errorf("invalid symbol: %s", sym)
	}
	var out market.Derivatives
	res, err := s.client.NewPremiumIndexService().Symbol(clean).Do(ctx)
	if err != nil {
		return out, fmt.Errorf("premium index %s: %w", clean, err)
	}
	for _, entry := range res {
		if entry != nil && strings.EqualFold(entry.Symbol, clean) {
			out.FundingRate = parseFloat(entry.LastFundingRate)
			break
		}
	}
	oi, err := s.client.NewGetOpenInterestService().Symbol(clean).Do(ctx)
	if err != nil {
		return out, fmt.Errorf("open interest %s: %w", clean, err)
	}
	if oi != nil {
		out.OpenInterest = parseFloat(oi.OpenInterest)
	}
	return out, nil
}
