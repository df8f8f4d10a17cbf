package gateway

import (
	"fmt"
	"strings"
	"time"

	"perpagent/internal/config"
	"perpagent/internal/gateway/binance"
	"perpagent/internal/gateway/exchange"
	"perpagent/internal/market"
)

// Exchange 汇总同一交易所连接提供的三种能力。
type Exchange struct {
	Gateway exchange.Gateway
	Candles market.CandleSource
	Derivs  market.DerivativesSource
}

// NewFromConfig 按 exchange.name 构建交易网关与行情源。
func NewFromConfig(cfg *config.Config) (Exchange, error) {
	if cfg == nil {
		return Exchange{}, fmt.Errorf("nil config")
	}
	ex := cfg.Exchange
	switch strings.ToLower(strings.TrimSpace(ex.Name)) {
	case "", "binance", "binance-futures":
		bcfg := binance.Config{
			RESTBaseURL: ex.RESTBaseURL,
			Testnet:     ex.Testnet,
			APIKey:      ex.APIKey,
			APISecret:   ex.APISecret,
			HTTPTimeout: time.Duration(ex.HTTPTimeoutSeconds) * time.Second,
			QuoteAsset:  cfg.Trading.QuoteAsset,
			Assets:      cfg.Trading.NormalizedAssets(),
		}
		gw, err := binance.NewGateway(bcfg)
		if err != nil {
			return Exchange{}, err
		}
		src := binance.NewSource(bcfg)
		return Exchange{Gateway: gw, Candles: src, Derivs: src}, nil
	default:
		return Exchange{}, fmt.Errorf("unsupported exchange: %s", ex.Name)
	}
}
