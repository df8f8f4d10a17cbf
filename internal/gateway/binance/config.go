package binance

import (
	"strings"
	"time"
)

const (
	mainnetREST = "https://fapi.binance.com"
	testnetREST = "https://testnet.binancefuture.com"
)

type Config struct {
	RESTBaseURL string
	Testnet     bool
	APIKey      string
	APISecret   string
	HTTPTimeout time.Duration
	QuoteAsset  string
	// Assets 用于按资产拉取成交记录（userTrades 接口要求 symbol）
	Assets []string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" || (out.Testnet && out.RESTBaseURL == mainnetREST) {
		out.RESTBaseURL = mainnetREST
		if out.Testnet {
			out.RESTBaseURL = testnetREST
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.QuoteAsset = strings.ToUpper(strings.TrimSpace(out.QuoteAsset))
	if out.QuoteAsset == "" {
		out.QuoteAsset = "USDT"
	}
	return out
}
