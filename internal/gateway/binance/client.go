package binance

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"

	"perpagent/internal/pkg/symbol"
)

func newFuturesClient(cfg Config) *futures.Client {
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	client.BaseURL = cfg.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	return client
}

func (c Config) exchangeSymbol(asset string) string {
	return symbol.Parse(asset, c.QuoteAsset).Binance()
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
