package symbol

import (
	"strings"
)

var knownQuotes = []string{"USDT", "USDC", "BUSD", "FDUSD"}

// Symbol 表示一个交易对。资产（如 BTC）是系统内部的主键，交易所侧使用 BTCUSDT。
type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse 接受 "BTC/USDT"、"BTCUSDT"、"BTC/USDT:USDT" 或裸资产 "BTC"（使用 defaultQuote）。
func Parse(s, defaultQuote string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	defaultQuote = strings.ToUpper(strings.TrimSpace(defaultQuote))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{Base: strings.TrimSpace(parts[0]), Quote: strings.TrimSpace(parts[1])}
	}
	for _, quote := range knownQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{Base: s, Quote: defaultQuote}
}

// AssetFromExchange 把 BTCUSDT 还原为 BTC。
func AssetFromExchange(raw string) string {
	return Parse(raw, "").Base
}
