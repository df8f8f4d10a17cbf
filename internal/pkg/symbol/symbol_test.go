package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	assert.Equal(t, Symbol{Base: "BTC", Quote: "USDT"}, Parse("btc/usdt", "USDC"))
	assert.Equal(t, Symbol{Base: "ETH", Quote: "USDT"}, Parse("ETHUSDT", "USDC"))
	assert.Equal(t, Symbol{Base: "SOL", Quote: "USDT"}, Parse("SOL/USDT:USDT", ""))
	assert.Equal(t, Symbol{Base: "BTC", Quote: "USDT"}, Parse("BTC", "usdt"))
	assert.Equal(t, "BTCUSDT", Parse("BTC", "USDT").Binance())
	assert.Equal(t, "BTC/USDT", Parse("BTCUSDT", "").Internal())
	assert.Equal(t, Symbol{}, Parse("  ", "USDT"))
}

func TestAssetFromExchange(t *testing.T) {
	assert.Equal(t, "BTC", AssetFromExchange("BTCUSDT"))
	assert.Equal(t, "1000PEPE", AssetFromExchange("1000PEPEUSDT"))
}
