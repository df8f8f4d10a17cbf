package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedOrder struct {
	path   string
	values url.Values
}

type fakeFutures struct {
	mu     sync.Mutex
	orders []recordedOrder
}

func (f *fakeFutures) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := r.URL.Path
		switch {
		case strings.Contains(path, "exchangeInfo"):
			_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
				{"filterType":"PRICE_FILTER","minPrice":"0.10","maxPrice":"1000000","tickSize":"0.10"},
				{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"}]}]}`))
		case strings.Contains(path, "account"):
			_, _ = w.Write([]byte(`{"totalWalletBalance":"1000.5","totalMarginBalance":"1010.25","availableBalance":"900","totalUnrealizedProfit":"9.75","assets":[],"positions":[]}`))
		case strings.Contains(path, "positionRisk"):
			_, _ = w.Write([]byte(`[
				{"symbol":"BTCUSDT","positionAmt":"-0.010","entryPrice":"70000","markPrice":"69000","unRealizedProfit":"10","liquidationPrice":"90000","leverage":"5"},
				{"symbol":"ETHUSDT","positionAmt":"0.000","entryPrice":"0","markPrice":"3500","unRealizedProfit":"0","liquidationPrice":"0","leverage":"5"}]`))
		case strings.Contains(path, "ticker/price"):
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"70000.00","time":1}`))
		case strings.Contains(path, "openOrders"):
			_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","orderId":11,"side":"BUY","type":"TAKE_PROFIT_MARKET","origQty":"0.010","price":"0","stopPrice":"68000","reduceOnly":true}]`))
		case strings.Contains(path, "userTrades"):
			sym := r.URL.Query().Get("symbol")
			if sym == "BTCUSDT" {
				_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","orderId":5,"side":"SELL","price":"70000","qty":"0.01","time":2000}]`))
				return
			}
			_, _ = w.Write([]byte(`[{"symbol":"ETHUSDT","orderId":6,"side":"BUY","price":"3500","qty":"1","time":1000}]`))
		case strings.Contains(path, "order"):
			require.NoError(t, r.ParseForm())
			f.mu.Lock()
			f.orders = append(f.orders, recordedOrder{path: path, values: r.Form})
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"status":"FILLED","executedQty":"0.001","avgPrice":"70000"}`))
		default:
			http.NotFound(w, r)
		}
	}
}

func (f *fakeFutures) lastOrder(t *testing.T) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.orders)
	return f.orders[len(f.orders)-1].values
}

func newTestGateway(t *testing.T) (*Gateway, *fakeFutures) {
	t.Helper()
	fake := &fakeFutures{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	gw, err := NewGateway(Config{
		RESTBaseURL: srv.URL,
		APIKey:      "key",
		APISecret:   "secret",
		Assets:      []string{"BTC", "ETH"},
	})
	require.NoError(t, err)
	return gw, fake
}

func TestNewGateway_RequiresCredentials(t *testing.T) {
	_, err := NewGateway(Config{})
	require.Error(t, err)
}

func TestGateway_UserState(t *testing.T) {
	gw, _ := newTestGateway(t)
	state, err := gw.UserState(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 1000.5, state.Balance, 1e-9)
	assert.InDelta(t, 1010.25, state.AccountValue, 1e-9)
	require.Len(t, state.Positions, 1, "zero-size positions are skipped")
	pos := state.Positions[0]
	assert.Equal(t, "BTC", pos.Asset)
	assert.InDelta(t, -0.01, pos.Size, 1e-12)
	assert.False(t, pos.IsLong())
	assert.InDelta(t, 5, pos.Leverage, 1e-9)
}

func TestGateway_CurrentPrice(t *testing.T) {
	gw, _ := newTestGateway(t)
	price, err := gw.CurrentPrice(context.Background(), "btc")
	require.NoError(t, err)
	assert.InDelta(t, 70000, price, 1e-9)
}

func TestGateway_MarketOrderRoundsToStep(t *testing.T) {
	gw, fake := newTestGateway(t)
	res, err := gw.PlaceBuyOrder(context.Background(), "BTC", 0.0017142857, 0)
	require.NoError(t, err)

	form := fake.lastOrder(t)
	assert.Equal(t, "BTCUSDT", form.Get("symbol"))
	assert.Equal(t, "BUY", form.Get("side"))
	assert.Equal(t, "MARKET", form.Get("type"))
	assert.Equal(t, "0.001", form.Get("quantity"))
	assert.Equal(t, "42", res.OrderID)
	assert.InDelta(t, 0.001, res.FilledAmount, 1e-12)
}

func TestGateway_SlippageUsesIOCLimit(t *testing.T) {
	gw, fake := newTestGateway(t)
	_, err := gw.PlaceSellOrder(context.Background(), "BTC", 0.01, 0.05)
	require.NoError(t, err)

	form := fake.lastOrder(t)
	assert.Equal(t, "SELL", form.Get("side"))
	assert.Equal(t, "LIMIT", form.Get("type"))
	assert.Equal(t, "IOC", form.Get("timeInForce"))
	assert.Equal(t, "66500", form.Get("price"))
}

func TestGateway_QuantityBelowStepIsRejected(t *testing.T) {
	gw, fake := newTestGateway(t)
	_, err := gw.PlaceBuyOrder(context.Background(), "BTC", 0.0001, 0)
	require.Error(t, err)
	assert.Empty(t, fake.orders)
}

func TestGateway_TriggersAreReduceOnlyOppositeSide(t *testing.T) {
	gw, fake := newTestGateway(t)

	id, err := gw.PlaceTakeProfit(context.Background(), "BTC", true, 0.002, 71000.04)
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	form := fake.lastOrder(t)
	assert.Equal(t, "SELL", form.Get("side"))
	assert.Equal(t, "TAKE_PROFIT_MARKET", form.Get("type"))
	assert.Equal(t, "71000", form.Get("stopPrice"))
	assert.Equal(t, "true", form.Get("reduceOnly"))

	_, err = gw.PlaceStopLoss(context.Background(), "BTC", false, 0.002, 72000)
	require.NoError(t, err)
	form = fake.lastOrder(t)
	assert.Equal(t, "BUY", form.Get("side"))
	assert.Equal(t, "STOP_MARKET", form.Get("type"))

	_, err = gw.PlaceStopLoss(context.Background(), "BTC", true, 0.002, 0)
	require.Error(t, err)
}

func TestGateway_OpenOrdersAndFills(t *testing.T) {
	gw, _ := newTestGateway(t)

	orders, err := gw.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "BTC", orders[0].Asset)
	assert.Equal(t, "buy", orders[0].Side)
	assert.True(t, orders[0].ReduceOnly)
	assert.InDelta(t, 68000, orders[0].TriggerPrice, 1e-9)

	fills, err := gw.RecentFills(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "ETH", fills[0].Asset, "oldest first")
	assert.Equal(t, "BTC", fills[1].Asset)

	fills, err = gw.RecentFills(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "5", fills[0].OrderID)
}
