package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"perpagent/internal/decision"
	"perpagent/internal/gateway/exchange"
	"perpagent/internal/journal"
	"perpagent/internal/market"
)

// fakeGateway 模拟交易所：市价单立即全部成交，触发单返回递增的 oid。
type fakeGateway struct {
	mu        sync.Mutex
	state     exchange.UserState
	stateErr  error
	prices    map[string]float64
	orders    []exchange.Order
	ordersErr error
	fills     []exchange.Fill
	placed    []string
	nextID    int
}

func (f *fakeGateway) Name() string { return "fake" }

func (f *fakeGateway) UserState(context.Context) (exchange.UserState, error) {
	return f.state, f.stateErr
}

func (f *fakeGateway) CurrentPrice(_ context.Context, asset string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[asset]
	if !ok {
		return 0, fmt.Errorf("no price for %s", asset)
	}
	return p, nil
}

func (f *fakeGateway) order(kind, asset string, amount float64) (exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.placed = append(f.placed, kind+":"+asset)
	return exchange.OrderResult{OrderID: fmt.Sprint(f.nextID), Status: "FILLED", Amount: amount, FilledAmount: amount}, nil
}

func (f *fakeGateway) PlaceBuyOrder(_ context.Context, asset string, amount, _ float64) (exchange.OrderResult, error) {
	return f.order("buy", asset, amount)
}

func (f *fakeGateway) PlaceSellOrder(_ context.Context, asset string, amount, _ float64) (exchange.OrderResult, error) {
	return f.order("sell", asset, amount)
}

func (f *fakeGateway) PlaceTakeProfit(_ context.Context, asset string, _ bool, amount, _ float64) (string, error) {
	res, err := f.order("tp", asset, amount)
	return res.OrderID, err
}

func (f *fakeGateway) PlaceStopLoss(_ context.Context, asset string, _ bool, amount, _ float64) (string, error) {
	res, err := f.order("sl", asset, amount)
	return res.OrderID, err
}

func (f *fakeGateway) OpenOrders(context.Context) ([]exchange.Order, error) {
	return f.orders, f.ordersErr
}

func (f *fakeGateway) RecentFills(_ context.Context, limit int) ([]exchange.Fill, error) {
	if len(f.fills) > limit {
		return f.fills[len(f.fills)-limit:], nil
	}
	return f.fills, nil
}

func (f *fakeGateway) placedOrders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.placed...)
}

// fakeCandles 为每个资产返回单调上涨的 K 线。
type fakeCandles struct {
	missing map[string]bool
}

func (f *fakeCandles) Klines(_ context.Context, sym, _ string, limit int) ([]market.Candle, error) {
	if f.missing[sym] {
		return nil, fmt.Errorf("no klines for %s", sym)
	}
	out := make([]market.Candle, limit)
	for i := range out {
		price := 100 + float64(i)
		out[i] = market.Candle{OpenTime: int64(i), Open: price - 0.5, High: price + 1, Low: price - 1, Close: price, Volume: 10}
	}
	return out, nil
}

type fakeDerivs struct{}

func (fakeDerivs) Derivatives(context.Context, string) (market.Derivatives, error) {
	return market.Derivatives{FundingRate: 0.0001, OpenInterest: 12345.678}, nil
}

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memJournal) Append(_ context.Context, e journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Timestamp = time.Now().UTC()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memJournal) Tail(n int) ([]journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) > n {
		return append([]journal.Entry(nil), m.entries[len(m.entries)-n:]...), nil
	}
	return append([]journal.Entry(nil), m.entries...), nil
}

func (m *memJournal) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type mockDecider struct {
	mock.Mock
}

func (m *mockDecider) Decide(ctx context.Context, assets []string, prompt string) (decision.Batch, error) {
	args := m.Called(ctx, assets, prompt)
	return args.Get(0).(decision.Batch), args.Error(1)
}
