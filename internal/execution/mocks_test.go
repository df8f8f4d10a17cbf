package execution

import (
	"context"
	"math"
	"sync"

	"github.com/stretchr/testify/mock"

	"perpagent/internal/gateway/exchange"
	"perpagent/internal/journal"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) UserState(ctx context.Context) (exchange.UserState, error) {
	args := m.Called(ctx)
	return args.Get(0).(exchange.UserState), args.Error(1)
}

func (m *MockGateway) CurrentPrice(ctx context.Context, asset string) (float64, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockGateway) PlaceBuyOrder(ctx context.Context, asset string, amount, slippage float64) (exchange.OrderResult, error) {
	args := m.Called(ctx, asset, amount, slippage)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

func (m *MockGateway) PlaceSellOrder(ctx context.Context, asset string, amount, slippage float64) (exchange.OrderResult, error) {
	args := m.Called(ctx, asset, amount, slippage)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

func (m *MockGateway) PlaceTakeProfit(ctx context.Context, asset string, isBuy bool, amount, price float64) (string, error) {
	args := m.Called(ctx, asset, isBuy, amount, price)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) PlaceStopLoss(ctx context.Context, asset string, isBuy bool, amount, price float64) (string, error) {
	args := m.Called(ctx, asset, isBuy, amount, price)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) OpenOrders(ctx context.Context) ([]exchange.Order, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.Order), args.Error(1)
}

func (m *MockGateway) RecentFills(ctx context.Context, limit int) ([]exchange.Fill, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.Fill), args.Error(1)
}

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *memJournal) Append(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) all() []journal.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Entry(nil), j.entries...)
}

type memSnapshots struct {
	saved  [][]ManagedTrade
	loaded []ManagedTrade
}

func (s *memSnapshots) SaveManaged(_ context.Context, trades []ManagedTrade) error {
	s.saved = append(s.saved, trades)
	return nil
}

func (s *memSnapshots) LoadManaged(context.Context) ([]ManagedTrade, error) {
	return s.loaded, nil
}

func approx(want float64) any {
	return mock.MatchedBy(func(got float64) bool { return math.Abs(got-want) < 1e-12 })
}
