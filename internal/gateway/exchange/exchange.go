package exchange

import "context"

// Gateway is the exchange surface used by the execution engine.
type Gateway interface {
	Name() string

	UserState(ctx context.Context) (UserState, error)

	CurrentPrice(ctx context.Context, asset string) (float64, error)

	// PlaceBuyOrder / PlaceSellOrder submit an immediate order of amount (base units).
	// slippage > 0 bounds the execution price; 0 means a plain market order.
	PlaceBuyOrder(ctx context.Context, asset string, amount, slippage float64) (OrderResult, error)
	PlaceSellOrder(ctx context.Context, asset string, amount, slippage float64) (OrderResult, error)

	// PlaceTakeProfit / PlaceStopLoss submit reduce-only triggers protecting a position
	// opened in direction isBuy.
	PlaceTakeProfit(ctx context.Context, asset string, isBuy bool, amount, price float64) (string, error)
	PlaceStopLoss(ctx context.Context, asset string, isBuy bool, amount, price float64) (string, error)

	OpenOrders(ctx context.Context) ([]Order, error)

	RecentFills(ctx context.Context, limit int) ([]Fill, error)
}
