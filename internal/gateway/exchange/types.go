// Package exchange defines the perpetual-futures gateway consumed by the execution engine.
// Assets are bare tickers ("BTC"); implementations map them to exchange symbols.
package exchange

import (
	"time"
)

// Position is one open perpetual position. Size is signed: >0 long, <0 short.
type Position struct {
	Asset            string  `json:"asset"`
	Size             float64 `json:"size"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	LiquidationPrice float64 `json:"liquidation_price"`
	Leverage         float64 `json:"leverage"`
}

func (p Position) IsLong() bool { return p.Size > 0 }

// UserState is the account snapshot taken at the start of a cycle.
type UserState struct {
	Balance      float64    `json:"balance"`       // wallet balance in quote currency
	AccountValue float64    `json:"account_value"` // balance + unrealized PnL
	Available    float64    `json:"available"`
	Positions    []Position `json:"positions"`
}

// Position returns the non-zero position for asset, if any.
func (s UserState) Position(asset string) (Position, bool) {
	for _, p := range s.Positions {
		if p.Asset == asset && p.Size != 0 {
			return p, true
		}
	}
	return Position{}, false
}

// Order is a resting (or trigger) order reported by the exchange.
type Order struct {
	Asset        string  `json:"asset"`
	OrderID      string  `json:"order_id"`
	Side         string  `json:"side"` // "buy" | "sell"
	Type         string  `json:"type"`
	Amount       float64 `json:"amount"`
	Price        float64 `json:"price,omitempty"`
	TriggerPrice float64 `json:"trigger_price,omitempty"`
	ReduceOnly   bool    `json:"reduce_only"`
}

// Fill is one executed trade.
type Fill struct {
	Asset   string    `json:"asset"`
	OrderID string    `json:"order_id"`
	Side    string    `json:"side"`
	Price   float64   `json:"price"`
	Amount  float64   `json:"amount"`
	Time    time.Time `json:"time"`
}

// OrderResult is the exchange acknowledgement for a submitted order.
type OrderResult struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	Amount       float64 `json:"amount"` // quantity after step-size rounding
	FilledAmount float64 `json:"filled_amount"`
	AvgPrice     float64 `json:"avg_price"`
}
