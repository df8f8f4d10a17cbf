package binance

import (
	"context"
	"fmt"
	"sync"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// symbolFilter 保存交易对的下单精度。
type symbolFilter struct {
	StepSize decimal.Decimal
	TickSize decimal.Decimal
}

// roundQuantity 向下取整到 stepSize，避免超出可用仓位。
func (f symbolFilter) roundQuantity(qty float64) decimal.Decimal {
	return floorToStep(decimal.NewFromFloat(qty), f.StepSize)
}

// roundPrice 四舍五入到 tickSize。
func (f symbolFilter) roundPrice(price float64) decimal.Decimal {
	d := decimal.NewFromFloat(price)
	if f.TickSize.IsZero() {
		return d
	}
	return d.DivRound(f.TickSize, 0).Mul(f.TickSize)
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

type filterCache struct {
	mu      sync.Mutex
	filters map[string]symbolFilter
}

func (c *filterCache) get(ctx context.Context, client *futures.Client, sym string) (symbolFilter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.filters[sym]; ok {
		return f, nil
	}
	info, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return symbolFilter{}, fmt.Errorf("exchange info: %w", err)
	}
	if c.filters == nil {
		c.filters = make(map[string]symbolFilter, len(info.Symbols))
	}
	for _, s := range info.Symbols {
		var f symbolFilter
		if lot := s.LotSizeFilter(); lot != nil {
			f.StepSize, _ = decimal.NewFromString(lot.StepSize)
		}
		if pf := s.PriceFilter(); pf != nil {
			f.TickSize, _ = decimal.NewFromString(pf.TickSize)
		}
		c.filters[s.Symbol] = f
	}
	f, ok := c.filters[sym]
	if !ok {
		return symbolFilter{}, fmt.Errorf("symbol %s not listed", sym)
	}
	return f, nil
}
