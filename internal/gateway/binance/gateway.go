package binance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/sync/errgroup"

	"perpagent/internal/gateway/exchange"
	"perpagent/internal/logger"
	"perpagent/internal/pkg/symbol"
)

// Gateway 基于 go-binance 的 USDⓈ-M 合约实现 exchange.Gateway（单向持仓模式）。
type Gateway struct {
	cfg     Config
	client  *futures.Client
	filters filterCache
}

func NewGateway(cfg Config) (*Gateway, error) {
	final := cfg.withDefaults()
	if strings.TrimSpace(final.APIKey) == "" || strings.TrimSpace(final.APISecret) == "" {
		return nil, fmt.Errorf("binance api key/secret required")
	}
	return &Gateway{cfg: final, client: newFuturesClient(final)}, nil
}

func (g *Gateway) Name() string { return "binance" }

func (g *Gateway) UserState(ctx context.Context) (exchange.UserState, error) {
	var (
		state exchange.UserState
		risks []*futures.PositionRisk
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		acct, err := g.client.NewGetAccountService().Do(egCtx)
		if err != nil {
			return fmt.Errorf("account: %w", err)
		}
		state.Balance = parseFloat(acct.TotalWalletBalance)
		state.AccountValue = parseFloat(acct.TotalMarginBalance)
		state.Available = parseFloat(acct.AvailableBalance)
		return nil
	})
	eg.Go(func() (err error) {
		risks, err = g.client.NewGetPositionRiskService().Do(egCtx)
		if err != nil {
			return fmt.Errorf("position risk: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return exchange.UserState{}, err
	}
	for _, r := range risks {
		if r == nil {
			continue
		}
		size := parseFloat(r.PositionAmt)
		if size == 0 {
			continue
		}
		state.Positions = append(state.Positions, exchange.Position{
			Asset:            symbol.AssetFromExchange(r.Symbol),
			Size:             size,
			EntryPrice:       parseFloat(r.EntryPrice),
			MarkPrice:        parseFloat(r.MarkPrice),
			UnrealizedPnL:    parseFloat(r.UnRealizedProfit),
			LiquidationPrice: parseFloat(r.LiquidationPrice),
			Leverage:         parseFloat(r.Leverage),
		})
	}
	return state, nil
}

func (g *Gateway) CurrentPrice(ctx context.Context, asset string) (float64, error) {
	sym := g.cfg.exchangeSymbol(asset)
	prices, err := g.client.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ticker %s: %w", sym, err)
	}
	for _, p := range prices {
		if p != nil && p.Symbol == sym {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("price not available for %s", sym)
}

func (g *Gateway) PlaceBuyOrder(ctx context.Context, asset string, amount, slippage float64) (exchange.OrderResult, error) {
	return g.placeOrder(ctx, asset, futures.SideTypeBuy, amount, slippage)
}

func (g *Gateway) PlaceSellOrder(ctx context.Context, asset string, amount, slippage float64) (exchange.OrderResult, error) {
	return g.placeOrder(ctx, asset, futures.SideTypeSell, amount, slippage)
}

// placeOrder 在 slippage > 0 时使用 IOC 限价单限定成交价，否则直接市价单。
func (g *Gateway) placeOrder(ctx context.Context, asset string, side futures.SideType, amount, slippage float64) (exchange.OrderResult, error) {
	sym := g.cfg.exchangeSymbol(asset)
	filter, err := g.filters.get(ctx, g.client, sym)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	qty := filter.roundQuantity(amount)
	if !qty.IsPositive() {
		return exchange.OrderResult{}, fmt.Errorf("quantity %.8f below step size %s for %s", amount, filter.StepSize, sym)
	}
	svc := g.client.NewCreateOrderService().Symbol(sym).Side(side).Quantity(qty.String())
	if slippage > 0 {
		price, err := g.CurrentPrice(ctx, asset)
		if err != nil {
			return exchange.OrderResult{}, err
		}
		limit := price * (1 + slippage)
		if side == futures.SideTypeSell {
			limit = price * (1 - slippage)
		}
		svc = svc.Type(futures.OrderTypeLimit).TimeInForce(futures.TimeInForceTypeIOC).Price(filter.roundPrice(limit).String())
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("create %s order %s: %w", strings.ToLower(string(side)), sym, err)
	}
	q, _ := qty.Float64()
	logger.Infof("[binance] %s %s qty=%s order=%d status=%s", side, sym, qty, resp.OrderID, resp.Status)
	return exchange.OrderResult{
		OrderID:      strconv.FormatInt(resp.OrderID, 10),
		Status:       string(resp.Status),
		Amount:       q,
		FilledAmount: parseFloat(resp.ExecutedQuantity),
		AvgPrice:     parseFloat(resp.AvgPrice),
	}, nil
}

func (g *Gateway) PlaceTakeProfit(ctx context.Context, asset string, isBuy bool, amount, price float64) (string, error) {
	return g.placeTrigger(ctx, asset, isBuy, amount, price, futures.OrderTypeTakeProfitMarket)
}

func (g *Gateway) PlaceStopLoss(ctx context.Context, asset string, isBuy bool, amount, price float64) (string, error) {
	return g.placeTrigger(ctx, asset, isBuy, amount, price, futures.OrderTypeStopMarket)
}

// placeTrigger 下 reduce-only 触发单，方向与开仓方向相反。
func (g *Gateway) placeTrigger(ctx context.Context, asset string, isBuy bool, amount, price float64, typ futures.OrderType) (string, error) {
	if price <= 0 || math.IsNaN(price) {
		return "", fmt.Errorf("invalid trigger price %v", price)
	}
	sym := g.cfg.exchangeSymbol(asset)
	filter, err := g.filters.get(ctx, g.client, sym)
	if err != nil {
		return "", err
	}
	qty := filter.roundQuantity(amount)
	if !qty.IsPositive() {
		return "", fmt.Errorf("quantity %.8f below step size for %s", amount, sym)
	}
	side := futures.SideTypeSell
	if !isBuy {
		side = futures.SideTypeBuy
	}
	resp, err := g.client.NewCreateOrderService().
		Symbol(sym).
		Side(side).
		Type(typ).
		Quantity(qty.String()).
		StopPrice(filter.roundPrice(price).String()).
		ReduceOnly(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("create %s %s: %w", typ, sym, err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

func (g *Gateway) OpenOrders(ctx context.Context) ([]exchange.Order, error) {
	orders, err := g.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	out := make([]exchange.Order, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		out = append(out, exchange.Order{
			Asset:        symbol.AssetFromExchange(o.Symbol),
			OrderID:      strconv.FormatInt(o.OrderID, 10),
			Side:         strings.ToLower(string(o.Side)),
			Type:         string(o.Type),
			Amount:       parseFloat(o.OrigQuantity),
			Price:        parseFloat(o.Price),
			TriggerPrice: parseFloat(o.StopPrice),
			ReduceOnly:   o.ReduceOnly,
		})
	}
	return out, nil
}

// RecentFills 逐个资产查询成交并按时间合并，返回最近 limit 条（最新在最后）。
func (g *Gateway) RecentFills(ctx context.Context, limit int) ([]exchange.Fill, error) {
	if limit <= 0 {
		limit = 10
	}
	var (
		mu  sync.Mutex
		all []exchange.Fill
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, asset := range g.cfg.Assets {
		asset := asset
		eg.Go(func() error {
			sym := g.cfg.exchangeSymbol(asset)
			trades, err := g.client.NewListAccountTradeService().Symbol(sym).Limit(limit).Do(egCtx)
			if err != nil {
				return fmt.Errorf("user trades %s: %w", sym, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, t := range trades {
				if t == nil {
					continue
				}
				all = append(all, exchange.Fill{
					Asset:   asset,
					OrderID: strconv.FormatInt(t.OrderID, 10),
					Side:    strings.ToLower(string(t.Side)),
					Price:   parseFloat(t.Price),
					Amount:  parseFloat(t.Quantity),
					Time:    time.UnixMilli(t.Time),
				})
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	sortFills(all)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func sortFills(fills []exchange.Fill) {
	sort.SliceStable(fills, func(i, j int) bool { return fills[i].Time.Before(fills[j].Time) })
}
