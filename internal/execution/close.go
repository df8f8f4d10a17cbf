package execution

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"perpagent/internal/gateway/exchange"
	"perpagent/internal/journal"
	"perpagent/internal/logger"
)

// CloseResult 描述一次手动平仓。
type CloseResult struct {
	Asset   string  `json:"coin"`
	Size    float64 `json:"size"`
	Side    string  `json:"side"`
	Success bool    `json:"success"`
	OrderID string  `json:"order_id,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// CloseAll 并行平掉所有非零持仓。单个资产失败记录在结果中，不影响其他资产。
// 托管集合不在这里修改，由下一轮对账清理。
func (e *Engine) CloseAll(ctx context.Context) ([]CloseResult, error) {
	state, err := e.gw.UserState(ctx)
	if err != nil {
		return nil, fmt.Errorf("user state: %w", err)
	}
	var active []exchange.Position
	for _, p := range state.Positions {
		if p.Size != 0 {
			active = append(active, p)
		}
	}
	results := make([]CloseResult, len(active))
	var g errgroup.Group
	for i, p := range active {
		i, p := i, p
		g.Go(func() error {
			results[i] = e.closeOne(ctx, p.Asset, p.IsLong(), math.Abs(p.Size))
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// ClosePosition 按请求平掉一个资产。side 为 LONG/SHORT，为空时按 size 符号判断方向。
func (e *Engine) ClosePosition(ctx context.Context, asset, side string, size float64) (CloseResult, error) {
	asset = normAsset(asset)
	if asset == "" || size == 0 {
		return CloseResult{}, fmt.Errorf("missing asset or size")
	}
	isLong := size > 0
	if s := strings.TrimSpace(side); s != "" {
		isLong = strings.EqualFold(s, "LONG")
	}
	res := e.closeOne(ctx, asset, isLong, math.Abs(size))
	if !res.Success {
		return res, fmt.Errorf("close %s: %s", asset, res.Error)
	}
	return res, nil
}

func (e *Engine) closeOne(ctx context.Context, asset string, isLong bool, size float64) CloseResult {
	res := CloseResult{Asset: asset, Size: size, Side: "SHORT"}
	if isLong {
		res.Side = "LONG"
	}
	var (
		order exchange.OrderResult
		err   error
	)
	if isLong {
		order, err = e.gw.PlaceSellOrder(ctx, asset, size, e.opts.CloseSlippage)
	} else {
		order, err = e.gw.PlaceBuyOrder(ctx, asset, size, e.opts.CloseSlippage)
	}
	entry := journal.Entry{
		Asset:  asset,
		Action: journal.ActionManualClose,
		Kind:   KindClose,
		Amount: size,
		Reason: strings.ToLower(res.Side),
	}
	if err != nil {
		e.metrics.Order(asset, "manual_close", "error")
		logger.Errorf("[execution] failed to close %s: %v", asset, err)
		res.Error = err.Error()
		entry.Error = res.Error
	} else {
		e.metrics.Order(asset, "manual_close", "ok")
		logger.Infof("[execution] closed %s position: %s %v", asset, res.Side, size)
		res.Success = true
		res.OrderID = order.OrderID
		entry.OrderID = order.OrderID
	}
	e.appendJournal(ctx, entry)
	return res
}
