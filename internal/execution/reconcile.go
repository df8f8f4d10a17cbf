package execution

import (
	"context"

	"perpagent/internal/gateway/exchange"
	"perpagent/internal/journal"
	"perpagent/internal/logger"
	"perpagent/internal/trace"
)

// Reconcile 丢弃交易所既无持仓也无挂单的托管交易（本轮已交易的资产除外）。
// 只删除陈旧条目，从不新增；返回被移除的资产。
func (e *Engine) Reconcile(ctx context.Context, state exchange.UserState, orders []exchange.Order) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	withPosition := make(map[string]struct{}, len(state.Positions))
	for _, p := range state.Positions {
		if p.Size != 0 {
			withPosition[normAsset(p.Asset)] = struct{}{}
		}
	}
	withOrders := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		withOrders[normAsset(o.Asset)] = struct{}{}
	}

	var removed []string
	for _, t := range e.book.List() {
		if _, ok := e.justTraded[t.Asset]; ok {
			continue
		}
		if _, ok := withPosition[t.Asset]; ok {
			continue
		}
		if _, ok := withOrders[t.Asset]; ok {
			continue
		}
		e.book.remove(t.Asset)
		removed = append(removed, t.Asset)
		e.metrics.ReconcileRemoved()
		logger.Infof("[execution] reconciling stale managed trade for %s (no position, no orders)", t.Asset)
		e.appendJournal(ctx, journal.Entry{
			CycleID:  trace.CycleID(ctx),
			Asset:    t.Asset,
			Action:   journal.ActionReconcileClose,
			Reason:   journal.ReasonNoPositionNoOrders,
			OpenedAt: t.OpenedAt,
		})
	}
	if len(removed) > 0 {
		e.persist(ctx)
	}
	return removed
}
