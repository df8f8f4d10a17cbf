// Package execution 把决策批次转换为交易所操作，并维护托管交易集合与日志。
package execution

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"perpagent/internal/config"
	"perpagent/internal/decision"
	"perpagent/internal/gateway/exchange"
	"perpagent/internal/journal"
	"perpagent/internal/logger"
	"perpagent/internal/metrics"
	"perpagent/internal/trace"
)

const (
	KindOpen  = "open"
	KindAdd   = "add"
	KindClose = "close"
)

type Options struct {
	MinNotionalUSD    float64
	CloseSlippage     float64
	FillCheckDelay    time.Duration
	FillCheckLimit    int
	EnforceTPSLSanity bool
}

func OptionsFromConfig(t config.TradingConfig) Options {
	return Options{
		MinNotionalUSD:    t.MinNotionalUSD,
		CloseSlippage:     t.CloseSlippage,
		FillCheckDelay:    time.Duration(t.FillCheckDelayMS) * time.Millisecond,
		FillCheckLimit:    t.FillCheckLimit,
		EnforceTPSLSanity: t.EnforceTPSLSanity,
	}
}

// Outcome 是单个决策的执行结果。
type Outcome struct {
	Asset     string
	Action    decision.Action
	Kind      string
	Amount    float64
	Price     float64
	OrderID   string
	TPOrderID string
	SLOrderID string
	Filled    bool
	Skipped   string
	Err       error
}

type Report struct {
	Outcomes []Outcome
}

// Traded 返回本批次实际下过单的资产。
func (r Report) Traded() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.OrderID != "" {
			out = append(out, o.Asset)
		}
	}
	return out
}

func (r Report) Errors() []error {
	var out []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o.Err)
		}
	}
	return out
}

// Engine 是托管交易集合的唯一写者；Apply 与 Reconcile 通过 mu 串行。
type Engine struct {
	gw      exchange.Gateway
	journal journal.Writer
	book    *Book
	store   Snapshotter
	opts    Options
	metrics *metrics.Collectors
	sleep   func(ctx context.Context, d time.Duration)

	mu         sync.Mutex
	justTraded map[string]struct{}
}

func New(gw exchange.Gateway, j journal.Writer, opts Options, m *metrics.Collectors) *Engine {
	if opts.MinNotionalUSD <= 0 {
		opts.MinNotionalUSD = 12
	}
	if opts.CloseSlippage <= 0 {
		opts.CloseSlippage = 0.05
	}
	if opts.FillCheckLimit <= 0 {
		opts.FillCheckLimit = 10
	}
	return &Engine{
		gw:         gw,
		journal:    j,
		book:       NewBook(),
		opts:       opts,
		metrics:    m,
		sleep:      sleepCtx,
		justTraded: make(map[string]struct{}),
	}
}

// WithSnapshotter 设置持久化；每次托管集合变化后整体保存。
func (e *Engine) WithSnapshotter(s Snapshotter) *Engine {
	e.store = s
	return e
}

func (e *Engine) Book() *Book { return e.book }

// Hydrate 从持久化快照恢复托管集合；陈旧条目由下一轮对账清理。
func (e *Engine) Hydrate(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	trades, err := e.store.LoadManaged(ctx)
	if err != nil {
		return fmt.Errorf("load managed trades: %w", err)
	}
	e.book.replace(trades)
	e.metrics.SetManaged(e.book.Len())
	logger.Infof("[execution] restored %d managed trades", len(trades))
	return nil
}

// BeginCycle 清空上一轮的已交易集合。
func (e *Engine) BeginCycle() {
	e.mu.Lock()
	e.justTraded = make(map[string]struct{})
	e.mu.Unlock()
}

// Apply 逐个处理决策。prices 来自本轮上下文，缺失时向网关查询。
func (e *Engine) Apply(ctx context.Context, batch decision.Batch, state exchange.UserState, prices map[string]float64) Report {
	ctx, span := trace.StartSpan(ctx, "execution.apply", attribute.Int("decisions", len(batch.TradeDecisions)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	report := Report{Outcomes: make([]Outcome, 0, len(batch.TradeDecisions))}
	for _, d := range batch.TradeDecisions {
		out := e.applyOne(ctx, d, state, prices)
		if out.Err != nil {
			trace.RecordError(span, out.Err)
		}
		report.Outcomes = append(report.Outcomes, out)
	}
	return report
}

func (e *Engine) applyOne(ctx context.Context, d decision.TradeDecision, state exchange.UserState, prices map[string]float64) (out Outcome) {
	out = Outcome{Asset: d.Asset, Action: d.Action}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[execution] panic on %s: %v\n%s", d.Asset, r, debug.Stack())
			out.Err = &ExecutionError{Asset: d.Asset, Op: "panic", Err: fmt.Errorf("%v", r)}
			e.appendJournal(ctx, journal.Entry{
				CycleID:   trace.CycleID(ctx),
				Asset:     d.Asset,
				Action:    journal.ActionError,
				Rationale: d.Rationale,
				Error:     out.Err.Error(),
			})
		}
	}()
	if d.Action.IsTrade() {
		return e.trade(ctx, d, state, prices)
	}
	logger.Infof("[execution] hold %s: %s", d.Asset, d.Rationale)
	e.appendJournal(ctx, journal.Entry{
		CycleID:   trace.CycleID(ctx),
		Asset:     d.Asset,
		Action:    string(decision.ActionHold),
		Rationale: d.Rationale,
	})
	return out
}

func (e *Engine) trade(ctx context.Context, d decision.TradeDecision, state exchange.UserState, prices map[string]float64) Outcome {
	out := Outcome{Asset: d.Asset, Action: d.Action}
	isBuy := d.Action == decision.ActionBuy
	cycleID := trace.CycleID(ctx)

	price := e.resolvePrice(ctx, d.Asset, prices)
	if price <= 0 || math.IsNaN(price) {
		logger.Warnf("[execution] %s stale price %v, skip", d.Asset, price)
		out.Skipped = journal.ActionStalePrice
		e.appendJournal(ctx, journal.Entry{
			CycleID:   cycleID,
			Asset:     d.Asset,
			Action:    journal.ActionStalePrice,
			Rationale: d.Rationale,
		})
		return out
	}
	out.Price = price

	alloc := d.AllocationUSD
	if alloc < e.opts.MinNotionalUSD {
		logger.Infof("[execution] %s allocation %.2f bumped to %.2f", d.Asset, alloc, e.opts.MinNotionalUSD)
		alloc = e.opts.MinNotionalUSD
	}

	kind, amount := KindOpen, alloc/price
	if pos, ok := state.Position(d.Asset); ok && pos.Size != 0 {
		if pos.IsLong() == isBuy {
			kind = KindAdd
		} else {
			kind, amount = KindClose, math.Abs(pos.Size)
		}
	}
	out.Kind, out.Amount = kind, amount
	e.justTraded[d.Asset] = struct{}{}

	entry := journal.Entry{
		CycleID:       cycleID,
		Asset:         d.Asset,
		Action:        string(d.Action),
		Kind:          kind,
		AllocationUSD: alloc,
		Amount:        amount,
		EntryPrice:    price,
		TPPrice:       d.TPPrice,
		SLPrice:       d.SLPrice,
		ExitPlan:      d.ExitPlan,
		Rationale:     d.Rationale,
		OpenedAt:      time.Now().UTC(),
	}

	var (
		res exchange.OrderResult
		err error
	)
	if isBuy {
		res, err = e.gw.PlaceBuyOrder(ctx, d.Asset, amount, 0)
	} else {
		res, err = e.gw.PlaceSellOrder(ctx, d.Asset, amount, 0)
	}
	if err != nil {
		e.metrics.Order(d.Asset, kind, "error")
		out.Err = &ExecutionError{Asset: d.Asset, Op: kind, Err: err}
		logger.Errorf("[execution] %v", out.Err)
		entry.Action = journal.ActionError
		entry.Error = out.Err.Error()
		e.appendJournal(ctx, entry)
		return out
	}
	e.metrics.Order(d.Asset, kind, "ok")
	if res.Amount > 0 {
		// 以交易所按步长取整后的数量为准
		amount = res.Amount
		out.Amount, entry.Amount = amount, amount
	}
	out.OrderID = res.OrderID
	entry.OrderID = res.OrderID
	logger.Infof("[execution] %s %s %s amount=%.8f at ~%.4f order=%s", kind, d.Action, d.Asset, amount, price, res.OrderID)

	filled := e.confirmFill(ctx, d.Asset, res)
	out.Filled = filled
	entry.Filled = &filled

	// CLOSE 之后仍按决策下 reduce-only 触发单；仓位已平时它们会悬挂，直到对账或人工撤单。
	if d.TPPrice != nil {
		oid, reject := e.placeProtective(ctx, d.Asset, isBuy, amount, price, *d.TPPrice, true)
		out.TPOrderID, entry.TPOrderID, entry.TPRejected = oid, oid, reject
	}
	if d.SLPrice != nil {
		oid, reject := e.placeProtective(ctx, d.Asset, isBuy, amount, price, *d.SLPrice, false)
		out.SLOrderID, entry.SLOrderID, entry.SLRejected = oid, oid, reject
	}

	e.book.remove(d.Asset)
	if kind != KindClose {
		e.book.put(ManagedTrade{
			Asset:      d.Asset,
			IsLong:     isBuy,
			Amount:     amount,
			EntryPrice: price,
			TPOrderID:  out.TPOrderID,
			SLOrderID:  out.SLOrderID,
			ExitPlan:   d.ExitPlan,
			OpenedAt:   entry.OpenedAt,
		})
	} else {
		logger.Infof("[execution] position closed for %s", d.Asset)
	}
	e.persist(ctx)
	e.appendJournal(ctx, entry)
	return out
}

func (e *Engine) resolvePrice(ctx context.Context, asset string, prices map[string]float64) float64 {
	if p, ok := prices[asset]; ok && p > 0 {
		return p
	}
	p, err := e.gw.CurrentPrice(ctx, asset)
	if err != nil {
		logger.Warnf("[execution] price lookup %s failed: %v", asset, err)
		return 0
	}
	return p
}

// confirmFill 在宽限期后查看最近成交，判断订单是否已成交。
func (e *Engine) confirmFill(ctx context.Context, asset string, res exchange.OrderResult) bool {
	if res.FilledAmount > 0 {
		return true
	}
	e.sleep(ctx, e.opts.FillCheckDelay)
	fills, err := e.gw.RecentFills(ctx, e.opts.FillCheckLimit)
	if err != nil {
		logger.Warnf("[execution] fill check %s failed: %v", asset, err)
		return false
	}
	for i := len(fills) - 1; i >= 0; i-- {
		f := fills[i]
		if f.Asset != asset {
			continue
		}
		if res.OrderID == "" || f.OrderID == "" || f.OrderID == res.OrderID {
			return true
		}
	}
	return false
}

// placeProtective 尽力下止盈/止损单，失败只记录，不回滚已成交的市价单。
// 返回订单 id 与拒绝原因（二者至多一个非空）。
func (e *Engine) placeProtective(ctx context.Context, asset string, isBuy bool, amount, price, trigger float64, takeProfit bool) (string, string) {
	label := "sl"
	check := checkStopLoss
	place := e.gw.PlaceStopLoss
	if takeProfit {
		label, check, place = "tp", checkTakeProfit, e.gw.PlaceTakeProfit
	}
	if e.opts.EnforceTPSLSanity {
		if reason := check(isBuy, price, trigger); reason != "" {
			logger.Warnf("[execution] %s %s rejected: %s", asset, label, reason)
			e.metrics.Order(asset, label, "rejected")
			return "", reason
		}
	}
	oid, err := place(ctx, asset, isBuy, amount, trigger)
	if err != nil {
		logger.Errorf("[execution] %s %s at %v failed: %v", asset, label, trigger, err)
		e.metrics.Order(asset, label, "error")
		return "", ""
	}
	e.metrics.Order(asset, label, "ok")
	logger.Infof("[execution] %s placed %s at %v order=%s", label, asset, trigger, oid)
	return oid, ""
}

func (e *Engine) persist(ctx context.Context) {
	e.metrics.SetManaged(e.book.Len())
	if e.store == nil {
		return
	}
	if err := e.store.SaveManaged(ctx, e.book.List()); err != nil {
		logger.Warnf("[execution] save managed trades failed: %v", err)
	}
}

func (e *Engine) appendJournal(ctx context.Context, entry journal.Entry) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(ctx, entry); err != nil {
		logger.Errorf("[execution] journal %s %s failed: %v", entry.Asset, entry.Action, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
