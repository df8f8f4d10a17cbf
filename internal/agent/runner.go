package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"perpagent/internal/decision"
	"perpagent/internal/execution"
	"perpagent/internal/gateway/exchange"
	"perpagent/internal/journal"
	"perpagent/internal/logger"
	"perpagent/internal/metrics"
	"perpagent/internal/pkg/circuit"
	"perpagent/internal/pkg/text"
	"perpagent/internal/profile"
	"perpagent/internal/scheduler"
	"perpagent/internal/trace"
)

// DebugInterval 是 debug 档位强制使用的轮询间隔。
const DebugInterval = 30 * time.Second

const retryInstruction = "Return ONLY the JSON array per schema with no prose."

var ErrBreakerOpen = errors.New("cycle breaker open")

// Decider 由 decision.Engine 实现。
type Decider interface {
	Decide(ctx context.Context, assets []string, userPrompt string) (decision.Batch, error)
}

type RunnerParams struct {
	Assets          []string
	Interval        time.Duration
	RiskProfile     string
	DecisionTimeout time.Duration

	Gateway  exchange.Gateway
	Context  *ContextBuilder
	Decider  Decider
	Executor *execution.Engine
	Journal  journal.Writer
	Metrics  *metrics.Collectors
	Breaker  *circuit.Breaker
	Rand     *rand.Rand
}

// Runner 串起一轮交易：读取账户 → 对账 → 组装上下文 → 决策（必要时重试一次）→ 执行。
// 同一时刻只会有一轮在运行。
type Runner struct {
	assets          []string
	interval        time.Duration
	debug           bool
	decisionTimeout time.Duration

	gw       exchange.Gateway
	builder  *ContextBuilder
	decider  Decider
	executor *execution.Engine
	journal  journal.Writer
	metrics  *metrics.Collectors
	breaker  *circuit.Breaker
	rnd      *rand.Rand

	mu         sync.Mutex
	invocation int
}

func NewRunner(p RunnerParams) (*Runner, error) {
	if len(p.Assets) == 0 {
		return nil, fmt.Errorf("runner requires at least one asset")
	}
	if p.Gateway == nil || p.Context == nil || p.Executor == nil {
		return nil, fmt.Errorf("runner requires gateway, context builder and executor")
	}
	debug := strings.EqualFold(p.RiskProfile, profile.Debug)
	if p.Decider == nil && !debug {
		return nil, fmt.Errorf("runner requires a decider")
	}
	interval := p.Interval
	if debug {
		interval = DebugInterval
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Runner{
		assets:          append([]string(nil), p.Assets...),
		interval:        interval,
		debug:           debug,
		decisionTimeout: p.DecisionTimeout,
		gw:              p.Gateway,
		builder:         p.Context,
		decider:         p.Decider,
		executor:        p.Executor,
		journal:         p.Journal,
		metrics:         p.Metrics,
		breaker:         p.Breaker,
		rnd:             rnd,
	}, nil
}

func (r *Runner) Interval() time.Duration { return r.interval }

// Run 按间隔循环执行，直到 ctx 取消。
func (r *Runner) Run(ctx context.Context) error {
	logger.Infof("[agent] starting assets=%s interval=%s debug=%v", strings.Join(r.assets, ","), r.interval, r.debug)
	return scheduler.NewLoop(r.interval).Run(ctx, func(ctx context.Context) {
		if _, err := r.RunCycle(ctx); err != nil {
			logger.Warnf("[agent] cycle ended early: %v", err)
		}
	})
}

// RunCycle 执行一轮。返回错误表示本轮被跳过（交易所或模型不可用、熔断打开）。
func (r *Runner) RunCycle(ctx context.Context) (execution.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	r.invocation++
	cycleID := uuid.NewString()
	ctx = trace.WithCycleID(ctx, cycleID)
	ctx, span := trace.StartSpan(ctx, "agent.cycle",
		attribute.String("cycle_id", cycleID),
		attribute.Int("invocation", r.invocation),
	)
	defer span.End()

	if r.breaker != nil && !r.breaker.Allow() {
		logger.Warnf("[agent] cycle %d skipped: breaker open, retry in %s", r.invocation, r.breaker.Remaining().Truncate(time.Second))
		r.metrics.Cycle(journal.ReasonBreakerOpen, time.Since(started))
		r.journalSkip(ctx, journal.ReasonBreakerOpen, ErrBreakerOpen)
		return execution.Report{}, ErrBreakerOpen
	}

	r.executor.BeginCycle()

	state, err := r.gw.UserState(ctx)
	if err != nil {
		return execution.Report{}, r.skip(ctx, started, "user_state", err)
	}
	orders, err := r.gw.OpenOrders(ctx)
	if err != nil {
		// 挂单未知时对账会误删托管记录，本轮不对账。
		logger.Warnf("[agent] open orders unavailable, skip reconcile: %v", err)
	} else {
		r.executor.Reconcile(ctx, state, orders)
	}

	doc, err := r.builder.Build(ctx, Snapshot{
		Invocation: r.invocation,
		State:      state,
		OpenOrders: orders,
		Managed:    r.executor.Book().List(),
	})
	if err != nil {
		return execution.Report{}, r.skip(ctx, started, "context", err)
	}
	prices := doc.Prices()
	logger.Debugf("[agent] cycle %d prices for %s", r.invocation, strings.Join(sortedAssets(prices), ","))

	batch, err := r.decide(ctx, doc, state)
	if err != nil {
		return execution.Report{}, r.skip(ctx, started, "decide", err)
	}
	if batch.Reasoning != "" {
		logger.Infof("[agent] reasoning: %s", text.Truncate(batch.Reasoning, 600))
	}

	report := r.executor.Apply(ctx, batch.ForAssets(r.assets), state, prices)
	if r.breaker != nil {
		r.breaker.RecordSuccess()
	}
	outcome := "ok"
	if len(report.Errors()) > 0 {
		outcome = "partial"
	}
	r.metrics.Cycle(outcome, time.Since(started))
	logger.Infof("[agent] cycle %d done in %s traded=%v errors=%d", r.invocation, time.Since(started).Truncate(time.Millisecond), report.Traded(), len(report.Errors()))
	return report, nil
}

func (r *Runner) decide(ctx context.Context, doc Document, state exchange.UserState) (decision.Batch, error) {
	if r.debug {
		return decision.DebugBatch(r.assets, doc.Prices(), positionSizes(state), r.rnd), nil
	}
	if r.decisionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.decisionTimeout)
		defer cancel()
	}
	prompt, err := json.Marshal(doc)
	if err != nil {
		return decision.Batch{}, fmt.Errorf("marshal context: %w", err)
	}
	batch, err := r.decider.Decide(ctx, r.assets, string(prompt))
	if err != nil {
		return decision.Batch{}, err
	}
	if !decision.IsDegenerate(batch) {
		return batch, nil
	}
	logger.Warnf("[agent] degenerate decision output, retrying once")
	retry, err := json.Marshal(retryPayload{RetryInstruction: retryInstruction, OriginalContext: doc})
	if err != nil {
		return decision.Batch{}, fmt.Errorf("marshal retry context: %w", err)
	}
	return r.decider.Decide(ctx, r.assets, string(retry))
}

type retryPayload struct {
	RetryInstruction string   `json:"retry_instruction"`
	OriginalContext  Document `json:"original_context"`
}

// skip 记录跳过原因并计入熔断失败。
func (r *Runner) skip(ctx context.Context, started time.Time, stage string, err error) error {
	logger.Errorf("[agent] cycle %d skipped at %s: %v", r.invocation, stage, err)
	if r.breaker != nil {
		r.breaker.RecordFailure()
	}
	r.metrics.Cycle("skipped", time.Since(started))
	r.journalSkip(ctx, stage, err)
	return fmt.Errorf("%s: %w", stage, err)
}

func (r *Runner) journalSkip(ctx context.Context, reason string, err error) {
	if r.journal == nil {
		return
	}
	entry := journal.Entry{
		CycleID: trace.CycleID(ctx),
		Action:  journal.ActionCycleSkipped,
		Reason:  reason,
		Error:   err.Error(),
	}
	if jerr := r.journal.Append(ctx, entry); jerr != nil {
		logger.Warnf("[agent] journal cycle_skipped failed: %v", jerr)
	}
}

func positionSizes(state exchange.UserState) map[string]float64 {
	out := make(map[string]float64, len(state.Positions))
	for _, p := range state.Positions {
		if p.Size != 0 {
			out[p.Asset] = p.Size
		}
	}
	return out
}
