package app

import (
	"context"
	"fmt"
	"time"

	"perpagent/internal/agent"
	"perpagent/internal/analysis/indicator"
	"perpagent/internal/config"
	"perpagent/internal/decision"
	"perpagent/internal/execution"
	"perpagent/internal/gateway"
	"perpagent/internal/gateway/provider"
	"perpagent/internal/journal"
	"perpagent/internal/logger"
	"perpagent/internal/metrics"
	"perpagent/internal/pkg/circuit"
	"perpagent/internal/profile"
	"perpagent/internal/scheduler"
	"perpagent/internal/store/decisionlog"
	"perpagent/internal/store/gormstore"
	livehttp "perpagent/internal/transport/http/live"
)

// AppBuilder 按配置组装所有组件。各步骤可在测试中替换。
type AppBuilder struct {
	cfg *config.Config

	exchangeFn func(*config.Config) (gateway.Exchange, error)
	chatFn     func(config.AIConfig, *metrics.Collectors) provider.ChatClient
}

type AppBuilderOption func(*AppBuilder)

// WithExchange 替换交易所构建函数。
func WithExchange(fn func(*config.Config) (gateway.Exchange, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.exchangeFn = fn }
}

// WithChatClient 替换模型客户端构建函数。
func WithChatClient(fn func(config.AIConfig, *metrics.Collectors) provider.ChatClient) AppBuilderOption {
	return func(b *AppBuilder) { b.chatFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		exchangeFn: gateway.NewFromConfig,
		chatFn: func(ai config.AIConfig, m *metrics.Collectors) provider.ChatClient {
			return provider.NewFromConfig(ai, m)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	a := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	m := metrics.New()
	assets := cfg.Trading.NormalizedAssets()
	ex, err := b.exchangeFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("build exchange: %w", err)
	}

	index, err := gormstore.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, index.Close)
	decisions, err := decisionlog.Open(cfg.Storage.DecisionLogPath)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	a.closers = append(a.closers, decisions.Close)
	diary, err := journal.Open(cfg.Storage.JournalPath)
	if err != nil {
		return nil, err
	}
	diary.WithIndexer(index)

	exec := execution.New(ex.Gateway, diary, execution.OptionsFromConfig(cfg.Trading), m).WithSnapshotter(index)
	if err := exec.Hydrate(ctx); err != nil {
		logger.Warnf("[app] hydrate managed trades failed, starting empty: %v", err)
	}

	var decider agent.Decider
	if cfg.Trading.RiskProfile != profile.Debug {
		guidance, err := profile.NewStore(cfg.AI.RiskProfilesPath)
		if err != nil {
			return nil, fmt.Errorf("load risk profiles: %w", err)
		}
		engine := decision.New(
			b.chatFn(cfg.AI, m),
			indicator.NewCalculator(ex.Candles, cfg.Trading.QuoteAsset),
			guidance,
			decision.OptionsFromConfig(cfg.AI, cfg.Trading.RiskProfile),
			m,
		)
		decider = engine.WithRecorder(decisions)
	}

	interval, valid := scheduler.ParseIntervalDuration(cfg.Trading.Interval)
	if !valid {
		return nil, fmt.Errorf("invalid trading.interval %q", cfg.Trading.Interval)
	}
	runner, err := agent.NewRunner(agent.RunnerParams{
		Assets:          assets,
		Interval:        interval,
		RiskProfile:     cfg.Trading.RiskProfile,
		DecisionTimeout: time.Duration(cfg.AI.DecisionTimeoutSeconds) * time.Second,
		Gateway:         ex.Gateway,
		Context: agent.NewContextBuilder(agent.ContextParams{
			Assets:  assets,
			Gateway: ex.Gateway,
			Candles: ex.Candles,
			Derivs:  ex.Derivs,
			Diary:   diary,
		}),
		Decider:  decider,
		Executor: exec,
		Journal:  diary,
		Metrics:  m,
		Breaker:  circuit.NewBreaker("cycle", cfg.Scheduler.BreakerThreshold, time.Duration(cfg.Scheduler.BreakerCooldownSeconds)*time.Second),
	})
	if err != nil {
		return nil, err
	}
	a.runner = runner

	if cfg.App.HTTPAddr != "" {
		srv, err := livehttp.NewServer(livehttp.ServerConfig{
			Addr:      cfg.App.HTTPAddr,
			Diary:     diary,
			Index:     index,
			Decisions: decisions,
			Managed:   exec.Book(),
			Closer:    exec,
			Metrics:   m.Handler(),
			LogPaths: map[string]string{
				"llm":   cfg.App.LLMLog,
				"agent": cfg.App.LogPath,
			},
			DefaultLog: "llm",
		})
		if err != nil {
			return nil, err
		}
		a.http = srv
	}

	a.Summary = &StartupSummary{
		Exchange:    ex.Gateway.Name(),
		Assets:      assets,
		Interval:    runner.Interval(),
		RiskProfile: cfg.Trading.RiskProfile,
		Model:       cfg.AI.Model,
		HTTPAddr:    cfg.App.HTTPAddr,
		Journal:     diary.Path(),
		Managed:     exec.Book().Len(),
	}
	ok = true
	return a, nil
}
