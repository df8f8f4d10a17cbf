package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"perpagent/internal/agent"
	"perpagent/internal/config"
	"perpagent/internal/logger"
	livehttp "perpagent/internal/transport/http/live"
)

// App 负责应用级编排：加载配置→初始化依赖→启动交易循环与 HTTP 服务。
type App struct {
	cfg     *config.Config
	runner  *agent.Runner
	http    *livehttp.Server
	closers []func() error
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动交易循环与 HTTP 服务，ctx 取消后等待当前一轮结束再返回。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.runner == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		err := a.runner.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	return group.Wait()
}

// Runner 暴露交易循环，便于单轮调试。
func (a *App) Runner() *agent.Runner {
	if a == nil {
		return nil
	}
	return a.runner
}

// Close 释放存储句柄，可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("[app] close failed: %v", err)
		}
	}
	a.closers = nil
}
