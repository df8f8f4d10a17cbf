package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"perpagent/internal/app"
	"perpagent/internal/config"
	"perpagent/internal/logger"
	"perpagent/internal/trace"
)

var version = "dev"

type rootFlags struct {
	configPath  string
	assets      []string
	interval    string
	riskProfile string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "perpagent",
		Short:         "LLM-driven perpetual futures trading agent",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), flags, false)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", envOr("PERPAGENT_CONFIG", "configs/config.yaml"), "configuration file path")
	root.PersistentFlags().StringSliceVar(&flags.assets, "assets", nil, "assets to trade, e.g. BTC,ETH (overrides config)")
	root.PersistentFlags().StringVar(&flags.interval, "interval", "", "cycle interval: 30s, 5m, 1h, 1d, 1w (overrides config)")
	root.PersistentFlags().StringVar(&flags.riskProfile, "risk-profile", "", "conservative, moderate, high or debug (overrides config)")

	root.AddCommand(&cobra.Command{
		Use:   "once",
		Short: "Run a single trading cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), flags, true)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "perpagent %s\n", version)
		},
	})
	return root
}

func runAgent(parent context.Context, flags *rootFlags, once bool) error {
	_ = godotenv.Load()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithOverrides(flags.configPath, config.Overrides{
		Assets:      flags.assets,
		Interval:    flags.interval,
		RiskProfile: flags.riskProfile,
	})
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath, cfg.App.LogFormat)
	if err != nil {
		return fmt.Errorf("初始化日志文件失败: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	llmFile, err := setupLLMLogOutput(cfg.App.LLMLog)
	if err != nil {
		return fmt.Errorf("初始化 LLM 日志失败: %w", err)
	}
	if llmFile != nil {
		defer llmFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.EnableLLMPayloadDump(cfg.App.LLMDump)
	if cfg.App.Tracing {
		if err := trace.Init(os.Stderr, version); err != nil {
			return fmt.Errorf("初始化 tracing 失败: %w", err)
		}
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = trace.Shutdown(shCtx)
		}()
	}
	logger.Infof("✓ 配置加载成功（环境=%s，资产=%s，档位=%s）", cfg.App.Env, strings.Join(cfg.Trading.NormalizedAssets(), ","), cfg.Trading.RiskProfile)

	a, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	if once {
		defer a.Close()
		report, err := a.Runner().RunCycle(ctx)
		if err != nil {
			return err
		}
		logger.Infof("single cycle done: traded=%v errors=%d", report.Traded(), len(report.Errors()))
		return nil
	}
	return a.Run(ctx)
}

func setupLogOutput(path, format string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		logger.SetFormat(os.Stdout, format)
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetFormat(mw, format)
	return file, nil
}

func setupLLMLogOutput(path string) (*os.File, error) {
	logger.SetLLMWriter(nil)
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetLLMWriter(f)
	return f, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
