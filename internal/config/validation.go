package config

import (
	"fmt"
	"strings"

	"perpagent/internal/profile"
	"perpagent/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.AI.validate(c.Trading.RiskProfile); err != nil {
		return err
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if len(t.NormalizedAssets()) == 0 {
		return fmt.Errorf("trading.assets requires at least one asset (or set ASSETS)")
	}
	if _, ok := scheduler.ParseIntervalDuration(t.Interval); !ok {
		return fmt.Errorf("trading.interval invalid: %q (expected e.g. 30s, 5m, 1h, 1d)", t.Interval)
	}
	if !profile.IsKnown(t.RiskProfile) {
		return fmt.Errorf("trading.risk_profile must be one of %s (got %q)", strings.Join(profile.Names(), ", "), t.RiskProfile)
	}
	if t.CloseSlippage >= 1 {
		return fmt.Errorf("trading.close_slippage must be < 1")
	}
	return nil
}

func (a *AIConfig) validate(riskProfile string) error {
	switch a.Provider {
	case "openai", "openrouter":
	default:
		return fmt.Errorf("ai.provider must be openai or openrouter (got %q)", a.Provider)
	}
	if riskProfile == profile.Debug {
		return nil
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("ai.model is required")
	}
	if strings.TrimSpace(a.APIKey) == "" {
		return fmt.Errorf("ai.api_key missing (set OPENROUTER_API_KEY or OPENAI_API_KEY)")
	}
	if a.DecisionTimeoutSeconds < a.RequestTimeoutSeconds {
		return fmt.Errorf("ai.decision_timeout_seconds must be >= ai.request_timeout_seconds")
	}
	switch strings.ToLower(a.Reasoning.Effort) {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("ai.reasoning.effort must be low, medium or high")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if !strings.EqualFold(e.Name, "binance") {
		return fmt.Errorf("exchange.name only supports binance (got %q)", e.Name)
	}
	return nil
}

func (s *StorageConfig) validate() error {
	if strings.TrimSpace(s.JournalPath) == "" {
		return fmt.Errorf("storage.journal_path cannot be empty")
	}
	return nil
}
