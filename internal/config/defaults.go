package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppLogFormat     = "text"
	defaultAppHTTPAddr      = ":9991"
	defaultAppLogPath       = "data/logs/perpagent.log"
	defaultAppLLMLogPath    = "data/logs/llm_requests.log"
	defaultTradingInterval  = "5m"
	defaultRiskProfile      = "conservative"
	defaultQuoteAsset       = "USDT"
	defaultMinNotionalUSD   = 12
	defaultCloseSlippage    = 0.05
	defaultFillCheckDelayMS = 1000
	defaultFillCheckLimit   = 10
	defaultAIProvider       = "openrouter"
	defaultOpenRouterURL    = "https://openrouter.ai/api/v1"
	defaultOpenAIURL        = "https://api.openai.com/v1"
	defaultSanitizeModel    = "gpt-4o-mini"
	defaultRequestTimeout   = 60
	defaultDecisionTimeout  = 240
	defaultMaxRetries       = 2
	defaultMaxToolRounds    = 6
	defaultReasoningEffort  = "high"
	defaultExchangeName     = "binance"
	defaultExchangeREST     = "https://fapi.binance.com"
	defaultExchangeTimeout  = 15
	defaultJournalPath      = "data/diary.jsonl"
	defaultDatabasePath     = "data/perpagent.db"
	defaultDecisionLogPath  = "data/decisions.db"
	defaultBreakerThreshold = 3
	defaultBreakerCooldown  = 300
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.interval", &t.Interval, defaultTradingInterval),
		stringFieldDefault("trading.risk_profile", &t.RiskProfile, defaultRiskProfile),
		stringFieldDefault("trading.quote_asset", &t.QuoteAsset, defaultQuoteAsset),
		fieldDefault{
			key:   "trading.min_notional_usd",
			need:  func() bool { return t.MinNotionalUSD <= 0 },
			apply: func() { t.MinNotionalUSD = defaultMinNotionalUSD },
		},
		fieldDefault{
			key:   "trading.close_slippage",
			need:  func() bool { return t.CloseSlippage <= 0 },
			apply: func() { t.CloseSlippage = defaultCloseSlippage },
		},
		fieldDefault{
			key:   "trading.fill_check_delay_ms",
			need:  func() bool { return t.FillCheckDelayMS <= 0 },
			apply: func() { t.FillCheckDelayMS = defaultFillCheckDelayMS },
		},
		fieldDefault{
			key:   "trading.fill_check_limit",
			need:  func() bool { return t.FillCheckLimit <= 0 },
			apply: func() { t.FillCheckLimit = defaultFillCheckLimit },
		},
		boolFieldDefault("trading.enforce_tpsl_sanity", &t.EnforceTPSLSanity, true),
	)
	t.RiskProfile = strings.ToLower(strings.TrimSpace(t.RiskProfile))
	t.QuoteAsset = strings.ToUpper(strings.TrimSpace(t.QuoteAsset))
}

func (a *AIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ai.provider", &a.Provider, defaultAIProvider),
		stringFieldDefault("ai.sanitize_model", &a.SanitizeModel, defaultSanitizeModel),
		fieldDefault{
			key:   "ai.request_timeout_seconds",
			need:  func() bool { return a.RequestTimeoutSeconds <= 0 },
			apply: func() { a.RequestTimeoutSeconds = defaultRequestTimeout },
		},
		fieldDefault{
			key:   "ai.decision_timeout_seconds",
			need:  func() bool { return a.DecisionTimeoutSeconds <= 0 },
			apply: func() { a.DecisionTimeoutSeconds = defaultDecisionTimeout },
		},
		fieldDefault{
			key:   "ai.max_retries",
			apply: func() { a.MaxRetries = defaultMaxRetries },
		},
		fieldDefault{
			key:   "ai.max_tool_rounds",
			need:  func() bool { return a.MaxToolRounds <= 0 },
			apply: func() { a.MaxToolRounds = defaultMaxToolRounds },
		},
		boolFieldDefault("ai.structured_output", &a.StructuredOutput, true),
		boolFieldDefault("ai.tools", &a.Tools, true),
		stringFieldDefault("ai.reasoning.effort", &a.Reasoning.Effort, defaultReasoningEffort),
	)
	a.Provider = strings.ToLower(strings.TrimSpace(a.Provider))
	if strings.TrimSpace(a.APIURL) == "" {
		if a.Provider == "openai" {
			a.APIURL = defaultOpenAIURL
		} else {
			a.APIURL = defaultOpenRouterURL
		}
	}
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		stringFieldDefault("exchange.rest_base_url", &e.RESTBaseURL, defaultExchangeREST),
		fieldDefault{
			key:   "exchange.http_timeout_seconds",
			need:  func() bool { return e.HTTPTimeoutSeconds <= 0 },
			apply: func() { e.HTTPTimeoutSeconds = defaultExchangeTimeout },
		},
	)
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("storage.journal_path", &s.JournalPath, defaultJournalPath),
		stringFieldDefault("storage.database_path", &s.DatabasePath, defaultDatabasePath),
		stringFieldDefault("storage.decision_log_path", &s.DecisionLogPath, defaultDecisionLogPath),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "scheduler.breaker_threshold",
			need:  func() bool { return s.BreakerThreshold <= 0 },
			apply: func() { s.BreakerThreshold = defaultBreakerThreshold },
		},
		fieldDefault{
			key:   "scheduler.breaker_cooldown_seconds",
			need:  func() bool { return s.BreakerCooldownSeconds <= 0 },
			apply: func() { s.BreakerCooldownSeconds = defaultBreakerCooldown },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

// boolFieldDefault 仅在配置文件未显式出现该 key 时生效。
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key: key,
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
