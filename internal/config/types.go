package config

import "strings"

// Config 是 perpagent 的主配置载体，启动时构建一次并显式传给各组件。
type Config struct {
	App       AppConfig       `toml:"app"`
	Trading   TradingConfig   `toml:"trading"`
	AI        AIConfig        `toml:"ai"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Storage   StorageConfig   `toml:"storage"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
	LLMLog    string `toml:"llm_log_path"`
	LLMDump   bool   `toml:"llm_dump_payload"`
	Tracing   bool   `toml:"tracing"`
}

// TradingConfig 描述交易标的、周期与执行参数。
type TradingConfig struct {
	Assets            []string `toml:"assets"`
	Interval          string   `toml:"interval"`
	RiskProfile       string   `toml:"risk_profile"`       // conservative | moderate | high | debug
	QuoteAsset        string   `toml:"quote_asset"`        // BTC -> BTCUSDT
	MinNotionalUSD    float64  `toml:"min_notional_usd"`   // 低于该值的下单金额上调到该值
	CloseSlippage     float64  `toml:"close_slippage"`     // 手动平仓接口使用的滑点
	FillCheckDelayMS  int      `toml:"fill_check_delay_ms"`
	FillCheckLimit    int      `toml:"fill_check_limit"`
	EnforceTPSLSanity bool     `toml:"enforce_tpsl_sanity"`
}

// AIConfig 描述模型服务与决策协议参数。
type AIConfig struct {
	Provider               string          `toml:"provider"` // openrouter | openai
	APIURL                 string          `toml:"api_url"`
	APIKey                 string          `toml:"api_key"`
	Model                  string          `toml:"model"`
	SanitizeModel          string          `toml:"sanitize_model"`
	Referer                string          `toml:"referer"`
	AppTitle               string          `toml:"app_title"`
	RequestTimeoutSeconds  int             `toml:"request_timeout_seconds"`
	DecisionTimeoutSeconds int             `toml:"decision_timeout_seconds"`
	MaxRetries             int             `toml:"max_retries"`
	MaxToolRounds          int             `toml:"max_tool_rounds"`
	StructuredOutput       bool            `toml:"structured_output"`
	Tools                  bool            `toml:"tools"`
	Reasoning              ReasoningConfig `toml:"reasoning"`
	ProviderRouting        map[string]any  `toml:"provider_routing"`
	ProviderQuantizations  []string        `toml:"provider_quantizations"`
	RiskProfilesPath       string          `toml:"risk_profiles_path"`
}

type ReasoningConfig struct {
	Enabled bool   `toml:"enabled"`
	Effort  string `toml:"effort"`
}

// ExchangeConfig 描述永续合约交易所的访问方式。
type ExchangeConfig struct {
	Name               string `toml:"name"`
	RESTBaseURL        string `toml:"rest_base_url"`
	Testnet            bool   `toml:"testnet"`
	APIKey             string `toml:"api_key"`
	APISecret          string `toml:"api_secret"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
}

type StorageConfig struct {
	JournalPath     string `toml:"journal_path"`
	DatabasePath    string `toml:"database_path"`
	DecisionLogPath string `toml:"decision_log_path"`
}

// SchedulerConfig 控制连续失败后的熔断。
type SchedulerConfig struct {
	BreakerThreshold       int `toml:"breaker_threshold"`
	BreakerCooldownSeconds int `toml:"breaker_cooldown_seconds"`
}

// ProviderPayload 合并 provider_routing 与 quantizations，返回 nil 表示不发送路由提示。
func (a AIConfig) ProviderPayload() map[string]any {
	if len(a.ProviderRouting) == 0 && len(a.ProviderQuantizations) == 0 {
		return nil
	}
	out := make(map[string]any, len(a.ProviderRouting)+1)
	for k, v := range a.ProviderRouting {
		out[k] = v
	}
	if len(a.ProviderQuantizations) > 0 {
		out["quantizations"] = append([]string(nil), a.ProviderQuantizations...)
	}
	return out
}

// NormalizedAssets 返回去重、大写后的资产列表，保持原顺序。
func (t TradingConfig) NormalizedAssets() []string {
	seen := make(map[string]struct{}, len(t.Assets))
	out := make([]string, 0, len(t.Assets))
	for _, a := range t.Assets {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
