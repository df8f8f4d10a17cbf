package config

import (
	"strings"
)

// Overrides 承载命令行参数，非零值覆盖配置文件与环境变量。
type Overrides struct {
	Assets      []string
	Interval    string
	RiskProfile string
}

func (o Overrides) apply(c *Config) {
	if len(o.Assets) > 0 {
		c.Trading.Assets = splitAssets(o.Assets)
	}
	if v := strings.TrimSpace(o.Interval); v != "" {
		c.Trading.Interval = v
	}
	if v := strings.TrimSpace(o.RiskProfile); v != "" {
		c.Trading.RiskProfile = v
	}
}

// applyEnv 从环境变量读取密钥，并在配置文件缺省时读取 ASSETS / INTERVAL / RISK_PROFILE。
func (c *Config) applyEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	if c.AI.APIKey == "" {
		switch strings.ToLower(strings.TrimSpace(c.AI.Provider)) {
		case "openai":
			c.AI.APIKey = strings.TrimSpace(getenv("OPENAI_API_KEY"))
		default:
			c.AI.APIKey = strings.TrimSpace(getenv("OPENROUTER_API_KEY"))
		}
	}
	if c.AI.Model == "" {
		c.AI.Model = strings.TrimSpace(getenv("LLM_MODEL"))
	}
	if c.Exchange.APIKey == "" {
		c.Exchange.APIKey = strings.TrimSpace(getenv("BINANCE_API_KEY"))
	}
	if c.Exchange.APISecret == "" {
		c.Exchange.APISecret = strings.TrimSpace(getenv("BINANCE_API_SECRET"))
	}
	if len(c.Trading.Assets) == 0 {
		if raw := strings.TrimSpace(getenv("ASSETS")); raw != "" {
			c.Trading.Assets = splitAssets([]string{raw})
		}
	}
	if c.Trading.Interval == "" {
		c.Trading.Interval = strings.TrimSpace(getenv("INTERVAL"))
	}
	if c.Trading.RiskProfile == "" {
		c.Trading.RiskProfile = strings.TrimSpace(getenv("RISK_PROFILE"))
	}
}

// splitAssets 支持逗号或空格分隔，例如 "BTC,ETH" 或 "BTC ETH"。
func splitAssets(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
