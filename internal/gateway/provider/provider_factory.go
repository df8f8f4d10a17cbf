package provider

import (
	"strings"
	"time"

	"perpagent/internal/config"
	"perpagent/internal/metrics"
)

// NewFromConfig 按 ai 配置构建客户端，OpenRouter 额外携带 HTTP-Referer 与 X-Title。
func NewFromConfig(cfg config.AIConfig, m *metrics.Collectors) *OpenAIChatClient {
	headers := map[string]string{}
	if ref := strings.TrimSpace(cfg.Referer); ref != "" {
		headers["HTTP-Referer"] = ref
	}
	if title := strings.TrimSpace(cfg.AppTitle); title != "" {
		headers["X-Title"] = title
	}
	return &OpenAIChatClient{
		ProviderName: cfg.Provider,
		BaseURL:      cfg.APIURL,
		APIKey:       cfg.APIKey,
		Timeout:      time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		MaxRetries:   cfg.MaxRetries,
		ExtraHeaders: headers,
		Metrics:      m,
	}
}
