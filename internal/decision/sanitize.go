package decision

import (
	"context"
	"encoding/json"
	"strings"

	"perpagent/internal/gateway/provider"
	"perpagent/internal/logger"
)

// sanitize 把无法解析的原文交给小模型按同一 schema 规整；任何失败都视为不可用。
func (e *Engine) sanitize(ctx context.Context, raw string, assets []string) (Batch, bool) {
	req := provider.ChatRequest{
		Model: e.opts.SanitizeModel,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: sanitizePrompt},
			{Role: provider.RoleUser, Content: raw},
		},
		ResponseFormat: strictFormat(assets),
		Temperature:    provider.Float(0),
		Purpose:        "sanitize",
	}
	resp, err := e.client.Chat(ctx, req)
	if err != nil {
		logger.Errorf("Sanitize failed: %v", err)
		return Batch{}, false
	}
	if batch, ok := e.sanitizedObject(resp.Message.Parsed, assets); ok {
		return batch, true
	}
	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return Batch{}, false
	}
	return e.sanitizedObject([]byte(content), assets)
}

// sanitizedObject 只接受带 trade_decisions 的对象。
func (e *Engine) sanitizedObject(raw []byte, assets []string) (Batch, bool) {
	if len(raw) == 0 {
		return Batch{}, false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Batch{}, false
	}
	if _, ok := obj["trade_decisions"]; !ok {
		return Batch{}, false
	}
	return e.normalizePayload(obj, assets)
}
