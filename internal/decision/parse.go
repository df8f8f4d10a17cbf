package decision

import (
	"context"
	"encoding/json"
	"strings"

	"perpagent/internal/gateway/provider"
	"perpagent/internal/logger"
	"perpagent/internal/pkg/jsonutil"
	"perpagent/internal/pkg/text"
)

// terminalParse 依次尝试：结构化 parsed 字段、原文 JSON、sanitize 模型、兜底批次。
// 第二个返回值表示是否落到了兜底批次。
func (e *Engine) terminalParse(ctx context.Context, assets []string, msg provider.ResponseMessage) (Batch, bool) {
	if len(msg.Parsed) > 0 {
		if batch, ok := e.normalizeRaw(msg.Parsed, assets); ok {
			return batch, false
		}
		logger.Warnf("[decision] parsed 字段不可用，回退到 content")
	}
	content := strings.TrimSpace(msg.Content)
	if batch, ok := e.parseContent(content, assets); ok {
		return batch, false
	}
	logger.Errorf("[decision] %v, content: %s", ErrSchemaViolation, text.Truncate(content, 200))
	if batch, ok := e.sanitize(ctx, content, assets); ok {
		return batch, false
	}
	e.metrics.Failsafe(FailsafeParseError)
	return ParseErrorBatch(assets), true
}

func (e *Engine) parseContent(content string, assets []string) (Batch, bool) {
	if content == "" {
		return Batch{}, false
	}
	if batch, ok := e.normalizeRaw([]byte(content), assets); ok {
		return batch, true
	}
	if obj, ok := jsonutil.ExtractObject(content); ok {
		if batch, ok := e.normalizeRaw([]byte(obj), assets); ok {
			return batch, true
		}
	}
	// 旧格式：正文里只有一个决策数组
	if arr, ok := jsonutil.ExtractArray(content); ok {
		if batch, ok := e.normalizeRaw([]byte(arr), assets); ok {
			return batch, true
		}
	}
	return Batch{}, false
}

func (e *Engine) normalizeRaw(raw []byte, assets []string) (Batch, bool) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Batch{}, false
	}
	return e.normalizePayload(payload, assets)
}
