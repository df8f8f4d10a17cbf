package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"perpagent/internal/logger"
	"perpagent/internal/metrics"
)

// OpenAIChatClient：兼容 OpenAI / OpenRouter 的聊天补全接口（/v1/chat/completions），支持 tools 与 response_format。
type OpenAIChatClient struct {
	ProviderName string
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	// 简易重试（仅用于 429/5xx）
	MaxRetries   int
	ExtraHeaders map[string]string
	HTTPClient   *http.Client
	Metrics      *metrics.Collectors

	sleep func(ctx context.Context, d time.Duration) bool
}

func (c *OpenAIChatClient) Name() string {
	if c.ProviderName == "" {
		return "openai"
	}
	return c.ProviderName
}

func (c *OpenAIChatClient) endpoint() string {
	url := strings.TrimRight(c.BaseURL, "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	// 用户可能把完整的 /chat/completions 写进了配置
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (c *OpenAIChatClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := c.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	httpc := c.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: timeout}
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	body, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("encode chat request: %w", err)
	}
	url := c.endpoint()
	purpose := req.Purpose
	if purpose == "" {
		purpose = "chat"
	}
	logger.LogLLMRequest(c.Name(), req.Model, purpose, len(req.Messages), string(body))
	logger.Debugf("[AI] 请求: POST %s, headers=%v", url, c.maskedHeaders())

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		start := time.Now()
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return ChatResponse{}, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
		}
		for k, v := range c.ExtraHeaders {
			httpReq.Header.Set(k, v)
		}
		resp, err := httpc.Do(httpReq)
		if err != nil {
			c.Metrics.ObserveLLM(purpose, "error", time.Since(start))
			logger.LogLLMError(c.Name(), req.Model, purpose, err)
			return ChatResponse{}, fmt.Errorf("post %s: %w", url, err)
		}
		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.Metrics.ObserveLLM(purpose, strconv.Itoa(resp.StatusCode), time.Since(start))
		logger.LogLLMResponse(c.Name(), req.Model, purpose, resp.StatusCode, string(raw))
		if readErr != nil {
			return ChatResponse{}, fmt.Errorf("read response: %w", readErr)
		}
		if resp.StatusCode/100 == 2 {
			out, err := decodeChatResponse(raw)
			if err != nil {
				return ChatResponse{}, err
			}
			out.StatusCode = resp.StatusCode
			return out, nil
		}
		apiErr := parseAPIError(resp.StatusCode, resp.Status, raw)
		lastErr = apiErr
		if retryable(resp.StatusCode) && attempt < maxRetries {
			wait := retryAfter(resp.Header.Get("Retry-After"), attempt)
			logger.Warnf("[AI] %s 返回 %d，%s 后重试 (%d/%d)", c.Name(), resp.StatusCode, wait, attempt+1, maxRetries)
			if !sleep(ctx, wait) {
				return ChatResponse{}, ctx.Err()
			}
			continue
		}
		break
	}
	return ChatResponse{}, lastErr
}

func (c *OpenAIChatClient) maskedHeaders() map[string]string {
	hlog := map[string]string{"Content-Type": "application/json"}
	if c.APIKey != "" {
		hlog["Authorization"] = "Bearer ****" + tail(c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			v = "****" + tail(v)
		}
		hlog[k] = v
	}
	return hlog
}

func tail(s string) string {
	if len(s) > 4 {
		return s[len(s)-4:]
	}
	return ""
}

func retryable(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// retryAfter 优先采用服务端的 Retry-After，否则指数退避 0.8s, 1.6s, 3.2s ... 上限 8s。
func retryAfter(header string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	wait := (800 * time.Millisecond) << attempt
	if wait > 8*time.Second {
		wait = 8 * time.Second
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func decodeChatResponse(raw []byte) (ChatResponse, error) {
	if !gjson.ValidBytes(raw) {
		return ChatResponse{}, fmt.Errorf("invalid chat response body")
	}
	doc := gjson.ParseBytes(raw)
	choice := doc.Get("choices.0")
	if !choice.Exists() {
		return ChatResponse{}, fmt.Errorf("empty choices")
	}
	msg := choice.Get("message")
	out := ChatResponse{
		FinishReason: choice.Get("finish_reason").String(),
		Raw:          string(raw),
		Message: ResponseMessage{
			Role:    msg.Get("role").String(),
			Content: messageContent(msg.Get("content")),
		},
	}
	if parsed := msg.Get("parsed"); parsed.Exists() && parsed.Type != gjson.Null {
		out.Message.Parsed = json.RawMessage(parsed.Raw)
	}
	if calls := msg.Get("tool_calls"); calls.IsArray() {
		if err := json.Unmarshal([]byte(calls.Raw), &out.Message.ToolCalls); err != nil {
			return ChatResponse{}, fmt.Errorf("decode tool_calls: %w", err)
		}
	}
	return out, nil
}

// messageContent 兼容字符串与 [{type:text,text:...}] 两种 content 形态。
func messageContent(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		var b strings.Builder
		v.ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() {
				b.WriteString(text.String())
			}
			return true
		})
		return b.String()
	default:
		return ""
	}
}
