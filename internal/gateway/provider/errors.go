package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// APIError 表示模型服务返回的非 2xx 响应，已耗尽 429/5xx 重试。
type APIError struct {
	StatusCode   int
	Message      string
	ProviderName string
	Raw          string
	Body         string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.ProviderName != "" {
		return fmt.Sprintf("status=%d provider=%s: %s", e.StatusCode, e.ProviderName, e.Message)
	}
	return fmt.Sprintf("status=%d: %s", e.StatusCode, e.Message)
}

// RejectsTools 识别 xAI 路由对工具 schema 的反序列化失败。
func (e *APIError) RejectsTools() bool {
	if e == nil || e.StatusCode != 422 {
		return false
	}
	return strings.HasPrefix(strings.ToLower(e.ProviderName), "xai") &&
		strings.Contains(strings.ToLower(e.Raw), "deserialize")
}

// RejectsStructuredOutput 识别不支持 response_format 的服务端。400/422 一律视为该类拒绝。
func (e *APIError) RejectsStructuredOutput() bool {
	if e == nil {
		return false
	}
	if strings.Contains(e.Body, "response_format") || strings.Contains(e.Body, "structured") {
		return true
	}
	return e.StatusCode == 400 || e.StatusCode == 422
}

func parseAPIError(status int, statusText string, body []byte) *APIError {
	doc := gjson.ParseBytes(body)
	out := &APIError{
		StatusCode:   status,
		Message:      strings.TrimSpace(doc.Get("error.message").String()),
		ProviderName: doc.Get("error.metadata.provider_name").String(),
		Raw:          doc.Get("error.metadata.raw").String(),
		Body:         string(body),
	}
	if out.Message == "" {
		out.Message = statusText
	}
	return out
}

// AsAPIError 从错误链中取出 APIError。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
