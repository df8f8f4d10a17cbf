package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"perpagent/internal/pkg/jsonutil"
)

// 审计记录：每一次模型请求/响应都写入独立的 LLM 日志，与解析结果无关。

var (
	llmMu          sync.Mutex
	llmLog         *log.Logger
	llmDumpPayload bool
)

func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

func EnableLLMPayloadDump(enabled bool) {
	llmMu.Lock()
	llmDumpPayload = enabled
	llmMu.Unlock()
}

type llmSection struct {
	Title string
	Body  string
}

func logLLM(kind, provider, purpose string, sections []llmSection) {
	llmMu.Lock()
	l := llmLog
	llmMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM]")
	for _, tag := range []string{kind, provider, purpose} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

func payloadEnabled() bool {
	llmMu.Lock()
	defer llmMu.Unlock()
	return llmDumpPayload
}

// LogLLMRequest 记录一次发往模型的请求。未开启 payload dump 时只保留模型与消息数量摘要。
func LogLLMRequest(provider, model, purpose string, messages int, payload string) {
	sections := []llmSection{{Title: "META", Body: fmt.Sprintf("model=%s messages=%d", model, messages)}}
	if payloadEnabled() && strings.TrimSpace(payload) != "" {
		sections = append(sections, llmSection{Title: "PAYLOAD", Body: jsonutil.Pretty(payload)})
	}
	logLLM("request", provider, purpose, sections)
}

// LogLLMResponse 记录模型返回的原始文本（包括错误响应）。
func LogLLMResponse(provider, model, purpose string, status int, raw string) {
	sections := []llmSection{
		{Title: "META", Body: fmt.Sprintf("model=%s status=%d", model, status)},
		{Title: "RAW", Body: raw},
	}
	logLLM("response", provider, purpose, sections)
}

// LogLLMError 记录没有 HTTP 响应的失败（网络错误、超时）。
func LogLLMError(provider, model, purpose string, err error) {
	if err == nil {
		return
	}
	logLLM("error", provider, purpose, []llmSection{
		{Title: "META", Body: fmt.Sprintf("model=%s", model)},
		{Title: "ERROR", Body: err.Error()},
	})
}
