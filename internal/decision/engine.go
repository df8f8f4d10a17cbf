package decision

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"perpagent/internal/config"
	"perpagent/internal/gateway/provider"
	"perpagent/internal/logger"
	"perpagent/internal/market"
	"perpagent/internal/metrics"
	"perpagent/internal/trace"
)

const defaultMaxRounds = 6

// Options 描述一次决策调用可以使用的请求特性。
type Options struct {
	Model            string
	SanitizeModel    string
	RiskProfile      string
	StructuredOutput bool
	Tools            bool
	// Reasoning 为 nil 时不发送 reasoning 提示
	Reasoning map[string]any
	Provider  map[string]any
	MaxRounds int
}

// OptionsFromConfig 把 ai/trading 配置映射到决策选项。
func OptionsFromConfig(ai config.AIConfig, riskProfile string) Options {
	opts := Options{
		Model:            ai.Model,
		SanitizeModel:    ai.SanitizeModel,
		RiskProfile:      riskProfile,
		StructuredOutput: ai.StructuredOutput,
		Tools:            ai.Tools,
		Provider:         ai.ProviderPayload(),
		MaxRounds:        ai.MaxToolRounds,
	}
	if ai.Reasoning.Enabled {
		effort := strings.TrimSpace(ai.Reasoning.Effort)
		if effort == "" {
			effort = "high"
		}
		opts.Reasoning = map[string]any{"enabled": true, "effort": effort, "exclude": false}
	}
	return opts
}

// Engine 驱动与模型的多轮交互，保证返回结构完整的 Batch。
type Engine struct {
	client     provider.ChatClient
	indicators market.IndicatorSource
	guidance   GuidanceSource
	opts       Options
	metrics    *metrics.Collectors
	recorder   Recorder
	validators itemValidators
}

func New(client provider.ChatClient, indicators market.IndicatorSource, guidance GuidanceSource, opts Options, m *metrics.Collectors) *Engine {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = defaultMaxRounds
	}
	if strings.TrimSpace(opts.SanitizeModel) == "" {
		opts.SanitizeModel = "gpt-4o-mini"
	}
	return &Engine{client: client, indicators: indicators, guidance: guidance, opts: opts, metrics: m}
}

// WithRecorder 设置审计记录器，返回 e 便于链式构造。
func (e *Engine) WithRecorder(r Recorder) *Engine {
	e.recorder = r
	return e
}

// Decide 针对 assets 向模型请求决策。只有在能力降级用尽后的传输失败才返回 *TransportError；
// 解析失败与工具循环超限都会得到全 hold 的兜底批次。
func (e *Engine) Decide(ctx context.Context, assets []string, userPrompt string) (Batch, error) {
	ctx, span := trace.StartSpan(ctx, "decision.decide", attribute.Int("assets", len(assets)))
	defer span.End()

	guidance := ""
	if e.guidance != nil {
		guidance = e.guidance.Guidance(e.opts.RiskProfile)
	}
	inv := Invocation{
		CycleID:   trace.CycleID(ctx),
		Model:     e.opts.Model,
		Assets:    append([]string(nil), assets...),
		System:    BuildSystemPrompt(assets, guidance),
		User:      userPrompt,
		StartedAt: time.Now(),
	}
	batch, err := e.decide(ctx, assets, &inv)
	inv.Duration = time.Since(inv.StartedAt)
	inv.Batch = batch
	if err != nil {
		trace.RecordError(span, err)
		inv.Err = err.Error()
	}
	if e.recorder != nil {
		e.recorder.RecordInvocation(ctx, inv)
	}
	return batch, err
}

func (e *Engine) decide(ctx context.Context, assets []string, inv *Invocation) (Batch, error) {
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: inv.System},
		{Role: provider.RoleUser, Content: inv.User},
	}
	allowTools := e.opts.Tools && e.indicators != nil
	allowStructured := e.opts.StructuredOutput

	for round := 0; round < e.opts.MaxRounds; round++ {
		inv.Rounds = round + 1
		req := e.buildRequest(messages, assets, allowTools, allowStructured)
		resp, err := e.client.Chat(ctx, req)
		if err != nil {
			if apiErr, ok := provider.AsAPIError(err); ok {
				if allowTools && apiErr.RejectsTools() {
					logger.Warnf("[decision] %s 拒绝工具 schema，去掉 tools 重试", apiErr.ProviderName)
					e.metrics.Downgrade("tools")
					inv.Downgrades = append(inv.Downgrades, "tools")
					allowTools = false
					continue
				}
				if allowStructured && apiErr.RejectsStructuredOutput() {
					logger.Warnf("[decision] provider 不支持结构化输出 (status=%d)，去掉 response_format 重试", apiErr.StatusCode)
					e.metrics.Downgrade("structured_output")
					inv.Downgrades = append(inv.Downgrades, "structured_output")
					allowStructured = false
					continue
				}
			}
			return Batch{}, &TransportError{Op: "decide", Err: err}
		}
		msg := resp.Message
		messages = append(messages, msg.AsMessage())
		if allowTools && len(msg.ToolCalls) > 0 {
			inv.ToolCalls += len(msg.ToolCalls)
			logger.Debugf("[decision] round=%d 工具调用 %d 个", round+1, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				messages = append(messages, e.runTool(ctx, tc))
			}
			continue
		}
		inv.RawOutput = msg.Content
		if inv.RawOutput == "" && len(msg.Parsed) > 0 {
			inv.RawOutput = string(msg.Parsed)
		}
		batch, failsafe := e.terminalParse(ctx, assets, msg)
		if failsafe {
			inv.Failsafe = FailsafeParseError
		}
		return batch, nil
	}
	logger.Warnf("[decision] %v after %d rounds, holding all assets", ErrToolLoopExceeded, e.opts.MaxRounds)
	e.metrics.Failsafe(FailsafeToolLoopCap)
	inv.Failsafe = FailsafeToolLoopCap
	return ToolLoopCapBatch(assets), nil
}

func (e *Engine) buildRequest(messages []provider.Message, assets []string, allowTools, allowStructured bool) provider.ChatRequest {
	req := provider.ChatRequest{
		Model:     e.opts.Model,
		Messages:  append([]provider.Message(nil), messages...),
		Reasoning: e.opts.Reasoning,
		Provider:  e.opts.Provider,
		Purpose:   "decide",
	}
	if allowStructured {
		req.ResponseFormat = strictFormat(assets)
	}
	if allowTools {
		req.Tools = []provider.ToolDefinition{fetchIndicatorTool()}
		req.ToolChoice = "auto"
	}
	return req
}

func strictFormat(assets []string) *provider.ResponseFormat {
	return &provider.ResponseFormat{
		Type: "json_schema",
		JSONSchema: &provider.JSONSchema{
			Name:   schemaName,
			Strict: true,
			Schema: OutputSchema(assets),
		},
	}
}
