package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpagent/internal/gateway/provider"
	"perpagent/internal/market"
	"perpagent/internal/trace"
)

type scriptStep struct {
	resp provider.ChatResponse
	err  error
}

type scriptedClient struct {
	mu       sync.Mutex
	steps    []scriptStep
	requests []provider.ChatRequest
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Chat(_ context.Context, req provider.ChatRequest) (provider.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.steps) == 0 {
		return provider.ChatResponse{}, errors.New("script exhausted")
	}
	step := c.steps[0]
	c.steps = c.steps[1:]
	return step.resp, step.err
}

func (c *scriptedClient) push(steps ...scriptStep) *scriptedClient {
	c.steps = append(c.steps, steps...)
	return c
}

func content(s string) scriptStep {
	return scriptStep{resp: provider.ChatResponse{Message: provider.ResponseMessage{Role: "assistant", Content: s}}}
}

func toolCall(id, args string) scriptStep {
	return scriptStep{resp: provider.ChatResponse{Message: provider.ResponseMessage{
		Role: "assistant",
		ToolCalls: []provider.ToolCall{{ID: id, Type: "function", Function: provider.FunctionCall{
			Name: toolFetchIndicator, Arguments: args,
		}}},
	}}}
}

func apiErr(status int, body string) scriptStep {
	var doc struct {
		Error struct {
			Metadata struct {
				Raw          string `json:"raw"`
				ProviderName string `json:"provider_name"`
			} `json:"metadata"`
		} `json:"error"`
	}
	_ = json.Unmarshal([]byte(body), &doc)
	return scriptStep{err: &provider.APIError{
		StatusCode:   status,
		ProviderName: doc.Error.Metadata.ProviderName,
		Raw:          doc.Error.Metadata.Raw,
		Body:         body,
	}}
}

type fakeIndicators struct {
	queries []market.IndicatorQuery
	value   any
	err     error
}

func (f *fakeIndicators) FetchIndicator(_ context.Context, q market.IndicatorQuery) (any, error) {
	f.queries = append(f.queries, q)
	return f.value, f.err
}

type staticGuidance string

func (g staticGuidance) Guidance(string) string { return string(g) }

func newEngine(c provider.ChatClient, ind market.IndicatorSource) *Engine {
	return New(c, ind, staticGuidance("RISK PROFILE: TEST"), Options{
		Model: "main-model", SanitizeModel: "sanitizer", StructuredOutput: true, Tools: true,
	}, nil)
}

const validBTCETH = `{"reasoning":"r","summary":"s","trade_decisions":[
	{"asset":"BTC","action":"buy","allocation_usd":5,"tp_price":71000,"sl_price":68000,"exit_plan":"below 67k","rationale":"trend"},
	{"asset":"ETH","action":"hold","allocation_usd":0,"tp_price":null,"sl_price":null,"exit_plan":"","rationale":"chop"}]}`

func TestDecideStructuredResponse(t *testing.T) {
	c := (&scriptedClient{}).push(content(validBTCETH))
	batch, err := newEngine(c, &fakeIndicators{}).Decide(context.Background(), []string{"BTC", "ETH"}, `{"ctx":1}`)
	require.NoError(t, err)
	require.Len(t, batch.TradeDecisions, 2)
	btc := batch.TradeDecisions[0]
	assert.Equal(t, ActionBuy, btc.Action)
	assert.Equal(t, 5.0, btc.AllocationUSD)
	require.NotNil(t, btc.TPPrice)
	assert.Equal(t, 71000.0, *btc.TPPrice)
	assert.Nil(t, batch.TradeDecisions[1].TPPrice)

	require.Len(t, c.requests, 1)
	req := c.requests[0]
	assert.Equal(t, "main-model", req.Model)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "trade_decisions", req.ResponseFormat.JSONSchema.Name)
	assert.True(t, req.ResponseFormat.JSONSchema.Strict)
	assert.Equal(t, "auto", req.ToolChoice)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, provider.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, `assets = ["BTC","ETH"]`)
	assert.Contains(t, req.Messages[0].Content, "RISK PROFILE: TEST")
	assert.Equal(t, `{"ctx":1}`, req.Messages[1].Content)
}

func TestDecidePrefersParsedPayload(t *testing.T) {
	c := (&scriptedClient{}).push(scriptStep{resp: provider.ChatResponse{Message: provider.ResponseMessage{
		Content: "garbage",
		Parsed:  json.RawMessage(`{"reasoning":"","summary":"","trade_decisions":[{"asset":"BTC","action":"sell","allocation_usd":20,"tp_price":null,"sl_price":null,"exit_plan":"","rationale":"x"}]}`),
	}}})
	batch, err := newEngine(c, nil).Decide(context.Background(), []string{"BTC"}, "{}")
	require.NoError(t, err)
	require.Len(t, batch.TradeDecisions, 1)
	assert.Equal(t, ActionSell, batch.TradeDecisions[0].Action)
	assert.Len(t, c.requests, 1)
}

func TestDecideDropsUnrequestedAssets(t *testing.T) {
	c := (&scriptedClient{}).push(content(`{"reasoning":"","summary":"","trade_decisions":[
		{"asset":"DOGE","action":"buy","allocation_usd":50,"tp_price":null,"sl_price":null,"exit_plan":"","rationale":""},
		{"asset":"BTC","action":"hold","allocation_usd":0,"tp_price":null,"sl_price":null,"exit_plan":"","rationale":"wait"}]}`))
	batch, err := newEngine(c, nil).Decide(context.Background(), []string{"BTC", "ETH"}, "{}")
	require.NoError(t, err)
	require.Len(t, batch.TradeDecisions, 1)
	assert.Equal(t, "BTC", batch.TradeDecisions[0].Asset)
}

func TestDecideLegacyPositionalAndDefaults(t *testing.T) {
	c := (&scriptedClient{}).push(content("```json\n" + `{"reasoning":"r","summary":"s","trade_decisions":[
		["BTC","buy","15","71000","null","plan","why"],
		{"asset":"ETH","action":"hold"}]}` + "\n```"))
	batch, err := newEngine(c, nil).Decide(context.Background(), []string{"BTC", "ETH"}, "{}")
	require.NoError(t, err)
	require.Len(t, batch.TradeDecisions, 2)
	btc := batch.TradeDecisions[0]
	assert.Equal(t, 15.0, btc.AllocationUSD)
	require.NotNil(t, btc.TPPrice)
	assert.Equal(t, 71000.0, *btc.TPPrice)
	assert.Nil(t, btc.SLPrice)
	assert.Equal(t, "plan", btc.ExitPlan)
	assert.Equal(t, "why", btc.Rationale)

	eth := batch.TradeDecisions[1]
	assert.Equal(t, TradeDecision{Asset: "ETH", Action: ActionHold}, eth)
}

func TestDecideToolLoopAppendsResults(t *testing.T) {
	ind := &fakeIndicators{value: 61.25}
	c := (&scriptedClient{}).push(
		toolCall("call_1", `{"indicator":"RSI","symbol":"BTC/USDT","interval":"5m","period":14,"other_params":{"source":"close"}}`),
		content(validBTCETH),
	)
	batch, err := newEngine(c, ind).Decide(context.Background(), []string{"BTC", "ETH"}, "{}")
	require.NoError(t, err)
	assert.Len(t, batch.TradeDecisions, 2)

	require.Len(t, ind.queries, 1)
	q := ind.queries[0]
	assert.Equal(t, "rsi", q.Indicator)
	assert.Equal(t, 14, q.Period)
	assert.Equal(t, map[string]any{"period": 14, "source": "close"}, q.Params)

	require.Len(t, c.requests, 2)
	msgs := c.requests[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, provider.RoleAssistant, msgs[2].Role)
	tool := msgs[3]
	assert.Equal(t, provider.RoleTool, tool.Role)
	assert.Equal(t, "call_1", tool.ToolCallID)
	assert.Equal(t, toolFetchIndicator, tool.Name)
	assert.JSONEq(t, `{"value":61.25,"indicator":"RSI","symbol":"BTC/USDT","interval":"5m"}`, tool.Content)
}

func TestDecideToolErrorsBecomeMessages(t *testing.T) {
	ind := &fakeIndicators{err: errors.New("no klines")}
	c := (&scriptedClient{}).push(
		scriptStep{resp: provider.ChatResponse{Message: provider.ResponseMessage{ToolCalls: []provider.ToolCall{
			{ID: "a", Type: "function", Function: provider.FunctionCall{Name: toolFetchIndicator, Arguments: `{"indicator":"ema","symbol":"BTC/USDT","interval":"4h"}`}},
			{ID: "b", Type: "function", Function: provider.FunctionCall{Name: "place_order", Arguments: `{}`}},
			{ID: "c", Type: "function", Function: provider.FunctionCall{Name: toolFetchIndicator, Arguments: `{not json`}},
			{ID: "d", Type: "function", Function: provider.FunctionCall{Name: toolFetchIndicator, Arguments: `{"indicator":"ema","interval":"4h"}`}},
		}}}},
		content(validBTCETH),
	)
	_, err := newEngine(c, ind).Decide(context.Background(), []string{"BTC", "ETH"}, "{}")
	require.NoError(t, err)
	msgs := c.requests[1].Messages
	require.Len(t, msgs, 7)
	assert.Equal(t, "Error: no klines", msgs[3].Content)
	assert.Equal(t, `Error: unknown tool "place_order"`, msgs[4].Content)
	assert.True(t, strings.HasPrefix(msgs[5].Content, "Error: invalid arguments"))
	assert.Equal(t, "Error: missing required argument 'symbol'", msgs[6].Content)
}

func TestDecideToolLoopCap(t *testing.T) {
	c := &scriptedClient{}
	for i := 0; i < 6; i++ {
		c.push(toolCall(fmt.Sprintf("call_%d", i), `{"indicator":"rsi","symbol":"BTC/USDT","interval":"5m"}`))
	}
	ind := &fakeIndicators{value: 50.0}
	batch, err := newEngine(c, ind).Decide(context.Background(), []string{"BTC", "ETH", "SOL"}, "{}")
	require.NoError(t, err)
	assert.Equal(t, ToolLoopCapBatch([]string{"BTC", "ETH", "SOL"}), batch)
	assert.Equal(t, "tool loop cap", batch.Reasoning)
	assert.Len(t, c.requests, 6)
	assert.Len(t, ind.queries, 6)
	assert.False(t, IsDegenerate(batch))
}

func TestDecideUnparsableFallsBackToSanitize(t *testing.T) {
	c := (&scriptedClient{}).push(
		content("I think BTC looks bullish, buy some."),
		scriptStep{resp: provider.ChatResponse{Message: provider.ResponseMessage{
			Parsed: json.RawMessage(`{"reasoning":"fixed","summary":"","trade_decisions":[{"asset":"BTC","action":"buy","allocation_usd":20,"tp_price":null,"sl_price":null,"exit_plan":"","rationale":"bull"}]}`),
		}}},
	)
	batch, err := newEngine(c, nil).Decide(context.Background(), []string{"BTC"}, "{}")
	require.NoError(t, err)
	assert.Equal(t, "fixed", batch.Reasoning)
	require.Len(t, c.requests, 2)
	san := c.requests[1]
	assert.Equal(t, "sanitizer", san.Model)
	assert.Equal(t, "sanitize", san.Purpose)
	require.NotNil(t, san.Temperature)
	assert.Equal(t, 0.0, *san.Temperature)
	assert.Equal(t, sanitizePrompt, san.Messages[0].Content)
	assert.Equal(t, "I think BTC looks bullish, buy some.", san.Messages[1].Content)
	assert.Empty(t, san.Tools)
}

func TestDecideParseErrorFailsafe(t *testing.T) {
	for _, assets := range [][]string{{"BTC"}, {"BTC", "ETH", "SOL", "XRP"}} {
		c := (&scriptedClient{}).push(
			content("not json at all"),
			scriptStep{err: errors.New("sanitizer down")},
		)
		batch, err := newEngine(c, nil).Decide(context.Background(), assets, "{}")
		require.NoError(t, err)
		require.Len(t, batch.TradeDecisions, len(assets))
		for i, d := range batch.TradeDecisions {
			assert.Equal(t, assets[i], d.Asset)
			assert.Equal(t, ActionHold, d.Action)
			assert.Contains(t, d.Rationale, "Parse error")
		}
		assert.True(t, IsDegenerate(batch))
	}
}

func TestDecideSanitizeWithoutDecisionsFailsafe(t *testing.T) {
	c := (&scriptedClient{}).push(
		content(`{"reasoning":"x","summary":"y"}`),
		content(`{"reasoning":"","summary":""}`),
	)
	batch, err := newEngine(c, nil).Decide(context.Background(), []string{"BTC"}, "{}")
	require.NoError(t, err)
	assert.Equal(t, ParseErrorBatch([]string{"BTC"}), batch)
}

func TestDecideDowngradesTools(t *testing.T) {
	c := (&scriptedClient{}).push(
		apiErr(422, `{"error":{"metadata":{"raw":"Failed to deserialize","provider_name":"xAI"}}}`),
		content(validBTCETH),
	)
	_, err := newEngine(c, &fakeIndicators{}).Decide(context.Background(), []string{"BTC", "ETH"}, "{}")
	require.NoError(t, err)
	require.Len(t, c.requests, 2)
	assert.NotEmpty(t, c.requests[0].Tools)
	assert.Empty(t, c.requests[1].Tools)
	assert.Empty(t, c.requests[1].ToolChoice)
	assert.NotNil(t, c.requests[1].ResponseFormat)
}

func TestDecideDowngradesStructuredOutput(t *testing.T) {
	c := (&scriptedClient{}).push(
		apiErr(400, `{"error":{"message":"response_format is not supported"}}`),
		content(validBTCETH),
	)
	_, err := newEngine(c, &fakeIndicators{}).Decide(context.Background(), []string{"BTC", "ETH"}, "{}")
	require.NoError(t, err)
	require.Len(t, c.requests, 2)
	assert.Nil(t, c.requests[1].ResponseFormat)
	assert.NotEmpty(t, c.requests[1].Tools)
}

func TestDecideDowngradesBothThenFails(t *testing.T) {
	xai := `{"error":{"metadata":{"raw":"deserialize","provider_name":"xai"}}}`
	c := (&scriptedClient{}).push(
		apiErr(422, xai),
		apiErr(422, xai),
		apiErr(422, xai),
	)
	_, err := newEngine(c, &fakeIndicators{}).Decide(context.Background(), []string{"BTC"}, "{}")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	require.Len(t, c.requests, 3)
	assert.Empty(t, c.requests[1].Tools)
	assert.NotNil(t, c.requests[1].ResponseFormat)
	assert.Nil(t, c.requests[2].ResponseFormat)
}

func TestDecideTransportError(t *testing.T) {
	c := (&scriptedClient{}).push(
		scriptStep{err: errors.New("dial tcp: connection refused")},
	)
	_, err := newEngine(c, nil).Decide(context.Background(), []string{"BTC"}, "{}")
	require.Error(t, err)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "decide", te.Op)

	c = (&scriptedClient{}).push(apiErr(401, `{"error":{"message":"bad key"}}`))
	_, err = newEngine(c, nil).Decide(context.Background(), []string{"BTC"}, "{}")
	assert.True(t, IsTransport(err))
}

func TestOptionsFromConfigReasoning(t *testing.T) {
	opts := OptionsFromConfig(testAIConfig(), "moderate")
	assert.Equal(t, map[string]any{"enabled": true, "effort": "high", "exclude": false}, opts.Reasoning)
	assert.Equal(t, []string{"fp8"}, opts.Provider["quantizations"])
	assert.Equal(t, "moderate", opts.RiskProfile)

	c := (&scriptedClient{}).push(content(validBTCETH))
	e := New(c, nil, nil, opts, nil)
	_, err := e.Decide(context.Background(), []string{"BTC", "ETH"}, "{}")
	require.NoError(t, err)
	assert.Equal(t, opts.Reasoning, c.requests[0].Reasoning)
	assert.Equal(t, opts.Provider, c.requests[0].Provider)
	assert.Empty(t, c.requests[0].Tools, "tools need an indicator source")
}

type captureRecorder struct {
	invocations []Invocation
}

func (r *captureRecorder) RecordInvocation(_ context.Context, inv Invocation) {
	r.invocations = append(r.invocations, inv)
}

func TestDecideRecordsInvocation(t *testing.T) {
	rec := &captureRecorder{}
	c := (&scriptedClient{}).push(
		toolCall("call_1", `{"indicator":"rsi","symbol":"BTC/USDT","interval":"5m"}`),
		content(validBTCETH),
	)
	ctx := trace.WithCycleID(context.Background(), "cycle-1")
	_, err := newEngine(c, &fakeIndicators{value: 55.0}).WithRecorder(rec).Decide(ctx, []string{"BTC", "ETH"}, `{"ctx":1}`)
	require.NoError(t, err)
	require.Len(t, rec.invocations, 1)
	inv := rec.invocations[0]
	assert.Equal(t, "cycle-1", inv.CycleID)
	assert.Equal(t, "main-model", inv.Model)
	assert.Equal(t, 2, inv.Rounds)
	assert.Equal(t, 1, inv.ToolCalls)
	assert.Equal(t, `{"ctx":1}`, inv.User)
	assert.Contains(t, inv.System, "RISK PROFILE: TEST")
	assert.Equal(t, validBTCETH, inv.RawOutput)
	assert.Empty(t, inv.Failsafe)
	assert.Len(t, inv.Batch.TradeDecisions, 2)
}

func TestDecideRecordsFailsafeAndErrors(t *testing.T) {
	rec := &captureRecorder{}
	c := (&scriptedClient{}).push(
		content("garbage"),
		scriptStep{err: errors.New("sanitizer down")},
		scriptStep{err: errors.New("connection reset")},
	)
	eng := newEngine(c, nil).WithRecorder(rec)
	_, err := eng.Decide(context.Background(), []string{"BTC"}, "{}")
	require.NoError(t, err)
	_, err = eng.Decide(context.Background(), []string{"BTC"}, "{}")
	require.Error(t, err)

	require.Len(t, rec.invocations, 2)
	assert.Equal(t, FailsafeParseError, rec.invocations[0].Failsafe)
	assert.Contains(t, rec.invocations[1].Err, "connection reset")
}
