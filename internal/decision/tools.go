package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"perpagent/internal/gateway/provider"
	"perpagent/internal/market"
)

const toolFetchIndicator = "fetch_indicator"

func fetchIndicatorTool() provider.ToolDefinition {
	return provider.ToolDefinition{
		Type: "function",
		Function: provider.FunctionSpec{
			Name: toolFetchIndicator,
			Description: "Calculate technical indicator from live Binance data. Available: ema, sma, rsi, macd, atr, " +
				"bbands, stochastic, adx, and other common indicators. " +
				"Specify indicator name, symbol (e.g. 'BTC/USDT'), interval (e.g. '5m', '1h', '4h'), and optional period.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"indicator": map[string]any{"type": "string"},
					"symbol":    map[string]any{"type": "string"},
					"interval":  map[string]any{"type": "string"},
					"period":    map[string]any{"type": "integer"},
					"backtrack": map[string]any{"type": "integer"},
					"other_params": map[string]any{
						"type":                 "object",
						"additionalProperties": map[string]any{"type": []any{"string", "number", "boolean"}},
					},
				},
				"required":             []any{"indicator", "symbol", "interval"},
				"additionalProperties": false,
			},
		},
	}
}

type toolArgs struct {
	Indicator   string         `mapstructure:"indicator"`
	Symbol      string         `mapstructure:"symbol"`
	Interval    string         `mapstructure:"interval"`
	Period      *int           `mapstructure:"period"`
	Backtrack   int            `mapstructure:"backtrack"`
	OtherParams map[string]any `mapstructure:"other_params"`
}

type toolResult struct {
	Value     any    `json:"value"`
	Indicator string `json:"indicator"`
	Symbol    string `json:"symbol"`
	Interval  string `json:"interval"`
}

func decodeToolArgs(raw string) (toolArgs, error) {
	var args toolArgs
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return args, fmt.Errorf("invalid arguments: %w", err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &args,
	})
	if err != nil {
		return args, err
	}
	if err := dec.Decode(m); err != nil {
		return args, fmt.Errorf("invalid arguments: %w", err)
	}
	for name, v := range map[string]string{"indicator": args.Indicator, "symbol": args.Symbol, "interval": args.Interval} {
		if strings.TrimSpace(v) == "" {
			return args, fmt.Errorf("missing required argument '%s'", name)
		}
	}
	return args, nil
}

func (a toolArgs) query() market.IndicatorQuery {
	params := make(map[string]any, len(a.OtherParams)+1)
	if a.Period != nil {
		params["period"] = *a.Period
	}
	for k, v := range a.OtherParams {
		params[k] = v
	}
	q := market.IndicatorQuery{
		Indicator: strings.ToLower(strings.TrimSpace(a.Indicator)),
		Symbol:    strings.TrimSpace(a.Symbol),
		Interval:  strings.TrimSpace(a.Interval),
		Backtrack: a.Backtrack,
		Params:    params,
	}
	if a.Period != nil {
		q.Period = *a.Period
	}
	return q
}

// runTool 执行一次工具调用并返回 tool 消息；任何失败都转为 "Error: ..." 文本，不向上抛出。
func (e *Engine) runTool(ctx context.Context, tc provider.ToolCall) provider.Message {
	msg := provider.Message{Role: provider.RoleTool, ToolCallID: tc.ID, Name: toolFetchIndicator}
	content, err := e.resolveTool(ctx, tc)
	if err != nil {
		e.metrics.ToolCall("error")
		msg.Content = "Error: " + err.Error()
		return msg
	}
	e.metrics.ToolCall("ok")
	msg.Content = content
	return msg
}

func (e *Engine) resolveTool(ctx context.Context, tc provider.ToolCall) (string, error) {
	if tc.Type != "" && tc.Type != "function" {
		return "", fmt.Errorf("unsupported tool type %q", tc.Type)
	}
	if tc.Function.Name != toolFetchIndicator {
		return "", fmt.Errorf("unknown tool %q", tc.Function.Name)
	}
	args, err := decodeToolArgs(tc.Function.Arguments)
	if err != nil {
		return "", err
	}
	value, err := e.indicators.FetchIndicator(ctx, args.query())
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(toolResult{Value: value, Indicator: args.Indicator, Symbol: args.Symbol, Interval: args.Interval})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
