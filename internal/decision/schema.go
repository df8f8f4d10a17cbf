package decision

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaName = "trade_decisions"

var requiredDecisionKeys = []any{"asset", "action", "allocation_usd", "tp_price", "sl_price", "exit_plan", "rationale"}

func decisionItemSchema(assets []string) map[string]any {
	enum := make([]any, 0, len(assets))
	for _, a := range assets {
		enum = append(enum, a)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"asset":          map[string]any{"type": "string", "enum": enum},
			"action":         map[string]any{"type": "string", "enum": []any{"buy", "sell", "hold"}},
			"allocation_usd": map[string]any{"type": "number", "minimum": 0},
			"tp_price":       map[string]any{"type": []any{"number", "null"}},
			"sl_price":       map[string]any{"type": []any{"number", "null"}},
			"exit_plan":      map[string]any{"type": "string"},
			"rationale":      map[string]any{"type": "string"},
		},
		"required":             requiredDecisionKeys,
		"additionalProperties": false,
	}
}

// OutputSchema 是 response_format 与 sanitize 共用的严格输出 schema。
func OutputSchema(assets []string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reasoning": map[string]any{"type": "string"},
			"summary":   map[string]any{"type": "string"},
			"trade_decisions": map[string]any{
				"type":     "array",
				"items":    decisionItemSchema(assets),
				"minItems": 1,
			},
		},
		"required":             []any{"reasoning", "summary", "trade_decisions"},
		"additionalProperties": false,
	}
}

// itemValidators 按资产列表缓存编译后的单条决策 schema。
type itemValidators struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

func (v *itemValidators) get(assets []string) (*jsonschema.Schema, error) {
	key := strings.Join(assets, ",")
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.cache[key]; ok {
		return s, nil
	}
	s, err := compileSchema(decisionItemSchema(assets))
	if err != nil {
		return nil, err
	}
	if v.cache == nil {
		v.cache = make(map[string]*jsonschema.Schema)
	}
	v.cache[key] = s
	return s, nil
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("decision.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("decision.json")
}
