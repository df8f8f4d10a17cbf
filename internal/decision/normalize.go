package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"perpagent/internal/logger"
)

const positionalFields = 7

// normalizePayload 把模型输出（对象或旧式位置数组）统一转换为 Batch，并按请求资产做 schema 校验。
// ok=false 表示没有任何可用决策。
func (e *Engine) normalizePayload(payload any, assets []string) (Batch, bool) {
	var (
		out   Batch
		items []any
	)
	switch root := payload.(type) {
	case map[string]any:
		out.Reasoning = coerceString(root["reasoning"])
		out.Summary = coerceString(root["summary"])
		list, ok := root["trade_decisions"].([]any)
		if !ok {
			return out, false
		}
		items = list
	case []any:
		items = root
	default:
		return out, false
	}
	validator, err := e.validators.get(assets)
	if err != nil {
		logger.Errorf("decision schema compile failed: %v", err)
		return out, false
	}
	out.TradeDecisions = make([]TradeDecision, 0, len(items))
	for idx, item := range items {
		d, err := normalizeItem(item)
		if err != nil {
			logger.Warnf("决策#%d 丢弃: %v", idx+1, err)
			continue
		}
		if err := validateDecision(validator, d); err != nil {
			logger.Warnf("决策#%d 丢弃 asset=%s: %v", idx+1, d.Asset, err)
			continue
		}
		out.TradeDecisions = append(out.TradeDecisions, d)
	}
	return out, len(out.TradeDecisions) > 0
}

func normalizeItem(item any) (TradeDecision, error) {
	switch x := item.(type) {
	case map[string]any:
		alloc, _ := coerceFloat64(x["allocation_usd"])
		return TradeDecision{
			Asset:         strings.ToUpper(coerceString(x["asset"])),
			Action:        coerceAction(x["action"]),
			AllocationUSD: alloc,
			TPPrice:       coercePrice(x["tp_price"]),
			SLPrice:       coercePrice(x["sl_price"]),
			ExitPlan:      coerceString(x["exit_plan"]),
			Rationale:     coerceString(x["rationale"]),
		}, nil
	case []any:
		if len(x) < positionalFields {
			return TradeDecision{}, fmt.Errorf("positional decision needs %d fields, got %d", positionalFields, len(x))
		}
		var alloc float64
		if !isFalsy(x[2]) {
			f, ok := coerceFloat64(x[2])
			if !ok {
				return TradeDecision{}, fmt.Errorf("allocation_usd %v is not a number", x[2])
			}
			alloc = f
		}
		return TradeDecision{
			Asset:         strings.ToUpper(coerceString(x[0])),
			Action:        coerceAction(x[1]),
			AllocationUSD: alloc,
			TPPrice:       coercePrice(x[3]),
			SLPrice:       coercePrice(x[4]),
			ExitPlan:      coerceString(x[5]),
			Rationale:     coerceString(x[6]),
		}, nil
	default:
		return TradeDecision{}, fmt.Errorf("unsupported decision shape %T", item)
	}
}

type schemaValidator interface {
	Validate(v interface{}) error
}

func validateDecision(s schemaValidator, d TradeDecision) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}

// isFalsy 判断旧格式中可视为缺省的值：null、空串、false、0 与空容器。
func isFalsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case bool:
		return !x
	case float64:
		return x == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}
