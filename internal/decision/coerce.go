package decision

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

func coerceString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case map[string]any, []any:
		// 模型偶尔把 exit_plan 写成对象，保留其 JSON 文本
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

func coerceFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(x), "$"))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// coercePrice 把 null/"null"/0/非数字 统一为 nil。
func coercePrice(v any) *float64 {
	if s, ok := v.(string); ok && strings.EqualFold(strings.TrimSpace(s), "null") {
		return nil
	}
	f, ok := coerceFloat64(v)
	if !ok || f <= 0 {
		return nil
	}
	return &f
}

func coerceAction(v any) Action {
	switch strings.ToLower(coerceString(v)) {
	case "buy", "long":
		return ActionBuy
	case "sell", "short":
		return ActionSell
	case "hold", "wait", "none":
		return ActionHold
	default:
		return Action(strings.ToLower(coerceString(v)))
	}
}
