package decision

import (
	"strings"
)

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

func (a Action) IsTrade() bool { return a == ActionBuy || a == ActionSell }

// TradeDecision 是模型对单个资产的规范化决策。
type TradeDecision struct {
	Asset         string   `json:"asset"`
	Action        Action   `json:"action"`
	AllocationUSD float64  `json:"allocation_usd"`
	TPPrice       *float64 `json:"tp_price"`
	SLPrice       *float64 `json:"sl_price"`
	ExitPlan      string   `json:"exit_plan"`
	Rationale     string   `json:"rationale"`
}

// Batch 是一次决策调用的完整输出。
type Batch struct {
	Reasoning      string          `json:"reasoning"`
	Summary        string          `json:"summary"`
	TradeDecisions []TradeDecision `json:"trade_decisions"`
}

// ForAssets 丢弃不在 assets 中的决策，保持原顺序。
func (b Batch) ForAssets(assets []string) Batch {
	allowed := assetSet(assets)
	out := Batch{Reasoning: b.Reasoning, Summary: b.Summary, TradeDecisions: make([]TradeDecision, 0, len(b.TradeDecisions))}
	for _, d := range b.TradeDecisions {
		if _, ok := allowed[d.Asset]; ok {
			out.TradeDecisions = append(out.TradeDecisions, d)
		}
	}
	return out
}

// IsDegenerate 判断批次是否需要重试：为空，或全部是带 parse error 理由的 hold。
func IsDegenerate(b Batch) bool {
	if len(b.TradeDecisions) == 0 {
		return true
	}
	for _, d := range b.TradeDecisions {
		if d.Action != ActionHold {
			return false
		}
		if !strings.Contains(strings.ToLower(d.Rationale), "parse error") {
			return false
		}
	}
	return true
}

func assetSet(assets []string) map[string]struct{} {
	out := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		out[a] = struct{}{}
	}
	return out
}

func Price(v float64) *float64 { return &v }
