package decision

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
)

const debugAllocationUSD = 12.0

// DebugBatch 不调用模型，为每个有价格的资产生成随机方向的小额交易；已有仓位则反向平掉。
func DebugBatch(assets []string, prices map[string]float64, positions map[string]float64, rnd *rand.Rand) Batch {
	decisions := make([]TradeDecision, 0, len(assets))
	for _, asset := range assets {
		price := prices[asset]
		if price <= 0 {
			continue
		}
		var action Action
		switch size := positions[asset]; {
		case size > 0:
			action = ActionSell
		case size < 0:
			action = ActionBuy
		default:
			if rnd.Intn(2) == 0 {
				action = ActionBuy
			} else {
				action = ActionSell
			}
		}
		tp, sl := round2(price*0.995), round2(price*1.01)
		if action == ActionBuy {
			tp, sl = round2(price*1.005), round2(price*0.99)
		}
		decisions = append(decisions, TradeDecision{
			Asset:         asset,
			Action:        action,
			AllocationUSD: debugAllocationUSD,
			TPPrice:       Price(tp),
			SLPrice:       Price(sl),
			ExitPlan:      "Debug trade - auto close on tight TP/SL",
			Rationale:     fmt.Sprintf("Debug/test trade - random %s for stress testing", action),
		})
	}
	return Batch{
		Reasoning:      "Debug mode - generating random trades for stress testing",
		Summary:        fmt.Sprintf("Debug mode: placing %d random trades on %s", len(decisions), strings.Join(assets, ", ")),
		TradeDecisions: decisions,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
