package decision

const (
	reasonParseError  = "Parse error"
	reasonToolLoopCap = "tool loop cap"

	summaryParseError  = "Having trouble processing the market data. Staying flat until next cycle."
	summaryToolLoopCap = "Analysis taking too long. Staying flat until next cycle."
)

// ParseErrorBatch 为每个资产生成 hold，理由 "Parse error"。
func ParseErrorBatch(assets []string) Batch {
	return holdBatch(assets, reasonParseError, summaryParseError)
}

// ToolLoopCapBatch 在工具往返次数耗尽时使用。
func ToolLoopCapBatch(assets []string) Batch {
	return holdBatch(assets, reasonToolLoopCap, summaryToolLoopCap)
}

func holdBatch(assets []string, reason, summary string) Batch {
	out := Batch{Reasoning: reason, Summary: summary, TradeDecisions: make([]TradeDecision, 0, len(assets))}
	for _, a := range assets {
		out.TradeDecisions = append(out.TradeDecisions, TradeDecision{
			Asset:     a,
			Action:    ActionHold,
			Rationale: reason,
		})
	}
	return out
}
