package decision

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpagent/internal/config"
)

func testAIConfig() config.AIConfig {
	return config.AIConfig{
		Model:                 "m",
		SanitizeModel:         "s",
		StructuredOutput:      true,
		Tools:                 true,
		Reasoning:             config.ReasoningConfig{Enabled: true},
		ProviderQuantizations: []string{"fp8"},
		MaxToolRounds:         6,
	}
}

func TestIsDegenerate(t *testing.T) {
	assert.True(t, IsDegenerate(Batch{}))
	assert.True(t, IsDegenerate(ParseErrorBatch([]string{"BTC", "ETH"})))
	assert.False(t, IsDegenerate(ToolLoopCapBatch([]string{"BTC"})))
	assert.False(t, IsDegenerate(Batch{TradeDecisions: []TradeDecision{
		{Asset: "BTC", Action: ActionHold, Rationale: "Parse error"},
		{Asset: "ETH", Action: ActionBuy, Rationale: "Parse error"},
	}}))
	assert.False(t, IsDegenerate(Batch{TradeDecisions: []TradeDecision{{Asset: "BTC", Action: ActionHold, Rationale: "waiting"}}}))
}

func TestForAssets(t *testing.T) {
	b := Batch{Summary: "s", TradeDecisions: []TradeDecision{{Asset: "BTC"}, {Asset: "DOGE"}, {Asset: "ETH"}}}
	got := b.ForAssets([]string{"ETH", "BTC"})
	require.Len(t, got.TradeDecisions, 2)
	assert.Equal(t, "BTC", got.TradeDecisions[0].Asset)
	assert.Equal(t, "ETH", got.TradeDecisions[1].Asset)
	assert.Equal(t, "s", got.Summary)
}

func TestFailsafeShapes(t *testing.T) {
	b := ParseErrorBatch([]string{"BTC"})
	assert.Equal(t, "Parse error", b.Reasoning)
	assert.Equal(t, "Having trouble processing the market data. Staying flat until next cycle.", b.Summary)
	assert.Equal(t, TradeDecision{Asset: "BTC", Action: ActionHold, Rationale: "Parse error"}, b.TradeDecisions[0])

	b = ToolLoopCapBatch([]string{"ETH"})
	assert.Equal(t, "Analysis taking too long. Staying flat until next cycle.", b.Summary)
	assert.Equal(t, "tool loop cap", b.TradeDecisions[0].Rationale)
}

func TestDebugBatch(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	b := DebugBatch(
		[]string{"BTC", "ETH", "SOL", "XRP"},
		map[string]float64{"BTC": 70000, "ETH": 3000, "SOL": 100},
		map[string]float64{"BTC": 0.01, "ETH": -0.5},
		rnd,
	)
	require.Len(t, b.TradeDecisions, 3, "assets without price are skipped")

	btc := b.TradeDecisions[0]
	assert.Equal(t, ActionSell, btc.Action)
	assert.Equal(t, 12.0, btc.AllocationUSD)
	assert.Equal(t, 69650.0, *btc.TPPrice)
	assert.Equal(t, 70700.0, *btc.SLPrice)

	eth := b.TradeDecisions[1]
	assert.Equal(t, ActionBuy, eth.Action)
	assert.Equal(t, 3015.0, *eth.TPPrice)
	assert.Equal(t, 2970.0, *eth.SLPrice)

	sol := b.TradeDecisions[2]
	assert.True(t, sol.Action.IsTrade())
	assert.Contains(t, b.Summary, "placing 3 random trades")
}
