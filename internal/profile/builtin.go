package profile

const (
	Conservative = "conservative"
	Moderate     = "moderate"
	High         = "high"
	Debug        = "debug"
)

// Names 返回内置风险档位。
func Names() []string {
	return []string{Conservative, Moderate, High, Debug}
}

func IsKnown(name string) bool {
	_, ok := builtin[name]
	return ok
}

var builtin = map[string]string{
	Debug: "RISK PROFILE: DEBUG - FAST TESTING MODE\n" +
		"This is debug/testing mode. Analyze the market data normally and make decisions, but:\n\n" +
		"TRADING RULES FOR DEBUG:\n" +
		"1. BE AGGRESSIVE - Take trades on even moderate signals. Don't wait for perfect setups.\n" +
		"2. SMALL SIZE: Allocate exactly $12 per trade (minimum to test order flow).\n" +
		"3. NO COOLDOWN: You can trade the same asset every cycle.\n" +
		"4. TIGHT TP/SL: Use 0.5% take profit and 1% stop loss.\n" +
		"5. PREFER TRADING: If signals are neutral, lean towards taking a small position anyway.\n\n" +
		"STILL ANALYZE INDICATORS:\n" +
		"- Look at EMA, MACD, RSI as usual\n" +
		"- Explain your reasoning in the summary\n" +
		"- Make decisions based on the data, just with lower thresholds\n\n" +
		"SUMMARY FORMAT:\n" +
		"Write a natural first-person summary explaining your analysis and decision.\n" +
		"Example: 'BTC is showing bullish momentum with RSI at 58 and MACD positive. Going long with a small test position.'\n",
	High: "RISK PROFILE: HIGH - AGGRESSIVE TRADING MODE\n" +
		"- TAKE TRADES FREQUENTLY - Don't wait for perfect setups. Trade on moderate signals.\n" +
		"- REDUCED COOLDOWN: Only 1 bar cooldown (5m) between trades. Be active.\n" +
		"- LOWER CONFLUENCE REQUIRED: RSI >55 or <45 is enough for entry. Don't need all indicators aligned.\n" +
		"- ALLOCATE 60-80% of available balance per trade for meaningful exposure.\n" +
		"- USE 10-20X LEVERAGE to maximize returns on small moves.\n" +
		"- TIGHT STOPS: Use 0.3-0.5% stop losses to churn positions frequently.\n" +
		"- QUICK EXITS: Take profit at 0.5-1% gains. Don't wait for big moves.\n" +
		"- IGNORE HYSTERESIS: Trade both directions actively based on current signals.\n" +
		"- FUNDING IRRELEVANT: Trade regardless of funding rates.\n" +
		"- BE DECISIVE: When in doubt, take a position. Holding is losing opportunity.\n",
	Moderate: "RISK PROFILE: MODERATE - BALANCED TRADING\n" +
		"- ALLOCATE 40-60% of available balance per trade.\n" +
		"- USE 5-10X LEVERAGE for enhanced returns.\n" +
		"- COOLDOWN: 2 bars (10m) between direction changes.\n" +
		"- MODERATE CONFLUENCE: Need 2 out of 3 indicators aligned (EMA, RSI, MACD).\n" +
		"- NORMAL STOPS: 0.5-1% stop losses.\n" +
		"- Take profits at 1-2% gains.\n",
	Conservative: "RISK PROFILE: CONSERVATIVE - CAREFUL TRADING\n" +
		"- ALLOCATE 20-40% of available balance per trade.\n" +
		"- USE 3-5X LEVERAGE maximum.\n" +
		"- COOLDOWN: 3 bars (15m) between direction changes.\n" +
		"- HIGH CONFLUENCE: Need multiple timeframes and indicators aligned.\n" +
		"- WIDE STOPS: 1-2% stop losses for room to breathe.\n" +
		"- Take profits at 2-4% gains.\n",
}
