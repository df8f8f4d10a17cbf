package execution

import "fmt"

// checkTakeProfit / checkStopLoss 校验止盈止损方向：多头要求 tp > price > sl，空头相反。
// 返回空字符串表示通过。
func checkTakeProfit(isBuy bool, price, tp float64) string {
	if tp <= 0 {
		return "non-positive take-profit price"
	}
	if isBuy && tp <= price {
		return fmt.Sprintf("take-profit %.6g must be above price %.6g for a long", tp, price)
	}
	if !isBuy && tp >= price {
		return fmt.Sprintf("take-profit %.6g must be below price %.6g for a short", tp, price)
	}
	return ""
}

func checkStopLoss(isBuy bool, price, sl float64) string {
	if sl <= 0 {
		return "non-positive stop-loss price"
	}
	if isBuy && sl >= price {
		return fmt.Sprintf("stop-loss %.6g must be below price %.6g for a long", sl, price)
	}
	if !isBuy && sl <= price {
		return fmt.Sprintf("stop-loss %.6g must be above price %.6g for a short", sl, price)
	}
	return ""
}
