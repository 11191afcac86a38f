package positions

import "math"

// TokenAmounts derives the current token composition of a position from
// its liquidity and tick range. Uniswap V3 prices are 1.0001^tick, so
// the square-root price at tick t is 1.0001^(t/2). Amounts are in raw
// token units.
func TokenAmounts(liquidity, tickLower, tickUpper, currentTick float64) (amount0, amount1 float64) {
	sl := math.Pow(1.0001, tickLower/2)
	su := math.Pow(1.0001, tickUpper/2)
	switch {
	case currentTick < tickLower:
		// Entirely in token0.
		return liquidity * (su - sl) / (su * sl), 0
	case currentTick >= tickUpper:
		// Entirely in token1.
		return 0, liquidity * (su - sl)
	default:
		sc := math.Pow(1.0001, currentTick/2)
		return liquidity * (su - sc) / (su * sc), liquidity * (sc - sl)
	}
}

// AdjustDecimals scales a raw token amount to its display unit.
func AdjustDecimals(amount float64, decimals int) float64 {
	if decimals == 0 {
		return amount
	}
	return amount / math.Pow(10, float64(decimals))
}
