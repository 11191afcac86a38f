package emission

import (
	"math"

	"github.com/taoliq/incentived/params"
)

// Position is one active concentrated-liquidity position attributed to a
// miner. Owner is the miner's hotkey, already resolved from its bound EVM
// address. Ticks are the pool's native int24 values widened for math.
type Position struct {
	ID          string
	Owner       string
	Pool        string
	FeeTier     int64
	Liquidity   float64
	TickLower   float64
	TickUpper   float64
	CurrentTick float64
}

// sigmaFor picks the Gaussian width for a fee tier. Wider tiers spread
// liquidity over wider ranges, so their bell is wider too.
func sigmaFor(feeTier int64) float64 {
	if s, ok := params.TickSigma[feeTier]; ok {
		return s
	}
	return params.DefaultTickSigma
}

// Score rates how well a position's range brackets the pool's current
// tick. A Gaussian centered on the current tick is sampled at the range
// bounds and midpoint (Simpson's rule) and scaled by liquidity. Positions
// not straddling the current tick, or with degenerate inputs, score zero.
func Score(p Position) float64 {
	if !(p.TickLower < p.CurrentTick && p.CurrentTick < p.TickUpper) {
		return 0
	}
	if p.Liquidity <= 0 {
		return 0
	}
	sigma := sigmaFor(p.FeeTier)
	g := func(d float64) float64 {
		return params.GaussianAmplitude * math.Exp(-(d*d)/(2*sigma*sigma))
	}
	mid := (p.TickLower + p.TickUpper) / 2
	mean := (g(math.Abs(p.CurrentTick-p.TickLower)) +
		4*g(math.Abs(p.CurrentTick-mid)) +
		g(math.Abs(p.CurrentTick-p.TickUpper))) / 6
	score := mean * p.Liquidity / params.LiquidityScale
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}

// normalizeScores converts raw scores to within-pool shares. A pool whose
// scores sum to zero yields all-zero shares.
func normalizeScores(raw []float64) []float64 {
	var total float64
	for _, r := range raw {
		total += r
	}
	out := make([]float64, len(raw))
	if total <= 0 {
		return out
	}
	for i, r := range raw {
		out[i] = r / total
	}
	return out
}
