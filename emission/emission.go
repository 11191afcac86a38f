// Package emission turns votes, holder balances and liquidity positions
// into the per-miner weight vector. Every function is pure over its
// snapshot inputs.
package emission

import (
	"math"
	"sort"

	"github.com/taoliq/incentived/params"
	"github.com/taoliq/incentived/vote"
)

// VoterPools is one voter's current allocation.
type VoterPools struct {
	Voter string
	Pools []vote.PoolWeight
}

// Input carries the snapshots a weight computation runs over.
type Input struct {
	Votes     []VoterPools
	Alpha     map[string]uint64
	Positions []Position
}

// PoolEmissions aggregates votes into a per-pool emission share, weighting
// each voter by its alpha stake. Voters without alpha are dropped. Shares
// sum to at most 1.
func PoolEmissions(votes []VoterPools, alpha map[string]uint64) map[string]float64 {
	var total float64
	for _, v := range votes {
		total += float64(alpha[v.Voter])
	}
	emissions := make(map[string]float64)
	if total <= 0 {
		return emissions
	}
	for _, v := range votes {
		a := float64(alpha[v.Voter])
		if a <= 0 {
			continue
		}
		mult := a / total
		for _, p := range v.Pools {
			emissions[p.Address] += float64(p.Weight) * mult / params.WeightScale
		}
	}
	return emissions
}

// PositionEmissions attributes pool emission shares to individual
// positions, keyed by position id. Unlike MinerWeights no dust floor or
// final renormalization is applied; the values are display figures.
func PositionEmissions(in Input) map[string]float64 {
	emissions := PoolEmissions(in.Votes, in.Alpha)

	byPool := make(map[string][]Position)
	for _, p := range in.Positions {
		byPool[p.Pool] = append(byPool[p.Pool], p)
	}

	out := make(map[string]float64)
	for addr, positions := range byPool {
		share, ok := emissions[addr]
		if !ok || share <= 0 {
			continue
		}
		raw := make([]float64, len(positions))
		for i, p := range positions {
			raw[i] = Score(p)
		}
		normalized := normalizeScores(raw)
		for i, p := range positions {
			out[p.ID] = normalized[i] * share
		}
	}
	return out
}

// MinerWeights computes the normalized weight vector. Positions are scored
// within their pool, scaled by the pool's emission share, summed per miner,
// floored at params.MinMinerWeight and renormalized so the vector sums to
// exactly one (or is all zero).
func MinerWeights(in Input) map[string]float64 {
	emissions := PoolEmissions(in.Votes, in.Alpha)

	byPool := make(map[string][]Position)
	for _, p := range in.Positions {
		byPool[p.Pool] = append(byPool[p.Pool], p)
	}

	// Sorted iteration keeps float accumulation order, and therefore the
	// output bits, stable across runs.
	poolAddrs := make([]string, 0, len(byPool))
	for addr := range byPool {
		poolAddrs = append(poolAddrs, addr)
	}
	sort.Strings(poolAddrs)

	weights := make(map[string]float64)
	for _, addr := range poolAddrs {
		share, ok := emissions[addr]
		if !ok || share <= 0 {
			continue
		}
		positions := byPool[addr]
		raw := make([]float64, len(positions))
		for i, p := range positions {
			raw[i] = Score(p)
		}
		normalized := normalizeScores(raw)
		for i, p := range positions {
			weights[p.Owner] += normalized[i] * share
		}
	}

	var sum float64
	for miner, w := range weights {
		if w < params.MinMinerWeight || math.IsNaN(w) || math.IsInf(w, 0) {
			weights[miner] = 0
			continue
		}
		sum += w
	}
	if sum <= 0 {
		for miner := range weights {
			weights[miner] = 0
		}
		return weights
	}
	for miner, w := range weights {
		weights[miner] = w / sum
	}
	return weights
}
