// Package vote implements the signed-vote pipeline: message parsing,
// weight normalization, the progressive cooldown ladder and intake.
package vote

import (
	"encoding/json"
	"fmt"
)

// PoolWeight is one entry of a normalized allocation. Weights are basis
// points; a complete vote sums to exactly params.WeightScale.
type PoolWeight struct {
	Address string `json:"address"`
	Weight  int64  `json:"weight"`
}

// EncodePools serializes an allocation in its canonical form. Vote equality
// elsewhere compares these strings byte for byte, so entry order is kept
// exactly as submitted.
func EncodePools(pools []PoolWeight) (string, error) {
	b, err := json.Marshal(pools)
	if err != nil {
		return "", fmt.Errorf("vote: encode pools: %w", err)
	}
	return string(b), nil
}

// DecodePools parses the canonical allocation form.
func DecodePools(s string) ([]PoolWeight, error) {
	var pools []PoolWeight
	if err := json.Unmarshal([]byte(s), &pools); err != nil {
		return nil, fmt.Errorf("vote: decode pools: %w", err)
	}
	return pools, nil
}

// Addresses returns the pool addresses of an allocation in order.
func Addresses(pools []PoolWeight) []string {
	out := make([]string, len(pools))
	for i, p := range pools {
		out[i] = p.Address
	}
	return out
}
