package vote

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/taoliq/incentived/errs"
	"github.com/taoliq/incentived/params"
)

var poolAddressRE = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// RawPool is a submitted pool entry before normalization.
type RawPool struct {
	Address string
	Weight  float64
}

// Message is a parsed vote submission.
type Message struct {
	Pools []RawPool
	Block uint64
}

// ParseMessage splits "<pools>|<block>" where pools is
// "addr1,w1;addr2,w2;...". At most params.MaxVotePools entries; addresses
// must be well-formed EVM hex and are lowercased; weights must be positive
// finite numbers; duplicate addresses are rejected.
func ParseMessage(msg string) (*Message, error) {
	parts := strings.Split(msg, "|")
	if len(parts) != 2 {
		return nil, errs.Newf(errs.KindInvalidInput, "Invalid message format")
	}
	poolsPart, blockPart := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if poolsPart == "" {
		return nil, errs.Newf(errs.KindInvalidInput, "Invalid message format")
	}

	block, err := strconv.ParseUint(blockPart, 10, 64)
	if err != nil {
		return nil, errs.Newf(errs.KindInvalidBlock, "Invalid block number")
	}

	entries := strings.Split(poolsPart, ";")
	if len(entries) > params.MaxVotePools {
		return nil, errs.Newf(errs.KindInvalidInput, "Too many pools: maximum is %d", params.MaxVotePools)
	}

	seen := make(map[string]bool, len(entries))
	pools := make([]RawPool, 0, len(entries))
	for _, entry := range entries {
		fields := strings.Split(strings.TrimSpace(entry), ",")
		if len(fields) != 2 {
			return nil, errs.Newf(errs.KindInvalidInput, "Invalid pool entry format")
		}
		addr := strings.TrimSpace(fields[0])
		if !poolAddressRE.MatchString(addr) {
			return nil, errs.New(errs.KindInvalidPool)
		}
		addr = strings.ToLower(addr)
		if seen[addr] {
			return nil, errs.Newf(errs.KindInvalidInput, "Duplicate pool address: %s", addr)
		}
		seen[addr] = true

		w, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil || w <= 0 || math.IsInf(w, 0) || math.IsNaN(w) {
			return nil, errs.Newf(errs.KindInvalidInput, "Invalid pool weight")
		}
		pools = append(pools, RawPool{Address: addr, Weight: w})
	}
	return &Message{Pools: pools, Block: block}, nil
}

// Normalize scales raw weights to basis points summing to exactly
// params.WeightScale. Rounding drift lands on the last entry.
func Normalize(pools []RawPool) []PoolWeight {
	if len(pools) == 0 {
		return nil
	}
	var total float64
	for _, p := range pools {
		total += p.Weight
	}
	out := make([]PoolWeight, len(pools))
	var sum int64
	for i, p := range pools {
		w := int64(math.Round(p.Weight * params.WeightScale / total))
		out[i] = PoolWeight{Address: p.Address, Weight: w}
		sum += w
	}
	if drift := int64(params.WeightScale) - sum; drift != 0 {
		out[len(out)-1].Weight += drift
	}
	return out
}
