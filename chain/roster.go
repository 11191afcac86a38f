package chain

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/taoliq/incentived/crypto/ss58"
	"github.com/taoliq/incentived/params"
)

// Miner is one registered neuron on the subnet.
type Miner struct {
	UID    uint16 `json:"uid"`
	Hotkey string `json:"hotkey"`
}

// Roster is an immutable snapshot of the subnet's registered miners,
// ordered by UID.
type Roster struct {
	Netuid   uint16
	Block    uint64
	BuiltAt  time.Time
	Miners   []Miner
	byHotkey map[string]uint16
}

// NewRoster assembles a snapshot from an already-decoded miner list.
// Miners are reordered by UID.
func NewRoster(netuid uint16, block uint64, miners []Miner) *Roster {
	r := &Roster{
		Netuid:   netuid,
		Block:    block,
		BuiltAt:  time.Now(),
		Miners:   miners,
		byHotkey: make(map[string]uint16, len(miners)),
	}
	sort.Slice(r.Miners, func(i, j int) bool { return r.Miners[i].UID < r.Miners[j].UID })
	for _, m := range r.Miners {
		r.byHotkey[m.Hotkey] = m.UID
	}
	return r
}

// Contains reports whether hotkey is registered on the subnet.
func (r *Roster) Contains(hotkey string) bool {
	_, ok := r.byHotkey[hotkey]
	return ok
}

// UID returns a registered hotkey's UID.
func (r *Roster) UID(hotkey string) (uint16, bool) {
	uid, ok := r.byHotkey[hotkey]
	return uid, ok
}

// Len is the number of registered miners.
func (r *Roster) Len() int { return len(r.Miners) }

// Expired reports whether the snapshot has outlived ttl at now.
func (r *Roster) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.BuiltAt) > ttl
}

// Roster scans the Keys storage map and builds the miner snapshot for
// netuid. The scan covers every subnet; rows for other netuids are
// filtered during key decode.
func (c *Client) Roster(ctx context.Context, netuid uint16) (*Roster, error) {
	block, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	var (
		miners  []Miner
		scanned int
	)
	err = c.scanStorage(ctx, storagePrefix("Keys"), func(key, value []byte) error {
		scanned++
		net, uid, ok := decodeRosterKey(key)
		if !ok || net != netuid {
			return nil
		}
		if len(value) != 32 {
			return nil
		}
		address, err := ss58.Encode(value, params.SS58Prefix)
		if err != nil {
			return nil
		}
		miners = append(miners, Miner{UID: uid, Hotkey: address})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if scanned == 0 {
		return nil, ErrNoStorage
	}
	r := NewRoster(netuid, block, miners)
	log.Info("Subnet roster built", "netuid", netuid, "miners", len(r.Miners),
		"block", block, "elapsed", time.Since(start))
	return r, nil
}
