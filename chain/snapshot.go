package chain

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/taoliq/incentived/crypto/ss58"
	"github.com/taoliq/incentived/params"
)

// HolderSet is an immutable snapshot of per-hotkey balances: alpha on the
// target subnet and tao (netuid 0 stake) where present. Readers share one
// instance; rebuilds swap in a fresh one.
type HolderSet struct {
	Netuid  uint16
	Block   uint64
	BuiltAt time.Time
	Alpha   map[string]uint64
	Tao     map[string]uint64
}

// AlphaOf returns a hotkey's alpha balance on the snapshot's subnet.
func (h *HolderSet) AlphaOf(address string) (uint64, bool) {
	a, ok := h.Alpha[address]
	return a, ok
}

// Len is the number of alpha holders in the snapshot.
func (h *HolderSet) Len() int { return len(h.Alpha) }

// Expired reports whether the snapshot has outlived ttl at now.
func (h *HolderSet) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(h.BuiltAt) > ttl
}

// HolderSet scans TotalHotkeyAlpha and builds the balance snapshot for
// netuid. Entries for netuid 0 populate the tao side. Hotkeys on other
// subnets are skipped during decode, so one scan serves both maps.
func (c *Client) HolderSet(ctx context.Context, netuid uint16) (*HolderSet, error) {
	block, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	hs := &HolderSet{
		Netuid:  netuid,
		Block:   block,
		BuiltAt: time.Now(),
		Alpha:   make(map[string]uint64),
		Tao:     make(map[string]uint64),
	}
	start := time.Now()
	var scanned int
	var totalAlpha uint64
	err = c.scanStorage(ctx, storagePrefix("TotalHotkeyAlpha"), func(key, value []byte) error {
		scanned++
		hotkey, uid, ok := decodeAlphaKey(key)
		if !ok || (uid != netuid && uid != 0) {
			return nil
		}
		if len(value) < 8 {
			return nil
		}
		amount := binary.LittleEndian.Uint64(value[:8])
		if amount == 0 {
			return nil
		}
		address, err := ss58.Encode(hotkey, params.SS58Prefix)
		if err != nil {
			return nil
		}
		if uid == netuid {
			hs.Alpha[address] = amount
			totalAlpha += amount
		}
		if uid == 0 {
			hs.Tao[address] = amount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if scanned == 0 {
		return nil, ErrNoStorage
	}
	log.Info("Holder snapshot built", "netuid", netuid, "holders", len(hs.Alpha),
		"totalAlpha", float64(totalAlpha)/params.Tao, "block", block, "elapsed", time.Since(start))
	return hs, nil
}
