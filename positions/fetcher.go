// Package positions resolves the active concentrated-liquidity
// positions of registered miners. It joins subgraph rows against the
// address book and the pool store, drops out-of-range positions, and
// serves the result from a short-lived snapshot cache.
package positions

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/singleflight"

	"github.com/taoliq/incentived/chain"
	"github.com/taoliq/incentived/emission"
	"github.com/taoliq/incentived/errs"
	"github.com/taoliq/incentived/params"
	"github.com/taoliq/incentived/store"
	"github.com/taoliq/incentived/subgraph"
	"github.com/taoliq/incentived/vote"
)

var fetchTimer = metrics.NewRegisteredTimer("positions/fetch", nil)

// Querier fetches raw position rows for a set of owners and pools.
type Querier interface {
	Positions(ctx context.Context, owners, pools []string) ([]subgraph.Position, error)
}

// RosterSource yields the most recent subnet roster, or nil when none
// has been built yet.
type RosterSource interface {
	CurrentRoster() *chain.Roster
}

// TokenInfo describes one side of a position's pair.
type TokenInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Position is an in-range position attributed to a registered miner.
type Position struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Miner       string    `json:"miner"`
	Pool        string    `json:"pool"`
	FeeTier     int64     `json:"feeTier"`
	Liquidity   float64   `json:"liquidity"`
	TickLower   float64   `json:"tickLower"`
	TickUpper   float64   `json:"tickUpper"`
	CurrentTick float64   `json:"currentTick"`
	Amount0     float64   `json:"amount0"`
	Amount1     float64   `json:"amount1"`
	Token0      TokenInfo `json:"token0"`
	Token1      TokenInfo `json:"token1"`
}

type snapshot struct {
	positions []Position
	fetchedAt time.Time
}

// Fetcher caches the active position set. Expired snapshots are rebuilt
// on demand and concurrent rebuilds collapse into a single upstream
// call.
type Fetcher struct {
	source Querier
	store  *store.Store
	roster RosterSource
	ttl    time.Duration
	now    func() time.Time

	current atomic.Pointer[snapshot]
	group   singleflight.Group
}

// NewFetcher builds a fetcher over the given subgraph source, vote
// store and roster.
func NewFetcher(source Querier, st *store.Store, roster RosterSource) *Fetcher {
	return &Fetcher{
		source: source,
		store:  st,
		roster: roster,
		ttl:    params.PositionCacheTTL,
		now:    time.Now,
	}
}

// Active returns the current active positions, refreshing from the
// subgraph when the snapshot has expired.
func (f *Fetcher) Active(ctx context.Context) ([]Position, error) {
	if snap := f.current.Load(); snap != nil && f.now().Sub(snap.fetchedAt) < f.ttl {
		return snap.positions, nil
	}
	v, err, _ := f.group.Do("positions", func() (interface{}, error) {
		if snap := f.current.Load(); snap != nil && f.now().Sub(snap.fetchedAt) < f.ttl {
			return snap.positions, nil
		}
		return f.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]Position), nil
}

func (f *Fetcher) refresh(ctx context.Context) ([]Position, error) {
	defer fetchTimer.UpdateSince(time.Now())
	owners, minerByOwner, err := f.minerOwners(ctx)
	if err != nil {
		return nil, err
	}
	pools, err := f.targetPools(ctx)
	if err != nil {
		return nil, err
	}
	if len(owners) == 0 || len(pools) == 0 {
		f.publish(nil)
		return nil, nil
	}

	raw, err := f.source.Positions(ctx, owners, pools)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstream, err)
	}

	active := make([]Position, 0, len(raw))
	malformed := 0
	for _, r := range raw {
		p, ok, parsed := convert(r, minerByOwner)
		if !parsed {
			malformed++
			continue
		}
		if !ok {
			continue
		}
		active = append(active, p)
	}
	if malformed > 0 {
		log.Warn("Dropped malformed subgraph rows", "count", malformed)
	}
	f.publish(active)
	log.Debug("Position snapshot refreshed", "active", len(active), "raw", len(raw), "owners", len(owners), "pools", len(pools))
	return active, nil
}

// minerOwners returns the EVM addresses bound to currently registered
// miners, with the reverse mapping back to the hotkey.
func (f *Fetcher) minerOwners(ctx context.Context) ([]string, map[string]string, error) {
	roster := f.roster.CurrentRoster()
	if roster == nil || roster.Len() == 0 {
		return nil, nil, nil
	}
	bindings, err := f.store.AllBindings(ctx)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindDatabase, err)
	}
	owners := make([]string, 0, len(bindings))
	minerByOwner := make(map[string]string, len(bindings))
	for _, b := range bindings {
		if !roster.Contains(b.Voter) {
			continue
		}
		owners = append(owners, b.EVMAddress)
		minerByOwner[b.EVMAddress] = b.Voter
	}
	return owners, minerByOwner, nil
}

// targetPools intersects the pools referenced by current votes with the
// pools whose metadata has been verified on-chain.
func (f *Fetcher) targetPools(ctx context.Context) ([]string, error) {
	votes, err := f.store.AllVotes(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabase, err)
	}
	seen := make(map[string]bool)
	var union []string
	for _, v := range votes {
		pools, err := vote.DecodePools(v.PoolsJSON)
		if err != nil {
			log.Warn("Skipping undecodable vote", "voter", v.Voter, "err", err)
			continue
		}
		for _, pw := range pools {
			if !seen[pw.Address] {
				seen[pw.Address] = true
				union = append(union, pw.Address)
			}
		}
	}
	if len(union) == 0 {
		return nil, nil
	}
	stored, err := f.store.PoolsByAddresses(ctx, union)
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabase, err)
	}
	target := make([]string, 0, len(union))
	for _, addr := range union {
		if _, ok := stored[addr]; ok {
			target = append(target, addr)
		}
	}
	return target, nil
}

func (f *Fetcher) publish(list []Position) {
	f.current.Store(&snapshot{positions: list, fetchedAt: f.now()})
}

// convert parses one subgraph row. parsed is false on malformed numeric
// fields; ok is false when the position is out of range or unowned.
func convert(r subgraph.Position, minerByOwner map[string]string) (p Position, ok, parsed bool) {
	owner := strings.ToLower(r.Owner)
	miner, bound := minerByOwner[owner]
	if !bound {
		return Position{}, false, true
	}
	liquidity, err := strconv.ParseFloat(r.Liquidity, 64)
	if err != nil {
		return Position{}, false, false
	}
	tickLower, err := strconv.ParseFloat(r.TickLower.TickIdx, 64)
	if err != nil {
		return Position{}, false, false
	}
	tickUpper, err := strconv.ParseFloat(r.TickUpper.TickIdx, 64)
	if err != nil {
		return Position{}, false, false
	}
	tick, err := strconv.ParseFloat(r.Pool.Tick, 64)
	if err != nil {
		return Position{}, false, false
	}
	feeTier, err := strconv.ParseInt(r.Pool.FeeTier, 10, 64)
	if err != nil {
		return Position{}, false, false
	}
	if liquidity <= 0 {
		return Position{}, false, true
	}
	// Out-of-range liquidity earns nothing.
	if !(tickLower < tick && tick < tickUpper) {
		return Position{}, false, true
	}

	dec0, err := strconv.Atoi(r.Token0.Decimals)
	if err != nil {
		return Position{}, false, false
	}
	dec1, err := strconv.Atoi(r.Token1.Decimals)
	if err != nil {
		return Position{}, false, false
	}
	amount0, amount1 := TokenAmounts(liquidity, tickLower, tickUpper, tick)
	return Position{
		ID:          r.ID,
		Owner:       owner,
		Miner:       miner,
		Pool:        strings.ToLower(r.Pool.ID),
		FeeTier:     feeTier,
		Liquidity:   liquidity,
		TickLower:   tickLower,
		TickUpper:   tickUpper,
		CurrentTick: tick,
		Amount0:     AdjustDecimals(amount0, dec0),
		Amount1:     AdjustDecimals(amount1, dec1),
		Token0:      TokenInfo{Address: strings.ToLower(r.Token0.ID), Symbol: r.Token0.Symbol, Decimals: dec0},
		Token1:      TokenInfo{Address: strings.ToLower(r.Token1.ID), Symbol: r.Token1.Symbol, Decimals: dec1},
	}, true, true
}

// ScoreInputs projects the active set onto the scoring engine's input,
// keying each position by its miner hotkey.
func ScoreInputs(list []Position) []emission.Position {
	out := make([]emission.Position, 0, len(list))
	for _, p := range list {
		out = append(out, emission.Position{
			ID:          p.ID,
			Owner:       p.Miner,
			Pool:        p.Pool,
			FeeTier:     p.FeeTier,
			Liquidity:   p.Liquidity,
			TickLower:   p.TickLower,
			TickUpper:   p.TickUpper,
			CurrentTick: p.CurrentTick,
		})
	}
	return out
}
