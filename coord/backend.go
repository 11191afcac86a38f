// Package coord assembles the coordination service: the persistent
// store, chain snapshot caches, the vote and claim pipelines and the
// background refresh loops that keep everything current.
package coord

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/taoliq/incentived/chain"
	"github.com/taoliq/incentived/claim"
	"github.com/taoliq/incentived/emission"
	"github.com/taoliq/incentived/errs"
	"github.com/taoliq/incentived/evmpool"
	"github.com/taoliq/incentived/oracle"
	"github.com/taoliq/incentived/params"
	"github.com/taoliq/incentived/positions"
	"github.com/taoliq/incentived/ratelimit"
	"github.com/taoliq/incentived/store"
	"github.com/taoliq/incentived/subgraph"
	"github.com/taoliq/incentived/vote"
)

// Config collects everything the coordinator needs to come up.
type Config struct {
	Netuid         uint16
	SubstrateURL   string
	EVMURL         string
	Factory        string
	SubgraphURL    string
	SubgraphAPIKey string
	OracleURL      string
	DBPath         string
	VersionFile    string
	LogCSV         bool
	CSVDir         string
}

// chainSource is the substrate surface the backend consumes.
type chainSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HolderSet(ctx context.Context, netuid uint16) (*chain.HolderSet, error)
	Roster(ctx context.Context, netuid uint16) (*chain.Roster, error)
	Close()
}

// Backend wires the subsystems together and owns the cached chain
// snapshots. All snapshot reads are lock-free pointer loads.
type Backend struct {
	cfg     Config
	version params.Version

	store      *store.Store
	chain      chainSource
	pools      vote.PoolSource
	poolsClose func()
	oracle     *oracle.Client
	limits     *ratelimit.Limiter

	engine  *vote.Engine
	intake  *vote.Intake
	claims  *claim.Service
	fetcher *positions.Fetcher

	holders    atomic.Pointer[chain.HolderSet]
	roster     atomic.Pointer[chain.Roster]
	votesCache atomic.Pointer[decoratedVotes]

	quit       chan struct{}
	loopCtx    context.Context
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New dials every upstream and assembles the backend. The returned
// backend is idle until Start is called.
func New(cfg Config) (*Backend, error) {
	version, err := params.ReadVersionFile(cfg.VersionFile)
	if err != nil {
		return nil, fmt.Errorf("coord: read version: %w", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	chainClient, err := chain.Dial(cfg.SubstrateURL)
	if err != nil {
		st.Close()
		return nil, err
	}
	evm, err := evmpool.Dial(cfg.EVMURL, cfg.Factory)
	if err != nil {
		chainClient.Close()
		st.Close()
		return nil, err
	}

	b := newBackend(cfg, version, st, chainClient, poolAdapter{evm},
		subgraph.NewClient(cfg.SubgraphURL, cfg.SubgraphAPIKey))
	b.poolsClose = evm.Close
	return b, nil
}

// newBackend finishes assembly over already-constructed dependencies.
func newBackend(cfg Config, version params.Version, st *store.Store,
	chainClient chainSource, pools vote.PoolSource, source positions.Querier) *Backend {

	b := &Backend{
		cfg:     cfg,
		version: version,
		store:   st,
		chain:   chainClient,
		pools:   pools,
		oracle:  oracle.New(cfg.OracleURL),
		limits:  ratelimit.New(params.RateLimitWindow),
		quit:    make(chan struct{}),
	}
	b.engine = vote.NewEngine(st)
	b.intake = vote.NewIntake(vote.Config{
		Store:   st,
		Engine:  b.engine,
		Head:    chainClient,
		Holders: holderView{b},
		Pools:   pools,
		Limits:  b.limits,
	})
	b.claims = claim.New(claim.Config{Store: st, Head: chainClient, Roster: b, Limits: b.limits})
	b.fetcher = positions.NewFetcher(source, st, b)
	return b
}

// holderView resolves alpha balances from the current snapshot.
type holderView struct{ b *Backend }

func (h holderView) Alpha(voter string) (uint64, bool) {
	hs := h.b.holders.Load()
	if hs == nil {
		return 0, false
	}
	return hs.AlphaOf(voter)
}

// poolAdapter maps the EVM client onto the intake's pool surface.
type poolAdapter struct{ evm *evmpool.Client }

func (p poolAdapter) ValidatePool(ctx context.Context, addr string) error {
	return p.evm.ValidatePool(ctx, addr)
}

func (p poolAdapter) PoolMetadata(ctx context.Context, addr string) (store.PoolMeta, error) {
	m, err := p.evm.Metadata(ctx, addr)
	if err != nil {
		return store.PoolMeta{}, err
	}
	return store.PoolMeta{
		Address:   m.Address,
		Token0:    m.Token0,
		Token1:    m.Token1,
		Fee:       m.Fee,
		Liquidity: m.Liquidity,
		Symbol0:   m.Symbol0,
		Symbol1:   m.Symbol1,
	}, nil
}

// Accessors for the API layer.

func (b *Backend) Version() params.Version      { return b.version }
func (b *Backend) Store() *store.Store          { return b.store }
func (b *Backend) Intake() *vote.Intake         { return b.intake }
func (b *Backend) Engine() *vote.Engine         { return b.engine }
func (b *Backend) Claims() *claim.Service       { return b.claims }
func (b *Backend) Fetcher() *positions.Fetcher  { return b.fetcher }
func (b *Backend) Oracle() *oracle.Client       { return b.oracle }
func (b *Backend) Limits() *ratelimit.Limiter   { return b.limits }
func (b *Backend) Head() vote.HeadSource        { return b.chain }
func (b *Backend) CurrentHolders() *chain.HolderSet { return b.holders.Load() }

// CurrentRoster returns the latest subnet roster, or nil before the
// first successful build.
func (b *Backend) CurrentRoster() *chain.Roster { return b.roster.Load() }

// RefreshHolders rebuilds the holder snapshot and publishes it.
func (b *Backend) RefreshHolders(ctx context.Context) (*chain.HolderSet, error) {
	defer holderRefreshTimer.UpdateSince(time.Now())
	hs, err := b.chain.HolderSet(ctx, b.cfg.Netuid)
	if err != nil {
		return nil, err
	}
	b.holders.Store(hs)
	return hs, nil
}

// RefreshRoster rebuilds the miner roster and publishes it.
func (b *Backend) RefreshRoster(ctx context.Context) (*chain.Roster, error) {
	defer rosterRefreshTimer.UpdateSince(time.Now())
	r, err := b.chain.Roster(ctx, b.cfg.Netuid)
	if err != nil {
		return nil, err
	}
	b.roster.Store(r)
	return r, nil
}

// voterPools loads every stored vote in the emission engine's shape.
func (b *Backend) voterPools(ctx context.Context) ([]emission.VoterPools, error) {
	rows, err := b.store.AllVotes(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabase, err)
	}
	out := make([]emission.VoterPools, 0, len(rows))
	for _, v := range rows {
		pools, err := vote.DecodePools(v.PoolsJSON)
		if err != nil {
			log.Warn("Skipping undecodable vote", "voter", v.Voter, "err", err)
			continue
		}
		out = append(out, emission.VoterPools{Voter: v.Voter, Pools: pools})
	}
	return out, nil
}

// Weights computes the per-miner weight vector from the live snapshots.
func (b *Backend) Weights(ctx context.Context) (map[string]float64, time.Time, error) {
	hs := b.holders.Load()
	if hs == nil {
		return nil, time.Time{}, errs.New(errs.KindUpstream)
	}
	votes, err := b.voterPools(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	active, err := b.fetcher.Active(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	weights := emission.MinerWeights(emission.Input{
		Votes:     votes,
		Alpha:     hs.Alpha,
		Positions: positions.ScoreInputs(active),
	})
	return weights, time.Now().UTC(), nil
}

// DecoratedVote is one vote joined with the voter's stake.
type DecoratedVote struct {
	Voter      string            `json:"voter"`
	Pools      []vote.PoolWeight `json:"pools"`
	Block      uint64            `json:"block"`
	UpdatedAt  int64             `json:"updatedAt"`
	Alpha      uint64            `json:"alpha"`
	Multiplier float64           `json:"multiplier"`
}

type decoratedVotes struct {
	list      []DecoratedVote
	fetchedAt time.Time
}

// AllVotes returns every current vote decorated with the voter's alpha
// and stake multiplier. Results are cached briefly.
func (b *Backend) AllVotes(ctx context.Context) ([]DecoratedVote, error) {
	if c := b.votesCache.Load(); c != nil && time.Since(c.fetchedAt) < params.AllVotesCacheTTL {
		return c.list, nil
	}

	rows, err := b.store.AllVotes(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabase, err)
	}
	hs := b.holders.Load()

	var total float64
	for _, v := range rows {
		if hs == nil {
			break
		}
		if a, ok := hs.AlphaOf(v.Voter); ok {
			total += float64(a)
		}
	}

	out := make([]DecoratedVote, 0, len(rows))
	for _, v := range rows {
		d := DecoratedVote{Voter: v.Voter, Block: v.BlockNumber, UpdatedAt: v.UpdatedAt}
		if hs != nil {
			d.Alpha, _ = hs.AlphaOf(v.Voter)
		}
		if d.Alpha > 0 && total > 0 {
			d.Multiplier = float64(d.Alpha) / total
		}
		if pools, err := vote.DecodePools(v.PoolsJSON); err == nil {
			d.Pools = pools
		}
		out = append(out, d)
	}
	b.votesCache.Store(&decoratedVotes{list: out, fetchedAt: time.Now()})
	return out, nil
}

// PoolVoter is one voter's allocation to a pool.
type PoolVoter struct {
	Voter  string `json:"voter"`
	Weight int64  `json:"weight"`
	Alpha  uint64 `json:"alpha"`
}

// PoolSummary aggregates every vote touching one pool, decorated with
// stored metadata, the stake-weighted emission share and the active
// token amounts held in it.
type PoolSummary struct {
	Address  string      `json:"address"`
	Token0   string      `json:"token0"`
	Token1   string      `json:"token1"`
	Symbol0  string      `json:"symbol0"`
	Symbol1  string      `json:"symbol1"`
	Fee      int64       `json:"fee"`
	Share    float64     `json:"share"`
	Amount0  float64     `json:"amount0"`
	Amount1  float64     `json:"amount1"`
	ValueUSD float64     `json:"valueUSD"`
	Voters   []PoolVoter `json:"voters"`
}

// PoolSummaries aggregates the voted pools. Position amounts and USD
// values are best-effort decoration: a failing fetcher or disabled
// oracle leaves them zero without failing the request.
func (b *Backend) PoolSummaries(ctx context.Context) ([]PoolSummary, error) {
	votes, err := b.voterPools(ctx)
	if err != nil {
		return nil, err
	}
	hs := b.holders.Load()
	alpha := map[string]uint64{}
	if hs != nil {
		alpha = hs.Alpha
	}
	shares := emission.PoolEmissions(votes, alpha)

	byPool := make(map[string]*PoolSummary)
	var order []string
	for _, v := range votes {
		for _, pw := range v.Pools {
			s, ok := byPool[pw.Address]
			if !ok {
				s = &PoolSummary{Address: pw.Address, Share: shares[pw.Address]}
				byPool[pw.Address] = s
				order = append(order, pw.Address)
			}
			s.Voters = append(s.Voters, PoolVoter{Voter: v.Voter, Weight: pw.Weight, Alpha: alpha[v.Voter]})
		}
	}
	if len(byPool) == 0 {
		return nil, nil
	}

	addrs := make([]string, 0, len(byPool))
	for addr := range byPool {
		addrs = append(addrs, addr)
	}
	meta, err := b.store.PoolsByAddresses(ctx, addrs)
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabase, err)
	}
	for addr, m := range meta {
		s := byPool[addr]
		s.Token0, s.Token1 = m.Token0, m.Token1
		s.Symbol0, s.Symbol1 = m.Symbol0, m.Symbol1
		s.Fee = m.Fee
	}

	if active, err := b.fetcher.Active(ctx); err != nil {
		log.Warn("Pool summary served without position amounts", "err", err)
	} else {
		for _, p := range active {
			s, ok := byPool[p.Pool]
			if !ok {
				continue
			}
			s.Amount0 += p.Amount0
			s.Amount1 += p.Amount1
			s.ValueUSD += p.Amount0*b.oracle.USDPrice(ctx, p.Token0.Address) +
				p.Amount1*b.oracle.USDPrice(ctx, p.Token1.Address)
		}
	}

	out := make([]PoolSummary, 0, len(order))
	for _, addr := range order {
		out = append(out, *byPool[addr])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Share != out[j].Share {
			return out[i].Share > out[j].Share
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

// PositionView is an active position with its display decoration.
type PositionView struct {
	positions.Position
	ValueUSD float64 `json:"valueUSD"`
	Emission float64 `json:"emission"`
}

// PositionViews returns the active positions with per-position emission
// shares and USD values attached.
func (b *Backend) PositionViews(ctx context.Context) ([]PositionView, error) {
	active, err := b.fetcher.Active(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	hs := b.holders.Load()
	alpha := map[string]uint64{}
	if hs != nil {
		alpha = hs.Alpha
	}
	votes, err := b.voterPools(ctx)
	if err != nil {
		return nil, err
	}
	perPosition := emission.PositionEmissions(emission.Input{
		Votes:     votes,
		Alpha:     alpha,
		Positions: positions.ScoreInputs(active),
	})

	out := make([]PositionView, 0, len(active))
	for _, p := range active {
		out = append(out, PositionView{
			Position: p,
			ValueUSD: p.Amount0*b.oracle.USDPrice(ctx, p.Token0.Address) +
				p.Amount1*b.oracle.USDPrice(ctx, p.Token1.Address),
			Emission: perPosition[p.ID],
		})
	}
	return out, nil
}
