// Package params holds the protocol constants of the incentive coordinator.
package params

import "time"

// Subnet identity.
const (
	// DefaultNetuid is the liquidity subnet this coordinator serves.
	DefaultNetuid = uint16(77)

	// SS58Prefix is the generic substrate address prefix used for all
	// voter and miner identities.
	SS58Prefix = uint16(42)
)

// Vote shape limits.
const (
	// MaxVotePools is the maximum number of pool entries in a single vote.
	MaxVotePools = 10

	// WeightScale is the fixed-point denominator of normalized vote
	// weights. After normalization a vote's weights sum to exactly this.
	WeightScale = 10000
)

// Vote-change cooldown schedule. A voter's first change costs CooldownBase;
// past FrequentChangeThreshold changes inside CooldownResetWindow each
// further change doubles the cooldown up to CooldownCap.
const (
	CooldownBase            = 72 * time.Minute
	CooldownMultiplier      = 2
	CooldownCap             = 8 * time.Hour
	CooldownResetWindow     = 24 * time.Hour
	FrequentChangeThreshold = 2
)

// BlockWindow is how many blocks behind the chain head a signed message's
// block number may lag before it is considered stale.
const BlockWindow = 10

// Position scoring. Scores use a Gaussian over tick distance whose width
// depends on the pool fee tier; TickSigma maps fee tier to the standard
// deviation in ticks.
var TickSigma = map[int64]float64{
	100:   10,
	500:   50,
	3000:  200,
	10000: 500,
}

const (
	DefaultTickSigma  = 200.0
	GaussianAmplitude = 10.0

	// LiquidityScale divides raw position liquidity before scoring so the
	// per-position raw scores stay in a workable float range.
	LiquidityScale = 1e9

	// MinMinerWeight zeroes out dust weights before renormalization.
	MinMinerWeight = 1e-9
)

// ValidFeeTiers are the Uniswap V3 fee buckets accepted in pool metadata.
var ValidFeeTiers = map[int64]bool{100: true, 500: true, 3000: true, 10000: true}

// Snapshot and cache lifetimes.
const (
	HolderSnapshotTTL = 60 * time.Second
	RosterTTL         = 300 * time.Second
	PositionCacheTTL  = 60 * time.Second
	AllVotesCacheTTL  = 30 * time.Second
	PriceCacheTTL     = 5 * time.Minute
)

// Rate limiting: fixed windows keyed by client IP and by per-voter keys.
const (
	RateLimitWindow = 60 * time.Second
	IPRateLimit     = 30
	KeyRateLimit    = 5
)

// Background scheduler cadence.
const (
	SnapshotCheckInterval   = 60 * time.Second
	CooldownCleanupInterval = 60 * time.Minute
	RateLimitPruneInterval  = 5 * time.Minute

	// Pool metadata backfill runs in small batches with a gap so startup
	// does not hammer the RPC endpoint.
	PoolBackfillBatch = 5
	PoolBackfillGap   = time.Second
)

// Outbound call deadlines.
const (
	SubstrateCallTimeout = 10 * time.Second
	EVMCallTimeout       = 10 * time.Second
	SubgraphCallTimeout  = 15 * time.Second
	OracleCallTimeout    = 10 * time.Second
)

// Subgraph paging.
const (
	PositionOwnerBatch = 100
	PositionPageLimit  = 1000

	// MinPositionLiquidity filters dust positions at the subgraph layer.
	MinPositionLiquidity = 1
)

// StorageScanPageSize bounds one state_getKeysPaged request during
// snapshot builds.
const StorageScanPageSize = 512

// Request input bounds, enforced before any parsing.
const (
	MaxAddressLen   = 64
	MaxSignatureLen = 1024
	MaxMessageLen   = 4096
	MaxBodyBytes    = 8192
)

// Service defaults.
const (
	DefaultPort        = 3000
	DefaultDBPath      = "votes.db"
	DefaultVersionFile = "VERSION"
	DefaultCSVDir      = "logs"
)
