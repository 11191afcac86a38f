package vote

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/taoliq/incentived/crypto/sigverify"
	"github.com/taoliq/incentived/errs"
	"github.com/taoliq/incentived/params"
	"github.com/taoliq/incentived/ratelimit"
	"github.com/taoliq/incentived/store"
)

// HeadSource yields the current chain height for block-window checks.
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// HolderSource resolves a hotkey's alpha balance in the active snapshot.
type HolderSource interface {
	Alpha(voter string) (uint64, bool)
}

// PoolSource validates pool authenticity and supplies on-chain metadata.
type PoolSource interface {
	ValidatePool(ctx context.Context, address string) error
	PoolMetadata(ctx context.Context, address string) (store.PoolMeta, error)
}

// Config assembles the intake pipeline's dependencies.
type Config struct {
	Store   *store.Store
	Engine  *Engine
	Head    HeadSource
	Holders HolderSource
	Pools   PoolSource
	Limits  *ratelimit.Limiter
}

// Intake runs the signed-vote pipeline: bounds, rate limits, signature,
// parsing, pool authenticity, block window, holder check, cooldown, write.
type Intake struct {
	cfg    Config
	locker VoterLocker
}

// NewIntake wires an intake pipeline from its dependencies.
func NewIntake(cfg Config) *Intake {
	return &Intake{cfg: cfg}
}

// Request is one signed vote submission.
type Request struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
	ClientIP  string `json:"-"`
}

// Result carries the normalized allocation that was stored.
type Result struct {
	Pools []PoolWeight `json:"pools"`
	Block uint64       `json:"block"`
}

// Submit validates and stores a vote. Errors carry errs kinds with
// client-safe messages; internal causes stay wrapped for the log.
func (in *Intake) Submit(ctx context.Context, req Request) (*Result, error) {
	if req.Address == "" || len(req.Address) > params.MaxAddressLen ||
		req.Signature == "" || len(req.Signature) > params.MaxSignatureLen ||
		req.Message == "" || len(req.Message) > params.MaxMessageLen {
		return nil, errs.New(errs.KindInvalidInput)
	}

	if req.ClientIP != "" && !in.cfg.Limits.Allow("ip_"+req.ClientIP, params.IPRateLimit) {
		return nil, errs.New(errs.KindRateLimited)
	}
	if !in.cfg.Limits.Allow("vote_"+req.Address, params.KeyRateLimit) {
		return nil, errs.New(errs.KindRateLimited)
	}

	if err := sigverify.VerifySubstrate(req.Message, req.Signature, req.Address); err != nil {
		return nil, errs.Wrap(errs.KindAuth, err)
	}

	msg, err := ParseMessage(req.Message)
	if err != nil {
		return nil, err
	}
	normalized := Normalize(msg.Pools)

	for _, p := range normalized {
		if err := in.cfg.Pools.ValidatePool(ctx, p.Address); err != nil {
			return nil, errs.Wrap(errs.KindInvalidPool, err)
		}
	}
	in.cachePoolMetadata(ctx, Addresses(normalized))

	head, err := in.cfg.Head.BlockNumber(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstream, err)
	}
	if msg.Block > head {
		return nil, errs.Newf(errs.KindInvalidBlock, "Block number is in the future")
	}
	if msg.Block+params.BlockWindow < head {
		return nil, errs.New(errs.KindStaleBlock)
	}

	alpha, ok := in.cfg.Holders.Alpha(req.Address)
	if !ok || alpha == 0 {
		return nil, errs.New(errs.KindNotAHolder)
	}

	poolsJSON, err := EncodePools(normalized)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err)
	}

	// The read-check-write below must not interleave with another
	// submission from the same hotkey.
	in.locker.LockVoter(req.Address)
	defer in.locker.UnlockVoter(req.Address)

	previous, err := in.cfg.Store.GetVote(ctx, req.Address)
	hadPrevious := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, errs.Wrap(errs.KindDatabase, err)
	}
	hasChange := !hadPrevious || previous.PoolsJSON != poolsJSON

	var duration time.Duration
	if hasChange {
		duration, err = in.cfg.Engine.Check(ctx, req.Address, poolsJSON)
		if err != nil {
			var cd *CooldownActiveError
			if errors.As(err, &cd) {
				return nil, errs.Newf(errs.KindCooldownActive, "%s (voting resumes at %s)",
					cd.Error(), cd.ResumeAt.Format(time.RFC3339))
			}
			return nil, errs.Wrap(errs.KindInternal, err)
		}
	}

	var totalWeight int64
	for _, p := range normalized {
		totalWeight += p.Weight
	}
	err = in.cfg.Store.UpsertVote(ctx, store.Vote{
		Voter:       req.Address,
		PoolsJSON:   poolsJSON,
		Signature:   req.Signature,
		Message:     req.Message,
		BlockNumber: msg.Block,
		TotalWeight: totalWeight,
	})
	if err != nil {
		if errors.Is(err, store.ErrStaleBlock) {
			return nil, errs.Wrap(errs.KindStaleBlock, err)
		}
		return nil, errs.Wrap(errs.KindDatabase, err)
	}

	if hasChange && hadPrevious {
		if err := in.cfg.Engine.Record(ctx, req.Address, previous.PoolsJSON, poolsJSON, duration); err != nil {
			log.Error("Failed to record vote change", "voter", req.Address, "err", err)
		}
	}
	return &Result{Pools: normalized, Block: msg.Block}, nil
}

// cachePoolMetadata lazily fills the pool table for addresses not yet
// stored. Metadata is enrichment, not a vote precondition, so failures
// only log.
func (in *Intake) cachePoolMetadata(ctx context.Context, addrs []string) {
	missing, err := in.cfg.Store.MissingPoolAddresses(ctx, addrs)
	if err != nil {
		log.Warn("Pool metadata lookup failed", "err", err)
		return
	}
	for _, addr := range missing {
		meta, err := in.cfg.Pools.PoolMetadata(ctx, addr)
		if err != nil {
			log.Warn("Pool metadata fetch failed", "pool", addr, "err", err)
			continue
		}
		if err := in.cfg.Store.UpsertPool(ctx, meta); err != nil {
			log.Warn("Pool metadata store failed", "pool", addr, "err", err)
		}
	}
}

// StatusFor exposes the cooldown engine's status for the API layer.
func (in *Intake) StatusFor(ctx context.Context, voter string) (Status, error) {
	return in.cfg.Engine.StatusFor(ctx, voter)
}
