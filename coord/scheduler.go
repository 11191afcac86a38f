package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/taoliq/incentived/csvlog"
	"github.com/taoliq/incentived/params"
	"github.com/taoliq/incentived/vote"
)

// Start builds the initial snapshots and launches the refresh loops.
// A failed holder snapshot is fatal; a missing roster only warns and is
// retried by its loop.
func (b *Backend) Start(ctx context.Context) error {
	if _, err := b.RefreshHolders(ctx); err != nil {
		return fmt.Errorf("coord: initial holder snapshot: %w", err)
	}
	if b.cfg.LogCSV {
		b.writeHolderCSV()
	}
	if _, err := b.RefreshRoster(ctx); err != nil {
		log.Warn("Initial roster build failed, will retry", "err", err)
	}
	b.backfillPools(ctx)

	b.loopCtx, b.loopCancel = context.WithCancel(context.Background())
	b.wg.Add(4)
	go b.holderLoop()
	go b.rosterLoop()
	go b.cleanupLoop()
	go b.pruneLoop()

	log.Info("Coordinator started", "netuid", b.cfg.Netuid, "version", b.version)
	return nil
}

// Stop terminates the loops and releases every held resource. It blocks
// until in-flight refreshes have been abandoned.
func (b *Backend) Stop() {
	close(b.quit)
	if b.loopCancel != nil {
		b.loopCancel()
	}
	b.wg.Wait()

	b.chain.Close()
	if b.poolsClose != nil {
		b.poolsClose()
	}
	if err := b.store.Close(); err != nil {
		log.Error("Store close failed", "err", err)
	}
	log.Info("Coordinator stopped")
}

// backfillPools fetches on-chain metadata for voted pools that predate
// it in the store, spacing request batches out to spare the RPC node.
func (b *Backend) backfillPools(ctx context.Context) {
	rows, err := b.store.AllVotes(ctx)
	if err != nil {
		log.Warn("Pool backfill skipped", "err", err)
		return
	}
	seen := make(map[string]bool)
	var union []string
	for _, v := range rows {
		pools, err := vote.DecodePools(v.PoolsJSON)
		if err != nil {
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
		return
	}
	missing, err := b.store.MissingPoolAddresses(ctx, union)
	if err != nil {
		log.Warn("Pool backfill skipped", "err", err)
		return
	}
	if len(missing) == 0 {
		return
	}

	log.Info("Backfilling pool metadata", "pools", len(missing))
	for i, addr := range missing {
		if i > 0 && i%params.PoolBackfillBatch == 0 {
			select {
			case <-time.After(params.PoolBackfillGap):
			case <-b.quit:
				return
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, params.EVMCallTimeout)
		meta, err := b.pools.PoolMetadata(callCtx, addr)
		cancel()
		if err != nil {
			log.Warn("Pool metadata fetch failed", "pool", addr, "err", err)
			continue
		}
		if err := b.store.UpsertPool(ctx, meta); err != nil {
			log.Warn("Pool metadata store failed", "pool", addr, "err", err)
		}
	}
}

func (b *Backend) holderLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(params.SnapshotCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hs := b.holders.Load()
			if hs != nil && !hs.Expired(time.Now(), params.HolderSnapshotTTL) {
				continue
			}
			if _, err := b.RefreshHolders(b.loopCtx); err != nil {
				log.Warn("Holder snapshot refresh failed", "err", err)
				continue
			}
			if b.cfg.LogCSV {
				b.writeHolderCSV()
			}
		case <-b.quit:
			return
		}
	}
}

func (b *Backend) rosterLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(params.SnapshotCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r := b.roster.Load()
			if r != nil && !r.Expired(time.Now(), params.RosterTTL) {
				continue
			}
			if _, err := b.RefreshRoster(b.loopCtx); err != nil {
				log.Warn("Roster refresh failed", "err", err)
			}
		case <-b.quit:
			return
		}
	}
}

func (b *Backend) cleanupLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(params.CooldownCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed, err := b.engine.CleanupExpired(b.loopCtx)
			if err != nil {
				log.Warn("Cooldown cleanup failed", "err", err)
				continue
			}
			if removed > 0 {
				log.Debug("Expired cooldowns removed", "count", removed)
			}
		case <-b.quit:
			return
		}
	}
}

func (b *Backend) pruneLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(params.RateLimitPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if removed := b.limits.Prune(); removed > 0 {
				log.Debug("Rate limit windows pruned", "count", removed)
			}
		case <-b.quit:
			return
		}
	}
}

func (b *Backend) writeHolderCSV() {
	hs := b.holders.Load()
	if hs == nil {
		return
	}
	path, err := csvlog.WriteHolders(b.cfg.CSVDir, hs)
	if err != nil {
		log.Error("Holder CSV write failed", "err", err)
		return
	}
	log.Debug("Holder snapshot logged", "path", path)
}
