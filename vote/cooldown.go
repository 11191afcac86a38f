package vote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/taoliq/incentived/params"
	"github.com/taoliq/incentived/store"
)

// CooldownActiveError rejects a vote change while a cooldown is running.
// Intake extends the client message with the absolute resume time.
type CooldownActiveError struct {
	Remaining time.Duration
	ResumeAt  time.Time
}

func (e *CooldownActiveError) Error() string {
	if e.Remaining < time.Minute {
		return fmt.Sprintf("Vote change not allowed. You can change your vote in %d more seconds", int(e.Remaining/time.Second))
	}
	return fmt.Sprintf("Vote change not allowed. You can change your vote in %d more minutes", int(e.Remaining/time.Minute))
}

// Engine applies the progressive cooldown schedule to vote changes. Change
// counts decay after params.CooldownResetWindow of inactivity, so only
// rapid churn climbs the ladder.
type Engine struct {
	store *store.Store
	now   func() time.Time
}

// NewEngine returns a cooldown engine over the given store.
func NewEngine(st *store.Store) *Engine {
	return &Engine{store: st, now: time.Now}
}

// Check admits or rejects a change to newPoolsJSON for voter and returns
// the cooldown duration the admitted change incurs. Resubmitting the
// current allocation is always admitted. An active cooldown returns a
// *CooldownActiveError.
//
// Store read failures during the computation degrade to the fresh-voter
// path rather than failing the caller's write.
func (e *Engine) Check(ctx context.Context, voter, newPoolsJSON string) (time.Duration, error) {
	now := e.now()

	current, err := e.store.GetVote(ctx, voter)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("Cooldown check: vote lookup failed", "voter", voter, "err", err)
		}
		return params.CooldownBase, nil
	}
	if current.PoolsJSON == newPoolsJSON {
		return params.CooldownBase, nil
	}

	latest, err := e.store.LatestVoteChange(ctx, voter)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("Cooldown check: history lookup failed", "voter", voter, "err", err)
		}
		return params.CooldownBase, nil
	}

	if latest.CooldownUntil > now.Unix() {
		resume := time.Unix(latest.CooldownUntil, 0).UTC()
		return 0, &CooldownActiveError{Remaining: resume.Sub(now), ResumeAt: resume}
	}

	effective := 0
	if now.Unix()-latest.ChangeTimestamp <= int64(params.CooldownResetWindow/time.Second) {
		effective = latest.ChangeCount
	}
	return nextDuration(effective), nil
}

// Record appends the change row for an admitted change. The change count
// continues from the latest in-window row or restarts at 1.
func (e *Engine) Record(ctx context.Context, voter, oldPools, newPools string, duration time.Duration) error {
	now := e.now()
	count := 1
	latest, err := e.store.LatestVoteChange(ctx, voter)
	if err == nil && now.Unix()-latest.ChangeTimestamp <= int64(params.CooldownResetWindow/time.Second) {
		count = latest.ChangeCount + 1
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("Cooldown record: history lookup failed", "voter", voter, "err", err)
	}
	return e.store.AppendVoteChange(ctx, store.VoteChange{
		Voter:           voter,
		OldPoolsJSON:    oldPools,
		NewPoolsJSON:    newPools,
		ChangeTimestamp: now.Unix(),
		CooldownUntil:   now.Add(duration).Unix(),
		ChangeCount:     count,
	})
}

// CleanupExpired drops change rows whose cooldown has lapsed.
func (e *Engine) CleanupExpired(ctx context.Context) (int64, error) {
	return e.store.DeleteExpiredCooldowns(ctx, e.now().Unix())
}

// Status describes a voter's cooldown state for the status endpoint.
type Status struct {
	Active       bool          `json:"active"`
	Remaining    time.Duration `json:"-"`
	ChangeCount  int           `json:"change_count"`
	NextDuration time.Duration `json:"-"`
}

// StatusFor reports whether voter is cooling down, the in-window change
// count and the duration the next change would incur.
func (e *Engine) StatusFor(ctx context.Context, voter string) (Status, error) {
	now := e.now()
	latest, err := e.store.LatestVoteChange(ctx, voter)
	if errors.Is(err, store.ErrNotFound) {
		return Status{NextDuration: nextDuration(0)}, nil
	}
	if err != nil {
		return Status{}, err
	}

	st := Status{}
	if latest.CooldownUntil > now.Unix() {
		st.Active = true
		st.Remaining = time.Unix(latest.CooldownUntil, 0).Sub(now)
	}
	if now.Unix()-latest.ChangeTimestamp <= int64(params.CooldownResetWindow/time.Second) {
		st.ChangeCount = latest.ChangeCount
	}
	st.NextDuration = nextDuration(st.ChangeCount)
	return st, nil
}

// nextDuration is the cooldown a change incurs when the voter has made
// effective changes inside the reset window. The admitted change is number
// effective+1, so the exponent steps once past the free threshold and the
// result clamps to [CooldownBase, CooldownCap].
func nextDuration(effective int) time.Duration {
	steps := effective + 2 - params.FrequentChangeThreshold
	d := params.CooldownBase
	for i := 0; i < steps; i++ {
		d *= params.CooldownMultiplier
		if d >= params.CooldownCap {
			return params.CooldownCap
		}
	}
	if d < params.CooldownBase {
		return params.CooldownBase
	}
	return d
}
