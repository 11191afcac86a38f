package vote

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/taoliq/incentived/params"
	"github.com/taoliq/incentived/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *time.Time) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(st)
	e.now = func() time.Time { return now }
	return e, st, &now
}

func storeVote(t *testing.T, st *store.Store, voter, poolsJSON string, block uint64) {
	t.Helper()
	if err := st.UpsertVote(context.Background(), store.Vote{
		Voter: voter, PoolsJSON: poolsJSON, BlockNumber: block,
	}); err != nil {
		t.Fatalf("seed vote: %v", err)
	}
}

func TestCooldownFreshVoter(t *testing.T) {
	e, _, _ := newTestEngine(t)

	d, err := e.Check(context.Background(), "alice", `[{"address":"0xaaa","weight":10000}]`)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d != params.CooldownBase {
		t.Fatalf("have %v, want base %v", d, params.CooldownBase)
	}
}

func TestCooldownSamePoolsAlwaysAdmitted(t *testing.T) {
	e, st, now := newTestEngine(t)
	ctx := context.Background()

	pools := `[{"address":"0xaaa","weight":10000}]`
	storeVote(t, st, "alice", pools, 1)

	// Even mid-cooldown, resubmitting the identical allocation passes.
	if err := e.Record(ctx, "alice", `[]`, pools, params.CooldownBase); err != nil {
		t.Fatalf("record: %v", err)
	}
	*now = now.Add(time.Minute)
	d, err := e.Check(ctx, "alice", pools)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d != params.CooldownBase {
		t.Fatalf("have %v, want base", d)
	}
}

func TestCooldownLadder(t *testing.T) {
	e, st, now := newTestEngine(t)
	ctx := context.Background()

	pools := func(tag string) string { return `[{"address":"0x` + tag + `","weight":10000}]` }
	storeVote(t, st, "alice", pools("a"), 1)

	// Durations the 1st..5th rapid changes incur: the ladder doubles past
	// the free threshold and clamps at the cap.
	want := []time.Duration{
		72 * time.Minute,
		144 * time.Minute,
		288 * time.Minute,
		8 * time.Hour,
		8 * time.Hour,
	}
	tags := []string{"b", "c", "d", "e", "f"}
	prev := pools("a")
	for i, w := range want {
		next := pools(tags[i])
		d, err := e.Check(ctx, "alice", next)
		if err != nil {
			t.Fatalf("change %d: %v", i+1, err)
		}
		if d != w {
			t.Fatalf("change %d: have %v, want %v", i+1, d, w)
		}
		if err := e.Record(ctx, "alice", prev, next, d); err != nil {
			t.Fatalf("record %d: %v", i+1, err)
		}
		storeVote(t, st, "alice", next, uint64(i+2))
		prev = next

		latest, err := st.LatestVoteChange(ctx, "alice")
		if err != nil {
			t.Fatalf("latest %d: %v", i+1, err)
		}
		if latest.ChangeCount != i+1 {
			t.Fatalf("change %d: have count %d, want %d", i+1, latest.ChangeCount, i+1)
		}
		if got := latest.CooldownUntil - latest.ChangeTimestamp; got != int64(d/time.Second) {
			t.Fatalf("change %d: have cooldown span %ds, want %v", i+1, got, d)
		}

		// Step just past the cooldown so the next change is admitted.
		*now = now.Add(d + time.Minute)
	}
}

func TestCooldownActiveMessage(t *testing.T) {
	e, st, now := newTestEngine(t)
	ctx := context.Background()

	storeVote(t, st, "alice", `["b"]`, 2)
	if err := e.Record(ctx, "alice", `["a"]`, `["b"]`, 72*time.Minute); err != nil {
		t.Fatalf("record: %v", err)
	}

	*now = now.Add(time.Second)
	_, err := e.Check(ctx, "alice", `["c"]`)
	if err == nil {
		t.Fatal("mid-cooldown change admitted")
	}
	if !strings.Contains(err.Error(), "71 more minutes") {
		t.Fatalf("have %q, want remaining-minutes message", err.Error())
	}

	// Below one minute remaining the message switches to seconds.
	*now = now.Add(71*time.Minute + 30*time.Second)
	_, err = e.Check(ctx, "alice", `["c"]`)
	if err == nil {
		t.Fatal("mid-cooldown change admitted")
	}
	if !strings.Contains(err.Error(), "more seconds") {
		t.Fatalf("have %q, want remaining-seconds message", err.Error())
	}
}

func TestCooldownResetWindow(t *testing.T) {
	e, st, now := newTestEngine(t)
	ctx := context.Background()

	storeVote(t, st, "alice", `["b"]`, 2)
	if err := e.Record(ctx, "alice", `["a"]`, `["b"]`, 72*time.Minute); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Latest change exactly resetWindow+1s old: the count has decayed, so
	// the next change costs base again and restarts at count 1.
	*now = now.Add(params.CooldownResetWindow + time.Second)
	d, err := e.Check(ctx, "alice", `["c"]`)
	if err != nil {
		t.Fatalf("check after decay: %v", err)
	}
	if d != params.CooldownBase {
		t.Fatalf("have %v, want base after decay", d)
	}
	if err := e.Record(ctx, "alice", `["b"]`, `["c"]`, d); err != nil {
		t.Fatalf("record: %v", err)
	}
	latest, err := st.LatestVoteChange(ctx, "alice")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ChangeCount != 1 {
		t.Fatalf("have count %d, want restart at 1", latest.ChangeCount)
	}
}

func TestCooldownStatus(t *testing.T) {
	e, st, now := newTestEngine(t)
	ctx := context.Background()

	st0, err := e.StatusFor(ctx, "alice")
	if err != nil {
		t.Fatalf("status fresh: %v", err)
	}
	if st0.Active || st0.ChangeCount != 0 || st0.NextDuration != params.CooldownBase {
		t.Fatalf("fresh status = %+v", st0)
	}

	storeVote(t, st, "alice", `["b"]`, 2)
	if err := e.Record(ctx, "alice", `["a"]`, `["b"]`, 72*time.Minute); err != nil {
		t.Fatalf("record: %v", err)
	}

	*now = now.Add(10 * time.Minute)
	st1, err := e.StatusFor(ctx, "alice")
	if err != nil {
		t.Fatalf("status cooling: %v", err)
	}
	if !st1.Active {
		t.Fatal("status not active mid-cooldown")
	}
	if st1.Remaining != 62*time.Minute {
		t.Fatalf("have remaining %v, want 62m", st1.Remaining)
	}
	if st1.ChangeCount != 1 {
		t.Fatalf("have count %d, want 1", st1.ChangeCount)
	}
	if st1.NextDuration != 144*time.Minute {
		t.Fatalf("have next %v, want 144m", st1.NextDuration)
	}
}

func TestCooldownCleanupExpired(t *testing.T) {
	e, st, now := newTestEngine(t)
	ctx := context.Background()

	storeVote(t, st, "alice", `["b"]`, 2)
	if err := e.Record(ctx, "alice", `["a"]`, `["b"]`, 72*time.Minute); err != nil {
		t.Fatalf("record: %v", err)
	}

	n, err := e.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 0 {
		t.Fatalf("have %d deleted while active, want 0", n)
	}

	*now = now.Add(73 * time.Minute)
	n, err = e.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("have %d deleted, want 1", n)
	}
	if _, err := st.LatestVoteChange(ctx, "alice"); err == nil {
		t.Fatal("expired row survived cleanup")
	}
}

func TestLockerSerializesPerVoter(t *testing.T) {
	var l VoterLocker
	l.LockVoter("alice")

	done := make(chan struct{})
	go func() {
		l.LockVoter("alice")
		l.UnlockVoter("alice")
		close(done)
	}()

	// A different voter's lock is independent.
	l.LockVoter("bob")
	l.UnlockVoter("bob")

	select {
	case <-done:
		t.Fatal("second alice lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	l.UnlockVoter("alice")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second alice lock never acquired")
	}
}
