package vote

import "sync"

// VoterLocker serializes the read-check-write section of intake per voter,
// so concurrent submissions from one hotkey cannot interleave between the
// cooldown check and the vote write.
type VoterLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *VoterLocker) lock(voter string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	if _, ok := l.locks[voter]; !ok {
		l.locks[voter] = new(sync.Mutex)
	}
	return l.locks[voter]
}

// LockVoter blocks until the voter's mutex is held.
func (l *VoterLocker) LockVoter(voter string) {
	l.lock(voter).Lock()
}

// UnlockVoter releases the voter's mutex.
func (l *VoterLocker) UnlockVoter(voter string) {
	l.lock(voter).Unlock()
}
