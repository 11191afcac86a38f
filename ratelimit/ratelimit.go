// Package ratelimit implements the fixed-window request limiter used by the
// API surface. Windows are 60 seconds by default; each key carries its own
// counter and reset time, and expired windows are pruned on a timer.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks request counts per key over fixed windows.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	size    time.Duration
	now     func() time.Time
}

// New creates a limiter with the given window size.
func New(size time.Duration) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		size:    size,
		now:     time.Now,
	}
}

// Allow records a hit for key and reports whether it stays within limit
// for the current window. The first hit of a window always passes.
func (l *Limiter) Allow(key string, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !w.resetAt.After(now) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.size)}
		return true
	}
	w.count++
	return w.count <= limit
}

// Remaining reports how many hits key has left in its current window.
func (l *Limiter) Remaining(key string, limit int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !w.resetAt.After(l.now()) {
		return limit
	}
	if left := limit - w.count; left > 0 {
		return left
	}
	return 0
}

// Prune drops windows whose reset time has passed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if !w.resetAt.After(now) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live windows, pruned or not.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
