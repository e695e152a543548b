// Package ratelimit implements per-sender send admission over fixed
// minute windows.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultBudget is the number of sends admitted per sender per minute.
	DefaultBudget = 30

	// retention is how long old windows are kept before lazy pruning.
	retention = 2 * time.Minute
)

type windowKey struct {
	senderID string
	minute   int64
}

// Limiter admits requests against a fixed window keyed by
// (sender, minute). Pruning of expired windows happens lazily on each
// admission check; no background sweep.
type Limiter struct {
	mu     sync.Mutex
	budget int
	counts map[windowKey]int
	now    func() time.Time
}

// New creates a limiter with the given per-minute budget. A budget of zero
// or less falls back to DefaultBudget.
func New(budget int) *Limiter {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Limiter{
		budget: budget,
		counts: make(map[windowKey]int),
		now:    time.Now,
	}
}

// Admit reports whether senderID may send now. The returned time is the
// instant the current window resets, surfaced so callers can present a
// wait time on denial.
func (l *Limiter) Admit(senderID string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := now.Truncate(time.Minute)
	resetAt := window.Add(time.Minute)

	l.pruneLocked(now)

	key := windowKey{senderID: senderID, minute: window.Unix()}
	if l.counts[key] >= l.budget {
		return false, resetAt
	}

	l.counts[key]++
	return true, resetAt
}

// Remaining returns the unused budget for senderID in the current window.
func (l *Limiter) Remaining(senderID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.now().Truncate(time.Minute)
	used := l.counts[windowKey{senderID: senderID, minute: window.Unix()}]
	if used >= l.budget {
		return 0
	}
	return l.budget - used
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention).Truncate(time.Minute).Unix()
	for key := range l.counts {
		if key.minute < cutoff {
			delete(l.counts, key)
		}
	}
}
