// Package ratelimit implements per-user sliding-window admission control.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits at most limit events per user within any trailing period.
// State is process-local and resets on restart.
type Limiter struct {
	limit  int
	period time.Duration

	mu      sync.Mutex
	windows map[int64][]time.Time
}

// New creates a limiter. A non-positive limit admits nothing.
func New(limit int, period time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		period:  period,
		windows: make(map[int64][]time.Time),
	}
}

// Admit prunes the user's window and records now if there is room.
func (l *Limiter) Admit(userID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := prune(l.windows[userID], now.Add(-l.period))
	if len(window) >= l.limit {
		l.windows[userID] = window
		return false
	}
	l.windows[userID] = append(window, now)
	return true
}

// Remaining returns how many events the user may still send right now.
func (l *Limiter) Remaining(userID int64, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.limit - len(prune(l.windows[userID], now.Add(-l.period)))
	if n < 0 {
		return 0
	}
	return n
}

// Sweep drops users whose whole window has expired. It returns how many
// users were dropped.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.period)
	dropped := 0
	for id, window := range l.windows {
		if len(prune(window, cutoff)) == 0 {
			delete(l.windows, id)
			dropped++
		}
	}
	return dropped
}

// prune drops timestamps at or before cutoff. Windows are kept in arrival
// order, so the survivors are a suffix.
func prune(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return window
	}
	return append(window[:0:0], window[i:]...)
}
