package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/router-for-me/GPTHub/internal/config"
)

// memorySweepInterval bounds how long expired windows linger in memory.
const memorySweepInterval = 5 * time.Minute

type window struct {
	start time.Time
	end   time.Time
	hits  int
}

// MemoryLimiter keeps per-process fixed-window counters.
type MemoryLimiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	nextSweep time.Time
}

// NewMemoryLimiter constructs an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window)}
}

// Allow records a hit for key and reports whether it fits in the current window.
func (l *MemoryLimiter) Allow(_ context.Context, key string, rule config.RateRule, now time.Time) (Decision, error) {
	if disabled(rule, key) {
		return Decision{Allowed: true}, nil
	}
	start := windowStart(now, rule.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)

	w := l.windows[key]
	if w == nil || !w.start.Equal(start) {
		w = &window{start: start, end: start.Add(rule.Window)}
		l.windows[key] = w
	}
	if w.hits >= rule.Limit {
		return Decision{ResetAt: w.end}, nil
	}
	w.hits++
	return Decision{Allowed: true, Remaining: rule.Limit - w.hits, ResetAt: w.end}, nil
}

// sweep drops closed windows. Callers hold l.mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for key, w := range l.windows {
		if !now.Before(w.end) {
			delete(l.windows, key)
		}
	}
	l.nextSweep = now.Add(memorySweepInterval)
}

// Len reports how many windows are tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
