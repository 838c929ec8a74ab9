package ratelimit

import (
	"context"
	"time"

	"github.com/router-for-me/GPTHub/internal/config"
)

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed   bool
	Remaining int
	// ResetAt is when the current window closes.
	ResetAt time.Time
}

// RetryAfter reports how long the caller should wait before the window reopens.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter counts hits per key inside fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, rule config.RateRule, now time.Time) (Decision, error)
}

// Scope names the user action a rule applies to.
type Scope int

const (
	ScopeNone Scope = iota
	// ScopeSend covers message sends.
	ScopeSend
	// ScopeUpload covers persistent file uploads.
	ScopeUpload
)

func (s Scope) String() string {
	switch s {
	case ScopeSend:
		return "send"
	case ScopeUpload:
		return "upload"
	default:
		return ""
	}
}

// windowStart returns the start of the fixed window containing now.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

func disabled(rule config.RateRule, key string) bool {
	return rule.Limit <= 0 || rule.Window <= 0 || key == ""
}
