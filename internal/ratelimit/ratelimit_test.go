package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/config"
)

func perMinute(limit int) config.RateRule { return config.RateRule{Limit: limit, Window: time.Minute} }

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, "user:1:send", perMinute(2), start.Add(time.Duration(i)*time.Second))
		if err != nil || !decision.Allowed {
			t.Fatalf("hit %d: expected allowed, got %+v err=%v", i, decision, err)
		}
	}
	decision, _ := limiter.Allow(ctx, "user:1:send", perMinute(2), start.Add(30*time.Second))
	if decision.Allowed {
		t.Fatalf("expected third hit in window to be limited")
	}
	if got := decision.RetryAfter(start.Add(30 * time.Second)); got != 30*time.Second {
		t.Fatalf("expected 30s retry, got %s", got)
	}
	decision, _ = limiter.Allow(ctx, "user:1:send", perMinute(2), start.Add(time.Minute))
	if !decision.Allowed || decision.Remaining != 1 {
		t.Fatalf("expected next window to allow with 1 remaining, got %+v", decision)
	}
}

func TestMemoryLimiter_DisabledRule(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Now()
	for _, rule := range []config.RateRule{{}, {Limit: 1}, {Window: time.Minute}} {
		for i := 0; i < 3; i++ {
			if decision, _ := limiter.Allow(context.Background(), "user:1:send", rule, now); !decision.Allowed {
				t.Fatalf("rule %+v: expected unlimited", rule)
			}
		}
	}
	if limiter.Len() != 0 {
		t.Fatalf("expected no windows tracked for disabled rules, got %d", limiter.Len())
	}
}

func TestMemoryLimiter_SweepsClosedWindows(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	_, _ = limiter.Allow(context.Background(), "user:1:send", perMinute(5), now)
	_, _ = limiter.Allow(context.Background(), "user:2:send", perMinute(5), now.Add(memorySweepInterval+time.Minute))
	if limiter.Len() != 1 {
		t.Fatalf("expected stale window swept, got %d windows", limiter.Len())
	}
}

func TestKeyFor(t *testing.T) {
	if got := KeyFor(7, ScopeUpload); got != "user:7:upload" {
		t.Fatalf("unexpected key %q", got)
	}
	if KeyFor(0, ScopeSend) != "" || KeyFor(7, ScopeNone) != "" {
		t.Fatalf("expected empty key for anonymous or unscoped checks")
	}
}

func TestManagerCheck_RateLimited(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mgr := NewManager(StaticSettings(config.RateLimitConfig{Send: perMinute(1)}), func() time.Time { return now }, nil)
	ctx := context.Background()

	if err := mgr.Check(ctx, 5, ScopeSend); err != nil {
		t.Fatalf("expected first send allowed, got %v", err)
	}
	if err := mgr.Check(ctx, 5, ScopeSend); !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("expected RateLimited, got %v", err)
	}
	if err := mgr.Check(ctx, 6, ScopeSend); err != nil {
		t.Fatalf("expected other user unaffected, got %v", err)
	}
	if err := mgr.Check(ctx, 5, ScopeUpload); err != nil {
		t.Fatalf("expected unlimited uploads, got %v", err)
	}
}

func TestManagerCheck_FollowsSettingsProvider(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.RateLimitConfig{Upload: perMinute(1)}
	mgr := NewManager(func() config.RateLimitConfig { return cfg }, func() time.Time { return now }, nil)
	ctx := context.Background()

	_ = mgr.Check(ctx, 1, ScopeUpload)
	if err := mgr.Check(ctx, 1, ScopeUpload); !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("expected second upload limited, got %v", err)
	}
	cfg.Upload = config.RateRule{}
	if err := mgr.Check(ctx, 1, ScopeUpload); err != nil {
		t.Fatalf("expected reloaded settings to lift the limit, got %v", err)
	}
}

func TestManager_RedisUnavailableFallsBackToMemory(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.RateLimitConfig{
		Send:         perMinute(1),
		RedisEnabled: true,
		RedisAddr:    "127.0.0.1:1",
		RedisPrefix:  "test",
	}
	mgr := NewManager(StaticSettings(cfg), func() time.Time { return now }, nil)
	defer func() { _ = mgr.Close() }()
	ctx := context.Background()

	if err := mgr.Check(ctx, 5, ScopeSend); err != nil {
		t.Fatalf("expected first send allowed, got %v", err)
	}
	if !mgr.coolingDown(now) {
		t.Fatalf("expected cooldown after redis failure")
	}
	if err := mgr.Check(ctx, 5, ScopeSend); !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("expected memory limiter to enforce, got %v", err)
	}
}
