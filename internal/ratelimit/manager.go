package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/config"
	log "github.com/sirupsen/logrus"
)

const (
	// redisCooldown is how long the manager stays on memory after a Redis failure.
	redisCooldown    = 30 * time.Second
	redisPingTimeout = 2 * time.Second
)

// SettingsProvider returns the rate limit settings in effect right now.
type SettingsProvider func() config.RateLimitConfig

// StaticSettings returns a provider that always yields cfg.
func StaticSettings(cfg config.RateLimitConfig) SettingsProvider {
	return func() config.RateLimitConfig { return cfg }
}

// RedisClientFactory opens a Redis client; tests swap it out.
type RedisClientFactory func(options *redis.Options) *redis.Client

// redisTarget identifies the Redis server a backend was built for.
type redisTarget struct {
	addr     string
	password string
	db       int
	prefix   string
}

func targetOf(cfg config.RateLimitConfig) redisTarget {
	t := redisTarget{addr: cfg.RedisAddr, password: cfg.RedisPassword, db: cfg.RedisDB, prefix: cfg.RedisPrefix}
	if t.db < 0 {
		t.db = 0
	}
	if t.prefix == "" {
		t.prefix = config.DefaultRateLimitRedisPrefix
	}
	return t
}

type redisBackend struct {
	target  redisTarget
	client  *redis.Client
	limiter *RedisLimiter
}

// Manager enforces per-user send and upload limits.
// It uses Redis when enabled and falls back to process memory while Redis is failing.
type Manager struct {
	settings  SettingsProvider
	now       func() time.Time
	newClient RedisClientFactory
	memory    *MemoryLimiter

	mu          sync.Mutex
	backend     *redisBackend
	cooldownEnd time.Time
}

// NewManager constructs a Manager. Nil arguments select defaults.
func NewManager(settings SettingsProvider, now func() time.Time, newClient RedisClientFactory) *Manager {
	if settings == nil {
		settings = StaticSettings(config.RateLimitConfig{})
	}
	if now == nil {
		now = time.Now
	}
	if newClient == nil {
		newClient = redis.NewClient
	}
	return &Manager{settings: settings, now: now, newClient: newClient, memory: NewMemoryLimiter()}
}

// Check counts one action for the user and returns a RateLimited error once the rule is exceeded.
// Backend failures are logged and let the action through.
func (m *Manager) Check(ctx context.Context, userID uint64, scope Scope) error {
	if m == nil {
		return nil
	}
	cfg := m.settings()
	rule := ruleFor(cfg, scope)
	now := m.now()

	decision, errDecide := m.decide(ctx, cfg, KeyFor(userID, scope), rule, now)
	if errDecide != nil {
		log.WithError(errDecide).Warn("ratelimit: check failed")
		return nil
	}
	if decision.Allowed {
		return nil
	}
	wait := int(math.Ceil(decision.RetryAfter(now).Seconds()))
	return apperr.New(apperr.KindRateLimited, "%s limit of %d per %s reached, retry in %ds", scope, rule.Limit, rule.Window, wait)
}

func ruleFor(cfg config.RateLimitConfig, scope Scope) config.RateRule {
	switch scope {
	case ScopeSend:
		return cfg.Send
	case ScopeUpload:
		return cfg.Upload
	default:
		return config.RateRule{}
	}
}

func (m *Manager) decide(ctx context.Context, cfg config.RateLimitConfig, key string, rule config.RateRule, now time.Time) (Decision, error) {
	if disabled(rule, key) {
		return Decision{Allowed: true}, nil
	}
	if cfg.RedisEnabled && !m.coolingDown(now) {
		limiter, errBackend := m.redisLimiter(ctx, cfg)
		if errBackend == nil {
			decision, errAllow := limiter.Allow(ctx, key, rule, now)
			if errAllow == nil {
				return decision, nil
			}
			errBackend = errAllow
		}
		m.startCooldown(errBackend, now)
	}
	return m.memory.Allow(ctx, key, rule, now)
}

// Close releases the Redis client, if one was opened.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropBackendLocked()
}

func (m *Manager) dropBackendLocked() error {
	if m.backend == nil {
		return nil
	}
	errClose := m.backend.client.Close()
	m.backend = nil
	return errClose
}

func (m *Manager) coolingDown(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return now.Before(m.cooldownEnd)
}

func (m *Manager) startCooldown(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Before(m.cooldownEnd) {
		return
	}
	m.cooldownEnd = now.Add(redisCooldown)
	log.WithError(err).Warnf("ratelimit: redis unavailable, using memory for %s", redisCooldown)
}

// redisLimiter returns the limiter for cfg, reconnecting when the Redis target changed.
func (m *Manager) redisLimiter(ctx context.Context, cfg config.RateLimitConfig) (*RedisLimiter, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("ratelimit: redis enabled without address")
	}
	target := targetOf(cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend != nil && m.backend.target == target {
		return m.backend.limiter, nil
	}
	if errClose := m.dropBackendLocked(); errClose != nil {
		log.WithError(errClose).Debug("ratelimit: close previous redis client")
	}

	client := m.newClient(&redis.Options{Addr: target.addr, Password: target.password, DB: target.db})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.backend = &redisBackend{target: target, client: client, limiter: NewRedisLimiter(client, target.prefix)}
	return m.backend.limiter, nil
}
