package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/GPTHub/internal/config"
)

// redisExpirySlack keeps a window key alive briefly after it closes to absorb clock skew.
const redisExpirySlack = time.Second

// hitScript counts one hit and sets the expiry on the first hit of a window.
var hitScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return hits
`)

// RedisLimiter shares fixed-window counters across hub replicas.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter writing keys under prefix.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = config.DefaultRateLimitRedisPrefix
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

// Allow records a hit for key in Redis and reports whether it fits in the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string, rule config.RateRule, now time.Time) (Decision, error) {
	if disabled(rule, key) || l == nil || l.client == nil {
		return Decision{Allowed: true}, nil
	}
	start := windowStart(now, rule.Window)
	end := start.Add(rule.Window)
	ttl := end.Sub(now) + redisExpirySlack

	hits, errRun := hitScript.Run(ctx, l.client, []string{l.windowKey(key, start)}, ttl.Milliseconds()).Int()
	if errRun != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis hit: %w", errRun)
	}
	if hits > rule.Limit {
		return Decision{ResetAt: end}, nil
	}
	return Decision{Allowed: true, Remaining: rule.Limit - hits, ResetAt: end}, nil
}

func (l *RedisLimiter) windowKey(key string, start time.Time) string {
	return l.prefix + ":" + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}
