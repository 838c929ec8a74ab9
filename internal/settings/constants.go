package settings

import "time"

// Application defaults shared across packages.
const (
	// DefaultInstructions is used when an imported GPT has no instructions.
	DefaultInstructions = "You are a helpful assistant."
	// DefaultModel is used when neither the import nor the upstream assistant names a model.
	DefaultModel = "gpt-4o"
	// DefaultRateLimit is the fallback per-window limit (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultRateWindow is the fallback rate limit window.
	DefaultRateWindow = time.Minute
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "gpthub:rl"
)
