// Package watcher reloads runtime settings when the config file changes.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/GPTHub/internal/config"
	log "github.com/sirupsen/logrus"
)

// defaultPollInterval controls how often the config file is checked.
const defaultPollInterval = 5 * time.Second

// RateLimitWatcher keeps the latest rate limit settings from the config file.
type RateLimitWatcher struct {
	configPath   string
	pollInterval time.Duration
	load         func(string) (config.RateLimitConfig, error)

	mu      sync.RWMutex
	current config.RateLimitConfig
	hash    string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRateLimitWatcher constructs a watcher seeded with initial.
// A non-positive interval selects the default.
func NewRateLimitWatcher(configPath string, initial config.RateLimitConfig, interval time.Duration) *RateLimitWatcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	w := &RateLimitWatcher{
		configPath:   strings.TrimSpace(configPath),
		pollInterval: interval,
		load:         config.LoadRateLimitConfig,
		current:      initial,
	}
	if data, errRead := os.ReadFile(w.configPath); errRead == nil {
		w.hash = hashBytes(data)
	}
	return w
}

// Current returns the latest settings. It satisfies ratelimit.SettingsProvider.
func (w *RateLimitWatcher) Current() config.RateLimitConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start launches the polling loop until ctx is cancelled or Stop is called.
func (w *RateLimitWatcher) Start(ctx context.Context) {
	if w == nil || w.configPath == "" {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(runCtx)
	}()
	log.Infof("config watcher started (poll_interval=%s)", w.pollInterval)
}

// Stop cancels the polling loop and waits for it to exit.
func (w *RateLimitWatcher) Stop() {
	if w == nil || w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
}

func (w *RateLimitWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll reloads settings when the file contents change. It reports whether a reload happened.
func (w *RateLimitWatcher) poll() bool {
	data, errRead := os.ReadFile(w.configPath)
	if errRead != nil || len(data) == 0 {
		return false
	}
	hash := hashBytes(data)

	w.mu.RLock()
	prevHash := w.hash
	w.mu.RUnlock()
	if prevHash == hash {
		return false
	}

	cfg, errLoad := w.load(w.configPath)
	if errLoad != nil {
		log.WithError(errLoad).Warn("config watcher: load rate limit settings failed")
		return false
	}

	w.mu.Lock()
	w.current = cfg
	w.hash = hash
	w.mu.Unlock()
	log.WithFields(log.Fields{
		"send":          fmt.Sprintf("%d/%s", cfg.Send.Limit, cfg.Send.Window),
		"upload":        fmt.Sprintf("%d/%s", cfg.Upload.Limit, cfg.Upload.Window),
		"redis_enabled": cfg.RedisEnabled,
	}).Info("config watcher: rate limit settings reloaded")
	return true
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
