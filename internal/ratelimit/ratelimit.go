// Package ratelimit provides keyed token-bucket limiters. The HTTP API limits
// by client IP; the provider pool limits outbound RPC calls by chain.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Config configures a keyed limiter.
type Config struct {
	// RequestsPerSecond is the sustained rate per key.
	RequestsPerSecond float64
	// BurstSize allows brief bursts above the rate.
	BurstSize int
	// CleanupInterval is how often idle keys are dropped. Zero disables cleanup.
	CleanupInterval time.Duration
}

// DefaultConfig returns the HTTP API defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 1,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

type keyState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per key.
type Limiter struct {
	cfg  Config
	mu   sync.Mutex
	keys map[string]*keyState
	stop chan struct{}
	once sync.Once
}

// New creates a keyed limiter. A non-positive rate means unlimited.
func New(cfg Config) *Limiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	l := &Limiter{
		cfg:  cfg,
		keys: make(map[string]*keyState),
		stop: make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go l.cleanup()
	}
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * l.cfg.CleanupInterval)
			l.mu.Lock()
			for key, st := range l.keys {
				if st.lastSeen.Before(cutoff) {
					delete(l.keys, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.keys[key]
	if !ok {
		limit := rate.Limit(l.cfg.RequestsPerSecond)
		if l.cfg.RequestsPerSecond <= 0 {
			limit = rate.Inf
		}
		st = &keyState{limiter: rate.NewLimiter(limit, l.cfg.BurstSize)}
		l.keys[key] = st
	}
	st.lastSeen = time.Now()
	return st.limiter
}

// Allow reports whether one event for key may happen now.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Wait blocks until an event for key is permitted or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if err := l.get(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter %s: %w", key, err)
	}
	return nil
}

// Middleware returns a gin middleware that rate limits by client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			return
		}
		c.Next()
	}
}
