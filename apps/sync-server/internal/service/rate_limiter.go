package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
)

// clientRateLimiter holds the limiter for a specific client
type clientRateLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits inbound frames per client
type RateLimiter struct {
	enabled         bool
	framesPerSecond float64
	burstSize       int
	expirationTime  time.Duration
	clientLimiters  map[string]*clientRateLimiter
	mu              sync.Mutex
	cleanupInterval time.Duration
	stopOnce        sync.Once
	stopCleanup     chan struct{}
}

// NewRateLimiter creates a new rate limiter and starts its cleanup loop
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	if cfg.ExpirationTime <= 0 {
		cfg.ExpirationTime = 10 * time.Minute
	}
	rl := &RateLimiter{
		enabled:         cfg.Enabled,
		framesPerSecond: cfg.FramesPerSecond,
		burstSize:       cfg.Burst,
		expirationTime:  cfg.ExpirationTime,
		clientLimiters:  make(map[string]*clientRateLimiter),
		cleanupInterval: cfg.ExpirationTime,
		stopCleanup:     make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks whether one more frame from clientID is allowed
func (rl *RateLimiter) Allow(clientID string) error {
	if rl == nil || !rl.enabled {
		return nil
	}

	rl.mu.Lock()
	limiter, exists := rl.clientLimiters[clientID]
	if !exists {
		limiter = &clientRateLimiter{
			limiter: rate.NewLimiter(rate.Limit(rl.framesPerSecond), rl.burstSize),
		}
		rl.clientLimiters[clientID] = limiter
	}
	limiter.lastSeen = time.Now()
	rl.mu.Unlock()

	if !limiter.limiter.Allow() {
		return ErrRateLimitExceeded
	}

	return nil
}

// Reset forgets the limiter of a specific client
func (rl *RateLimiter) Reset(clientID string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.clientLimiters, clientID)
}

// cleanup periodically removes expired limiters
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.removeExpiredLimiters(time.Now())
		case <-rl.stopCleanup:
			return
		}
	}
}

// removeExpiredLimiters removes limiters that haven't been used for a while
func (rl *RateLimiter) removeExpiredLimiters(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for clientID, limiter := range rl.clientLimiters {
		if now.Sub(limiter.lastSeen) > rl.expirationTime {
			delete(rl.clientLimiters, clientID)
		}
	}
}

// Len returns the number of tracked clients
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clientLimiters)
}

// Stop stops the rate limiter and its cleanup goroutine
func (rl *RateLimiter) Stop() {
	if rl == nil {
		return
	}
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
