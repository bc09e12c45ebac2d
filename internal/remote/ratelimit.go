package remote

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultRetryAfter = 30 * time.Second
	maxRetryAfter     = 15 * time.Minute
)

// RateLimiter remembers when the remote store last asked us to back off
type RateLimiter struct {
	mu           sync.RWMutex
	blockedUntil time.Time
	lastStatus   int
	lastUpdated  time.Time
}

// RateLimitStatus represents the current back-off state
type RateLimitStatus struct {
	Limited      bool
	BlockedUntil time.Time
	LastStatus   int
	LastUpdated  time.Time
}

// NewRateLimiter creates a rate limiter with no back-off in effect
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{}
}

// Update records a throttling response. A later deadline always wins so a
// short hint cannot cut an earlier long one.
func (rl *RateLimiter) Update(statusCode int, retryAfter time.Duration, now time.Time) {
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	if retryAfter > maxRetryAfter {
		retryAfter = maxRetryAfter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	until := now.Add(retryAfter)
	if until.After(rl.blockedUntil) {
		rl.blockedUntil = until
	}
	rl.lastStatus = statusCode
	rl.lastUpdated = now
}

// Status returns the back-off state as of now
func (rl *RateLimiter) Status(now time.Time) RateLimitStatus {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return RateLimitStatus{
		Limited:      now.Before(rl.blockedUntil),
		BlockedUntil: rl.blockedUntil,
		LastStatus:   rl.lastStatus,
		LastUpdated:  rl.lastUpdated,
	}
}

func isThrottled(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode == http.StatusServiceUnavailable
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms. Zero means
// the header was absent or unparseable.
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
