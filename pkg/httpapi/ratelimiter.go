package httpapi

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter gives every client IP a token bucket that holds a minute's
// worth of requests and refills at the per-minute rate
type RateLimiter struct {
	perMinute int
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	sweepEvery time.Duration
	done       chan struct{}
	stopOnce   sync.Once
}

// NewRateLimiter creates a limiter and starts sweeping idle buckets.
// A non-positive limit allows every request.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{
		perMinute:  perMinute,
		now:        time.Now,
		buckets:    make(map[string]*rate.Limiter),
		sweepEvery: 5 * time.Minute,
		done:       make(chan struct{}),
	}
	if perMinute > 0 {
		go rl.sweepLoop()
	}
	return rl
}

func (rl *RateLimiter) bucket(ip string) *rate.Limiter {
	b, ok := rl.buckets[ip]
	if !ok {
		b = rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60), rl.perMinute)
		rl.buckets[ip] = b
	}
	return b
}

// Allow takes a token from ip's bucket if one is available
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.perMinute <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.bucket(ip).AllowN(rl.now(), 1)
}

// RetryAfter returns the whole seconds until ip's bucket holds a token again
func (rl *RateLimiter) RetryAfter(ip string) int {
	if rl.perMinute <= 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		return 0
	}
	missing := 1 - b.TokensAt(rl.now())
	if missing <= 0 {
		return 0
	}
	return int(math.Ceil(missing * 60 / float64(rl.perMinute)))
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.done:
			return
		}
	}
}

// sweep drops full buckets; a new one behaves the same
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, b := range rl.buckets {
		if b.TokensAt(now) >= float64(b.Burst()) {
			delete(rl.buckets, ip)
		}
	}
}

// Stop ends the sweep goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}
