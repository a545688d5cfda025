// Package ratelimit limits inbound message rates per client.
// It implements a token bucket per key on top of golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	Enabled           bool
	MessagesPerMinute int
	Burst             int
}

// DefaultConfig returns the default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MessagesPerMinute: 30,
		Burst:             5,
	}
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	config  Config
	buckets sync.Map // map[string]*rate.Limiter
}

// NewLimiter creates a new rate limiter with the given configuration. A
// non-positive rate disables limiting.
func NewLimiter(config Config) *Limiter {
	if config.MessagesPerMinute <= 0 {
		config.Enabled = false
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &Limiter{config: config}
}

// Allow reports whether key may send one more message now.
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.bucket(key).Allow()
}

// Wait blocks until key may send or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if !l.config.Enabled {
		return nil
	}
	return l.bucket(key).Wait(ctx)
}

// Forget drops the bucket of key, typically on disconnect.
func (l *Limiter) Forget(key string) {
	l.buckets.Delete(key)
}

// bucket gets or creates the limiter for key.
func (l *Limiter) bucket(key string) *rate.Limiter {
	if cached, ok := l.buckets.Load(key); ok {
		return cached.(*rate.Limiter)
	}
	every := rate.Limit(float64(l.config.MessagesPerMinute) / 60.0)
	actual, _ := l.buckets.LoadOrStore(key, rate.NewLimiter(every, l.config.Burst))
	return actual.(*rate.Limiter)
}

// Len reports how many keys hold a bucket.
func (l *Limiter) Len() int {
	n := 0
	l.buckets.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}
