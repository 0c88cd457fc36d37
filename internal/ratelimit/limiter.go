// Package ratelimit provides a per-client token-bucket admission limiter.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

type bucket struct {
	tokens   float64
	lastTime time.Time
	rps      float64
	burst    int
}

func (b *bucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastTime).Seconds()
	b.tokens += elapsed * b.rps
	if b.tokens > float64(b.burst) {
		b.tokens = float64(b.burst)
	}
	b.lastTime = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Limiter tracks one token bucket per client address.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	rps   float64
	burst int

	rejected atomic.Int64
	stopCh   chan struct{}
}

func NewLimiter(rps float64, burst int) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rps:     rps,
		burst:   burst,
		stopCh:  make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether one more request from client may proceed.
func (l *Limiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[client]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastTime: now, rps: l.rps, burst: l.burst}
		l.buckets[client] = b
	}
	if !b.allow(now) {
		l.rejected.Add(1)
		return false
	}
	return true
}

// Rejected returns the total number of rejected requests.
func (l *Limiter) Rejected() int64 { return l.rejected.Load() }

func (l *Limiter) Stop() { close(l.stopCh) }

// cleanup evicts buckets idle for over ten minutes.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			l.mu.Lock()
			for client, b := range l.buckets {
				if b.lastTime.Before(cutoff) {
					delete(l.buckets, client)
				}
			}
			l.mu.Unlock()
		}
	}
}
