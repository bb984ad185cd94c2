// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides per-publisher token-bucket rate limiting for
// ingress paths feeding a pool.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PublisherRateLimiter limits publish rates per client identifier.
type PublisherRateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*clientEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPublisherRateLimiter creates a new per-client rate limiter.
// r is publishes per second, burst is the burst allowance.
func NewPublisherRateLimiter(r float64, burst int, cleanupInterval time.Duration) *PublisherRateLimiter {
	l := &PublisherRateLimiter{
		limiters: make(map[string]*clientEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow checks if a publish from the given client is allowed.
func (l *PublisherRateLimiter) Allow(clientID string) bool {
	if clientID == "" {
		return true
	}

	l.mu.Lock()
	entry, exists := l.limiters[clientID]
	if !exists {
		entry = &clientEntry{
			limiter:  rate.NewLimiter(l.rate, l.burst),
			lastSeen: time.Now(),
		}
		l.limiters[clientID] = entry
	} else {
		entry.lastSeen = time.Now()
	}
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// cleanupLoop periodically removes stale entries.
func (l *PublisherRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale()
		case <-l.stopCh:
			return
		}
	}
}

// removeStale drops limiters idle for more than two cleanup intervals.
func (l *PublisherRateLimiter) removeStale() {
	cutoff := time.Now().Add(-2 * l.cleanup)

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
		}
	}
}

// Close stops the cleanup loop.
func (l *PublisherRateLimiter) Close() {
	close(l.stopCh)
}
