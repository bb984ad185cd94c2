// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBurst(t *testing.T) {
	l := NewPublisherRateLimiter(1, 3, time.Minute)
	defer l.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("c1"), "publish %d within burst", i)
	}
	assert.False(t, l.Allow("c1"), "burst exhausted")
}

func TestClientsIsolated(t *testing.T) {
	l := NewPublisherRateLimiter(1, 1, time.Minute)
	defer l.Close()

	assert.True(t, l.Allow("c1"))
	assert.False(t, l.Allow("c1"))
	assert.True(t, l.Allow("c2"), "other clients have their own bucket")
}

func TestEmptyClientAlwaysAllowed(t *testing.T) {
	l := NewPublisherRateLimiter(1, 1, time.Minute)
	defer l.Close()

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow(""))
	}
}

func TestStaleEntriesRemoved(t *testing.T) {
	l := NewPublisherRateLimiter(1, 1, 10*time.Millisecond)
	defer l.Close()

	l.Allow("c1")
	assert.Eventually(t, func() bool {
		l.mu.RLock()
		defer l.mu.RUnlock()
		return len(l.limiters) == 0
	}, time.Second, 5*time.Millisecond)
}
