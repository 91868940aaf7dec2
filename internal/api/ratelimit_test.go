package api

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := newRateLimiter(rate.Every(time.Hour), 2)

	if !rl.allow("1.2.3.4") {
		t.Error("first request denied")
	}
	if !rl.allow("1.2.3.4") {
		t.Error("second request denied within burst")
	}
	if rl.allow("1.2.3.4") {
		t.Error("third request allowed past burst")
	}
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := newRateLimiter(rate.Every(time.Hour), 1)

	if !rl.allow("1.1.1.1") {
		t.Error("first IP denied")
	}
	if !rl.allow("2.2.2.2") {
		t.Error("second IP denied; buckets must be per IP")
	}
	if rl.allow("1.1.1.1") {
		t.Error("first IP allowed past its bucket")
	}
}

func TestRateLimiter_EvictsStaleVisitors(t *testing.T) {
	rl := newRateLimiter(rate.Every(time.Hour), 1)

	rl.allow("1.1.1.1")
	rl.visitors["1.1.1.1"].lastSeen = time.Now().Add(-2 * visitorTTL)
	rl.lastCleanup = time.Now().Add(-2 * cleanupInterval)

	// The next call sweeps the stale entry, giving the IP a fresh bucket.
	if !rl.allow("1.1.1.1") {
		t.Error("stale visitor was not evicted")
	}
}
