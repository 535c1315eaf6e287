package protocol

import (
	"testing"
	"time"
)

// fakeClock gives tests control over the limiter's notion of now.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestLimiter(maxMessages int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{current: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(time.Second, maxMessages)
	limiter.now = clock.now
	return limiter, clock
}

func TestRateLimiterCapWithinWindow(t *testing.T) {
	limiter, _ := newTestLimiter(5)

	for i := 0; i < 5; i++ {
		if !limiter.Allow("dev-1") {
			t.Fatalf("message %d should be allowed", i+1)
		}
	}

	// The (N+1)th message inside the window is rejected
	if limiter.Allow("dev-1") {
		t.Error("message 6 should be rejected")
	}
	if got := limiter.Violations("dev-1"); got != 1 {
		t.Errorf("violations = %d, want 1", got)
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	limiter, clock := newTestLimiter(2)

	limiter.Allow("dev-1")
	limiter.Allow("dev-1")
	if limiter.Allow("dev-1") {
		t.Fatal("third message in window should be rejected")
	}

	// After the window lapses, messages flow again
	clock.advance(time.Second)
	if !limiter.Allow("dev-1") {
		t.Error("message after window reset should be allowed")
	}

	// Violations persist across resets
	if got := limiter.Violations("dev-1"); got != 1 {
		t.Errorf("violations = %d, want 1", got)
	}
}

func TestRateLimiterPerDeviceIsolation(t *testing.T) {
	limiter, _ := newTestLimiter(1)

	if !limiter.Allow("dev-1") {
		t.Fatal("dev-1 first message should be allowed")
	}
	if limiter.Allow("dev-1") {
		t.Error("dev-1 second message should be rejected")
	}

	// A saturated dev-1 does not affect dev-2
	if !limiter.Allow("dev-2") {
		t.Error("dev-2 should have its own window")
	}
	if got := limiter.Violations("dev-2"); got != 0 {
		t.Errorf("dev-2 violations = %d, want 0", got)
	}
}

func TestRateLimiterSnapshot(t *testing.T) {
	limiter, _ := newTestLimiter(1)

	limiter.Allow("dev-1")
	limiter.Allow("dev-1") // violation
	limiter.Allow("dev-1") // violation
	limiter.Allow("dev-2")

	snap := limiter.Snapshot()
	if snap["dev-1"] != 2 {
		t.Errorf("snapshot dev-1 = %d, want 2", snap["dev-1"])
	}
	if _, ok := snap["dev-2"]; ok {
		t.Error("dev-2 has no violations and should not appear")
	}

	// Snapshot is a copy
	snap["dev-1"] = 999
	if limiter.Violations("dev-1") != 2 {
		t.Error("mutating snapshot affected limiter state")
	}
}

func TestRateLimiterForget(t *testing.T) {
	limiter, _ := newTestLimiter(1)

	limiter.Allow("dev-1")
	limiter.Allow("dev-1") // violation
	limiter.Forget("dev-1")

	// Window discarded: next message starts fresh
	if !limiter.Allow("dev-1") {
		t.Error("message after Forget should be allowed")
	}
	// Violation history is kept
	if got := limiter.Violations("dev-1"); got != 1 {
		t.Errorf("violations = %d, want 1", got)
	}
}
