package protocol

import (
	"sync"
	"time"
)

// RateLimiter enforces a fixed-window per-device message cap.
//
// Each device gets an independent window of the configured duration. The
// first message in a window starts it; once the cap is reached, further
// messages are rejected until the window lapses. Violations are counted
// per device and survive window resets for observability.
//
// All methods are safe for concurrent use.
type RateLimiter struct {
	mu          sync.Mutex
	windows     map[string]*rateWindow
	violations  map[string]int64
	window      time.Duration
	maxMessages int

	// now is replaceable in tests.
	now func() time.Time
}

// rateWindow tracks one device's current fixed window.
type rateWindow struct {
	start time.Time
	count int
}

// NewRateLimiter creates a rate limiter with the given window duration and
// per-window message cap.
func NewRateLimiter(window time.Duration, maxMessages int) *RateLimiter {
	return &RateLimiter{
		windows:     make(map[string]*rateWindow),
		violations:  make(map[string]int64),
		window:      window,
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

// Allow records one message for the device and reports whether it is
// within the cap. A rejected message counts as a violation.
func (r *RateLimiter) Allow(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[deviceID]
	if !ok || now.Sub(w.start) >= r.window {
		r.windows[deviceID] = &rateWindow{start: now, count: 1}
		return true
	}

	if w.count >= r.maxMessages {
		r.violations[deviceID]++
		return false
	}

	w.count++
	return true
}

// Violations returns the total violation count for a device.
func (r *RateLimiter) Violations(deviceID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.violations[deviceID]
}

// Snapshot returns a copy of all per-device violation counts.
func (r *RateLimiter) Snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := make(map[string]int64, len(r.violations))
	for id, count := range r.violations {
		snap[id] = count
	}
	return snap
}

// Forget discards the device's current window. Violation counts are kept.
// Called when a device disconnects so idle windows don't accumulate.
func (r *RateLimiter) Forget(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, deviceID)
}
