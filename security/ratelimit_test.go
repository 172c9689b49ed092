package security

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestRateLimiter(t *testing.T, eventsPerSecond, burst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(eventsPerSecond, burst, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 2)

	if !rl.Allow("subject-a") {
		t.Error("first event should be allowed")
	}
	if !rl.Allow("subject-a") {
		t.Error("second event should fit in the burst")
	}
	if rl.Allow("subject-a") {
		t.Error("third event should exceed the burst")
	}

	// Separate identifiers get separate buckets.
	if !rl.Allow("subject-b") {
		t.Error("a different identifier should have its own budget")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 1)

	rl.Allow("idle-subject")
	rl.Cleanup(-time.Second)

	rl.mu.Lock()
	remaining := len(rl.limiters)
	rl.mu.Unlock()
	if remaining != 0 {
		t.Errorf("limiters after cleanup = %d, want 0", remaining)
	}

	// A cleaned identifier starts over with a fresh bucket.
	if !rl.Allow("idle-subject") {
		t.Error("identifier should be allowed again after cleanup")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}
