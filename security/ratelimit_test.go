package security

import (
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	defer rl.Stop()

	if !rl.Allow("203.0.113.1") {
		t.Error("first request should be allowed")
	}
	if !rl.Allow("203.0.113.1") {
		t.Error("second request should fit in the burst")
	}
	if rl.Allow("203.0.113.1") {
		t.Error("third immediate request should be denied")
	}
}

func TestRateLimiter_IndependentIdentifiers(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	if !rl.Allow("203.0.113.1") {
		t.Error("first identifier should be allowed")
	}
	if rl.Allow("203.0.113.1") {
		t.Error("first identifier should be exhausted")
	}
	if !rl.Allow("203.0.113.2") {
		t.Error("second identifier must have its own bucket")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	rl.Allow("203.0.113.1")
	rl.Allow("203.0.113.2")
	if got := rl.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	rl.Cleanup(-time.Millisecond) // everything counts as idle

	if got := rl.Len(); got != 0 {
		t.Errorf("Len() after cleanup = %d, want 0", got)
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)

	rl.Stop()
	rl.Stop() // must not panic
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(100, 1, nil)
	defer rl.Stop()

	if !rl.Allow("203.0.113.1") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("203.0.113.1") {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(15 * time.Millisecond) // 100 rps refills within ~10ms

	if !rl.Allow("203.0.113.1") {
		t.Error("bucket should have refilled")
	}
}
