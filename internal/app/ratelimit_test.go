package app

import (
	"testing"
	"time"
)

func TestOfferRateLimiterBlocksOverLimit(t *testing.T) {
	rl := NewOfferRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if rl.Allow("alice") {
		t.Fatal("fourth attempt should be blocked")
	}
	// Other callers are unaffected.
	if !rl.Allow("bob") {
		t.Fatal("bob should have a fresh window")
	}
}

func TestOfferRateLimiterWindowExpiry(t *testing.T) {
	rl := NewOfferRateLimiter(1, 20*time.Millisecond)

	if !rl.Allow("alice") {
		t.Fatal("first attempt should be allowed")
	}
	if rl.Allow("alice") {
		t.Fatal("second immediate attempt should be blocked")
	}

	time.Sleep(50 * time.Millisecond)
	if !rl.Allow("alice") {
		t.Fatal("attempt after the window should be allowed")
	}
}

func TestOfferRateLimiterDisabled(t *testing.T) {
	var rl *OfferRateLimiter
	if !rl.Allow("alice") {
		t.Fatal("nil limiter must allow everything")
	}
	rl = NewOfferRateLimiter(0, time.Minute)
	if !rl.Allow("alice") {
		t.Fatal("zero limit must allow everything")
	}
}
