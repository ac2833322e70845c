package main

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter()
	for i := 0; i < 5; i++ {
		if !rl.Allow("10.0.0.1", 5, time.Minute) {
			t.Fatalf("attempt %d blocked under the limit", i+1)
		}
	}
	if rl.Allow("10.0.0.1", 5, time.Minute) {
		t.Fatal("attempt over the limit must be blocked")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter()
	for i := 0; i < 3; i++ {
		rl.Allow("10.0.0.1", 3, time.Minute)
	}
	if rl.Allow("10.0.0.1", 3, time.Minute) {
		t.Fatal("exhausted key must be blocked")
	}
	if !rl.Allow("10.0.0.2", 3, time.Minute) {
		t.Fatal("a fresh key must not inherit another key's usage")
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	rl := NewRateLimiter()
	rl.Allow("10.0.0.1", 1, 10*time.Millisecond)
	if rl.Allow("10.0.0.1", 1, 10*time.Millisecond) {
		t.Fatal("second attempt inside the window must be blocked")
	}
	time.Sleep(15 * time.Millisecond)
	if !rl.Allow("10.0.0.1", 1, 10*time.Millisecond) {
		t.Fatal("attempt after the window must be allowed")
	}
}

func TestRateLimiterZeroLimitDisables(t *testing.T) {
	rl := NewRateLimiter()
	for i := 0; i < 100; i++ {
		if !rl.Allow("10.0.0.1", 0, time.Minute) {
			t.Fatal("a zero limit must disable throttling")
		}
	}
}
