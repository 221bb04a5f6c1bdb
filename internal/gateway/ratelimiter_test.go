package gateway

import "testing"

func TestRateLimiter_DisabledByZeroRPM(t *testing.T) {
	rl := NewRateLimiter(0, 5)
	if rl.Enabled() {
		t.Fatal("Enabled() = true, want false for rpm=0")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("client-1") {
			t.Fatalf("Allow() returned false at iteration %d, disabled limiter must never block", i)
		}
	}
}

func TestRateLimiter_BurstThenBlock(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("client-1") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("allowed = %d, want burst of 2", allowed)
	}
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	if !rl.Allow("a") {
		t.Fatal("first call for client a should be allowed")
	}
	if !rl.Allow("b") {
		t.Fatal("client b must not be throttled by client a's usage")
	}
	if rl.Allow("a") {
		t.Fatal("second immediate call for client a should be throttled")
	}
}

func TestRateLimiter_Forget(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	rl.Allow("a")
	if rl.Allow("a") {
		t.Fatal("client a should be throttled before Forget")
	}
	rl.Forget("a")
	if !rl.Allow("a") {
		t.Fatal("client a should get a fresh limiter after Forget")
	}
}
