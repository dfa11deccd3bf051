package ipc

import "testing"

func TestConnLimiterAcquireRelease(t *testing.T) {
	limiter := newConnLimiter(2)

	if !limiter.Acquire() || !limiter.Acquire() {
		t.Fatalf("expected two Acquires to succeed")
	}
	if limiter.Acquire() {
		t.Fatalf("expected third Acquire to fail at capacity")
	}
	if limiter.Active() != 2 {
		t.Fatalf("expected 2 active, got %d", limiter.Active())
	}

	limiter.Release()
	if !limiter.Acquire() {
		t.Fatalf("expected Acquire to succeed after Release")
	}

	limiter.Release()
	limiter.Release()
	limiter.Release() // should not underflow
	if limiter.Active() != 0 {
		t.Fatalf("expected 0 active, got %d", limiter.Active())
	}
}

func TestConnLimiterNilOrUnlimitedAlwaysAllows(t *testing.T) {
	var nilLimiter *connLimiter
	if !nilLimiter.Acquire() {
		t.Fatalf("expected nil Acquire to allow")
	}
	nilLimiter.Release()

	unlimited := newConnLimiter(0)
	for i := 0; i < 100; i++ {
		if !unlimited.Acquire() {
			t.Fatalf("expected unlimited Acquire to allow")
		}
	}
}

func TestStartLimiterPerAction(t *testing.T) {
	limiter := newStartLimiter(0.001, 2)

	if !limiter.Allow("deploy") || !limiter.Allow("deploy") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if limiter.Allow("deploy") {
		t.Fatal("expected third start to be limited")
	}
	if !limiter.Allow("echo") {
		t.Fatal("expected other actions to have their own bucket")
	}

	var unlimited *startLimiter = newStartLimiter(0, 0)
	if unlimited != nil || !unlimited.Allow("x") {
		t.Fatal("expected zero rate to disable limiting")
	}
}
