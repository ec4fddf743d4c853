package admission

import (
	"testing"
	"time"
)

func TestUnconfiguredServiceAlwaysAdmitted(t *testing.T) {
	m := NewManager(0)
	if !m.Acquire("any-service") {
		t.Fatal("expected Acquire to succeed for unconfigured service")
	}
	m.Release("any-service")
}

func TestMaxConcurrent(t *testing.T) {
	m := NewManager(0, Config{Service: "greeter", MaxConcurrent: 2})

	if !m.Acquire("greeter") {
		t.Fatal("first Acquire should succeed")
	}
	if !m.Acquire("greeter") {
		t.Fatal("second Acquire should succeed")
	}
	if m.Acquire("greeter") {
		t.Fatal("third Acquire should fail (max 2)")
	}
	if m.ActiveCount("greeter") != 2 {
		t.Fatalf("active = %d", m.ActiveCount("greeter"))
	}

	m.Release("greeter")
	if !m.Acquire("greeter") {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestGlobalLimit(t *testing.T) {
	m := NewManager(2)

	if !m.Acquire("a") || !m.Acquire("b") {
		t.Fatal("first two Acquires should succeed")
	}
	if m.Acquire("c") {
		t.Fatal("global limit should reject the third")
	}
	m.Release("a")
	if !m.Acquire("c") {
		t.Fatal("Acquire should succeed after Release")
	}
	if m.Active() != 2 {
		t.Fatalf("active = %d", m.Active())
	}
}

func TestRateLimit(t *testing.T) {
	m := NewManager(0, Config{Service: "greeter", RateLimit: 10, RateBurst: 2})

	// The burst admits two immediately; the third is throttled.
	if !m.Acquire("greeter") || !m.Acquire("greeter") {
		t.Fatal("burst Acquires should succeed")
	}
	if m.Acquire("greeter") {
		t.Fatal("third Acquire should be rate limited")
	}

	// At 10/s a token refills within ~100ms.
	time.Sleep(150 * time.Millisecond)
	if !m.Acquire("greeter") {
		t.Fatal("Acquire should succeed after refill")
	}
}

func TestSetServiceConfigPreservesActive(t *testing.T) {
	m := NewManager(0, Config{Service: "greeter", MaxConcurrent: 1})

	if !m.Acquire("greeter") {
		t.Fatal("Acquire should succeed")
	}
	m.SetServiceConfig(Config{Service: "greeter", MaxConcurrent: 2})
	if m.ActiveCount("greeter") != 1 {
		t.Fatalf("active after reconfig = %d", m.ActiveCount("greeter"))
	}
	if !m.Acquire("greeter") {
		t.Fatal("raised limit should admit another")
	}
	if m.Acquire("greeter") {
		t.Fatal("new limit of 2 should reject the third")
	}
}
