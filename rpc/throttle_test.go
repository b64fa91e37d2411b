package rpc

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestTokenBucketThrottleAllowsWithinBurst(t *testing.T) {
	mock := clock.NewMock()
	th := NewTokenBucketThrottle(mock)

	for i := 0; i < ThrottleBurst; i++ {
		if delay := th.IncrementAndEstimateDelay("1.2.3.4"); delay != 0 {
			t.Fatalf("request %d: expected no delay within burst, got %v", i, delay)
		}
	}
	if delay := th.IncrementAndEstimateDelay("1.2.3.4"); delay <= 0 {
		t.Fatalf("expected a delay once the burst is exhausted, got %v", delay)
	}
}

func TestTokenBucketThrottleRefillsOverTime(t *testing.T) {
	mock := clock.NewMock()
	th := NewTokenBucketThrottle(mock)

	for i := 0; i < ThrottleBurst; i++ {
		th.IncrementAndEstimateDelay("host")
	}
	mock.Add(time.Second)
	// rate tokens/s have refilled; the next ThrottleRate requests should be
	// allowed again with no delay.
	for i := 0; i < ThrottleRate; i++ {
		if delay := th.IncrementAndEstimateDelay("host"); delay != 0 {
			t.Fatalf("request %d after refill: expected no delay, got %v", i, delay)
		}
	}
}

func TestTokenBucketThrottleIsolatesHosts(t *testing.T) {
	mock := clock.NewMock()
	th := NewTokenBucketThrottle(mock)
	for i := 0; i < ThrottleBurst; i++ {
		th.IncrementAndEstimateDelay("a")
	}
	if delay := th.IncrementAndEstimateDelay("b"); delay != 0 {
		t.Fatalf("expected host b to have its own untouched bucket, got delay %v", delay)
	}
}

func TestTokenBucketThrottleReset(t *testing.T) {
	mock := clock.NewMock()
	th := NewTokenBucketThrottle(mock)
	for i := 0; i < ThrottleBurst; i++ {
		th.IncrementAndEstimateDelay("host")
	}
	th.Reset("host")
	if delay := th.IncrementAndEstimateDelay("host"); delay != 0 {
		t.Fatalf("expected a fresh bucket after Reset, got delay %v", delay)
	}
}

func TestDisabledThrottleNeverDelays(t *testing.T) {
	var th DisabledThrottle
	for i := 0; i < 10000; i++ {
		if delay := th.IncrementAndEstimateDelay("host"); delay != 0 {
			t.Fatalf("disabled throttle must never delay, got %v", delay)
		}
	}
}

func TestNewThrottleSelectsDisabledInDeveloperMode(t *testing.T) {
	th := NewThrottle(true, true, nil)
	if _, ok := th.(DisabledThrottle); !ok {
		t.Fatalf("expected DisabledThrottle under developer mode, got %T", th)
	}
}

func TestNewThrottleSelectsTokenBucketWhenEnabled(t *testing.T) {
	th := NewThrottle(true, false, nil)
	if _, ok := th.(*TokenBucketThrottle); !ok {
		t.Fatalf("expected *TokenBucketThrottle, got %T", th)
	}
}
