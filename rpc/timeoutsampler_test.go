package rpc

import (
	"testing"
	"time"
)

func TestTimeoutSamplerDefaultsToMaxWithNoSamples(t *testing.T) {
	s := NewTimeoutSampler()
	if got := s.StallTimeout(); got != maxStallTimeout {
		t.Fatalf("expected maxStallTimeout with no samples, got %v", got)
	}
}

func TestTimeoutSamplerTracksFastNetwork(t *testing.T) {
	s := NewTimeoutSampler()
	for i := 0; i < 100; i++ {
		s.Sample(20 * time.Millisecond)
	}
	got := s.StallTimeout()
	if got < minStallTimeout || got > 200*time.Millisecond {
		t.Fatalf("expected a tight timeout for a consistently fast network, got %v", got)
	}
}

func TestTimeoutSamplerClampsToMinimum(t *testing.T) {
	s := NewTimeoutSampler()
	for i := 0; i < 100; i++ {
		s.Sample(0)
	}
	if got := s.StallTimeout(); got < minStallTimeout {
		t.Fatalf("expected clamp to minStallTimeout, got %v", got)
	}
}

func TestTimeoutSamplerClampsToMaximum(t *testing.T) {
	s := NewTimeoutSampler()
	for i := 0; i < 100; i++ {
		s.Sample(time.Hour)
	}
	if got := s.StallTimeout(); got != maxStallTimeout {
		t.Fatalf("expected clamp to maxStallTimeout, got %v", got)
	}
}

func TestTimeoutSamplerResetReturnsToDefault(t *testing.T) {
	s := NewTimeoutSampler()
	for i := 0; i < 100; i++ {
		s.Sample(20 * time.Millisecond)
	}
	s.Reset()
	if got := s.StallTimeout(); got != maxStallTimeout {
		t.Fatalf("expected reset sampler to report maxStallTimeout, got %v", got)
	}
}
