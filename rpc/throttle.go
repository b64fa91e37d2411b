package rpc

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ThrottleRate and ThrottleBurst are the spam throttle's fixed parameters
// (spec §4.7).
const (
	ThrottleRate  = 32 // tokens/s
	ThrottleBurst = 128
)

// Throttle estimates the delay before a host may perform another
// operation. The enabled implementation is a per-host token bucket; the
// disabled variant always allows immediately.
type Throttle interface {
	// IncrementAndEstimateDelay consumes one token for host and returns the
	// delay until the next token is available, or 0 if allowed now.
	IncrementAndEstimateDelay(host string) time.Duration
	// Reset clears host's bucket, used when a request is in fact allowed
	// through immediately (e.g. a response clearing the inbound bucket).
	Reset(host string)
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucketThrottle is the enabled throttle: rate tokens/s, burst
// capacity, one bucket per host (spec §4.7).
type TokenBucketThrottle struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   float64
	clock   clock.Clock
}

// NewTokenBucketThrottle builds the standard 32 ops/s, burst-128 throttle.
func NewTokenBucketThrottle(clk clock.Clock) *TokenBucketThrottle {
	if clk == nil {
		clk = clock.New()
	}
	return &TokenBucketThrottle{
		buckets: make(map[string]*bucket),
		rate:    ThrottleRate,
		burst:   ThrottleBurst,
		clock:   clk,
	}
}

func (t *TokenBucketThrottle) IncrementAndEstimateDelay(host string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	b, ok := t.buckets[host]
	if !ok {
		b = &bucket{tokens: t.burst, lastRefill: now}
		t.buckets[host] = b
	} else {
		elapsed := now.Sub(b.lastRefill).Seconds()
		b.tokens = min(t.burst, b.tokens+elapsed*t.rate)
		b.lastRefill = now
	}

	b.tokens--
	if b.tokens >= 0 {
		return 0
	}
	deficit := -b.tokens
	return time.Duration(deficit / t.rate * float64(time.Second))
}

func (t *TokenBucketThrottle) Reset(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buckets, host)
}

// DisabledThrottle never delays and tracks nothing; selected when the
// config disables throttling or developer mode is on (spec §4.7:
// "developer mode always disables throttling").
type DisabledThrottle struct{}

func (DisabledThrottle) IncrementAndEstimateDelay(string) time.Duration { return 0 }
func (DisabledThrottle) Reset(string)                                  {}

// NewThrottle selects the enabled or disabled implementation per config.
func NewThrottle(enabled, developerMode bool, clk clock.Clock) Throttle {
	if !enabled || developerMode {
		return DisabledThrottle{}
	}
	return NewTokenBucketThrottle(clk)
}
