package rpc

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bosonnetwork/godht/kadid"
)

// suspiciousWindow is the sliding window over which observations accrue
// toward an auto-ban (spec §4.7).
const suspiciousWindow = 5 * time.Minute

// suspiciousBanThreshold is the number of observations within the window
// that trips an auto-ban.
const suspiciousBanThreshold = 8

// observation kinds tracked per (host, id) pair.
type observationKind int

const (
	observationMalformedFrame observationKind = iota
	observationSourceInconsistent
	observationIdAddressInconsistent
)

type hostRecord struct {
	times  []time.Time
	banned bool
}

// SuspiciousNodeDetector tracks malformed frames, source-inconsistent
// responses, and id/address inconsistencies per host, auto-banning hosts
// that reach a threshold within a sliding window (spec §4.7).
type SuspiciousNodeDetector struct {
	mu    sync.Mutex
	hosts map[string]*hostRecord
	clock clock.Clock
}

// NewSuspiciousNodeDetector builds an empty detector.
func NewSuspiciousNodeDetector(clk clock.Clock) *SuspiciousNodeDetector {
	if clk == nil {
		clk = clock.New()
	}
	return &SuspiciousNodeDetector{
		hosts: make(map[string]*hostRecord),
		clock: clk,
	}
}

// Observe records one suspicious observation for host and auto-bans it if
// the threshold is reached within the sliding window.
func (d *SuspiciousNodeDetector) Observe(host string, _ observationKind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	r, ok := d.hosts[host]
	if !ok {
		r = &hostRecord{}
		d.hosts[host] = r
	}

	cutoff := now.Add(-suspiciousWindow)
	kept := r.times[:0]
	for _, t := range r.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.times = append(kept, now)

	if len(r.times) >= suspiciousBanThreshold {
		r.banned = true
	}
}

// ObserveMalformedFrame records a malformed-frame observation.
func (d *SuspiciousNodeDetector) ObserveMalformedFrame(host string) {
	d.Observe(host, observationMalformedFrame)
}

// ObserveSourceInconsistent records a source-address-mismatch observation.
func (d *SuspiciousNodeDetector) ObserveSourceInconsistent(host string) {
	d.Observe(host, observationSourceInconsistent)
}

// ObserveIdAddressInconsistent records an id/address mismatch observation.
func (d *SuspiciousNodeDetector) ObserveIdAddressInconsistent(host string) {
	d.Observe(host, observationIdAddressInconsistent)
}

// IsBanned reports whether host has been auto-banned.
func (d *SuspiciousNodeDetector) IsBanned(host string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.hosts[host]
	return ok && r.banned
}

// Blacklist is an explicit union of banned ids and hosts populated
// externally (spec §4.7), consulted by RpcServer before decrypting any
// inbound packet.
type Blacklist struct {
	mu    sync.RWMutex
	ids   map[kadid.Id]struct{}
	hosts map[string]struct{}
}

// NewBlacklist builds an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{
		ids:   make(map[kadid.Id]struct{}),
		hosts: make(map[string]struct{}),
	}
}

// BanId adds id to the blacklist.
func (b *Blacklist) BanId(id kadid.Id) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids[id] = struct{}{}
}

// BanHost adds host to the blacklist.
func (b *Blacklist) BanHost(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hosts[host] = struct{}{}
}

// IsBannedId reports whether id is blacklisted.
func (b *Blacklist) IsBannedId(id kadid.Id) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.ids[id]
	return ok
}

// IsBannedHost reports whether host is blacklisted.
func (b *Blacklist) IsBannedHost(host string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.hosts[host]
	return ok
}
