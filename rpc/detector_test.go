package rpc

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bosonnetwork/godht/kadid"
)

func TestSuspiciousNodeDetectorBansAfterThreshold(t *testing.T) {
	mock := clock.NewMock()
	d := NewSuspiciousNodeDetector(mock)

	for i := 0; i < suspiciousBanThreshold-1; i++ {
		d.ObserveMalformedFrame("1.2.3.4")
	}
	if d.IsBanned("1.2.3.4") {
		t.Fatalf("should not be banned before reaching the threshold")
	}
	d.ObserveMalformedFrame("1.2.3.4")
	if !d.IsBanned("1.2.3.4") {
		t.Fatalf("expected host to be auto-banned at the threshold")
	}
}

func TestSuspiciousNodeDetectorWindowExpires(t *testing.T) {
	mock := clock.NewMock()
	d := NewSuspiciousNodeDetector(mock)

	for i := 0; i < suspiciousBanThreshold-1; i++ {
		d.ObserveSourceInconsistent("host")
	}
	mock.Add(suspiciousWindow + time.Second)
	d.ObserveSourceInconsistent("host")
	if d.IsBanned("host") {
		t.Fatalf("old observations should have fallen out of the sliding window")
	}
}

func TestSuspiciousNodeDetectorIsolatesHosts(t *testing.T) {
	mock := clock.NewMock()
	d := NewSuspiciousNodeDetector(mock)
	for i := 0; i < suspiciousBanThreshold; i++ {
		d.ObserveIdAddressInconsistent("a")
	}
	if d.IsBanned("b") {
		t.Fatalf("unrelated host must not be affected")
	}
}

func TestBlacklistIdAndHost(t *testing.T) {
	bl := NewBlacklist()
	id := kadid.Of(bytesOfRPC(3))
	if bl.IsBannedId(id) || bl.IsBannedHost("1.1.1.1") {
		t.Fatalf("empty blacklist should ban nothing")
	}
	bl.BanId(id)
	bl.BanHost("1.1.1.1")
	if !bl.IsBannedId(id) || !bl.IsBannedHost("1.1.1.1") {
		t.Fatalf("expected both bans to take effect")
	}
}
