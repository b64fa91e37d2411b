package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecordsCounters(t *testing.T) {
	c := New(nil)

	c.RPCSent()
	c.RPCSent()
	c.RPCReceived()
	c.RPCTimedOut()
	c.RPCErrored()
	c.StoragePut("value")
	c.StorageGet("value", true)
	c.StorageGet("value", false)
	c.RecordPurge(3, 1)
	c.SetReachable(true)
	c.Throttled()
	c.BlacklistHit()
	c.SetStallTimeoutMs(250)

	if got := testutil.ToFloat64(c.rpcSent); got != 2 {
		t.Fatalf("expected rpcSent=2, got %v", got)
	}
	if got := testutil.ToFloat64(c.purgedValues); got != 3 {
		t.Fatalf("expected purgedValues=3, got %v", got)
	}
	if got := testutil.ToFloat64(c.purgedPeers); got != 1 {
		t.Fatalf("expected purgedPeers=1, got %v", got)
	}
	if got := testutil.ToFloat64(c.reachable); got != 1 {
		t.Fatalf("expected reachable=1, got %v", got)
	}
	if got := testutil.ToFloat64(c.rpcStallTime); got != 250 {
		t.Fatalf("expected rpcStallTime=250, got %v", got)
	}
}

func TestSetReachableTogglesGauge(t *testing.T) {
	c := New(nil)
	c.SetReachable(true)
	if got := testutil.ToFloat64(c.reachable); got != 1 {
		t.Fatalf("expected 1 after SetReachable(true), got %v", got)
	}
	c.SetReachable(false)
	if got := testutil.ToFloat64(c.reachable); got != 0 {
		t.Fatalf("expected 0 after SetReachable(false), got %v", got)
	}
}
