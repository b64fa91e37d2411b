package rpc

import (
	"testing"
	"time"

	"github.com/bosonnetwork/godht/kadid"
)

func newTestCall(t *testing.T, listener CallListener) *RpcCall {
	t.Helper()
	target := kadid.Of(bytesOfRPC(1))
	req := &Message{Method: MethodPing, Type: TypeRequest, Txid: 1}
	return NewRpcCall(target, nil, req, listener)
}

func TestRpcCallHappyPath(t *testing.T) {
	var states []CallState
	c := newTestCall(t, CallListener{
		OnStateChange: func(call *RpcCall, previous CallState) {
			states = append(states, call.State())
		},
	})
	if c.State() != CallUnsent {
		t.Fatalf("expected initial state UNSENT, got %v", c.State())
	}
	c.Sent(time.Now())
	resp := &Message{Method: MethodPing, Type: TypeResponse, Txid: 1}
	c.Respond(resp, time.Now())

	if c.State() != CallResponded {
		t.Fatalf("expected RESPONDED, got %v", c.State())
	}
	if c.Response() != resp {
		t.Fatalf("expected Response() to return the resolved message")
	}
	want := []CallState{CallSent, CallResponded}
	if len(states) != len(want) {
		t.Fatalf("expected state sequence %v, got %v", want, states)
	}
}

func TestRpcCallStallThenLateResponse(t *testing.T) {
	stalled := false
	c := newTestCall(t, CallListener{
		OnStall: func(call *RpcCall) { stalled = true },
	})
	c.Sent(time.Now())
	c.Stall()
	if !stalled {
		t.Fatalf("expected OnStall to fire")
	}
	if c.State() != CallStalled {
		t.Fatalf("expected STALLED, got %v", c.State())
	}

	resp := &Message{Txid: 1}
	c.Respond(resp, time.Now())
	if c.State() != CallResponded {
		t.Fatalf("a stalled call must still be able to resolve to RESPONDED, got %v", c.State())
	}
}

func TestRpcCallTimeoutIsTerminal(t *testing.T) {
	timedOut := false
	c := newTestCall(t, CallListener{
		OnTimeout: func(call *RpcCall) { timedOut = true },
	})
	c.Sent(time.Now())
	c.Stall()
	c.Timeout(time.Now())
	if !timedOut || c.State() != CallTimeout {
		t.Fatalf("expected TIMEOUT, got %v (callback fired=%v)", c.State(), timedOut)
	}

	// a response arriving after TIMEOUT must not resurrect the call
	c.Respond(&Message{Txid: 1}, time.Now())
	if c.State() != CallTimeout {
		t.Fatalf("terminal state must not be overwritten, got %v", c.State())
	}
}

func TestRpcCallCancel(t *testing.T) {
	c := newTestCall(t, CallListener{})
	c.Sent(time.Now())
	c.Cancel()
	if c.State() != CallCanceled {
		t.Fatalf("expected CANCELED, got %v", c.State())
	}
}

func TestRpcCallRTT(t *testing.T) {
	c := newTestCall(t, CallListener{})
	start := time.Now()
	c.Sent(start)
	end := start.Add(50 * time.Millisecond)
	c.Respond(&Message{Txid: 1}, end)
	if c.RTT() != 50*time.Millisecond {
		t.Fatalf("expected RTT of 50ms, got %v", c.RTT())
	}
}
