package rpc

import (
	"net"
	"sync"
	"time"

	"github.com/bosonnetwork/godht/kadid"
)

// CallState enumerates the lifecycle of a single outstanding RPC call
// (spec §4.6): UNSENT -> SENT -> {STALLED -> TIMEOUT | RESPONDED | ERROR |
// CANCELED}. STALLED is a sub-state of SENT reached once the adaptive
// timeout elapses without a response; it may still resolve to RESPONDED if
// the answer arrives late but before the hard timeout.
type CallState int

const (
	CallUnsent CallState = iota
	CallSent
	CallStalled
	CallTimeout
	CallResponded
	CallError
	CallCanceled
)

func (s CallState) String() string {
	switch s {
	case CallUnsent:
		return "UNSENT"
	case CallSent:
		return "SENT"
	case CallStalled:
		return "STALLED"
	case CallTimeout:
		return "TIMEOUT"
	case CallResponded:
		return "RESPONDED"
	case CallError:
		return "ERROR"
	case CallCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

func (s CallState) terminal() bool {
	switch s {
	case CallTimeout, CallResponded, CallError, CallCanceled:
		return true
	default:
		return false
	}
}

// CallListener receives callbacks for a single RpcCall's lifecycle. Any
// field left nil is simply not invoked.
type CallListener struct {
	OnStateChange func(call *RpcCall, previous CallState)
	OnResponse    func(call *RpcCall, response *Message)
	OnStall       func(call *RpcCall)
	OnTimeout     func(call *RpcCall)
}

// RpcCall tracks one outstanding request and its eventual resolution.
type RpcCall struct {
	mu sync.Mutex

	TargetId kadid.Id
	Addr     *net.UDPAddr
	Request  *Message

	state     CallState
	response  *Message
	callErr   error
	listener  CallListener
	sentAt    time.Time
	respondAt time.Time
}

// NewRpcCall builds a call in the UNSENT state.
func NewRpcCall(targetId kadid.Id, addr *net.UDPAddr, request *Message, listener CallListener) *RpcCall {
	return &RpcCall{
		TargetId: targetId,
		Addr:     addr,
		Request:  request,
		state:    CallUnsent,
		listener: listener,
	}
}

// State returns the call's current state.
func (c *RpcCall) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RTT reports the elapsed time between Sent and the terminal response, or
// zero if the call hasn't resolved.
func (c *RpcCall) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.respondAt.IsZero() || c.sentAt.IsZero() {
		return 0
	}
	return c.respondAt.Sub(c.sentAt)
}

func (c *RpcCall) transition(next CallState) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	listener := c.listener
	c.mu.Unlock()

	if listener.OnStateChange != nil {
		listener.OnStateChange(c, prev)
	}
}

// Sent marks the call as dispatched on the wire.
func (c *RpcCall) Sent(at time.Time) {
	c.mu.Lock()
	if c.state != CallUnsent {
		c.mu.Unlock()
		return
	}
	c.sentAt = at
	c.mu.Unlock()
	c.transition(CallSent)
}

// Stall marks a SENT call as having exceeded the adaptive stall timeout
// without a response yet; it may still resolve normally afterward.
func (c *RpcCall) Stall() {
	c.mu.Lock()
	if c.state != CallSent {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.transition(CallStalled)

	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()
	if listener.OnStall != nil {
		listener.OnStall(c)
	}
}

// Timeout marks a SENT or STALLED call as having exceeded the hard timeout
// with no response.
func (c *RpcCall) Timeout(at time.Time) {
	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		return
	}
	c.respondAt = at
	c.mu.Unlock()
	c.transition(CallTimeout)

	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()
	if listener.OnTimeout != nil {
		listener.OnTimeout(c)
	}
}

// Respond resolves the call successfully with response.
func (c *RpcCall) Respond(response *Message, at time.Time) {
	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		return
	}
	c.response = response
	c.respondAt = at
	c.mu.Unlock()
	c.transition(CallResponded)

	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()
	if listener.OnResponse != nil {
		listener.OnResponse(c, response)
	}
}

// Fail resolves the call with a transport or protocol error.
func (c *RpcCall) Fail(err error) {
	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		return
	}
	c.callErr = err
	c.mu.Unlock()
	c.transition(CallError)
}

// Cancel aborts a call that is no longer needed, e.g. the server shutting
// down with requests still outstanding.
func (c *RpcCall) Cancel() {
	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.transition(CallCanceled)
}

// Response returns the resolved response, if any.
func (c *RpcCall) Response() *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response
}

// Err returns the resolution error, if the call ended in CallError.
func (c *RpcCall) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callErr
}
