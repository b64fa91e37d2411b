package rpc

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bosonnetwork/godht/identity"
	"github.com/bosonnetwork/godht/kadid"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func TestRpcServerRequestResponseRoundTrip(t *testing.T) {
	serverId, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	clientId, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}

	laddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}

	echo := func(senderId kadid.Id, addr *net.UDPAddr, msg *Message) *Message {
		return &Message{Method: msg.Method, Type: TypeResponse, Txid: msg.Txid, Body: msg.Body}
	}

	server, err := NewRpcServer(serverId, laddr, echo, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	go server.Serve()

	client, err := NewRpcServer(clientId, laddr, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	go client.Serve()

	var wg sync.WaitGroup
	wg.Add(1)
	var gotResponse *Message
	call, err := client.Call(serverId.Id(), server.LocalAddr(), MethodPing, []byte("hi"), 1, CallListener{
		OnResponse: func(c *RpcCall, resp *Message) {
			gotResponse = resp
			wg.Done()
		},
		OnTimeout: func(c *RpcCall) { wg.Done() },
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for round trip, call state=%v", call.State())
	}

	if gotResponse == nil {
		t.Fatalf("expected a response, call ended in state %v", call.State())
	}
	if string(gotResponse.Body) != "hi" {
		t.Fatalf("expected echoed body, got %q", gotResponse.Body)
	}
}

func TestRpcServerReachableAfterTraffic(t *testing.T) {
	serverId, _ := identity.Generate()
	clientId, _ := identity.Generate()
	laddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}

	echo := func(senderId kadid.Id, addr *net.UDPAddr, msg *Message) *Message {
		return &Message{Method: msg.Method, Type: TypeResponse, Txid: msg.Txid}
	}
	server, err := NewRpcServer(serverId, laddr, echo, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	go server.Serve()

	client, err := NewRpcServer(clientId, laddr, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	go client.Serve()

	if !client.Reachable() {
		t.Fatalf("a freshly built server should be reachable")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	_, err = client.Call(serverId.Id(), server.LocalAddr(), MethodPing, nil, 1, CallListener{
		OnResponse: func(c *RpcCall, resp *Message) { wg.Done() },
		OnTimeout:  func(c *RpcCall) { wg.Done() },
	})
	if err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	if !client.Reachable() {
		t.Fatalf("expected the client to be reachable after receiving a response")
	}
}

func TestRpcServerMethodMismatchFailsCallWithProtocolError(t *testing.T) {
	serverId, _ := identity.Generate()
	clientId, _ := identity.Generate()
	laddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}

	wrongMethod := func(senderId kadid.Id, addr *net.UDPAddr, msg *Message) *Message {
		return &Message{Method: MethodFindNode, Type: TypeResponse, Txid: msg.Txid}
	}

	server, err := NewRpcServer(serverId, laddr, wrongMethod, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	go server.Serve()

	client, err := NewRpcServer(clientId, laddr, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	go client.Serve()

	var wg sync.WaitGroup
	wg.Add(1)
	call, err := client.Call(serverId.Id(), server.LocalAddr(), MethodPing, nil, 1, CallListener{
		OnStateChange: func(c *RpcCall, previous CallState) {
			if c.State().terminal() {
				wg.Done()
			}
		},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for call to resolve, state=%v", call.State())
	}

	if call.State() != CallError {
		t.Fatalf("expected CallError on method mismatch, got %v", call.State())
	}
	if call.Err() == nil {
		t.Fatalf("expected a recorded error on method mismatch")
	}
}

// TestRpcServerSourceIdMismatchLeavesCallPending simulates a reply whose
// embedded sender id does not match the call's target: per spec §4.6 this
// must not resolve or drop the pending call, so a legitimate retry can
// still land.
func TestRpcServerSourceIdMismatchLeavesCallPending(t *testing.T) {
	serverId, _ := identity.Generate()
	clientId, _ := identity.Generate()
	rogueId, _ := identity.Generate()
	laddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}

	gate := make(chan struct{})
	echo := func(senderId kadid.Id, addr *net.UDPAddr, msg *Message) *Message {
		<-gate
		return &Message{Method: msg.Method, Type: TypeResponse, Txid: msg.Txid, Body: msg.Body}
	}

	server, err := NewRpcServer(serverId, laddr, echo, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	go server.Serve()

	rogue, err := NewRpcServer(rogueId, laddr, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer rogue.Close()
	go rogue.Serve()

	client, err := NewRpcServer(clientId, laddr, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	go client.Serve()

	var resolved atomic.Bool
	call, err := client.Call(serverId.Id(), server.LocalAddr(), MethodPing, []byte("hi"), 1, CallListener{
		OnResponse: func(c *RpcCall, resp *Message) { resolved.Store(true) },
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	// Inject a reply carrying the rogue identity's sender id, addressed to
	// the client, reusing the pending call's txid and method.
	if err := rogue.send(clientId.Id(), client.LocalAddr(), &Message{
		Method: call.Request.Method, Type: TypeResponse, Txid: call.Request.Txid,
	}); err != nil {
		t.Fatalf("inject spoofed response: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if resolved.Load() {
		t.Fatalf("expected the spoofed-source reply not to resolve the call")
	}
	if call.State() != CallSent {
		t.Fatalf("expected the call to remain SENT after a source-id mismatch, got %v", call.State())
	}

	// The legitimate server's reply (from the correct id) must still be
	// able to resolve the same pending call afterward.
	close(gate)
	deadline := time.Now().Add(5 * time.Second)
	for !resolved.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !resolved.Load() {
		t.Fatalf("expected the legitimate reply to still resolve the call, state=%v", call.State())
	}
}
