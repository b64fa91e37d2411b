package rpc

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bosonnetwork/godht/dhterrors"
	"github.com/bosonnetwork/godht/identity"
	"github.com/bosonnetwork/godht/kadid"
	"github.com/bosonnetwork/godht/metrics"
	"github.com/bosonnetwork/godht/xcrypto"
)

// recvBufferSize matches spec §4.5's 1MiB socket receive buffer.
const recvBufferSize = 1 << 20

// maxDatagramSize is large enough for any single UDP packet this protocol
// sends; frames are never fragmented across multiple packets.
const maxDatagramSize = 1500

// maxPendingCalls bounds the number of calls awaiting a response at once
// (spec §4.5).
const maxPendingCalls = 1024

const (
	reachabilityCheckInterval = 5 * time.Second
	reachabilityTimeout       = 60 * time.Second
)

// Handler processes one decrypted, authenticated inbound Message and
// produces the response to send back, if any. A nil response means no
// reply is sent. Only request messages reach the Handler; responses and
// errors are routed to their pending RpcCall instead.
type Handler func(senderId kadid.Id, addr *net.UDPAddr, msg *Message) *Message

// RpcServer owns one UDP socket and the pending-call bookkeeping around it
// (spec §4.5). It is transport-agnostic about method semantics; callers
// supply a Handler for request messages, while response messages are
// routed to their matching RpcCall by txid.
type RpcServer struct {
	id    identity.Identity
	conn  *net.UDPConn
	log   *logrus.Entry
	clock clockLike

	throttle  Throttle
	detector  *SuspiciousNodeDetector
	blacklist *Blacklist
	sampler   *TimeoutSampler

	handler Handler
	metrics *metrics.Collector

	mu       sync.Mutex
	pending  map[uint32]*RpcCall
	contexts map[kadid.Id]*identity.CryptoContext

	receivedPackets atomic.Uint64 // count of successfully authenticated inbound packets
	reachable       atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

// clockLike is the minimal time source RpcServer needs; it is satisfied by
// both the real wall clock and github.com/benbjohnson/clock's fake in
// tests.
type clockLike interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ServerOption configures optional RpcServer behavior.
type ServerOption func(*RpcServer)

// WithThrottle overrides the default enabled TokenBucketThrottle.
func WithThrottle(t Throttle) ServerOption {
	return func(s *RpcServer) { s.throttle = t }
}

// WithClock overrides the server's time source, for deterministic tests.
func WithClock(c clockLike) ServerOption {
	return func(s *RpcServer) { s.clock = c }
}

// WithMetrics attaches a Collector the server reports RPC activity to. A
// nil Collector (the default) disables all recording.
func WithMetrics(m *metrics.Collector) ServerOption {
	return func(s *RpcServer) { s.metrics = m }
}

// NewRpcServer binds a UDP socket at laddr and wires throttling,
// suspicious-node detection, and the timeout sampler per spec §4.5/§4.7/
// §4.8. handler is invoked for every inbound request-type Message once its
// frame has decrypted and authenticated successfully.
func NewRpcServer(id identity.Identity, laddr *net.UDPAddr, handler Handler, log *logrus.Entry, opts ...ServerOption) (*RpcServer, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindTransportError, err, "listen udp")
	}
	if err := conn.SetReadBuffer(recvBufferSize); err != nil {
		log.WithError(err).Warn("failed to set UDP read buffer size")
	}
	if err := conn.SetWriteBuffer(recvBufferSize); err != nil {
		log.WithError(err).Warn("failed to set UDP write buffer size")
	}

	s := &RpcServer{
		id:        id,
		conn:      conn,
		log:       log,
		clock:     realClock{},
		throttle:  NewTokenBucketThrottle(nil),
		detector:  NewSuspiciousNodeDetector(nil),
		blacklist: NewBlacklist(),
		sampler:   NewTimeoutSampler(),
		handler:   handler,
		pending:   make(map[uint32]*RpcCall),
		contexts:  make(map[kadid.Id]*identity.CryptoContext),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reachable.Store(true)
	go s.watchReachability()
	return s, nil
}

// LocalAddr returns the bound UDP address.
func (s *RpcServer) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Reachable reports whether the node has seen inbound packets recently
// enough to believe its UDP bind works (spec §4.5).
func (s *RpcServer) Reachable() bool {
	return s.reachable.Load()
}

// watchReachability polls every reachabilityCheckInterval for whether
// receivedPackets has advanced; after reachabilityTimeout with no
// progress it marks the server unreachable and resets the timeout
// sampler, since RTT samples gathered before a network outage are no
// longer representative once the path recovers.
func (s *RpcServer) watchReachability() {
	ticker := time.NewTicker(reachabilityCheckInterval)
	defer ticker.Stop()

	lastCount := s.receivedPackets.Load()
	lastAdvance := s.clock.Now()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			count := s.receivedPackets.Load()
			now := s.clock.Now()
			if count != lastCount {
				lastCount = count
				lastAdvance = now
				if !s.reachable.Swap(true) && s.metrics != nil {
					s.metrics.SetReachable(true)
				}
				continue
			}
			if now.Sub(lastAdvance) >= reachabilityTimeout && s.reachable.Load() {
				s.reachable.Store(false)
				s.sampler.Reset()
				if s.metrics != nil {
					s.metrics.SetReachable(false)
				}
			}
		}
	}
}

func (s *RpcServer) cryptoContextFor(peer kadid.Id) (*identity.CryptoContext, error) {
	s.mu.Lock()
	cc, ok := s.contexts[peer]
	s.mu.Unlock()
	if ok {
		return cc, nil
	}
	cc, err := s.id.CreateCryptoContext(peer)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.contexts[peer] = cc
	s.mu.Unlock()
	return cc, nil
}

// Serve runs the read loop until Close is called. It is meant to be run in
// its own goroutine.
func (s *RpcServer) Serve() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				s.log.WithError(err).Debug("udp read error")
				continue
			}
		}
		raw := append([]byte(nil), buf[:n]...)
		go s.handlePacket(raw, addr)
	}
}

func (s *RpcServer) handlePacket(raw []byte, addr *net.UDPAddr) {
	host := addr.IP.String()
	if delay := s.throttle.IncrementAndEstimateDelay(host); delay > 0 {
		if s.metrics != nil {
			s.metrics.Throttled()
		}
		return
	}

	if s.blacklist.IsBannedHost(host) || s.detector.IsBanned(host) {
		if s.metrics != nil {
			s.metrics.BlacklistHit()
		}
		return
	}

	frame, err := DecodeFrame(raw)
	if err != nil {
		s.detector.ObserveMalformedFrame(host)
		return
	}
	if s.blacklist.IsBannedId(frame.SenderId) {
		if s.metrics != nil {
			s.metrics.BlacklistHit()
		}
		return
	}

	cc, err := s.cryptoContextFor(frame.SenderId)
	if err != nil {
		s.log.WithError(err).Debug("failed to establish crypto context")
		return
	}
	plain, err := cc.Decrypt(append(frame.Nonce[:], frame.Sealed...))
	if err != nil {
		s.detector.ObserveMalformedFrame(host)
		return
	}

	msg, err := DecodeMessage(plain)
	if err != nil {
		s.detector.ObserveMalformedFrame(host)
		return
	}

	now := s.clock.Now()
	s.receivedPackets.Add(1)
	if !s.reachable.Swap(true) && s.metrics != nil {
		s.metrics.SetReachable(true)
	}
	if s.metrics != nil {
		s.metrics.RPCReceived()
	}

	if msg.Type == TypeRequest {
		if s.handler == nil {
			return
		}
		resp := s.handler(frame.SenderId, addr, msg)
		if resp != nil {
			_ = s.send(frame.SenderId, addr, resp)
		}
		return
	}

	s.mu.Lock()
	call, ok := s.pending[msg.Txid]
	s.mu.Unlock()
	if !ok {
		return
	}

	// A reply whose sender id differs from the call's target leaves the
	// call pending, with its state unchanged, rather than resolving it —
	// a spoofed-source reply must not be able to answer on a legitimate
	// peer's behalf.
	if call.TargetId != frame.SenderId {
		s.detector.ObserveSourceInconsistent(host)
		return
	}

	// Method mismatch fails the call outright regardless of state (spec
	// §4.5/§4.6: "method mismatch | * -> ERROR | cause = ProtocolError"),
	// so it is checked before dispatching on msg.Type.
	if msg.Method != call.Request.Method {
		s.mu.Lock()
		delete(s.pending, msg.Txid)
		s.mu.Unlock()
		call.Fail(dhterrors.New(dhterrors.KindProtocolError, "response method does not match request method"))
		if s.metrics != nil {
			s.metrics.RPCErrored()
		}
		return
	}

	s.mu.Lock()
	delete(s.pending, msg.Txid)
	s.mu.Unlock()

	if rtt := now.Sub(call.sentAt); rtt > 0 {
		s.sampler.Sample(rtt)
	}

	switch msg.Type {
	case TypeError:
		call.Fail(dhterrors.New(dhterrors.KindRemoteError, "peer returned an error response"))
		if s.metrics != nil {
			s.metrics.RPCErrored()
		}
	default:
		call.Respond(msg, now)
	}
}

func (s *RpcServer) send(to kadid.Id, addr *net.UDPAddr, msg *Message) error {
	cc, err := s.cryptoContextFor(to)
	if err != nil {
		return err
	}
	sealed := cc.Encrypt(msg.Encode())
	// Encrypt returns nonce ∥ ciphertext; re-split so EncodeFrame can lay
	// out senderId ∥ nonce ∥ sealed the way DecodeFrame expects.
	var nonce xcrypto.Nonce
	copy(nonce[:], sealed[:xcrypto.NonceSize])
	frame := EncodeFrame(s.id.Id(), nonce, sealed[xcrypto.NonceSize:])
	_, err = s.conn.WriteToUDP(frame, addr)
	return err
}

// nextTxid is a process-wide counter for outbound call transaction ids.
var nextTxid uint32

func allocTxid() uint32 {
	return atomic.AddUint32(&nextTxid, 1)
}

// Call dispatches a request and returns the RpcCall tracking its
// resolution. Once the request is sent, Call clears the inbound throttle
// bucket for the target host and starts a watcher goroutine that drives
// the stall and hard-timeout transitions from the server's TimeoutSampler.
func (s *RpcServer) Call(targetId kadid.Id, addr *net.UDPAddr, method Method, body []byte, version uint32, listener CallListener) (*RpcCall, error) {
	s.mu.Lock()
	if len(s.pending) >= maxPendingCalls {
		s.mu.Unlock()
		return nil, dhterrors.New(dhterrors.KindTransportError, "too many pending calls")
	}
	s.mu.Unlock()

	txid := allocTxid()
	msg := &Message{Method: method, Type: TypeRequest, Txid: txid, Version: version, Body: body}
	call := NewRpcCall(targetId, addr, msg, listener)

	s.mu.Lock()
	s.pending[txid] = call
	s.mu.Unlock()

	if err := s.send(targetId, addr, msg); err != nil {
		s.mu.Lock()
		delete(s.pending, txid)
		s.mu.Unlock()
		call.Fail(err)
		return call, err
	}
	call.Sent(s.clock.Now())
	s.throttle.Reset(addr.IP.String())
	if s.metrics != nil {
		s.metrics.RPCSent()
	}

	go s.watch(call)
	return call, nil
}

// watch schedules the stall and hard-timeout transitions for call using
// the server's adaptive TimeoutSampler.
func (s *RpcServer) watch(call *RpcCall) {
	stallAfter := s.sampler.StallTimeout()
	if s.metrics != nil {
		s.metrics.SetStallTimeoutMs(float64(stallAfter.Milliseconds()))
	}
	timer := time.NewTimer(stallAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		call.Stall()
	case <-s.closed:
		call.Cancel()
		return
	}

	hardTimer := time.NewTimer(maxStallTimeout - stallAfter)
	defer hardTimer.Stop()
	select {
	case <-hardTimer.C:
		if call.State() == CallStalled {
			call.Timeout(s.clock.Now())
			s.mu.Lock()
			delete(s.pending, call.Request.Txid)
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.RPCTimedOut()
			}
		}
	case <-s.closed:
		call.Cancel()
	}
}

// Close stops the read loop, cancels outstanding calls, and releases the
// socket.
func (s *RpcServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
		s.mu.Lock()
		pending := make([]*RpcCall, 0, len(s.pending))
		for _, c := range s.pending {
			pending = append(pending, c)
		}
		s.pending = make(map[uint32]*RpcCall)
		s.mu.Unlock()
		for _, c := range pending {
			c.Cancel()
		}
	})
	return err
}
