// Package dhtnode defines the Node façade spec §4.14 describes as a
// contract only: the surface a consumer embeds the DHT core through.
// Everything here wires together the already-implemented identity, rpc,
// and storage packages; the Kademlia lookup/routing-table state machine
// behind findNode/findValue/findPeer is explicitly out of scope (spec.md
// §1 Non-goals) and is represented here as a pluggable LookupDriver that
// callers supply.
package dhtnode

import (
	"context"
	"time"

	"github.com/bosonnetwork/godht/dhterrors"
	"github.com/bosonnetwork/godht/identity"
	"github.com/bosonnetwork/godht/kadid"
	"github.com/bosonnetwork/godht/rpc"
	"github.com/bosonnetwork/godht/storage"
)

// LookupOption directs the out-of-scope lookup driver on when an
// iterative network lookup may stop (spec §4.14).
type LookupOption int

const (
	// LookupLocal never touches the network: the local mirror only.
	LookupLocal LookupOption = iota
	// LookupArbitrary checks locally first, then returns at the first
	// network hit.
	LookupArbitrary
	// LookupOptimistic returns at the first network hit, skipping the
	// local check.
	LookupOptimistic
	// LookupConservative runs the lookup to full iterative convergence.
	LookupConservative
)

func (o LookupOption) String() string {
	switch o {
	case LookupLocal:
		return "LOCAL"
	case LookupArbitrary:
		return "ARBITRARY"
	case LookupOptimistic:
		return "OPTIMISTIC"
	case LookupConservative:
		return "CONSERVATIVE"
	default:
		return "UNKNOWN"
	}
}

// LookupDriver performs the network-facing half of a lookup: walking the
// routing table, issuing RPCs, and converging per LookupOption. This
// module implements none of it (spec.md Non-goals); callers supply their
// own driver, or leave Config.Driver nil for a storage-mirror-only node.
type LookupDriver interface {
	FindNode(ctx context.Context, target kadid.Id, option LookupOption) ([]*identity.PeerInfo, error)
	FindValue(ctx context.Context, id kadid.Id, expectedSeq *uint32, option LookupOption) (*identity.Value, error)
	FindPeer(ctx context.Context, id kadid.Id, expectedSeq *uint32, expectedCount int, option LookupOption) ([]*identity.PeerInfo, error)
	StoreValue(ctx context.Context, value *identity.Value, expectedSeq *uint32, persistent bool) error
	AnnouncePeer(ctx context.Context, peer *identity.PeerInfo, expectedSeq *uint32, persistent bool) error
}

// Node is the consumer-facing façade: local identity, storage, and
// transport wired together behind the operations spec §4.14 names.
type Node struct {
	id      identity.Identity
	server  *rpc.RpcServer
	storage storage.DataStorage
	driver  LookupDriver
}

// Config gathers the already-built components a Node wires together.
// Driver may be nil; bootstrap peers are not part of Config but are passed
// to Bootstrap, which hands them to the driver.
type Config struct {
	Identity identity.Identity
	Server   *rpc.RpcServer
	Storage  storage.DataStorage
	Driver   LookupDriver
}

// New builds a Node from already-constructed components. It does not
// start the server or any background loop; call Start for that.
func New(cfg Config) (*Node, error) {
	if cfg.Identity == nil || cfg.Server == nil || cfg.Storage == nil {
		return nil, dhterrors.New(dhterrors.KindProtocolError, "dhtnode: identity, server, and storage are required")
	}
	return &Node{id: cfg.Identity, server: cfg.Server, storage: cfg.Storage, driver: cfg.Driver}, nil
}

// Id returns the node's own identifier.
func (n *Node) Id() kadid.Id { return n.id.Id() }

// Start begins serving RPC traffic. It blocks until Stop closes the
// server's socket, mirroring RpcServer.Serve's loop-until-closed contract.
func (n *Node) Start() error {
	n.server.Serve()
	return nil
}

// Stop closes the RPC socket and cancels any pending calls.
func (n *Node) Stop() error {
	return n.server.Close()
}

// Bootstrap hands the initial peer set to the lookup driver, if one is
// configured; a Node with no driver (local-mirror-only use) treats this
// as a no-op.
func (n *Node) Bootstrap(ctx context.Context, nodes []*identity.PeerInfo) error {
	if n.driver == nil {
		return nil
	}
	for _, p := range nodes {
		if err := n.driver.AnnouncePeer(ctx, p, nil, false); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) requireDriver() error {
	if n.driver == nil {
		return dhterrors.New(dhterrors.KindProtocolError, "dhtnode: no lookup driver configured for network operations")
	}
	return nil
}

// FindNode looks up peers announced under target (spec §4.14).
func (n *Node) FindNode(ctx context.Context, target kadid.Id, option LookupOption) ([]*identity.PeerInfo, error) {
	if option == LookupLocal {
		entries, err := n.storage.GetPeers(target)
		if err != nil {
			return nil, err
		}
		return peersOf(entries), nil
	}
	if err := n.requireDriver(); err != nil {
		return nil, err
	}
	return n.driver.FindNode(ctx, target, option)
}

// FindValue looks up the value stored at id (spec §4.14).
func (n *Node) FindValue(ctx context.Context, id kadid.Id, expectedSeq *uint32, option LookupOption) (*identity.Value, error) {
	if option == LookupLocal || option == LookupArbitrary {
		entry, ok, err := n.storage.GetValue(id)
		if err != nil {
			return nil, err
		}
		if ok {
			return entry.Value, nil
		}
		if option == LookupLocal {
			return nil, nil
		}
	}
	if err := n.requireDriver(); err != nil {
		return nil, err
	}
	return n.driver.FindValue(ctx, id, expectedSeq, option)
}

// StoreValue puts value into the local mirror and, if a driver is
// configured, propagates it over the network (spec §4.14).
func (n *Node) StoreValue(ctx context.Context, value *identity.Value, expectedSeq *uint32, persistent bool) error {
	if _, err := n.storage.PutValue(value, persistent, true, expectedSeq); err != nil {
		return err
	}
	if n.driver == nil {
		return nil
	}
	return n.driver.StoreValue(ctx, value, expectedSeq, persistent)
}

// FindPeer looks up peer announcements for id (spec §4.14).
func (n *Node) FindPeer(ctx context.Context, id kadid.Id, expectedSeq *uint32, expectedCount int, option LookupOption) ([]*identity.PeerInfo, error) {
	if option == LookupLocal {
		var entries []*storage.PeerEntry
		var err error
		if expectedSeq != nil {
			entries, err = n.storage.GetPeersExpected(id, *expectedSeq, expectedCount)
		} else {
			entries, err = n.storage.GetPeers(id)
		}
		if err != nil {
			return nil, err
		}
		return peersOf(entries), nil
	}
	if err := n.requireDriver(); err != nil {
		return nil, err
	}
	return n.driver.FindPeer(ctx, id, expectedSeq, expectedCount, option)
}

// AnnouncePeer puts peer into the local mirror and, if a driver is
// configured, propagates it over the network (spec §4.14).
func (n *Node) AnnouncePeer(ctx context.Context, peer *identity.PeerInfo, expectedSeq *uint32, persistent bool) error {
	if _, err := n.storage.PutPeer(peer, persistent, true, expectedSeq); err != nil {
		return err
	}
	if n.driver == nil {
		return nil
	}
	return n.driver.AnnouncePeer(ctx, peer, expectedSeq, persistent)
}

// GetValue is the local mirror read spec §4.14 names alongside the async
// network operations.
func (n *Node) GetValue(id kadid.Id) (*storage.ValueEntry, bool, error) {
	return n.storage.GetValue(id)
}

// GetPeers is the local mirror read for peer announcements under id.
func (n *Node) GetPeers(id kadid.Id) ([]*storage.PeerEntry, error) {
	return n.storage.GetPeers(id)
}

// RemoveValue removes id from the local mirror.
func (n *Node) RemoveValue(id kadid.Id) (bool, error) {
	return n.storage.RemoveValue(id)
}

// RemovePeer removes a single peer announcement from the local mirror.
func (n *Node) RemovePeer(id kadid.Id, fingerprint identity.Fingerprint) (bool, error) {
	return n.storage.RemovePeer(id, fingerprint)
}

// RemovePeers removes every announcement under id from the local mirror.
func (n *Node) RemovePeers(id kadid.Id) (int, error) {
	return n.storage.RemovePeers(id)
}

// Purge runs the local mirror's expiry sweep.
func (n *Node) Purge(valueExpiration, peerExpiration time.Duration) (int, int, error) {
	return n.storage.Purge(time.Now(), valueExpiration, peerExpiration)
}

func peersOf(entries []*storage.PeerEntry) []*identity.PeerInfo {
	out := make([]*identity.PeerInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Peer)
	}
	return out
}
