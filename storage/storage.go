// Package storage defines the DataStorage contract that every storage
// backend (in-memory or relational) implements: put/get/remove for values
// and peer announcements, pagination, and the shared entry envelope that
// carries lifecycle timestamps (spec §3/§4.9–§4.11).
package storage

import (
	"time"

	"github.com/bosonnetwork/godht/identity"
	"github.com/bosonnetwork/godht/kadid"
)

// ValueEntry is a stored Value augmented with lifecycle timestamps
// (spec §3's Storage entry). OwnsPrivateKey records whether the put that
// created or last replaced this entry was made by the holder of the
// value's private key, so a later put from an observed-only copy can be
// silently rejected (spec §4.9 step 5).
type ValueEntry struct {
	Value          *identity.Value
	Persistent     bool
	OwnsPrivateKey bool
	Created        time.Time
	Updated        time.Time
	LastAnnounced  time.Time
}

// PeerEntry is a stored PeerInfo augmented with lifecycle timestamps.
type PeerEntry struct {
	Peer           *identity.PeerInfo
	Persistent     bool
	OwnsPrivateKey bool
	Created        time.Time
	Updated        time.Time
	LastAnnounced  time.Time
}

// expiryTime is the timestamp expiry is measured against: lastAnnounced if
// present, else updated (spec §3).
func (e *ValueEntry) expiryTime() time.Time {
	if !e.LastAnnounced.IsZero() {
		return e.LastAnnounced
	}
	return e.Updated
}

func (e *PeerEntry) expiryTime() time.Time {
	if !e.LastAnnounced.IsZero() {
		return e.LastAnnounced
	}
	return e.Updated
}

// Expired reports whether a non-persistent entry is past expiration as of
// now; persistent entries never expire (spec §4.11).
func (e *ValueEntry) Expired(now time.Time, valueExpiration time.Duration) bool {
	if e.Persistent {
		return false
	}
	return now.Sub(e.expiryTime()) >= valueExpiration
}

// Expired reports whether a non-persistent peer entry is past expiration.
func (e *PeerEntry) Expired(now time.Time, peerExpiration time.Duration) bool {
	if e.Persistent {
		return false
	}
	return now.Sub(e.expiryTime()) >= peerExpiration
}

// DataStorage is the contract every storage backend implements (spec
// §4.9/§4.10). Implementations: memstore (in-memory) and sqlstore
// (relational, SQLite/PostgreSQL).
type DataStorage interface {
	// PutValue applies the put algorithm of spec §4.9 steps 1-6 and returns
	// the value actually stored (which may be the pre-existing one, per
	// step 5's private-key-owner preservation rule). ownsPrivateKey marks
	// whether this put is made by the value's own key holder.
	PutValue(value *identity.Value, persistent, ownsPrivateKey bool, expectedSequenceNumber *uint32) (*identity.Value, error)
	GetValue(id kadid.Id) (*ValueEntry, bool, error)
	UpdateValueAnnouncedTime(id kadid.Id, now time.Time) (time.Time, error)
	RemoveValue(id kadid.Id) (bool, error)
	GetValues(offset, limit int) ([]*ValueEntry, error)
	GetValuesFiltered(persistent bool, announcedBefore time.Time, offset, limit int) ([]*ValueEntry, error)

	// PutPeer mirrors PutValue's algorithm, keyed by (id, fingerprint).
	PutPeer(peer *identity.PeerInfo, persistent, ownsPrivateKey bool, expectedSequenceNumber *uint32) (*identity.PeerInfo, error)
	PutPeers(peers []*identity.PeerInfo, persistent, ownsPrivateKey bool) ([]*identity.PeerInfo, error)
	GetPeer(id kadid.Id, fingerprint identity.Fingerprint) (*PeerEntry, bool, error)
	GetPeers(id kadid.Id) ([]*PeerEntry, error)
	GetPeersExpected(id kadid.Id, expectedSequenceNumber uint32, limit int) ([]*PeerEntry, error)
	GetPeersFiltered(persistent bool, announcedBefore time.Time, offset, limit int) ([]*PeerEntry, error)
	RemovePeer(id kadid.Id, fingerprint identity.Fingerprint) (bool, error)
	RemovePeers(id kadid.Id) (int, error)
	UpdatePeerAnnouncedTime(id kadid.Id, fingerprint identity.Fingerprint, now time.Time) (time.Time, error)

	// Purge deletes expired non-persistent values, then expired
	// non-persistent peers, in one transaction (spec §4.11). Returns the
	// count of values and peers removed.
	Purge(now time.Time, valueExpiration, peerExpiration time.Duration) (int, int, error)

	Close() error
}
