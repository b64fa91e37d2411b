// Package memstore implements storage.DataStorage entirely in memory:
// mutex-guarded maps as the authoritative index (spec §4.12), grounded on
// the teacher's diskLRU mutex-and-map pattern in core/storage.go, plus a
// bounded recently-touched cache used only for operational visibility.
package memstore

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bosonnetwork/godht/dhterrors"
	"github.com/bosonnetwork/godht/identity"
	"github.com/bosonnetwork/godht/kadid"
	"github.com/bosonnetwork/godht/metrics"
	"github.com/bosonnetwork/godht/storage"
)

// recentTouchCapacity bounds the recently-touched key cache; it is a
// diagnostic surface only, never consulted for correctness, so eviction
// under load is harmless.
const recentTouchCapacity = 4096

// defaultExpiration matches spec §4.11's default value/peer expiration.
const defaultExpiration = 2 * time.Hour

type peerKey struct {
	id          kadid.Id
	fingerprint identity.Fingerprint
}

var _ storage.DataStorage = (*Store)(nil)

// Store is an in-memory DataStorage. All methods are safe for concurrent
// use.
type Store struct {
	mu     sync.RWMutex
	values map[kadid.Id]*storage.ValueEntry
	peers  map[peerKey]*storage.PeerEntry

	valueExpiration time.Duration
	peerExpiration  time.Duration

	recentTouch *lru.Cache[string, time.Time]

	metrics *metrics.Collector
}

// SetMetrics attaches a Collector the store reports put/get/purge activity
// to. A nil Collector (the default) disables all recording.
func (s *Store) SetMetrics(m *metrics.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// New builds an empty in-memory store. valueExpiration/peerExpiration of
// zero fall back to the spec default of 2 hours; GetValue/GetPeer use
// these to decide whether a non-persistent row is still live, while Purge
// accepts its own explicit durations so callers can reconfigure without
// rebuilding the store.
func New(valueExpiration, peerExpiration time.Duration) *Store {
	if valueExpiration <= 0 {
		valueExpiration = defaultExpiration
	}
	if peerExpiration <= 0 {
		peerExpiration = defaultExpiration
	}
	touch, err := lru.New[string, time.Time](recentTouchCapacity)
	if err != nil {
		panic(err) // fixed positive capacity, cannot fail
	}
	return &Store{
		values:          make(map[kadid.Id]*storage.ValueEntry),
		peers:           make(map[peerKey]*storage.PeerEntry),
		valueExpiration: valueExpiration,
		peerExpiration:  peerExpiration,
		recentTouch:     touch,
	}
}

// RecentlyTouchedCount reports how many distinct keys have been written
// recently, bounded by recentTouchCapacity — an operational metric, not a
// correctness-bearing index.
func (s *Store) RecentlyTouchedCount() int {
	return s.recentTouch.Len()
}

func (s *Store) touch(key string, now time.Time) {
	s.recentTouch.Add(key, now)
}

func (s *Store) PutValue(value *identity.Value, persistent, ownsPrivateKey bool, expectedSequenceNumber *uint32) (*identity.Value, error) {
	id := value.Id()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.values[id]
	storeNew, err := storage.DecidePutValue(existing, !value.IsImmutable(), value.SequenceNumber, ownsPrivateKey, expectedSequenceNumber)
	if err != nil {
		return nil, err
	}
	if !storeNew {
		return existing.Value, nil
	}

	entry := &storage.ValueEntry{
		Value:          value,
		Persistent:     persistent,
		OwnsPrivateKey: ownsPrivateKey,
		Updated:        now,
	}
	if existing != nil {
		entry.Created = existing.Created
		entry.LastAnnounced = existing.LastAnnounced
	} else {
		entry.Created = now
	}
	s.values[id] = entry
	s.touch(id.String(), now)
	if s.metrics != nil {
		s.metrics.StoragePut("value")
	}
	return value, nil
}

func (s *Store) GetValue(id kadid.Id) (*storage.ValueEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.values[id]
	if !ok || entry.Expired(time.Now(), s.valueExpiration) {
		if s.metrics != nil {
			s.metrics.StorageGet("value", false)
		}
		return nil, false, nil
	}
	if s.metrics != nil {
		s.metrics.StorageGet("value", true)
	}
	return entry, true, nil
}

func (s *Store) UpdateValueAnnouncedTime(id kadid.Id, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.values[id]
	if !ok {
		return time.Time{}, nil
	}
	entry.Updated = now
	entry.LastAnnounced = now
	s.touch(id.String(), now)
	return now, nil
}

func (s *Store) RemoveValue(id kadid.Id) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[id]; !ok {
		return false, nil
	}
	delete(s.values, id)
	return true, nil
}

func (s *Store) GetValues(offset, limit int) ([]*storage.ValueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*storage.ValueEntry, 0, len(s.values))
	for _, e := range s.values {
		all = append(all, e)
	}
	sortValueEntries(all)
	return paginateValues(all, offset, limit), nil
}

func (s *Store) GetValuesFiltered(persistent bool, announcedBefore time.Time, offset, limit int) ([]*storage.ValueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filtered := make([]*storage.ValueEntry, 0, len(s.values))
	for _, e := range s.values {
		if e.Persistent != persistent {
			continue
		}
		if e.Updated.After(announcedBefore) {
			continue
		}
		filtered = append(filtered, e)
	}
	sortValueEntries(filtered)
	return paginateValues(filtered, offset, limit), nil
}

func sortValueEntries(entries []*storage.ValueEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Updated.Equal(entries[j].Updated) {
			return entries[i].Updated.After(entries[j].Updated)
		}
		return entries[i].Value.Id().Compare(entries[j].Value.Id()) < 0
	})
}

func paginateValues(entries []*storage.ValueEntry, offset, limit int) []*storage.ValueEntry {
	if offset >= len(entries) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end]
}

func (s *Store) PutPeer(peer *identity.PeerInfo, persistent, ownsPrivateKey bool, expectedSequenceNumber *uint32) (*identity.PeerInfo, error) {
	key := peerKey{id: peer.PeerId, fingerprint: peer.Fingerprint()}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.peers[key]
	storeNew, err := storage.DecidePutPeer(existing, peer.SequenceNumber, ownsPrivateKey, expectedSequenceNumber)
	if err != nil {
		return nil, err
	}
	if !storeNew {
		return existing.Peer, nil
	}

	entry := &storage.PeerEntry{
		Peer:           peer,
		Persistent:     persistent,
		OwnsPrivateKey: ownsPrivateKey,
		Updated:        now,
	}
	if existing != nil {
		entry.Created = existing.Created
		entry.LastAnnounced = existing.LastAnnounced
	} else {
		entry.Created = now
	}
	s.peers[key] = entry
	s.touch(peer.PeerId.String(), now)
	if s.metrics != nil {
		s.metrics.StoragePut("peer")
	}
	return peer, nil
}

func (s *Store) PutPeers(peers []*identity.PeerInfo, persistent, ownsPrivateKey bool) ([]*identity.PeerInfo, error) {
	out := make([]*identity.PeerInfo, 0, len(peers))
	for _, p := range peers {
		stored, err := s.PutPeer(p, persistent, ownsPrivateKey, nil)
		if err != nil {
			return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "put peer batch")
		}
		out = append(out, stored)
	}
	return out, nil
}

func (s *Store) GetPeer(id kadid.Id, fingerprint identity.Fingerprint) (*storage.PeerEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.peers[peerKey{id: id, fingerprint: fingerprint}]
	if !ok || entry.Expired(time.Now(), s.peerExpiration) {
		if s.metrics != nil {
			s.metrics.StorageGet("peer", false)
		}
		return nil, false, nil
	}
	if s.metrics != nil {
		s.metrics.StorageGet("peer", true)
	}
	return entry, ok, nil
}

func (s *Store) GetPeers(id kadid.Id) ([]*storage.PeerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.PeerEntry, 0)
	for k, e := range s.peers {
		if k.id == id {
			out = append(out, e)
		}
	}
	sortPeerEntries(out)
	return out, nil
}

func (s *Store) GetPeersExpected(id kadid.Id, expectedSequenceNumber uint32, limit int) ([]*storage.PeerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.PeerEntry, 0)
	for k, e := range s.peers {
		if k.id != id || e.Peer.SequenceNumber != expectedSequenceNumber {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sortPeerEntries(out)
	return out, nil
}

func (s *Store) GetPeersFiltered(persistent bool, announcedBefore time.Time, offset, limit int) ([]*storage.PeerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filtered := make([]*storage.PeerEntry, 0)
	for _, e := range s.peers {
		if e.Persistent != persistent || e.Updated.After(announcedBefore) {
			continue
		}
		filtered = append(filtered, e)
	}
	sortPeerEntries(filtered)
	return paginatePeers(filtered, offset, limit), nil
}

func sortPeerEntries(entries []*storage.PeerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Updated.Equal(entries[j].Updated) {
			return entries[i].Updated.After(entries[j].Updated)
		}
		return entries[i].Peer.Fingerprint() < entries[j].Peer.Fingerprint()
	})
}

func paginatePeers(entries []*storage.PeerEntry, offset, limit int) []*storage.PeerEntry {
	if offset >= len(entries) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end]
}

func (s *Store) RemovePeer(id kadid.Id, fingerprint identity.Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := peerKey{id: id, fingerprint: fingerprint}
	if _, ok := s.peers[key]; !ok {
		return false, nil
	}
	delete(s.peers, key)
	return true, nil
}

func (s *Store) RemovePeers(id kadid.Id) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for k := range s.peers {
		if k.id == id {
			delete(s.peers, k)
			count++
		}
	}
	return count, nil
}

func (s *Store) UpdatePeerAnnouncedTime(id kadid.Id, fingerprint identity.Fingerprint, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.peers[peerKey{id: id, fingerprint: fingerprint}]
	if !ok {
		return time.Time{}, nil
	}
	entry.Updated = now
	entry.LastAnnounced = now
	return now, nil
}

// Purge deletes expired non-persistent values, then expired non-persistent
// peers, both under the single store-wide lock (spec §4.11's "one
// transaction" for an in-memory backend is simply the critical section).
func (s *Store) Purge(now time.Time, valueExpiration, peerExpiration time.Duration) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removedValues := 0
	for id, e := range s.values {
		if e.Expired(now, valueExpiration) {
			delete(s.values, id)
			removedValues++
		}
	}

	removedPeers := 0
	for k, e := range s.peers {
		if e.Expired(now, peerExpiration) {
			delete(s.peers, k)
			removedPeers++
		}
	}

	if s.metrics != nil {
		s.metrics.RecordPurge(removedValues, removedPeers)
	}
	return removedValues, removedPeers, nil
}

func (s *Store) Close() error {
	return nil
}
