package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bosonnetwork/godht/dhterrors"
	"github.com/bosonnetwork/godht/identity"
	"github.com/bosonnetwork/godht/kadid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := Open(context.Background(), db, "sqlite", "", "store_test", 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func TestImmutablePutGetRemove(t *testing.T) {
	s := openTestStore(t)
	v := identity.NewImmutableValue([]byte("hello"))
	if _, err := s.PutValue(v, true, true, nil); err != nil {
		t.Fatalf("PutValue: %v", err)
	}

	got, ok, err := s.GetValue(v.Id())
	if err != nil || !ok {
		t.Fatalf("expected GetValue to find the stored value, ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got.Value.Data, []byte("hello")) {
		t.Fatalf("unexpected data: %s", got.Value.Data)
	}

	removed, err := s.RemoveValue(v.Id())
	if err != nil || !removed {
		t.Fatalf("expected removal to succeed")
	}
	if _, ok, _ := s.GetValue(v.Id()); ok {
		t.Fatalf("expected value to be absent after removal")
	}
}

func TestMutableMonotonicityRejectsStaleRebuild(t *testing.T) {
	s := openTestStore(t)
	owner, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	v0, err := identity.NewSignedValue(owner, []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutValue(v0, true, true, nil); err != nil {
		t.Fatalf("put v0: %v", err)
	}

	v1, err := v0.Update(owner, []byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutValue(v1, true, true, nil); err != nil {
		t.Fatalf("put v1: %v", err)
	}

	v0Rebuilt, err := identity.NewSignedValue(owner, []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutValue(v0Rebuilt, true, true, nil); !dhterrors.Is(err, dhterrors.KindSequenceNotMonotonic) {
		t.Fatalf("expected SequenceNotMonotonic, got %v", err)
	}
}

func TestCompareAndSetViaExpectedSequenceNumber(t *testing.T) {
	s := openTestStore(t)
	owner, _ := identity.Generate()
	v0, err := identity.NewSignedValue(owner, []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	v1, err := v0.Update(owner, []byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutValue(v1, true, true, nil); err != nil {
		t.Fatal(err)
	}

	v2, err := v1.Update(owner, []byte("c"))
	if err != nil {
		t.Fatal(err)
	}

	wrongExpected := uint32(0)
	if _, err := s.PutValue(v2, true, true, &wrongExpected); !dhterrors.Is(err, dhterrors.KindSequenceNotExpected) {
		t.Fatalf("expected SequenceNotExpected, got %v", err)
	}

	rightExpected := uint32(1)
	stored, err := s.PutValue(v2, true, true, &rightExpected)
	if err != nil {
		t.Fatalf("expected put with correct expectation to succeed: %v", err)
	}
	if stored.SequenceNumber != 2 {
		t.Fatalf("expected stored sequence number 2, got %d", stored.SequenceNumber)
	}
}

func TestOwnedEntrySurvivesObservedOnlyPut(t *testing.T) {
	s := openTestStore(t)
	owner, _ := identity.Generate()
	v0, err := identity.NewSignedValue(owner, []byte("mine"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutValue(v0, true, true, nil); err != nil {
		t.Fatal(err)
	}

	observed, err := identity.NewSignedValue(owner, []byte("theirs"))
	if err != nil {
		t.Fatal(err)
	}
	stored, err := s.PutValue(observed, true, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(stored.Data, []byte("mine")) {
		t.Fatalf("expected the pre-existing owned entry to be kept")
	}
}

func TestPurgeRemovesExpiredNonPersistentEntries(t *testing.T) {
	s := openTestStore(t)
	v := identity.NewImmutableValue([]byte("ephemeral"))
	if _, err := s.PutValue(v, false, true, nil); err != nil {
		t.Fatal(err)
	}

	future := time.Now().Add(2 * time.Hour)
	removedValues, removedPeers, err := s.Purge(future, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removedValues != 1 || removedPeers != 0 {
		t.Fatalf("expected 1 value purged, got values=%d peers=%d", removedValues, removedPeers)
	}
	if _, ok, _ := s.GetValue(v.Id()); ok {
		t.Fatalf("expected purged value to be absent")
	}
}

func TestPeerFingerprintKeyingAllowsManyAnnouncementsPerId(t *testing.T) {
	s := openTestStore(t)
	peer, _ := identity.Generate()
	node1, _ := identity.Generate()
	node2, _ := identity.Generate()

	p1, err := identity.NewPeerInfo(peer, node1.Id(), "10.0.0.1:39001", nil)
	if err != nil {
		t.Fatal(err)
	}
	p1.CoSign(node1)
	p2, err := identity.NewPeerInfo(peer, node2.Id(), "10.0.0.2:39001", nil)
	if err != nil {
		t.Fatal(err)
	}
	p2.CoSign(node2)

	if _, err := s.PutPeer(p1, true, true, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutPeer(p2, true, true, nil); err != nil {
		t.Fatal(err)
	}

	peers, err := s.GetPeers(peer.Id())
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 2 {
		t.Fatalf("expected 2 peer rows for one peerId, got %d", len(peers))
	}
}

func TestGetValuesPaginationOrder(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		v := identity.NewImmutableValue([]byte{byte(i)})
		if _, err := s.PutValue(v, true, true, nil); err != nil {
			t.Fatal(err)
		}
	}
	page, err := s.GetValues(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 {
		t.Fatalf("expected page of 3, got %d", len(page))
	}
	rest, err := s.GetValues(3, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected remaining 2, got %d", len(rest))
	}
}

func TestRemoveValueIdempotent(t *testing.T) {
	s := openTestStore(t)
	id := kadid.Of(make([]byte, kadid.Size))
	removed, err := s.RemoveValue(id)
	if err != nil || removed {
		t.Fatalf("expected removing an absent value to report false, not error")
	}
}

func TestRemovePeersDeletesAllAnnouncementsForId(t *testing.T) {
	s := openTestStore(t)
	peer, _ := identity.Generate()
	node1, _ := identity.Generate()
	node2, _ := identity.Generate()

	p1, err := identity.NewPeerInfo(peer, node1.Id(), "10.0.0.1:39001", nil)
	if err != nil {
		t.Fatal(err)
	}
	p1.CoSign(node1)
	p2, err := identity.NewPeerInfo(peer, node2.Id(), "10.0.0.2:39001", nil)
	if err != nil {
		t.Fatal(err)
	}
	p2.CoSign(node2)

	if _, err := s.PutPeer(p1, true, true, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutPeer(p2, true, true, nil); err != nil {
		t.Fatal(err)
	}

	removed, err := s.RemovePeers(peer.Id())
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 peers removed, got %d", removed)
	}
	peers, err := s.GetPeers(peer.Id())
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 0 {
		t.Fatalf("expected no peers left, got %d", len(peers))
	}
}

func TestOpenRejectsCustomSchemaOnSQLite(t *testing.T) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = Open(context.Background(), db, "sqlite", "custom", "store_test", 4)
	if err == nil {
		t.Fatalf("expected a custom schema name to be rejected on sqlite")
	}
}
