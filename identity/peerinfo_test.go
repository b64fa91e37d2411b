package identity

import "testing"

func TestPeerInfoValidAfterCoSign(t *testing.T) {
	peer, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	node, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	p, err := NewPeerInfo(peer, node.Id(), "192.0.2.1:39001", nil)
	if err != nil {
		t.Fatalf("NewPeerInfo: %v", err)
	}
	if p.IsValid() {
		t.Fatalf("expected announcement to be invalid before node co-signs")
	}
	p.CoSign(node)
	if !p.IsValid() {
		t.Fatalf("expected announcement to be valid after co-sign")
	}
}

func TestPeerInfoFingerprintStable(t *testing.T) {
	node, _ := Generate()
	fp1 := NewFingerprint(node.Id(), "192.0.2.1:39001")
	fp2 := NewFingerprint(node.Id(), "192.0.2.1:39001")
	if fp1 != fp2 {
		t.Fatalf("expected fingerprint to be deterministic")
	}

	fp3 := NewFingerprint(node.Id(), "192.0.2.2:39001")
	if fp1 == fp3 {
		t.Fatalf("expected distinct endpoints to yield distinct fingerprints")
	}
}

func TestPeerInfoUpdateIncrementsSequence(t *testing.T) {
	peer, _ := Generate()
	node, _ := Generate()
	p, err := NewPeerInfo(peer, node.Id(), "192.0.2.1:39001", nil)
	if err != nil {
		t.Fatal(err)
	}
	p.CoSign(node)

	next, err := p.Update(peer, node, "192.0.2.1:39002", nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if next.SequenceNumber != p.SequenceNumber+1 {
		t.Fatalf("expected sequence number to increment")
	}
	if !next.IsValid() {
		t.Fatalf("expected updated announcement to be valid")
	}
}
