package identity

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"

	"github.com/bosonnetwork/godht/dhterrors"
	"github.com/bosonnetwork/godht/kadid"
	"github.com/bosonnetwork/godht/xcrypto"
)

// Fingerprint is the 64-bit hash of nodeId ∥ endpoint that lets many peer
// announcements coexist under the same PeerId (spec §3/§4.9).
type Fingerprint uint64

// NewFingerprint derives the fingerprint for an announcement made by
// nodeId at endpoint.
func NewFingerprint(nodeId kadid.Id, endpoint string) Fingerprint {
	h := fnv.New64a()
	h.Write(nodeId.Bytes())
	h.Write([]byte(endpoint))
	return Fingerprint(h.Sum64())
}

// PeerInfo announces that service PeerId is reachable at Endpoint via
// intermediary NodeId. It carries the peer's own signature plus a
// node-origin signature proving the announcing node agreed (spec §3).
type PeerInfo struct {
	PeerId         kadid.Id
	NodeId         kadid.Id
	Endpoint       string
	ExtraData      []byte
	Nonce          [xcrypto.NonceSize]byte
	SequenceNumber uint32
	PeerSignature  [ed25519SignatureSize]byte
	NodeSignature  [ed25519SignatureSize]byte
}

// Fingerprint derives this announcement's storage-key fingerprint.
func (p *PeerInfo) Fingerprint() Fingerprint {
	return NewFingerprint(p.NodeId, p.Endpoint)
}

func peerSignDigest(p *PeerInfo) [32]byte {
	var buf bytes.Buffer
	buf.Write(p.PeerId.Bytes())
	buf.Write(p.NodeId.Bytes())
	buf.Write([]byte(p.Endpoint))
	buf.Write(p.ExtraData)
	buf.Write(p.Nonce[:])
	var seqBE [4]byte
	binary.BigEndian.PutUint32(seqBE[:], p.SequenceNumber)
	buf.Write(seqBE[:])
	return xcrypto.SHA256(buf.Bytes())
}

// NewPeerInfo builds and peer-signs an announcement; node must separately
// co-sign it via CoSign before it is eligible for storage or propagation.
func NewPeerInfo(peer Identity, node kadid.Id, endpoint string, extraData []byte) (*PeerInfo, error) {
	nonce, err := xcrypto.RandomNonce()
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "draw peer info nonce")
	}
	p := &PeerInfo{
		PeerId:    peer.Id(),
		NodeId:    node,
		Endpoint:  endpoint,
		ExtraData: extraData,
		Nonce:     [xcrypto.NonceSize]byte(nonce),
	}
	digest := peerSignDigest(p)
	sig := peer.Sign(digest[:])
	copy(p.PeerSignature[:], sig)
	return p, nil
}

// CoSign attaches the announcing node's origin signature over the same
// digest the peer signed, proving the node agreed to forward it.
func (p *PeerInfo) CoSign(node Identity) {
	digest := peerSignDigest(p)
	sig := node.Sign(digest[:])
	copy(p.NodeSignature[:], sig)
}

// Update re-signs the announcement with an incremented sequence number
// (spec §3 lifecycle: PeerInfo records are immutable once built).
func (p *PeerInfo) Update(peer Identity, node Identity, endpoint string, extraData []byte) (*PeerInfo, error) {
	next := &PeerInfo{
		PeerId:         p.PeerId,
		NodeId:         p.NodeId,
		Endpoint:       endpoint,
		ExtraData:      extraData,
		Nonce:          p.Nonce,
		SequenceNumber: p.SequenceNumber + 1,
	}
	digest := peerSignDigest(next)
	sig := peer.Sign(digest[:])
	copy(next.PeerSignature[:], sig)
	next.CoSign(node)
	return next, nil
}

// IsValid verifies both the peer's and the announcing node's signatures.
func (p *PeerInfo) IsValid() bool {
	digest := peerSignDigest(p)
	if !xcrypto.Verify(p.PeerId.ToSignatureKey(), digest[:], p.PeerSignature[:]) {
		return false
	}
	return xcrypto.Verify(p.NodeId.ToSignatureKey(), digest[:], p.NodeSignature[:])
}
