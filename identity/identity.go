// Package identity implements the node's capability set: signing,
// verification, and per-peer encryption, plus the self-describing objects
// (Value, PeerInfo, Card, Credential, Vouch) signed with it.
package identity

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/bosonnetwork/godht/dhterrors"
	"github.com/bosonnetwork/godht/kadid"
	"github.com/bosonnetwork/godht/xcrypto"
)

// Identity is the capability set every node and every Value owner exposes:
// id(), sign/verify, and recipient-scoped encrypt/decrypt (spec §3/§4.2).
type Identity interface {
	Id() kadid.Id
	Sign(data []byte) []byte
	Verify(data, sig []byte) bool
	Encrypt(recipient kadid.Id, data []byte) ([]byte, error)
	Decrypt(sender kadid.Id, data []byte) ([]byte, error)
	CreateCryptoContext(peer kadid.Id) (*CryptoContext, error)
}

// localIdentity is the concrete Identity backed by a local Ed25519 key pair.
type localIdentity struct {
	keyPair KeyPair
	xPriv   [xcrypto.X25519KeySize]byte
	xPub    [xcrypto.X25519KeySize]byte
	log     *log.Entry
}

// KeyPair is re-exported for callers that need the raw key material (e.g.
// persistence, tests) without importing xcrypto directly.
type KeyPair = xcrypto.KeyPair

// New builds a local Identity from an Ed25519 key pair.
func New(kp KeyPair) (Identity, error) {
	xPub, err := xcrypto.Ed25519PublicToX25519(kp.Public)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "derive x25519 public key")
	}
	xPriv, err := xcrypto.Ed25519PrivateToX25519(kp.Private)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "derive x25519 private key")
	}
	id := kadid.Of(kp.Public)
	return &localIdentity{
		keyPair: kp,
		xPriv:   xPriv,
		xPub:    xPub,
		log:     log.WithField("id", id.String()),
	}, nil
}

// Generate creates a fresh Identity from a random Ed25519 key pair.
func Generate() (Identity, error) {
	kp, err := xcrypto.GenerateKeyPair()
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "generate identity key pair")
	}
	return New(kp)
}

func (l *localIdentity) Id() kadid.Id {
	return kadid.Of(l.keyPair.Public)
}

func (l *localIdentity) Sign(data []byte) []byte {
	return xcrypto.Sign(l.keyPair.Private, data)
}

func (l *localIdentity) Verify(data, sig []byte) bool {
	return xcrypto.Verify(l.keyPair.Public, data, sig)
}

// Encrypt derives the recipient's X25519 key from its Id and seals data for
// it, drawing a fresh random nonce each call (one-shot, non-session use —
// for the stateful per-peer session use CreateCryptoContext instead).
func (l *localIdentity) Encrypt(recipient kadid.Id, data []byte) ([]byte, error) {
	recipientPub, err := recipient.ToEncryptionKey()
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "derive recipient x25519 key")
	}
	nonce, err := xcrypto.RandomNonce()
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "draw nonce")
	}
	sealed := xcrypto.SealBox(data, nonce, &recipientPub, &l.xPriv)
	out := make([]byte, 0, xcrypto.NonceSize+len(sealed))
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt reverses Encrypt: the first NonceSize bytes are the nonce, the
// rest the sealed box.
func (l *localIdentity) Decrypt(sender kadid.Id, data []byte) ([]byte, error) {
	if len(data) < xcrypto.NonceSize+xcrypto.MacSize {
		return nil, dhterrors.New(dhterrors.KindCryptoError, "frame too short to decrypt")
	}
	senderPub, err := sender.ToEncryptionKey()
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "derive sender x25519 key")
	}
	var nonce xcrypto.Nonce
	copy(nonce[:], data[:xcrypto.NonceSize])
	plain, err := xcrypto.OpenBox(data[xcrypto.NonceSize:], nonce, &senderPub, &l.xPriv)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "open sealed box")
	}
	return plain, nil
}

// CreateCryptoContext builds a stateful, single-writer session box for an
// ongoing conversation with peer (spec §4.4).
func (l *localIdentity) CreateCryptoContext(peer kadid.Id) (*CryptoContext, error) {
	peerPub, err := peer.ToEncryptionKey()
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "derive peer x25519 key")
	}
	return newCryptoContext(l.xPriv, peerPub), nil
}

func (l *localIdentity) String() string {
	return fmt.Sprintf("Identity{%s}", l.Id())
}

// sealWithNonce seals data for recipient under an explicit caller-supplied
// nonce, unlike Encrypt which draws its own. Value needs this to sign over
// the same nonce it stores (spec §3): an unexported capability, reached via
// a package-private type assertion rather than widening the public
// Identity interface beyond what spec §3 names.
func (l *localIdentity) sealWithNonce(recipient kadid.Id, nonce xcrypto.Nonce, data []byte) ([]byte, error) {
	recipientPub, err := recipient.ToEncryptionKey()
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "derive recipient x25519 key")
	}
	return xcrypto.SealBox(data, nonce, &recipientPub, &l.xPriv), nil
}
