package identity

import (
	"sync"

	"github.com/bosonnetwork/godht/dhterrors"
	"github.com/bosonnetwork/godht/xcrypto"
)

// CryptoContext is a per-peer bidirectional session box: a monotone
// outbound nonce counter and a replay guard on the last accepted inbound
// nonce (spec §4.4). Mutations to the outbound counter are single-writer,
// guarded by mu so callers in a shared-context deployment still get atomic
// increments.
type CryptoContext struct {
	mu sync.Mutex

	selfPriv [xcrypto.X25519KeySize]byte
	peerPub  [xcrypto.X25519KeySize]byte

	nextOutNonce xcrypto.Nonce
	lastInNonce  *xcrypto.Nonce
}

func newCryptoContext(selfPriv, peerPub [xcrypto.X25519KeySize]byte) *CryptoContext {
	return &CryptoContext{
		selfPriv: selfPriv,
		peerPub:  peerPub,
	}
}

// Encrypt draws the next outbound nonce, increments the counter in place,
// and returns nonce ∥ ciphertext.
func (c *CryptoContext) Encrypt(data []byte) []byte {
	c.mu.Lock()
	nonce := c.nextOutNonce
	c.nextOutNonce.Increment()
	c.mu.Unlock()

	sealed := xcrypto.SealBox(data, nonce, &c.peerPub, &c.selfPriv)
	out := make([]byte, 0, xcrypto.NonceSize+len(sealed))
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return out
}

// Decrypt rejects frames shorter than nonce+MAC, rejects a nonce equal to
// the last accepted inbound nonce (replay guard), then decrypts and
// records the nonce as the new high-water mark.
func (c *CryptoContext) Decrypt(frame []byte) ([]byte, error) {
	if len(frame) < xcrypto.NonceSize+xcrypto.MacSize {
		return nil, dhterrors.New(dhterrors.KindCryptoError, "frame shorter than nonce+mac")
	}
	var nonce xcrypto.Nonce
	copy(nonce[:], frame[:xcrypto.NonceSize])

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastInNonce != nil && *c.lastInNonce == nonce {
		return nil, dhterrors.New(dhterrors.KindCryptoError, "duplicated nonce")
	}

	plain, err := xcrypto.OpenBox(frame[xcrypto.NonceSize:], nonce, &c.peerPub, &c.selfPriv)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "open sealed box")
	}

	c.lastInNonce = &nonce
	return plain, nil
}
