// Package xcrypto implements the node's cryptographic primitives: Ed25519
// signing, the Ed25519→X25519 key mapping used to turn an identity key into
// an encryption key, and the authenticated sealed-box construction used for
// both RPC framing and encrypted Values (spec §4.2).
package xcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math/big"

	"golang.org/x/crypto/nacl/box"

	"github.com/bosonnetwork/godht/dhterrors"
)

// X25519KeySize is the size, in bytes, of an X25519 key.
const X25519KeySize = 32

// NonceSize is the size, in bytes, of a sealed-box nonce.
const NonceSize = 24

// MacSize is the Poly1305 authentication tag appended by nacl/box.
const MacSize = box.Overhead

// KeyPair is an Ed25519 signing key pair.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh random Ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("xcrypto: generate keypair: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// KeyPairFromSeed deterministically derives a key pair from a 32-byte seed.
func KeyPairFromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("xcrypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// Sign signs msg with the Ed25519 private key.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify checks an Ed25519 signature.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return len(sig) == ed25519.SignatureSize && ed25519.Verify(pub, msg, sig)
}

// SHA256 hashes data with SHA-256, used for content hashing and as the
// Value signature pre-hash (spec §3: sign the digest, not the raw bytes).
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

//-----------------------------------------------------------------------
// Ed25519 → X25519 key mapping (spec §4.2)
//-----------------------------------------------------------------------

var fieldPrime = func() *big.Int {
	// p = 2^255 - 19
	p := new(big.Int).Lsh(big.NewInt(1), 255)
	return p.Sub(p, big.NewInt(19))
}()

// Ed25519PublicToX25519 derives the Montgomery-form X25519 public key from
// an Edwards-form Ed25519 public key via the birational map
// u = (1+y)/(1-y) mod p, where y is recovered by clearing the sign bit
// carried in the public key's top bit.
func Ed25519PublicToX25519(pub ed25519.PublicKey) ([X25519KeySize]byte, error) {
	var out [X25519KeySize]byte
	if len(pub) != ed25519.PublicKeySize {
		return out, fmt.Errorf("xcrypto: ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}

	// Decode y little-endian, clearing the sign bit (spec §4.2: "clamp+decode
	// from y-coord").
	yBytes := make([]byte, X25519KeySize)
	copy(yBytes, pub)
	yBytes[31] &= 0x7f
	y := leBytesToBig(yBytes)

	one := big.NewInt(1)
	num := new(big.Int).Add(one, y)
	num.Mod(num, fieldPrime)
	den := new(big.Int).Sub(one, y)
	den.Mod(den, fieldPrime)
	denInv := new(big.Int).ModInverse(den, fieldPrime)
	if denInv == nil {
		return out, dhterrors.New(dhterrors.KindCryptoError, "ed25519 public key maps to y=1, no inverse")
	}
	u := num.Mul(num, denInv)
	u.Mod(u, fieldPrime)

	bigToLEBytes(u, out[:])
	return out, nil
}

// Ed25519PrivateToX25519 derives the clamped X25519 private scalar from an
// Ed25519 private key: SHA-512 of the 32-byte seed, clamped per X25519
// (spec §4.2: "private (SHA-512 of seed, clamp)").
func Ed25519PrivateToX25519(priv ed25519.PrivateKey) ([X25519KeySize]byte, error) {
	var out [X25519KeySize]byte
	if len(priv) != ed25519.PrivateKeySize {
		return out, fmt.Errorf("xcrypto: ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	copy(out[:], h[:X25519KeySize])
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	return out, nil
}

func leBytesToBig(b []byte) *big.Int {
	rev := make([]byte, len(b))
	for i, v := range b {
		rev[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(rev)
}

func bigToLEBytes(n *big.Int, out []byte) {
	for i := range out {
		out[i] = 0
	}
	be := n.Bytes() // big-endian, minimal length, no leading zeros
	for i, v := range be {
		out[len(be)-1-i] = v
	}
}

//-----------------------------------------------------------------------
// Sealed box (authenticated X25519 + XSalsa20 + Poly1305, spec §4.2/§4.3)
//-----------------------------------------------------------------------

// Nonce is a 24-byte sealed-box nonce treated as a little-endian counter.
type Nonce [NonceSize]byte

// Increment treats the nonce as a little-endian counter and carries over
// the full 24 bytes (spec §4.2).
func (n *Nonce) Increment() {
	carry := uint16(1)
	for i := 0; i < NonceSize && carry != 0; i++ {
		sum := uint16(n[i]) + carry
		n[i] = byte(sum)
		carry = sum >> 8
	}
}

// RandomNonce draws a fresh random nonce.
func RandomNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("xcrypto: random nonce: %w", err)
	}
	return n, nil
}

// SealBox authenticates and encrypts plaintext for recipientPub using
// senderPriv, under nonce — "crypto_box_easy" semantics (spec §3/§4.3).
func SealBox(plaintext []byte, nonce Nonce, recipientPub, senderPriv *[X25519KeySize]byte) []byte {
	n := [NonceSize]byte(nonce)
	return box.Seal(nil, plaintext, &n, recipientPub, senderPriv)
}

// OpenBox authenticates and decrypts a box produced by SealBox. Returns
// CryptoError on any authentication failure.
func OpenBox(ciphertext []byte, nonce Nonce, senderPub, recipientPriv *[X25519KeySize]byte) ([]byte, error) {
	n := [NonceSize]byte(nonce)
	out, ok := box.Open(nil, ciphertext, &n, senderPub, recipientPriv)
	if !ok {
		return nil, dhterrors.New(dhterrors.KindCryptoError, "box authentication failed")
	}
	return out, nil
}
