package identity

import (
	"bytes"
	"encoding/binary"

	"github.com/bosonnetwork/godht/dhterrors"
	"github.com/bosonnetwork/godht/kadid"
	"github.com/bosonnetwork/godht/xcrypto"
)

// Value is one of three variants (spec §3):
//   - Immutable: PublicKey is the zero Id, identity is SHA-256(Data).
//   - Signed mutable: owned by an Ed25519 key pair, sequence-numbered.
//   - Encrypted: as signed, plus a Recipient and sealed-box Data.
type Value struct {
	PublicKey      kadid.Id // zero Id for Immutable values
	Recipient      kadid.Id // zero Id unless Encrypted
	Nonce          [xcrypto.NonceSize]byte
	SequenceNumber uint32
	Signature      [ed25519SignatureSize]byte
	Data           []byte

	encrypted bool
}

const ed25519SignatureSize = 64

// sealer is the unexported capability Value relies on to encrypt under an
// explicit, caller-chosen nonce (see localIdentity.sealWithNonce).
type sealer interface {
	sealWithNonce(recipient kadid.Id, nonce xcrypto.Nonce, data []byte) ([]byte, error)
}

// IsImmutable reports whether this is the identity-by-hash variant.
func (v *Value) IsImmutable() bool {
	return v.PublicKey == kadid.Zero
}

// IsEncrypted reports whether Data is a sealed box rather than plaintext.
func (v *Value) IsEncrypted() bool {
	return v.encrypted
}

// Id returns the value's storage key: SHA-256(Data) when immutable,
// otherwise the owner's PublicKey.
func (v *Value) Id() kadid.Id {
	if v.IsImmutable() {
		h := xcrypto.SHA256(v.Data)
		return kadid.Of(h[:])
	}
	return v.PublicKey
}

// ReconstructValue rebuilds a Value from already-validated field data, as
// read back from a storage backend. It does not verify the signature;
// callers that need that guarantee should call IsValid() themselves.
func ReconstructValue(publicKey, recipient kadid.Id, nonce [xcrypto.NonceSize]byte, seq uint32, signature [ed25519SignatureSize]byte, data []byte, encrypted bool) *Value {
	return &Value{
		PublicKey:      publicKey,
		Recipient:      recipient,
		Nonce:          nonce,
		SequenceNumber: seq,
		Signature:      signature,
		Data:           data,
		encrypted:      encrypted,
	}
}

// NewImmutableValue builds the identity = SHA-256(data) variant; it carries
// no key pair, nonce, or signature.
func NewImmutableValue(data []byte) *Value {
	return &Value{Data: data}
}

// signDigest computes sha256(publicKey ∥ [recipient] ∥ nonce ∥
// sequenceNumber_be32 ∥ data), the pre-hash both mutable variants sign
// (spec §3, Open Question resolved in favor of always pre-hashing).
func signDigest(publicKey, recipient kadid.Id, nonce [xcrypto.NonceSize]byte, seq uint32, data []byte, hasRecipient bool) [32]byte {
	var buf bytes.Buffer
	buf.Write(publicKey.Bytes())
	if hasRecipient {
		buf.Write(recipient.Bytes())
	}
	buf.Write(nonce[:])
	var seqBE [4]byte
	binary.BigEndian.PutUint32(seqBE[:], seq)
	buf.Write(seqBE[:])
	buf.Write(data)
	return xcrypto.SHA256(buf.Bytes())
}

// NewSignedValue builds the signed-mutable variant, seq starting at 0.
func NewSignedValue(owner Identity, data []byte) (*Value, error) {
	nonce, err := xcrypto.RandomNonce()
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "draw value nonce")
	}
	v := &Value{
		PublicKey: owner.Id(),
		Nonce:     [xcrypto.NonceSize]byte(nonce),
		Data:      data,
	}
	digest := signDigest(v.PublicKey, kadid.Zero, v.Nonce, v.SequenceNumber, v.Data, false)
	sig := owner.Sign(digest[:])
	copy(v.Signature[:], sig)
	return v, nil
}

// NewEncryptedValue builds the encrypted variant: data is sealed for
// recipient under owner's key and the current nonce, and the signature
// covers the ciphertext, not the plaintext.
func NewEncryptedValue(owner Identity, recipient kadid.Id, plaintext []byte) (*Value, error) {
	s, ok := owner.(sealer)
	if !ok {
		return nil, dhterrors.New(dhterrors.KindCryptoError, "identity cannot seal with an explicit nonce")
	}
	nonce, err := xcrypto.RandomNonce()
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "draw value nonce")
	}
	sealed, err := s.sealWithNonce(recipient, nonce, plaintext)
	if err != nil {
		return nil, err
	}

	v := &Value{
		PublicKey: owner.Id(),
		Recipient: recipient,
		Nonce:     [xcrypto.NonceSize]byte(nonce),
		Data:      sealed,
		encrypted: true,
	}
	digest := signDigest(v.PublicKey, v.Recipient, v.Nonce, v.SequenceNumber, v.Data, true)
	sig := owner.Sign(digest[:])
	copy(v.Signature[:], sig)
	return v, nil
}

// Update produces a new Value with Data replaced and SequenceNumber
// incremented by one. Only valid when owner holds the private key (callers
// pass the same Identity that created v); a no-op when data is unchanged
// and the value is not encrypted (spec §3).
func (v *Value) Update(owner Identity, newData []byte) (*Value, error) {
	if v.IsImmutable() {
		return nil, dhterrors.New(dhterrors.KindProtocolError, "cannot update an immutable value")
	}
	if !v.encrypted && bytes.Equal(v.Data, newData) {
		return v, nil
	}

	next := &Value{
		PublicKey:      v.PublicKey,
		Recipient:      v.Recipient,
		Nonce:          v.Nonce,
		SequenceNumber: v.SequenceNumber + 1,
		encrypted:      v.encrypted,
	}

	if v.encrypted {
		// A sealed box must never reuse a nonce under the same key pair;
		// draw a fresh one rather than carrying the previous value's.
		nonce, err := xcrypto.RandomNonce()
		if err != nil {
			return nil, dhterrors.Wrap(dhterrors.KindCryptoError, err, "draw value nonce")
		}
		next.Nonce = [xcrypto.NonceSize]byte(nonce)

		s, ok := owner.(sealer)
		if !ok {
			return nil, dhterrors.New(dhterrors.KindCryptoError, "identity cannot seal with an explicit nonce")
		}
		sealed, err := s.sealWithNonce(next.Recipient, nonce, newData)
		if err != nil {
			return nil, err
		}
		next.Data = sealed
	} else {
		next.Data = newData
	}

	digest := signDigest(next.PublicKey, next.Recipient, next.Nonce, next.SequenceNumber, next.Data, next.encrypted)
	sig := owner.Sign(digest[:])
	copy(next.Signature[:], sig)
	return next, nil
}

// IsValid checks the value's validity invariant: signature verification
// for mutable values, identifier-equals-hash for immutable ones.
func (v *Value) IsValid() bool {
	if v.IsImmutable() {
		return true
	}
	digest := signDigest(v.PublicKey, v.Recipient, v.Nonce, v.SequenceNumber, v.Data, v.encrypted)
	return xcrypto.Verify(v.PublicKey.ToSignatureKey(), digest[:], v.Signature[:])
}

// Decrypt opens an Encrypted value's Data for the holder of recipient's
// private key.
func (v *Value) Decrypt(recipient Identity) ([]byte, error) {
	if !v.encrypted {
		return nil, dhterrors.New(dhterrors.KindProtocolError, "value is not encrypted")
	}
	frame := make([]byte, 0, xcrypto.NonceSize+len(v.Data))
	frame = append(frame, v.Nonce[:]...)
	frame = append(frame, v.Data...)
	return recipient.Decrypt(v.PublicKey, frame)
}
