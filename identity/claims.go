package identity

import (
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/bosonnetwork/godht/dhterrors"
	"github.com/bosonnetwork/godht/kadid"
	"github.com/bosonnetwork/godht/xcrypto"
)

// canonicalMode is the shared CBOR encoder used by every identity object's
// canonical byte form: deterministic map key ordering (RFC 7049 canonical
// rules) regardless of the originating builder's insertion order (spec §3).
var canonicalMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err) // fixed, valid options; cannot fail at runtime
	}
	return m
}()

// reservedSignedAt and reservedSignature are the structural keys every
// ClaimObject carries alongside its user-supplied claims.
const (
	reservedSignedAt  = "signedAt"
	reservedSignature = "signature"
)

// ClaimObject is the shared shape of Card, Credential, and Vouch: an
// insertion-ordered map of claims plus signedAt and a detached Ed25519
// signature over the canonical bytes of the unsigned form (spec §3).
type ClaimObject struct {
	Subject kadid.Id

	keys   []string
	values map[string]interface{}

	SignedAt  int64 // unix millis; 0 before Sign
	Signature []byte
}

// NewClaimObject starts a claim object whose detached signature will be
// produced by subject's Ed25519 key.
func NewClaimObject(subject kadid.Id) *ClaimObject {
	return &ClaimObject{
		Subject: subject,
		values:  make(map[string]interface{}),
	}
}

// Set inserts or overwrites a claim, normalizing string values to NFC and
// recursively normalizing nested maps/lists (spec §3 canonicalization).
func (c *ClaimObject) Set(key string, value interface{}) error {
	if key == reservedSignedAt || key == reservedSignature {
		return dhterrors.New(dhterrors.KindProtocolError, "claim key collides with a reserved field: "+key)
	}
	if _, exists := c.values[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.values[key] = normalizeValue(value)
	return nil
}

// Get returns a claim's normalized value.
func (c *ClaimObject) Get(key string) (interface{}, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Keys returns claim keys in insertion order.
func (c *ClaimObject) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// normalizeValue NFC-normalizes strings and recurses into maps and slices,
// per spec §3: "all strings are NFC-normalized; nested maps and lists are
// recursively normalized."
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[norm.NFC.String(k)] = normalizeValue(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = normalizeValue(vv)
		}
		return out
	default:
		return v
	}
}

// wireForm builds the plain map canonicalMode encodes: every claim plus the
// two reserved structural fields. signedAt/signature are nil for the
// unsigned form used at signing time.
func (c *ClaimObject) wireForm(signedAt int64, signature []byte) map[string]interface{} {
	out := make(map[string]interface{}, len(c.values)+2)
	for k, v := range c.values {
		out[k] = v
	}
	if signedAt == 0 {
		out[reservedSignedAt] = nil
	} else {
		out[reservedSignedAt] = signedAt
	}
	if len(signature) == 0 {
		out[reservedSignature] = nil
	} else {
		out[reservedSignature] = signature
	}
	return out
}

// unsignedCanonicalBytes returns the canonical CBOR encoding of the unsigned form
// (signedAt=null, signature=null) — the bytes every implementation must
// sign and verify identically (spec §3).
func (c *ClaimObject) unsignedCanonicalBytes() ([]byte, error) {
	b, err := canonicalMode.Marshal(c.wireForm(0, nil))
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindProtocolError, err, "encode unsigned claim object")
	}
	return b, nil
}

// CanonicalBytes returns the canonical CBOR encoding of the fully signed
// object, suitable for storage or transmission.
func (c *ClaimObject) CanonicalBytes() ([]byte, error) {
	b, err := canonicalMode.Marshal(c.wireForm(c.SignedAt, c.Signature))
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindProtocolError, err, "encode claim object")
	}
	return b, nil
}

// Sign stamps signedAt to now (ms) and computes the detached Ed25519
// signature over the canonical unsigned bytes.
func (c *ClaimObject) Sign(signer Identity, nowMillis int64) error {
	c.SignedAt = nowMillis
	unsigned, err := c.unsignedCanonicalBytes()
	if err != nil {
		return err
	}
	c.Signature = signer.Sign(unsigned)
	return nil
}

// Verify checks the detached signature against the unsigned canonical
// bytes, using Subject as the signing key.
func (c *ClaimObject) Verify() bool {
	if c.SignedAt == 0 || len(c.Signature) == 0 {
		return false
	}
	unsigned, err := c.unsignedCanonicalBytes()
	if err != nil {
		return false
	}
	return xcrypto.Verify(c.Subject.ToSignatureKey(), unsigned, c.Signature)
}
