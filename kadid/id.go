// Package kadid implements the 256-bit identifier algebra that keys every
// object in the DHT: XOR distance, prefix/bit operations, and the Base58/
// hex/did codings used on the wire and in logs.
package kadid

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/bosonnetwork/godht/xcrypto"
)

// Size is the length of an Id in bytes.
const Size = 32

const didPrefix = "did:boson:"

// Id is a 256-bit identifier, total-ordered by unsigned lexicographic byte
// comparison, and doubles as an Ed25519 public key.
type Id [Size]byte

// Zero is the all-zero Id.
var Zero = Id{}

// Max is the all-ones Id, the maximum element under the total order.
var Max = func() Id {
	var id Id
	for i := range id {
		id[i] = 0xff
	}
	return id
}()

// Of wraps a 32-byte slice as an Id. Panics if b is not exactly Size bytes,
// matching the teacher's fixed-width Address/Hash conventions.
func Of(b []byte) Id {
	if len(b) != Size {
		panic(fmt.Sprintf("kadid: want %d bytes, got %d", Size, len(b)))
	}
	var id Id
	copy(id[:], b)
	return id
}

// OfBit returns the Id with only bit i set (the single-bit Id, spec §4.1).
// Bit 0 is the most significant bit of byte 0.
func OfBit(i int) Id {
	var id Id
	if i < 0 || i >= Size*8 {
		return id
	}
	id[i/8] = 0x80 >> uint(i%8)
	return id
}

// Parse accepts Base58 first (the canonical form); if that fails, 0x-
// prefixed hex is tried, then the did:boson:<base58> alias.
func Parse(s string) (Id, error) {
	if strings.HasPrefix(s, didPrefix) {
		return parseBase58(strings.TrimPrefix(s, didPrefix))
	}
	if id, err := parseBase58(s); err == nil {
		return id, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return parseHex(s[2:])
	}
	return Id{}, fmt.Errorf("kadid: not a valid Base58, hex, or did:boson id: %q", s)
}

func parseBase58(s string) (Id, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Id{}, fmt.Errorf("kadid: base58 decode: %w", err)
	}
	if len(b) != Size {
		return Id{}, fmt.Errorf("kadid: base58 decoded to %d bytes, want %d", len(b), Size)
	}
	return Of(b), nil
}

func parseHex(s string) (Id, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Id{}, fmt.Errorf("kadid: hex decode: %w", err)
	}
	if len(b) != Size {
		return Id{}, fmt.Errorf("kadid: hex decoded to %d bytes, want %d", len(b), Size)
	}
	return Of(b), nil
}

// String renders the canonical Base58 form.
func (id Id) String() string {
	return base58.Encode(id[:])
}

// Hex renders the 0x-prefixed hex form (teacher Address.Hex() convention).
func (id Id) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

// DID renders the did:boson:<base58> alias form.
func (id Id) DID() string {
	return didPrefix + id.String()
}

// Bytes returns the raw 32 bytes.
func (id Id) Bytes() []byte { return id[:] }

// Compare returns -1, 0, or 1 per unsigned lexicographic byte order.
func (id Id) Compare(other Id) int {
	return bytes.Compare(id[:], other[:])
}

// Equal reports byte-array equality.
func (id Id) Equal(other Id) bool { return id == other }

// Distance returns the XOR metric between id and other.
func (id Id) Distance(other Id) Id {
	var d Id
	for i := range id {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// ApproxDistance returns 256 minus the number of leading zero bits in the
// XOR distance to other — the Kademlia "bucket index" measure.
func (id Id) ApproxDistance(other Id) int {
	return Size*8 - id.Distance(other).LeadingZeros()
}

// LeadingZeros counts leading zero bits across the 32 bytes.
func (id Id) LeadingZeros() int {
	for i, b := range id {
		if b != 0 {
			return i*8 + bits.LeadingZeros8(b)
		}
	}
	return Size * 8
}

// TrailingZeros counts trailing zero bits across the 32 bytes.
func (id Id) TrailingZeros() int {
	for i := Size - 1; i >= 0; i-- {
		if id[i] != 0 {
			return (Size-1-i)*8 + bits.TrailingZeros8(id[i])
		}
	}
	return Size * 8
}

// BitsEqual reports whether id and other agree on their first depth bits.
func BitsEqual(a, b Id, depth int) bool {
	if depth <= 0 {
		return true
	}
	if depth >= Size*8 {
		return a == b
	}
	fullBytes := depth / 8
	if !bytes.Equal(a[:fullBytes], b[:fullBytes]) {
		return false
	}
	rem := depth % 8
	if rem == 0 {
		return true
	}
	mask := byte(0xff << uint(8-rem))
	return a[fullBytes]&mask == b[fullBytes]&mask
}

// BitsCopy overwrites the first depth bits of dst with src's, leaving the
// remaining bits of dst untouched.
func BitsCopy(src Id, dst *Id, depth int) {
	if depth <= 0 {
		return
	}
	if depth >= Size*8 {
		*dst = src
		return
	}
	fullBytes := depth / 8
	copy(dst[:fullBytes], src[:fullBytes])
	rem := depth % 8
	if rem == 0 {
		return
	}
	mask := byte(0xff << uint(8-rem))
	dst[fullBytes] = (src[fullBytes] & mask) | (dst[fullBytes] &^ mask)
}

// ThreeWayCompare returns the sign of (a⊕target) − (b⊕target), compared
// lexicographically on bytes — used to rank candidates by closeness to a
// lookup target without constructing an arbitrary-precision integer.
func ThreeWayCompare(target, a, b Id) int {
	da := a.Distance(target)
	db := b.Distance(target)
	return bytes.Compare(da[:], db[:])
}

// GetIdByDistance constructs an Id whose XOR distance to id is exactly n:
// form a mask with the top (256-n) bits clear and the bottom n bits set,
// then XOR it with id (spec §4.1).
func (id Id) GetIdByDistance(n int) Id {
	if n <= 0 {
		return id
	}
	if n >= Size*8 {
		return id.Distance(Max)
	}
	var mask Id
	fullBytes := n / 8
	for i := Size - fullBytes; i < Size; i++ {
		mask[i] = 0xff
	}
	rem := n % 8
	if rem != 0 {
		mask[Size-fullBytes-1] = byte(0xff >> uint(8-rem))
	}
	return id.Distance(mask)
}

// Add performs 256-bit unsigned wrap-around addition.
func Add(a, b Id) Id {
	var out Id
	var carry uint16
	for i := Size - 1; i >= 0; i-- {
		sum := uint16(a[i]) + uint16(b[i]) + carry
		out[i] = byte(sum)
		carry = sum >> 8
	}
	return out
}

// HashCode collapses the 32 bytes by XOR-folding every eighth byte into one
// of four bytes of a 32-bit accumulator (spec §4.1).
func (id Id) HashCode() uint32 {
	var acc [4]byte
	for i, b := range id {
		acc[i%4] ^= b
	}
	return binary.BigEndian.Uint32(acc[:])
}

// ToSignatureKey interprets the bytes as an Ed25519 public key.
func (id Id) ToSignatureKey() ed25519.PublicKey {
	out := make(ed25519.PublicKey, Size)
	copy(out, id[:])
	return out
}

// ToEncryptionKey derives the X25519 public key corresponding to this
// Ed25519 public key (spec §3/§4.2).
func (id Id) ToEncryptionKey() ([xcrypto.X25519KeySize]byte, error) {
	return xcrypto.Ed25519PublicToX25519(id.ToSignatureKey())
}
