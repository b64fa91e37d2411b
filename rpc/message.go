// Package rpc implements the node's UDP transport: wire framing, the
// request/response call state machine, throttling and suspicious-node
// detection, and the adaptive timeout sampler (spec §4.3–§4.8).
package rpc

import (
	"encoding/binary"

	"github.com/bosonnetwork/godht/dhterrors"
	"github.com/bosonnetwork/godht/kadid"
	"github.com/bosonnetwork/godht/xcrypto"
)

// Method identifies the RPC verb carried by a Message.
type Method uint16

const (
	MethodPing Method = iota
	MethodFindNode
	MethodFindValue
	MethodStoreValue
	MethodFindPeer
	MethodAnnouncePeer
)

// Type distinguishes the three message kinds spec §4.3 names.
type Type uint8

const (
	TypeRequest Type = iota
	TypeResponse
	TypeError
)

// MinMessageBytes is Message.MIN_BYTES from spec §4.3: method(2) + type(1)
// + txid(4) + version(4), with an empty body.
const MinMessageBytes = 2 + 1 + 4 + 4

// MinFrameBytes is the minimum on-wire UDP datagram length: senderId(32) +
// nonce(24) + MAC(16) + MinMessageBytes.
const MinFrameBytes = kadid.Size + xcrypto.NonceSize + xcrypto.MacSize + MinMessageBytes

// PackVersion packs a two-character software short name and a 16-bit
// numeric version into the 32-bit version word: (name[0]<<24) |
// (name[1]<<16) | (version & 0xFFFF) (spec §6).
func PackVersion(name [2]byte, version uint16) uint32 {
	return uint32(name[0])<<24 | uint32(name[1])<<16 | uint32(version)
}

// UnpackVersion reverses PackVersion.
func UnpackVersion(word uint32) (name [2]byte, version uint16) {
	name[0] = byte(word >> 24)
	name[1] = byte(word >> 16)
	version = uint16(word)
	return name, version
}

// Message is the plaintext structure sealed inside every UDP frame.
type Message struct {
	Method  Method
	Type    Type
	Txid    uint32
	Version uint32
	Body    []byte
}

// Encode serializes a Message to its compact binary wire form.
func (m *Message) Encode() []byte {
	out := make([]byte, MinMessageBytes+len(m.Body))
	binary.BigEndian.PutUint16(out[0:2], uint16(m.Method))
	out[2] = byte(m.Type)
	binary.BigEndian.PutUint32(out[3:7], m.Txid)
	binary.BigEndian.PutUint32(out[7:11], m.Version)
	copy(out[MinMessageBytes:], m.Body)
	return out
}

// DecodeMessage parses the plaintext produced by Encode.
func DecodeMessage(b []byte) (*Message, error) {
	if len(b) < MinMessageBytes {
		return nil, dhterrors.New(dhterrors.KindProtocolError, "message shorter than MIN_BYTES")
	}
	m := &Message{
		Method:  Method(binary.BigEndian.Uint16(b[0:2])),
		Type:    Type(b[2]),
		Txid:    binary.BigEndian.Uint32(b[3:7]),
		Version: binary.BigEndian.Uint32(b[7:11]),
	}
	if len(b) > MinMessageBytes {
		m.Body = append([]byte(nil), b[MinMessageBytes:]...)
	}
	return m, nil
}

// Frame is the fully decoded on-wire datagram: senderId ∥ nonce ∥ sealed
// box (spec §4.3).
type Frame struct {
	SenderId kadid.Id
	Nonce    xcrypto.Nonce
	Sealed   []byte
}

// EncodeFrame lays out senderId ∥ nonce ∥ sealed box.
func EncodeFrame(senderId kadid.Id, nonce xcrypto.Nonce, sealed []byte) []byte {
	out := make([]byte, 0, kadid.Size+xcrypto.NonceSize+len(sealed))
	out = append(out, senderId.Bytes()...)
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return out
}

// DecodeFrame splits a raw UDP datagram into its prefix fields, rejecting
// anything shorter than MinFrameBytes as malformed (spec §4.3).
func DecodeFrame(raw []byte) (*Frame, error) {
	if len(raw) < MinFrameBytes {
		return nil, dhterrors.New(dhterrors.KindProtocolError, "frame shorter than the minimum")
	}
	f := &Frame{
		SenderId: kadid.Of(raw[:kadid.Size]),
	}
	copy(f.Nonce[:], raw[kadid.Size:kadid.Size+xcrypto.NonceSize])
	f.Sealed = raw[kadid.Size+xcrypto.NonceSize:]
	return f, nil
}
