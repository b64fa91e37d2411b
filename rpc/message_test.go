package rpc

import (
	"bytes"
	"testing"

	"github.com/bosonnetwork/godht/kadid"
	"github.com/bosonnetwork/godht/xcrypto"
)

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	m := &Message{Method: MethodFindNode, Type: TypeRequest, Txid: 42, Version: PackVersion([2]byte{'g', 'd'}, 7), Body: []byte("hello")}
	decoded, err := DecodeMessage(m.Encode())
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.Method != m.Method || decoded.Type != m.Type || decoded.Txid != m.Txid || decoded.Version != m.Version {
		t.Fatalf("fields did not round-trip: %+v", decoded)
	}
	if !bytes.Equal(decoded.Body, m.Body) {
		t.Fatalf("body did not round-trip: %q", decoded.Body)
	}
}

func TestMessageEmptyBodyRoundTrip(t *testing.T) {
	m := &Message{Method: MethodPing, Type: TypeResponse, Txid: 1, Version: 1}
	encoded := m.Encode()
	if len(encoded) != MinMessageBytes {
		t.Fatalf("expected exactly MinMessageBytes for empty body, got %d", len(encoded))
	}
	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if len(decoded.Body) != 0 {
		t.Fatalf("expected empty body, got %q", decoded.Body)
	}
}

func TestDecodeMessageRejectsShortInput(t *testing.T) {
	if _, err := DecodeMessage(make([]byte, MinMessageBytes-1)); err == nil {
		t.Fatalf("expected an error for input shorter than MinMessageBytes")
	}
}

func TestPackUnpackVersionRoundTrip(t *testing.T) {
	word := PackVersion([2]byte{'x', 'y'}, 0x1234)
	name, version := UnpackVersion(word)
	if name != [2]byte{'x', 'y'} || version != 0x1234 {
		t.Fatalf("unexpected round-trip: name=%v version=%x", name, version)
	}
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	senderId := kadid.Of(bytesOfRPC(7))
	var nonce xcrypto.Nonce
	nonce[0] = 9
	sealed := []byte("ciphertext-and-mac-stand-in")

	raw := EncodeFrame(senderId, nonce, sealed)
	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.SenderId != senderId {
		t.Fatalf("sender id mismatch")
	}
	if frame.Nonce != nonce {
		t.Fatalf("nonce mismatch")
	}
	if !bytes.Equal(frame.Sealed, sealed) {
		t.Fatalf("sealed payload mismatch")
	}
}

func TestDecodeFrameRejectsShortInput(t *testing.T) {
	if _, err := DecodeFrame(make([]byte, MinFrameBytes-1)); err == nil {
		t.Fatalf("expected an error for a frame shorter than MinFrameBytes")
	}
}

func bytesOfRPC(seed byte) []byte {
	b := make([]byte, kadid.Size)
	for i := range b {
		b[i] = seed
	}
	return b
}
