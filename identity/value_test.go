package identity

import (
	"bytes"
	"testing"

	"github.com/bosonnetwork/godht/kadid"
	"github.com/bosonnetwork/godht/xcrypto"
)

func TestImmutableValueIdentity(t *testing.T) {
	data := []byte("hello")
	v := NewImmutableValue(data)
	want := xcrypto.SHA256(data)
	if v.Id() != kadid.Of(want[:]) {
		t.Fatalf("expected id derived from sha256(data)")
	}
	if !v.IsValid() {
		t.Fatalf("expected immutable value to always be valid")
	}
}

func TestSignedValueValidAndMonotonic(t *testing.T) {
	owner, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	v0, err := NewSignedValue(owner, []byte("a"))
	if err != nil {
		t.Fatalf("NewSignedValue: %v", err)
	}
	if !v0.IsValid() {
		t.Fatalf("expected v0 to be valid")
	}
	if v0.SequenceNumber != 0 {
		t.Fatalf("expected initial sequence number 0")
	}

	v1, err := v0.Update(owner, []byte("b"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if v1.SequenceNumber != 1 {
		t.Fatalf("expected sequence number 1, got %d", v1.SequenceNumber)
	}
	if !v1.IsValid() {
		t.Fatalf("expected v1 to be valid")
	}
	if !bytes.Equal(v1.Data, []byte("b")) {
		t.Fatalf("expected updated data")
	}
}

func TestSignedValueUpdateNoOpWhenUnchanged(t *testing.T) {
	owner, _ := Generate()
	v0, err := NewSignedValue(owner, []byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	v1, err := v0.Update(owner, []byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	if v1.SequenceNumber != v0.SequenceNumber {
		t.Fatalf("expected no-op update to leave sequence number unchanged")
	}
}

func TestEncryptedValueRoundTrip(t *testing.T) {
	owner, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	recipient, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("secret payload")
	v, err := NewEncryptedValue(owner, recipient.Id(), plaintext)
	if err != nil {
		t.Fatalf("NewEncryptedValue: %v", err)
	}
	if !v.IsValid() {
		t.Fatalf("expected encrypted value signature to be valid")
	}
	if !v.IsEncrypted() {
		t.Fatalf("expected IsEncrypted to be true")
	}

	got, err := v.Decrypt(recipient)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("expected decrypted plaintext to match, got %q", got)
	}
}

func TestEncryptedValueTamperedSignatureFails(t *testing.T) {
	owner, _ := Generate()
	recipient, _ := Generate()
	v, err := NewEncryptedValue(owner, recipient.Id(), []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	v.Data[0] ^= 0xff
	if v.IsValid() {
		t.Fatalf("expected tampered ciphertext to invalidate signature")
	}
}
