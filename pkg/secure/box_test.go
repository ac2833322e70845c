package secure

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	box, err := NewBox("garden-secret")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	payloads := [][]byte{
		[]byte("{}"),
		[]byte(`{"state":0,"temperature":30}`),
		[]byte(""),
		bytes.Repeat([]byte{0xff}, 4096),
	}
	for _, payload := range payloads {
		sealed, err := box.Encrypt(payload)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		opened, err := box.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(opened, payload) {
			t.Fatalf("round trip mismatch: got %q want %q", opened, payload)
		}
	}
}

func TestEncryptNoncesDiffer(t *testing.T) {
	box, err := NewBox("garden-secret")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	a, _ := box.Encrypt([]byte("same"))
	b, _ := box.Encrypt([]byte("same"))
	if bytes.Equal(a, b) {
		t.Fatal("two encryptions of the same payload must not repeat")
	}
}

func TestDecryptRejectsTamperedData(t *testing.T) {
	box, err := NewBox("garden-secret")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	sealed, _ := box.Encrypt([]byte("reading"))
	sealed[len(sealed)-1] ^= 0x01
	if _, err := box.Decrypt(sealed); err == nil {
		t.Fatal("tampered ciphertext must not decrypt")
	}
}

func TestDecryptRejectsShortInput(t *testing.T) {
	box, err := NewBox("garden-secret")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	if _, err := box.Decrypt([]byte{0x01, 0x02}); err == nil {
		t.Fatal("input shorter than a nonce must not decrypt")
	}
}

func TestKeysDisagree(t *testing.T) {
	a, _ := NewBox("secret-a")
	b, _ := NewBox("secret-b")
	sealed, _ := a.Encrypt([]byte("reading"))
	if _, err := b.Decrypt(sealed); err == nil {
		t.Fatal("a different key must not decrypt")
	}
}

func TestNewBoxRejectsEmptySecret(t *testing.T) {
	if _, err := NewBox(""); err == nil {
		t.Fatal("empty secret must be rejected")
	}
}
