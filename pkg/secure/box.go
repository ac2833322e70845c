package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Box encrypts and decrypts opaque payloads with AES-GCM. Every frame on
// the wire passes through a Box; both sides derive the same key from the
// shared secret.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives a 256-bit key from the shared secret and returns a
// ready-to-use Box.
func NewBox(secret string) (*Box, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty encryption secret")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce. Output layout is
// nonce || ciphertext+tag.
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return b.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt. It fails on truncated input and
// on any authentication mismatch.
func (b *Box) Decrypt(data []byte) ([]byte, error) {
	if len(data) < b.aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, sealed := data[:b.aead.NonceSize()], data[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt failed: %w", err)
	}
	return plaintext, nil
}
