package token

import (
	"crypto/rand"
	"crypto/sha256"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// MinKeyBytes is the minimum passphrase length accepted by DeriveKey.
const MinKeyBytes = 16

// DeriveKey turns a configured passphrase into a 32-byte XChaCha20-Poly1305 key.
func DeriveKey(passphrase string) ([]byte, error) {
	p := strings.TrimSpace(passphrase)
	if p == "" {
		return nil, ErrKeyMissing
	}
	if len(p) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}
	sum := sha256.Sum256([]byte(p))
	return sum[:], nil
}

// Seal encrypts plaintext with key. Output is nonce || ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func Open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrSealed
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, nil)
}
