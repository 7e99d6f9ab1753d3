// Package secrets seals setting values at rest with XChaCha20-Poly1305.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// prefix marks sealed values so plaintext rows stay readable.
const prefix = "enc:v1:"

var (
	// ErrNoKey is returned when sealing is requested without a key.
	ErrNoKey = errors.New("secrets key is not configured: set SECRETS_KEY")
	// ErrMalformed is returned for a sealed value that cannot be decoded.
	ErrMalformed = errors.New("malformed sealed value")
)

// Box seals and opens values with one key.
type Box struct {
	key []byte
}

// NewBox parses a base64 encoded 32 byte key. An empty key yields a nil
// Box, which passes values through unchanged.
func NewBox(encodedKey string) (*Box, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("secrets key must be base64: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secrets key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Box{key: key}, nil
}

// GenerateKey returns a fresh base64 encoded key.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Enabled reports whether values are sealed.
func (b *Box) Enabled() bool { return b != nil }

// IsSealed reports whether v was produced by Seal.
func IsSealed(v string) bool { return strings.HasPrefix(v, prefix) }

// Seal encrypts plaintext with a random nonce.
func (b *Box) Seal(plaintext string) (string, error) {
	if b == nil {
		return "", ErrNoKey
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value. Unsealed input is returned as is.
func (b *Box) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if b == nil {
		return "", ErrNoKey
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", ErrMalformed
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed value: %w", err)
	}
	return string(plain), nil
}
