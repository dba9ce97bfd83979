// Package secret encrypts mail relay passwords at rest with AES-256-GCM.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	keyLength = 32  // AES-256
	sep       = "|" // base64(nonce)|base64(ciphertext)
)

var (
	// ErrInvalidKey is returned by New when the key is absent or malformed.
	ErrInvalidKey = errors.New("invalid encryption key")
	// ErrDecryption matches every *DecryptionError via errors.Is.
	ErrDecryption = errors.New("decryption failed")
)

// DecryptionError reports ciphertext that was produced with another key,
// was tampered with, or is not in the expected format.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return "decrypt credential: " + e.Err.Error()
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// Cipher encrypts and decrypts short secrets with one symmetric key.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a 32-byte key given as base64 (standard or
// URL-safe, padded or not) or as 64 hex characters.
func New(key string) (*Cipher, error) {
	raw, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	return NewWithKey(raw)
}

// NewWithKey builds a Cipher from raw key bytes.
func NewWithKey(key []byte) (*Cipher, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, keyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// ParseKey decodes a textual key into its 32 raw bytes.
func ParseKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if b, err := enc.DecodeString(key); err == nil && len(b) == keyLength {
			return b, nil
		}
	}
	if len(key) == keyLength*2 {
		if b, err := hex.DecodeString(key); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: expected %d bytes encoded as base64 or hex", ErrInvalidKey, keyLength)
}

// GenerateKey returns a fresh random key in standard base64.
func GenerateKey() (string, error) {
	k := make([]byte, keyLength)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k), nil
}

// Encrypt seals plaintext with a random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}

	ct := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt opens a value produced by Encrypt. Every failure is a *DecryptionError.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, sep)
	if len(parts) != 2 {
		return "", &DecryptionError{Err: errors.New("malformed ciphertext")}
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", &DecryptionError{Err: fmt.Errorf("decode nonce: %w", err)}
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", &DecryptionError{Err: fmt.Errorf("nonce has %d bytes, want %d", len(nonce), c.aead.NonceSize())}
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", &DecryptionError{Err: fmt.Errorf("decode ciphertext: %w", err)}
	}

	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}
	return string(pt), nil
}
