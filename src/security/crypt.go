package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var (
	ErrNoKey           = errors.New("EXCHANGE_CREDENTIALS_KEY not set")
	ErrCiphertextShort = errors.New("ciphertext too short")
	ErrDecryptFailed   = errors.New("decryption failed")
)

// loadKey decodes the 32-byte secretbox key from configuration.
func loadKey() (*[32]byte, error) {
	cfg := GetConfig()
	if cfg.ExchangeCRKey == "" {
		return nil, ErrNoKey
	}

	raw, err := base64.StdEncoding.DecodeString(cfg.ExchangeCRKey)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("credentials key must be 32 bytes, got %d", len(raw))
	}

	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// EncryptString seals plaintext with the configured key. Output is base64 of
// nonce || box. Used for API keys/secrets at rest in exchange_links.
func EncryptString(plaintext string) (string, error) {
	key, err := loadKey()
	if err != nil {
		return "", err
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens a value produced by EncryptString.
func DecryptString(ciphertext string) (string, error) {
	key, err := loadKey()
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	if len(raw) < 24 {
		return "", ErrCiphertextShort
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	opened, ok := secretbox.Open(nil, raw[24:], &nonce, key)
	if !ok {
		return "", ErrDecryptFailed
	}

	return string(opened), nil
}
