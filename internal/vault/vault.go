// Package vault provides AES-256-GCM encryption for upstream provider
// credentials at rest. Ciphertexts are nonce-prefixed and base64-encoded;
// decryption fails closed on any tampering or format error.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrDecryptionFailed is returned whenever a stored ciphertext cannot be
// authenticated or parsed. Callers never see partial plaintext.
var ErrDecryptionFailed = errors.New("decryption failed")

// hkdfInfo binds derived keys to this use so a shared passphrase cannot be
// reused for another purpose with the same derivation.
const hkdfInfo = "costshield/vault:master-key:v1"

// Vault performs authenticated encryption with a process-wide master key.
type Vault struct {
	key []byte
}

// New builds a Vault from the configured master key string. A 64-character
// hex string is used directly as the 32-byte AES-256 key; any other
// non-empty string is treated as a passphrase and stretched to 32 bytes
// with HKDF-SHA256. An empty key is a configuration error and must abort
// startup.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("encryption master key is required")
	}

	if len(masterKey) == 64 {
		key, err := hex.DecodeString(masterKey)
		if err == nil {
			return &Vault{key: key}, nil
		}
		// 64 chars but not hex: fall through to passphrase derivation.
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}

	return &Vault{key: key}, nil
}

// Encrypt encrypts plaintext with a fresh random nonce and returns the
// nonce-prefixed ciphertext as base64.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a base64 ciphertext produced by Encrypt. Every failure
// mode maps to ErrDecryptionFailed so callers cannot distinguish a
// malformed record from a forged one.
func (v *Vault) Decrypt(ciphertextBase64 string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrDecryptionFailed
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// GenerateMasterKey generates a random 32-byte key as a hex string suitable
// for the ENCRYPTION_MASTER_KEY environment variable.
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
