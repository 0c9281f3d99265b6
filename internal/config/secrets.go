package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"
	"os"
)

// Secret provider for external-API keys. Keys are stored encrypted in the
// configuration (AES-256-GCM, base64 of nonce||ciphertext) and decrypted at
// load time with the master key from URLSCAN_MASTER_KEY. When decryption is
// not possible the provider falls back to a plain environment lookup, so a
// deployment can run entirely on env-injected secrets.

// Secrets decrypts configured API keys.
type Secrets struct {
	aead cipher.AEAD
}

// NewSecrets derives the AES key from the master secret. An empty master
// secret yields a provider that only does env fallback.
func NewSecrets(masterKey string) (*Secrets, error) {
	if masterKey == "" {
		return &Secrets{}, nil
	}

	sum := sha256.Sum256([]byte(masterKey))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}
	return &Secrets{aead: aead}, nil
}

// Decrypt resolves a plaintext API key. Order: decrypt the configured
// ciphertext, then fall back to the named environment variable. Returns ""
// when neither path yields a key — callers treat that source as disabled.
func (s *Secrets) Decrypt(encrypted, keyEnv string) string {
	if encrypted != "" && s.aead != nil {
		if plain, err := s.decrypt(encrypted); err == nil {
			return plain
		} else {
			log.Printf("[Secrets] Decrypt failed, falling back to env %s: %v", keyEnv, err)
		}
	}
	if keyEnv != "" {
		return os.Getenv(keyEnv)
	}
	return ""
}

func (s *Secrets) decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("bad base64: %w", err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plain), nil
}

// Encrypt is the inverse of Decrypt, used by the key-rotation tooling and
// tests. The nonce is prepended to the ciphertext before base64 encoding.
func (s *Secrets) Encrypt(plaintext string, nonce []byte) (string, error) {
	if s.aead == nil {
		return "", fmt.Errorf("no master key configured")
	}
	if len(nonce) != s.aead.NonceSize() {
		return "", fmt.Errorf("nonce must be %d bytes", s.aead.NonceSize())
	}
	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(append([]byte{}, nonce...), sealed...)), nil
}
