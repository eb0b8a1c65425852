// Package secrets provides AES-256-GCM encryption, used by the
// Service-Location Manager for the private keys in its on-disk records
// (§4.G). The master key is stored at a configurable path (default
// ~/.local/share/defguard/master.key) and auto-generated on first use.
// NewStoreFromPassphrase derives a key from a passphrase (via scrypt)
// instead; nothing outside this package's tests calls it, and the
// Persistent Store has no passphrase-protected mode.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

const masterKeyLen = 32 // AES-256

// Store provides encrypt/decrypt operations using a persisted master key.
type Store struct {
	masterKey []byte
	keyPath   string
}

// NewStore loads the master key from keyPath, or generates one if it doesn't exist.
func NewStore(keyPath string) (*Store, error) {
	s := &Store{keyPath: keyPath}

	data, err := os.ReadFile(keyPath)
	if err == nil {
		if len(data) != masterKeyLen {
			return nil, fmt.Errorf("master key at %s has invalid length %d (expected %d)", keyPath, len(data), masterKeyLen)
		}
		s.masterKey = data
		return s, nil
	}

	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	// Generate new key
	key := make([]byte, masterKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("write master key: %w", err)
	}

	s.masterKey = key
	return s, nil
}

// Encrypt encrypts plaintext using AES-256-GCM. Returns nonce || ciphertext.
func (s *Store) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, nil
}

// Decrypt decrypts data produced by Encrypt (nonce || ciphertext).
func (s *Store) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	return plaintext, nil
}

// NewStoreFromPassphrase derives a master key from a user passphrase and a
// salt via scrypt; the derived key never touches disk. The caller supplies
// the salt (see NewSalt) and is responsible for keeping it.
func NewStoreFromPassphrase(passphrase string, salt []byte) (*Store, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, masterKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key from passphrase: %w", err)
	}
	return &Store{masterKey: key}, nil
}

// NewSalt generates a random scrypt salt for NewStoreFromPassphrase.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// EncryptString encrypts a string value.
func (s *Store) EncryptString(value string) ([]byte, error) {
	return s.Encrypt([]byte(value))
}

// DecryptString decrypts to a string value.
func (s *Store) DecryptString(ciphertext []byte) (string, error) {
	plaintext, err := s.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
