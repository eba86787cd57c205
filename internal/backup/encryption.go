package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// AlgorithmAESGCM is recorded in backup metadata for encrypted artifacts.
const AlgorithmAESGCM = "AES-256-GCM"

const (
	keyBytes         = 32
	pbkdf2Iterations = 100000
)

// EncryptionStats describes one encryption pass.
type EncryptionStats struct {
	OriginalSize  int64         `json:"original_size"`
	EncryptedSize int64         `json:"encrypted_size"`
	Algorithm     string        `json:"algorithm"`
	KeySource     string        `json:"key_source"`
	Duration      time.Duration `json:"duration"`
}

// KeyManager resolves the artifact encryption key from the configured
// source. Keys are always 32 bytes for AES-256.
type KeyManager struct {
	config *EncryptionConfig
}

// NewKeyManager creates a key manager for the given configuration.
func NewKeyManager(config *EncryptionConfig) *KeyManager {
	return &KeyManager{config: config}
}

// ResolveKey returns the encryption key from the configured source.
func (km *KeyManager) ResolveKey() ([]byte, error) {
	if km.config.KeyRetriever != nil {
		key, err := km.config.KeyRetriever()
		if err != nil {
			return nil, NewEncryptionError("key retriever failed", err)
		}
		if err := ValidateKey(key); err != nil {
			return nil, err
		}
		return key, nil
	}

	switch km.config.KeySource {
	case KeySourceEnv:
		return km.loadKeyFromEnv(km.config.KeyEnvVar)
	case KeySourceFile:
		return km.loadKeyFromFile(km.config.KeyPath)
	case KeySourcePassphrase:
		return km.deriveKeyFromPassphrase(km.config.Passphrase, km.config.Salt)
	default:
		return nil, NewEncryptionError(fmt.Sprintf("unknown key source: %s", km.config.KeySource), nil)
	}
}

func (km *KeyManager) loadKeyFromEnv(envVar string) ([]byte, error) {
	hexKey := os.Getenv(envVar)
	if hexKey == "" {
		return nil, NewEncryptionError(fmt.Sprintf("environment variable %s not set", envVar), nil)
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, NewEncryptionError("failed to decode hex key from environment variable", err)
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

func (km *KeyManager) loadKeyFromFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEncryptionError("failed to read key file", err)
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// deriveKeyFromPassphrase uses PBKDF2 with SHA-256 and a fixed salt so
// the same passphrase always yields the same key across restores.
func (km *KeyManager) deriveKeyFromPassphrase(passphrase, saltHex string) ([]byte, error) {
	if passphrase == "" {
		return nil, NewEncryptionError("passphrase is empty", nil)
	}
	if saltHex == "" {
		return nil, NewEncryptionError("passphrase key source requires a salt", nil)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, NewEncryptionError("failed to decode hex salt", err)
	}
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keyBytes, sha256.New), nil
}

// GenerateKey creates a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, NewEncryptionError("failed to generate encryption key", err)
	}
	return key, nil
}

// SaveKeyToFile writes a key with owner-only permissions.
func SaveKeyToFile(key []byte, path string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return NewEncryptionError("failed to save key to file", err)
	}
	return nil
}

// ValidateKey rejects keys of the wrong size and trivially weak keys.
func ValidateKey(key []byte) error {
	if len(key) != keyBytes {
		return NewEncryptionError("key must be 32 bytes for AES-256", nil)
	}

	allZeros := true
	allOnes := true
	for _, b := range key {
		if b != 0 {
			allZeros = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}
	if allZeros {
		return NewEncryptionError("key cannot be all zeros", nil)
	}
	if allOnes {
		return NewEncryptionError("key cannot be all ones", nil)
	}
	return nil
}

// EncryptionManager encrypts and decrypts artifact payloads with
// AES-256-GCM. The nonce is prefixed to the ciphertext.
type EncryptionManager struct {
	config *EncryptionConfig
	keys   *KeyManager
}

// NewEncryptionManager creates an encryption manager for the given
// configuration.
func NewEncryptionManager(config *EncryptionConfig) *EncryptionManager {
	return &EncryptionManager{
		config: config,
		keys:   NewKeyManager(config),
	}
}

// IsEnabled reports whether artifact encryption is enabled.
func (em *EncryptionManager) IsEnabled() bool {
	return em.config.Enabled
}

// Algorithm returns the algorithm name recorded in metadata, or the
// empty string when encryption is disabled.
func (em *EncryptionManager) Algorithm() string {
	if !em.config.Enabled {
		return ""
	}
	return AlgorithmAESGCM
}

// Encrypt seals data and returns nonce-prefixed ciphertext. Disabled
// managers pass data through untouched.
func (em *EncryptionManager) Encrypt(data []byte) ([]byte, *EncryptionStats, error) {
	if !em.config.Enabled {
		return data, &EncryptionStats{
			OriginalSize:  int64(len(data)),
			EncryptedSize: int64(len(data)),
		}, nil
	}

	start := time.Now()

	key, err := em.keys.ResolveKey()
	if err != nil {
		return nil, nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, NewEncryptionError("failed to generate nonce", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, data, nil)
	return ciphertext, &EncryptionStats{
		OriginalSize:  int64(len(data)),
		EncryptedSize: int64(len(ciphertext)),
		Algorithm:     AlgorithmAESGCM,
		KeySource:     em.config.KeySource,
		Duration:      time.Since(start),
	}, nil
}

// Decrypt reverses Encrypt. The payload must carry the nonce prefix
// produced by Encrypt.
func (em *EncryptionManager) Decrypt(encryptedData []byte) ([]byte, error) {
	if !em.config.Enabled {
		return encryptedData, nil
	}

	key, err := em.keys.ResolveKey()
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(encryptedData) < nonceSize {
		return nil, NewEncryptionError("encrypted data too short", nil)
	}

	nonce, ciphertext := encryptedData[:nonceSize], encryptedData[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewEncryptionError("failed to decrypt data", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}

// FieldEncryptor encrypts individual column values during migration.
// Values are sealed with AES-256-GCM and encoded as base64 so they fit
// in text columns.
type FieldEncryptor struct {
	manager *EncryptionManager
}

// NewFieldEncryptor creates a field encryptor sharing the artifact
// encryption key.
func NewFieldEncryptor(config *EncryptionConfig) *FieldEncryptor {
	return &FieldEncryptor{manager: NewEncryptionManager(config)}
}

// EncryptField seals a single field value. The result is
// base64(nonce || ciphertext).
func (fe *FieldEncryptor) EncryptField(plaintext string) (string, error) {
	sealed, _, err := fe.manager.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	if !fe.manager.IsEnabled() {
		return plaintext, nil
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField reverses EncryptField.
func (fe *FieldEncryptor) DecryptField(encoded string) (string, error) {
	if !fe.manager.IsEnabled() {
		return encoded, nil
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", NewEncryptionError("failed to decode encrypted field", err)
	}
	plaintext, err := fe.manager.Decrypt(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
