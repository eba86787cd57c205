package backup

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEncryptionConfig(t *testing.T) *EncryptionConfig {
	t.Helper()

	key, err := GenerateKey()
	require.NoError(t, err)
	return &EncryptionConfig{
		Enabled:      true,
		KeyRetriever: func() ([]byte, error) { return key, nil },
	}
}

func TestEncryptionManager_RoundTrip(t *testing.T) {
	em := NewEncryptionManager(testEncryptionConfig(t))
	data := []byte("NHS number 943 476 5919 must never leak in plaintext")

	ciphertext, stats, err := em.Encrypt(data)
	require.NoError(t, err)
	require.NotEqual(t, data, ciphertext)

	assert.Equal(t, AlgorithmAESGCM, stats.Algorithm)
	assert.Equal(t, int64(len(data)), stats.OriginalSize)
	assert.Greater(t, stats.EncryptedSize, stats.OriginalSize)

	plaintext, err := em.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, data, plaintext)
}

func TestEncryptionManager_Disabled_PassesThrough(t *testing.T) {
	em := NewEncryptionManager(&EncryptionConfig{Enabled: false})
	data := []byte("plain payload")

	out, stats, err := em.Encrypt(data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Empty(t, stats.Algorithm)
	assert.Empty(t, em.Algorithm())

	back, err := em.Decrypt(out)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestEncryptionManager_Decrypt_WrongKey(t *testing.T) {
	em := NewEncryptionManager(testEncryptionConfig(t))
	ciphertext, _, err := em.Encrypt([]byte("secret"))
	require.NoError(t, err)

	other := NewEncryptionManager(testEncryptionConfig(t))
	_, err = other.Decrypt(ciphertext)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decrypt")
}

func TestEncryptionManager_Decrypt_TruncatedPayload(t *testing.T) {
	em := NewEncryptionManager(testEncryptionConfig(t))

	_, err := em.Decrypt([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestKeyManager_ResolveKey_FromEnv(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	t.Setenv("TEST_BACKUP_KEY", hex.EncodeToString(key))

	km := NewKeyManager(&EncryptionConfig{
		KeySource: KeySourceEnv,
		KeyEnvVar: "TEST_BACKUP_KEY",
	})
	resolved, err := km.ResolveKey()
	require.NoError(t, err)
	assert.Equal(t, key, resolved)
}

func TestKeyManager_ResolveKey_EnvUnset(t *testing.T) {
	km := NewKeyManager(&EncryptionConfig{
		KeySource: KeySourceEnv,
		KeyEnvVar: "TEST_BACKUP_KEY_UNSET",
	})

	_, err := km.ResolveKey()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not set")
}

func TestKeyManager_ResolveKey_FromFile(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "backup.key")
	require.NoError(t, SaveKeyToFile(key, path))

	km := NewKeyManager(&EncryptionConfig{
		KeySource: KeySourceFile,
		KeyPath:   path,
	})
	resolved, err := km.ResolveKey()
	require.NoError(t, err)
	assert.Equal(t, key, resolved)
}

func TestKeyManager_ResolveKey_PassphraseIsDeterministic(t *testing.T) {
	config := &EncryptionConfig{
		KeySource:  KeySourcePassphrase,
		Passphrase: "winterfold-house-2024",
		Salt:       "86f1a2b3c4d5e6f7",
	}

	first, err := NewKeyManager(config).ResolveKey()
	require.NoError(t, err)
	second, err := NewKeyManager(config).ResolveKey()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 32)

	// A different salt must produce a different key.
	other := &EncryptionConfig{
		KeySource:  KeySourcePassphrase,
		Passphrase: "winterfold-house-2024",
		Salt:       "00f1a2b3c4d5e6f7",
	}
	third, err := NewKeyManager(other).ResolveKey()
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestKeyManager_ResolveKey_PassphraseRequiresSalt(t *testing.T) {
	km := NewKeyManager(&EncryptionConfig{
		KeySource:  KeySourcePassphrase,
		Passphrase: "something",
	})

	_, err := km.ResolveKey()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "salt")
}

func TestValidateKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.NoError(t, ValidateKey(key))

	assert.Error(t, ValidateKey([]byte("short")))
	assert.Error(t, ValidateKey(make([]byte, 32)))

	ones := make([]byte, 32)
	for i := range ones {
		ones[i] = 0xFF
	}
	assert.Error(t, ValidateKey(ones))
}

func TestFieldEncryptor_RoundTrip(t *testing.T) {
	fe := NewFieldEncryptor(testEncryptionConfig(t))

	encoded, err := fe.EncryptField("943 476 5919")
	require.NoError(t, err)
	assert.NotEqual(t, "943 476 5919", encoded)

	decoded, err := fe.DecryptField(encoded)
	require.NoError(t, err)
	assert.Equal(t, "943 476 5919", decoded)
}

func TestFieldEncryptor_Disabled_PassesThrough(t *testing.T) {
	fe := NewFieldEncryptor(&EncryptionConfig{Enabled: false})

	encoded, err := fe.EncryptField("visible")
	require.NoError(t, err)
	assert.Equal(t, "visible", encoded)

	decoded, err := fe.DecryptField(encoded)
	require.NoError(t, err)
	assert.Equal(t, "visible", decoded)
}
