package cryptox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyfile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")
	secret := []byte("7f3a559a2ea8fd2ec8b4963a9f6c7e1e2d5b8c0a1f4e7d0c3b6a9584712f0e3d")

	require.NoError(t, SealKeyfile(path, secret, []byte("correct horse")))

	got, err := OpenKeyfile(path, []byte("correct horse"))
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestKeyfile_WrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")
	require.NoError(t, SealKeyfile(path, []byte("sk"), []byte("right")))

	_, err := OpenKeyfile(path, []byte("wrong"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypting keyfile")
}

func TestKeyfile_MissingFile(t *testing.T) {
	_, err := OpenKeyfile(filepath.Join(t.TempDir(), "absent.key"), []byte("x"))
	require.Error(t, err)
}

func TestDeriveKey_DeterministicPerSalt(t *testing.T) {
	pass := []byte("pass")
	salt1 := []byte("0123456789abcdef")
	salt2 := []byte("fedcba9876543210")

	assert.Equal(t, DeriveKey(pass, salt1), DeriveKey(pass, salt1))
	assert.NotEqual(t, DeriveKey(pass, salt1), DeriveKey(pass, salt2))
}
