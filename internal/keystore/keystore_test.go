package keystore

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "custodia/pkg/domain-errors"
)

func TestMemory_RoundTrip(t *testing.T) {
	store := NewMemory()

	require.NoError(t, store.Save("key-1", []byte("secret material")))
	got, err := store.Load("key-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret material"), got)
}

func TestMemory_LoadAbsentReturnsNil(t *testing.T) {
	store := NewMemory()

	got, err := store.Load("never-saved")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemory_DefensiveCopies(t *testing.T) {
	store := NewMemory()
	original := []byte("secret material")
	require.NoError(t, store.Save("key-1", original))

	// Mutating the caller's slice must not reach the stored copy.
	original[0] = 'X'
	got, err := store.Load("key-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret material"), got)

	// Mutating a loaded slice must not reach the stored copy either.
	got[0] = 'Y'
	again, err := store.Load("key-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret material"), again)
}

func TestMemory_Delete(t *testing.T) {
	store := NewMemory()
	require.NoError(t, store.Save("key-1", []byte("secret")))
	require.NoError(t, store.Delete("key-1"))

	got, err := store.Load("key-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an absent key is not an error.
	require.NoError(t, store.Delete("key-1"))
}

func TestFileVault_RoundTrip(t *testing.T) {
	vault, err := NewFileVault(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, vault.Save("custodia-default.v1", []byte("0123456789abcdef0123456789abcdef")))
	got, err := vault.Load("custodia-default.v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), got)
}

func TestFileVault_LoadAbsentReturnsNil(t *testing.T) {
	vault, err := NewFileVault(t.TempDir())
	require.NoError(t, err)

	got, err := vault.Load("never-saved")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileVault_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	vault, err := NewFileVault(dir)
	require.NoError(t, err)
	require.NoError(t, vault.Save("key-1", []byte("persisted secret")))

	// A second vault over the same directory derives the same wrap key.
	reopened, err := NewFileVault(dir)
	require.NoError(t, err)
	got, err := reopened.Load("key-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted secret"), got)
}

func TestFileVault_TamperedFileFailsClosed(t *testing.T) {
	dir := t.TempDir()
	vault, err := NewFileVault(dir)
	require.NoError(t, err)
	require.NoError(t, vault.Save("key-1", []byte("secret")))

	name := base64.RawURLEncoding.EncodeToString([]byte("key-1")) + keyFileSuffix
	path := filepath.Join(dir, name)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = vault.Load("key-1")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeCorruptedKey))
}

func TestFileVault_TruncatedFile(t *testing.T) {
	dir := t.TempDir()
	vault, err := NewFileVault(dir)
	require.NoError(t, err)
	require.NoError(t, vault.Save("key-1", []byte("secret")))

	name := base64.RawURLEncoding.EncodeToString([]byte("key-1")) + keyFileSuffix
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("short"), 0o600))

	_, err = vault.Load("key-1")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeCorruptedKey))
}

func TestFileVault_Delete(t *testing.T) {
	vault, err := NewFileVault(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, vault.Save("key-1", []byte("secret")))
	require.NoError(t, vault.Delete("key-1"))

	got, err := vault.Load("key-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileVault_EmptyIdentifierRejected(t *testing.T) {
	vault, err := NewFileVault(t.TempDir())
	require.NoError(t, err)

	assert.True(t, dErrors.HasCode(vault.Save("", []byte("x")), dErrors.CodeInvalidInput))
	_, err = vault.Load("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	assert.True(t, dErrors.HasCode(vault.Delete(""), dErrors.CodeInvalidInput))
}

func TestFileVault_CorruptedMasterSecret(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, masterFileName), []byte("too short"), 0o600))

	_, err := NewFileVault(dir)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeCorruptedKey))
}
