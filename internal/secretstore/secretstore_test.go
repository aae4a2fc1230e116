package secretstore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, keySize)
	s, err := New(key)
	require.NoError(t, err)

	plaintext := []byte("super-secret-private-key")
	sealed, err := s.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := s.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestNewRejectsBadKeySize(t *testing.T) {
	_, err := New([]byte("too-short"))
	assert.Error(t, err)
}

func TestLoadOrCreateMasterKeyPersists(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/master.key"

	s1, err := LoadOrCreateMasterKey(path)
	require.NoError(t, err)

	s2, err := LoadOrCreateMasterKey(path)
	require.NoError(t, err)

	sealed, err := s1.Encrypt([]byte("hello"))
	require.NoError(t, err)
	opened, err := s2.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), opened)
}

func TestWriteReadKeyfile(t *testing.T) {
	dir := t.TempDir()
	key := make([]byte, keySize)
	s, err := New(key)
	require.NoError(t, err)

	path := dir + "/alice.key"
	require.NoError(t, s.WriteKeyfile(path, []byte("deadbeef"), os.Getgid()))

	got, err := s.ReadKeyfile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("deadbeef"), got)
}
