package badger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	info, err := os.Stat(tmpDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_PathIsFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(tmpFile, []byte("x"), 0o644))

	_, err := OpenBackend(tmpFile, false)
	assert.Error(t, err)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	assert.False(t, backend.IsClosed())
	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
}

func TestBackend_WriteBatchAndGet(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	err = backend.WriteBatch(func(wb *badger.WriteBatch) error {
		return wb.Set([]byte("k"), []byte("v"))
	})
	require.NoError(t, err)

	err = backend.WithTx(func(tx *badger.Txn) error {
		v, err := get(tx, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)

		missing, err := get(tx, []byte("missing"))
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	}, false)
	require.NoError(t, err)
}

func TestKeys(t *testing.T) {
	key := makeChunkDocKey("doc", "doc_0")
	assert.Equal(t, "doc", documentFromDocKey(key))

	// A document whose id extends another's never shares its index prefix.
	assert.NotContains(t, string(makeChunkDocKey("doc1", "doc1_0")), string(makePartialChunkDocKey("doc")))
}
