package localstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every backend must share
func runStoreContract(t *testing.T, store Store) {
	t.Helper()

	_, err := store.Get(KeyCurrentUser)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(KeyCurrentUser, `{"subjectId":"u1"}`))
	value, err := store.Get(KeyCurrentUser)
	require.NoError(t, err)
	assert.Equal(t, `{"subjectId":"u1"}`, value)

	// Overwrite keeps a single value per key
	require.NoError(t, store.Set(KeyCurrentUser, `{"subjectId":"u2"}`))
	value, err = store.Get(KeyCurrentUser)
	require.NoError(t, err)
	assert.Equal(t, `{"subjectId":"u2"}`, value)

	require.NoError(t, store.Set(KeyTheme, "light"))

	require.NoError(t, store.Delete(KeyCurrentUser))
	_, err = store.Get(KeyCurrentUser)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error
	require.NoError(t, store.Delete(KeyCurrentUser))

	theme, err := store.Get(KeyTheme)
	require.NoError(t, err)
	assert.Equal(t, "light", theme)
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "storage.json")
	runStoreContract(t, NewFileStore(path))

	// Data survives a new store instance on the same file
	reopened := NewFileStore(path)
	theme, err := reopened.Get(KeyTheme)
	require.NoError(t, err)
	assert.Equal(t, "light", theme)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewFileStore(path).Get(KeyTheme)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "failed to parse storage file")
}

func TestFileStore_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	_, err := NewFileStore(path).Get(KeyTheme)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")

	store, err := OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runStoreContract(t, store)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")

	store, err := OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Set(KeyTheme, "dark"))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	theme, err := reopened.Get(KeyTheme)
	require.NoError(t, err)
	assert.Equal(t, "dark", theme)
}
