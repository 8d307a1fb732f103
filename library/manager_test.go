package library

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *LibraryManager {
	dir := t.TempDir()
	mgr, err := NewLibraryManager(filepath.Join(dir, "lib.db"), ManagerOptions{
		StrictLedger: true,
		Service:      []Option{WithLogger(discardLogger())},
	})
	require.NoError(t, err, "mgr")
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestLibraryManager_ServesOperations(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	b := NewBook(1, "Hello", "Anon")
	require.NoError(t, mgr.AddBook(ctx, &b))
	got, err := mgr.FindBook(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, "lib.db", filepath.Base(mgr.Database().Path()))
}

func TestNewLibraryManager_BadPath(t *testing.T) {
	_, err := NewLibraryManager(filepath.Join(t.TempDir(), "missing", "\x00", "lib.db"), ManagerOptions{})
	assert.Error(t, err)
}
