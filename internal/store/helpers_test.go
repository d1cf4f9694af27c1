package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/runsystem/internal/testutil"
)

// createTestStore opens a fresh SQLite store with sequential IDs.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path, WithIDGenerator(testutil.NewSequenceIDGenerator("doc")))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
