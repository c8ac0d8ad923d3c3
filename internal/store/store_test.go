package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treemover/treemover/pkg/model"
)

func sample(id string, state model.SyncState) model.SyncProgress {
	return model.SyncProgress{
		RequestID:        id,
		State:            state,
		BytesTransferred: 1234,
		TotalBytes:       5678,
		UpdatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
}

func runStoreTests(t *testing.T, s Store) {
	t.Helper()

	_, found, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)

	first := sample("req-1", model.StatePending)
	require.NoError(t, s.Put(first))

	got, found, err := s.Get("req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first, got)

	// Upsert replaces.
	updated := sample("req-1", model.StateCompleted)
	require.NoError(t, s.Put(updated))
	got, found, err = s.Get("req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StateCompleted, got.State)

	require.NoError(t, s.Put(sample("req-2", model.StateFailed)))
	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemory())
}

func TestBoltStore(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	defer s.Close()
	runStoreTests(t, s)
}

func TestBoltStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	s, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(sample("req-1", model.StateCompleted)))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()
	got, found, err := s.Get("req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StateCompleted, got.State)
}
