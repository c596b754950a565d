package metastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteBackendRoundTrip(t *testing.T) {
	backend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()

	_, err = backend.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, backend.Set(ctx, "doc-1", []byte(`{"a":1}`)))

	got, err := backend.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)

	require.NoError(t, backend.Set(ctx, "doc-1", []byte(`{"a":2}`)))
	got, err = backend.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":2}`), got)

	require.NoError(t, backend.Delete(ctx, "doc-1"))
	_, err = backend.Get(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreOnSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	ctx := context.Background()

	backend, err := NewSQLiteBackend(path)
	require.NoError(t, err)

	store, err := NewStore(backend, nil)
	require.NoError(t, err)

	saved, err := store.Save(ctx, "doc-1", Patch{"doc_type": "faq", "title": "Refunds"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	backend, err = NewSQLiteBackend(path)
	require.NoError(t, err)
	store, err = NewStore(backend, nil)
	require.NoError(t, err)
	defer store.Close()

	rec, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, saved.Version, rec.Version)
	assert.Equal(t, "Refunds", rec.Attrs["title"])
	assert.Equal(t, "faq", rec.Level1)
}
