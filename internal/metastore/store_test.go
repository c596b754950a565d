package metastore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(NewMemoryBackend(), nil)
	require.NoError(t, err)
	return store
}

func TestSaveCreatesRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Save(ctx, "doc-1", Patch{"doc_type": "faq", "title": "Refund policy"})
	require.NoError(t, err)

	assert.Equal(t, "doc-1", rec.DocID)
	assert.Equal(t, int64(1), rec.Version)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Equal(t, rec.CreatedAt, rec.LastUpdated)
	assert.Equal(t, "faq", rec.Level1)
	assert.Equal(t, "Refund policy", rec.Attrs["title"])
	require.Len(t, rec.VersionHistory, 1)
	assert.Equal(t, int64(1), rec.VersionHistory[0].Version)
}

func TestSaveIncrementsVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Save(ctx, "doc-1", Patch{"title": "v1"})
	require.NoError(t, err)

	second, err := store.Save(ctx, "doc-1", Patch{"title": "v2"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, first.CreatedAt, second.CreatedAt, "creation timestamp is immutable")
	assert.True(t, !second.LastUpdated.Before(first.LastUpdated))
}

func TestSaveChangeTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "doc-1", Patch{"title": "v1", "summary": "short"})
	require.NoError(t, err)

	rec, err := store.Save(ctx, "doc-1", Patch{"title": "v2", "summary": nil, "owner": "tier2"})
	require.NoError(t, err)

	changes := rec.VersionHistory[len(rec.VersionHistory)-1].Changes
	assert.Contains(t, changes, "added:owner")
	assert.Contains(t, changes, "modified:title")
	assert.Contains(t, changes, "removed:summary")

	// Tokens are grouped added/modified/removed, each group sorted.
	var kinds []string
	for _, c := range changes {
		kinds = append(kinds, strings.SplitN(c, ":", 2)[0])
	}
	assert.Equal(t, []string{"added", "modified", "removed"}, kinds)
}

func TestSaveUnchangedFieldNotReported(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "doc-1", Patch{"title": "same", "owner": "tier1"})
	require.NoError(t, err)

	rec, err := store.Save(ctx, "doc-1", Patch{"title": "same", "owner": "tier2"})
	require.NoError(t, err)

	changes := rec.VersionHistory[len(rec.VersionHistory)-1].Changes
	assert.Equal(t, []string{"modified:owner"}, changes)
}

func TestSaveTargetVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "doc-1", Patch{"title": "v1"})
	require.NoError(t, err)

	// The write must produce exactly the target version.
	rec, err := store.Save(ctx, "doc-1", Patch{"title": "v2"}, WithTargetVersion(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)

	// Stale target: someone else already produced version 2.
	_, err = store.Save(ctx, "doc-1", Patch{"title": "v2b"}, WithTargetVersion(2))
	require.Error(t, err)
	assert.True(t, IsVersionConflict(err))

	var conflict *VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "doc-1", conflict.DocID)
	assert.Equal(t, int64(2), conflict.Expected)
	assert.Equal(t, int64(2), conflict.Current)

	// Skipping ahead is just as invalid.
	_, err = store.Save(ctx, "doc-1", Patch{"title": "v9"}, WithTargetVersion(9))
	assert.True(t, IsVersionConflict(err))
}

func TestSaveValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		docID string
		patch Patch
	}{
		{"empty doc id", "", Patch{"title": "x"}},
		{"empty patch", "doc-1", Patch{}},
		{"reserved key", "doc-1", Patch{"version": 5}},
		{"long field name", "doc-1", Patch{strings.Repeat("k", maxFieldNameLen+1): "x"}},
		{"long string value", "doc-1", Patch{"body": strings.Repeat("a", maxStringLen+1)}},
		{"bad date", "doc-1", Patch{"date": "not-a-date"}},
		{"non-string level", "doc-1", Patch{"level_1_category": 42}},
		{"non-string tag list", "doc-1", Patch{"auto_tags": []any{"ok", 7}}},
		{"too many tags", "doc-1", Patch{"auto_tags": make([]string, maxTags+1)}},
		{"unsupported type", "doc-1", Patch{"nested": map[string]int{"a": 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Save(ctx, tt.docID, tt.patch)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestSaveMergesTags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "doc-1", Patch{"auto_tags": []string{"billing", "refunds"}})
	require.NoError(t, err)

	rec, err := store.Save(ctx, "doc-1", Patch{"labels": []string{"invoices", "billing"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"billing", "invoices", "refunds"}, rec.AutoTags)
	assert.Equal(t, []string{"invoices", "billing"}, rec.Attrs["labels"])
}

func TestVersionHistoryCapped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < historyCap+2; i++ {
		_, err := store.Save(ctx, "doc-1", Patch{"note": fmt.Sprintf("n%d", i)})
		require.NoError(t, err)
	}

	rec, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)

	assert.Equal(t, int64(historyCap+2), rec.Version)
	require.Len(t, rec.VersionHistory, historyCap)
	assert.Equal(t, int64(3), rec.VersionHistory[0].Version, "oldest entries are dropped")
	assert.Equal(t, int64(historyCap+2), rec.VersionHistory[historyCap-1].Version)
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "doc-1", Patch{"title": "v1"})
	require.NoError(t, err)
	_, err = store.Save(ctx, "doc-1", Patch{"title": "v2"})
	require.NoError(t, err)

	live, err := store.GetVersion(ctx, "doc-1", 2)
	require.NoError(t, err)
	assert.False(t, live.Partial)
	assert.Equal(t, "v2", live.Attrs["title"])

	old, err := store.GetVersion(ctx, "doc-1", 1)
	require.NoError(t, err)
	assert.True(t, old.Partial)
	assert.Equal(t, int64(1), old.Version)
	assert.Nil(t, old.Attrs)
	assert.Contains(t, old.Changes, "added:title")

	_, err = store.GetVersion(ctx, "doc-1", 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchGetOmitsAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "doc-1", Patch{"title": "a"})
	require.NoError(t, err)
	_, err = store.Save(ctx, "doc-2", Patch{"title": "b"})
	require.NoError(t, err)

	records, err := store.BatchGet(ctx, []string{"doc-1", "ghost", "doc-2"})
	require.NoError(t, err)

	assert.Len(t, records, 2)
	assert.Contains(t, records, "doc-1")
	assert.Contains(t, records, "doc-2")
	assert.NotContains(t, records, "ghost")
}

func TestLocks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Save(ctx, "doc-1", Patch{"title": "a"})
	require.NoError(t, err)

	require.NoError(t, store.AcquireLock(ctx, "doc-1", time.Hour))

	err = store.AcquireLock(ctx, "doc-1", time.Hour)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	// A lock past its staleness window is taken over silently.
	require.NoError(t, store.AcquireLock(ctx, "doc-1", time.Nanosecond))

	require.NoError(t, store.ReleaseLock(ctx, "doc-1"))
	require.NoError(t, store.AcquireLock(ctx, "doc-1", time.Hour))

	// Lock traffic never bumps the document version.
	rec, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, created.Version, rec.Version)
	require.NotNil(t, rec.LockTimestamp)
}

func TestLockUnknownDocument(t *testing.T) {
	store := newTestStore(t)

	err := store.AcquireLock(context.Background(), "missing", time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveReturnsDetachedCopy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Save(ctx, "doc-1", Patch{"title": "a"})
	require.NoError(t, err)

	rec.Attrs["title"] = "mutated"
	rec.AutoTags = append(rec.AutoTags, "rogue")

	fresh, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "a", fresh.Attrs["title"])
	assert.NotContains(t, fresh.AutoTags, "rogue")
}
