package metastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveHierarchyFullChain(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Save(context.Background(), "doc-1", Patch{
		"doc_type": "runbook",
		"tag":      "networking",
		"author":   "dana",
		"year":     2024,
		"language": "en",
		"format":   "markdown",
	})
	require.NoError(t, err)

	assert.Equal(t, "runbook", rec.Level1)
	assert.Equal(t, "networking", rec.Level2)
	assert.Equal(t, "dana", rec.Level3)
	assert.Equal(t, "2024", rec.Level4)
	assert.Equal(t, "en", rec.Level5)
	assert.Equal(t, "markdown", rec.Level6)
	assert.Equal(t, "runbook > networking > dana > 2024 > en > markdown", rec.HierarchyPath())
}

func TestDeriveHierarchyDefaults(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Save(context.Background(), "doc-1", Patch{"title": "bare"})
	require.NoError(t, err)

	assert.Equal(t, "document", rec.Level1)
	assert.Empty(t, rec.Level2)
	assert.Empty(t, rec.Level3)
	assert.Empty(t, rec.Level4)
	assert.Empty(t, rec.Level5)
	assert.Equal(t, "general", rec.Level6)
	assert.Equal(t, "document > general", rec.HierarchyPath())
}

func TestDeriveHierarchyFromTags(t *testing.T) {
	store := newTestStore(t)

	// Tags are stored as a sorted set, so positional fallbacks read the
	// sorted order: alpha, beta, gamma.
	rec, err := store.Save(context.Background(), "doc-1", Patch{
		"auto_tags": []string{"gamma", "alpha", "beta"},
	})
	require.NoError(t, err)

	assert.Equal(t, "alpha", rec.Level1)
	assert.Equal(t, "beta", rec.Level2)
	assert.Equal(t, "gamma", rec.Level3)
}

func TestDeriveHierarchyFormatDedupe(t *testing.T) {
	store := newTestStore(t)

	// With no language, format lands on level 5 and must not repeat on
	// level 6.
	rec, err := store.Save(context.Background(), "doc-1", Patch{
		"format": "pdf",
		"status": "published",
	})
	require.NoError(t, err)

	assert.Equal(t, "pdf", rec.Level5)
	assert.Equal(t, "published", rec.Level6)
}

func TestDeriveHierarchyYearFromDate(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Save(context.Background(), "doc-1", Patch{"date": "2023-07-14"})
	require.NoError(t, err)

	assert.Equal(t, "2023", rec.Level4)
}

func TestDeriveHierarchyNeverOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "doc-1", Patch{"level_1_category": "Policies"})
	require.NoError(t, err)

	// A later doc_type would win derivation, but the explicit level stays.
	rec, err := store.Save(ctx, "doc-1", Patch{"doc_type": "faq"})
	require.NoError(t, err)

	assert.Equal(t, "Policies", rec.Level1)
}

func TestHierarchyPathUncategorized(t *testing.T) {
	rec := &Record{DocID: "doc-1"}
	assert.Equal(t, "Uncategorized", rec.HierarchyPath())
}
