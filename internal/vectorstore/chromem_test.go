package vectorstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder maps texts onto fixed orthogonal unit vectors so
// similarity is fully deterministic: same topic scores 1, different topic
// scores 0.
type keywordEmbedder struct{}

func (keywordEmbedder) embed(text string) []float32 {
	switch {
	case strings.Contains(strings.ToLower(text), "refund"):
		return []float32{1, 0, 0}
	case strings.Contains(strings.ToLower(text), "shipping"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func (e keywordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e keywordEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func newChromemForTest(t *testing.T) *ChromemSearcher {
	t.Helper()
	s, err := NewChromemSearcher(ChromemConfig{}, keywordEmbedder{}, nil)
	require.NoError(t, err)
	return s
}

func TestChromemUpsertAndSearch(t *testing.T) {
	s := newChromemForTest(t)
	ctx := context.Background()

	ids, err := s.Upsert(ctx, []Document{
		{ID: "doc-refund", Content: "how to request a refund", Metadata: map[string]any{"doc_type": "faq"}},
		{ID: "doc-shipping", Content: "shipping times and carriers"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-refund", "doc-shipping"}, ids)

	candidates, err := s.Search(ctx, "refund policy", 5, 0.5)
	require.NoError(t, err)

	require.Len(t, candidates, 1, "orthogonal topics fall below the threshold")
	assert.Equal(t, "doc-refund", candidates[0].ID)
	assert.InDelta(t, 1.0, candidates[0].Score, 0.01)
	assert.Equal(t, "faq", candidates[0].RawMetadata["doc_type"])
}

func TestChromemSearchEmptyCollection(t *testing.T) {
	s := newChromemForTest(t)

	candidates, err := s.Search(context.Background(), "anything", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestChromemSearchValidation(t *testing.T) {
	s := newChromemForTest(t)
	ctx := context.Background()

	_, err := s.Search(ctx, "", 5, 0)
	assert.ErrorIs(t, err, ErrSearchFailed)

	_, err = s.Search(ctx, "q", 0, 0)
	assert.ErrorIs(t, err, ErrSearchFailed)
}

func TestChromemRequiresEmbedder(t *testing.T) {
	_, err := NewChromemSearcher(ChromemConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
