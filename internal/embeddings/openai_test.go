package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embeddingsHandler fakes an OpenAI-compatible /embeddings endpoint that
// returns one fixed vector per input text.
func embeddingsHandler(t *testing.T, dim int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type datum struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Object string  `json:"object"`
			Model  string  `json:"model"`
			Data   []datum `json:"data"`
		}{Object: "list", Model: req.Model}

		for i := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(i + 1)
			resp.Data = append(resp.Data, datum{Object: "embedding", Index: i, Embedding: vec})
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	_, err := NewProvider(Config{}, nil)
	assert.ErrorIs(t, err, ErrEmbedding)
}

func TestEmbedDocuments(t *testing.T) {
	srv := httptest.NewServer(embeddingsHandler(t, 4))
	defer srv.Close()

	p, err := NewProvider(Config{
		APIKey:    "test-key",
		BaseURL:   srv.URL,
		Dimension: 4,
	}, nil)
	require.NoError(t, err)

	vectors, err := p.EmbedDocuments(context.Background(), []string{"first", "second"})
	require.NoError(t, err)

	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 4)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
}

func TestEmbedQuery(t *testing.T) {
	srv := httptest.NewServer(embeddingsHandler(t, 4))
	defer srv.Close()

	p, err := NewProvider(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	vec, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestEmbedDocumentsEmptyInput(t *testing.T) {
	p, err := NewProvider(Config{APIKey: "test-key"}, nil)
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmbedding)
}
