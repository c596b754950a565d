// Package vectorstore defines the vector search collaborator contract and its
// implementations.
//
// The retrieval engine treats similarity search as opaque: it consumes a
// candidate list pre-sorted by score descending with scores in [0,1] and
// never looks inside the index. Implementations delegate entirely to an
// embedded chromem-go database or an external Qdrant instance.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrSearchFailed indicates the similarity search call itself failed.
	ErrSearchFailed = errors.New("vector search failed")
)

// Candidate is a single similarity-search hit.
type Candidate struct {
	// ID is the document identifier.
	ID string

	// Score is the similarity score in [0,1], higher is more similar.
	Score float32

	// RawMetadata is the sparse payload stored alongside the vector.
	// Authoritative metadata comes from the metadata store, not from here.
	RawMetadata map[string]any
}

// Document is a document to be indexed.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the similarity search contract consumed by retrieval.
//
// Candidates come back sorted by score descending, capped at k, with every
// score below threshold already dropped. Search has no side effects.
type Searcher interface {
	// Search returns up to k candidates for the query above threshold.
	Search(ctx context.Context, query string, k int, threshold float32) ([]Candidate, error)

	// Upsert adds or replaces documents in the index.
	Upsert(ctx context.Context, docs []Document) ([]string, error)

	// Close releases index resources.
	Close() error
}
