package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("retrievald.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name documents and queries target.
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "retrievald_documents"
	}
}

// ChromemSearcher implements Searcher on chromem-go.
//
// chromem-go is an embeddable pure-Go vector database; no external service is
// needed. Similarity internals are the library's business entirely.
type ChromemSearcher struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger
}

// NewChromemSearcher creates a ChromemSearcher with the given configuration.
func NewChromemSearcher(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemSearcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	var (
		db  *chromem.DB
		err error
	)
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path := expandPath(config.Path)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	s := &ChromemSearcher{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	logger.Info("chromem searcher initialized",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
	)

	return s, nil
}

func (s *ChromemSearcher) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemSearcher) collection() (*chromem.Collection, error) {
	return s.db.GetOrCreateCollection(s.config.Collection, nil, s.embeddingFunc())
}

// Search implements Searcher.
func (s *ChromemSearcher) Search(ctx context.Context, query string, k int, threshold float32) ([]Candidate, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemSearcher.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrSearchFailed)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrSearchFailed, k)
	}

	col, err := s.collection()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	// chromem requires nResults <= document count.
	count := col.Count()
	if count == 0 {
		return []Candidate{}, nil
	}
	if k > count {
		k = count
	}

	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		if r.Similarity < threshold {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:          r.ID,
			Score:       r.Similarity,
			RawMetadata: metadataFromStrings(r.Metadata),
		})
	}

	span.SetAttributes(attribute.Int("results", len(candidates)))
	span.SetStatus(codes.Ok, "success")
	return candidates, nil
}

// Upsert implements Searcher.
func (s *ChromemSearcher) Upsert(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	col, err := s.collection()
	if err != nil {
		return nil, err
	}

	chromemDocs := make([]chromem.Document, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		chromemDocs = append(chromemDocs, chromem.Document{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: metadataToStrings(d.Metadata),
		})
		ids = append(ids, d.ID)
	}

	if err := col.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return nil, fmt.Errorf("adding documents to %s: %w", s.config.Collection, err)
	}

	s.logger.Debug("upserted documents", zap.Int("count", len(ids)))
	return ids, nil
}

// Close implements Searcher. The embedded database has nothing to close.
func (s *ChromemSearcher) Close() error { return nil }

func metadataToStrings(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func metadataFromStrings(m map[string]string) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
