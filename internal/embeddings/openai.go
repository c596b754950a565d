// Package embeddings provides embedding generation for the retrieval engine.
//
// The provider speaks the OpenAI embeddings API, which also covers
// OpenAI-compatible backends (ollama, TEI, siliconflow, ...). Failures
// surface as ErrEmbedding; the engine does not retry embedding calls.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/retrievald/internal/vectorstore"
)

// ErrEmbedding is the distinct error kind for embedding failures.
var ErrEmbedding = errors.New("embedding generation failed")

const (
	defaultModel     = "text-embedding-3-small"
	defaultDimension = 1536
	defaultRateLimit = 10 // requests per second
	defaultBurst     = 20
)

// Config configures the OpenAI-compatible embedding provider.
type Config struct {
	// APIKey authenticates against the embeddings endpoint.
	APIKey string

	// BaseURL overrides the endpoint for OpenAI-compatible providers.
	BaseURL string

	// Model is the embedding model name. Default: text-embedding-3-small.
	Model string

	// Dimension is the embedding dimension. Default: 1536.
	Dimension int

	// RequestsPerSecond rate-limits outbound calls. Default: 10.
	RequestsPerSecond float64
}

// Provider implements vectorstore.Embedder over the OpenAI embeddings API.
type Provider struct {
	client    *openai.Client
	model     string
	dimension int
	limiter   *rate.Limiter
	logger    *zap.Logger
}

var _ vectorstore.Embedder = (*Provider)(nil)

// NewProvider creates an embedding provider.
func NewProvider(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrEmbedding)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = defaultDimension
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRateLimit
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		limiter:   rate.NewLimiter(rate.Limit(rps), defaultBurst),
		logger:    logger,
	}, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *Provider) Dimension() int {
	return p.dimension
}

// EmbedDocuments implements vectorstore.Embedder.
func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", ErrEmbedding)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbedding, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}

	p.logger.Debug("generated embeddings",
		zap.Int("texts", len(texts)),
		zap.String("model", p.model),
	)

	return vectors, nil
}

// EmbedQuery implements vectorstore.Embedder.
func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
