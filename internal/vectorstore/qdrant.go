package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var qdrantTracer = otel.Tracer("retrievald.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC searcher.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port). Default: 6334.
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Collection is the collection name. Default: "retrievald_documents".
	Collection string

	// VectorSize is the embedding dimension used when creating the
	// collection. Must match the embedder's output dimension.
	VectorSize uint64

	// MaxMessageSize is the maximum gRPC message size in bytes. Default: 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "retrievald_documents"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// QdrantSearcher implements Searcher against an external Qdrant instance.
//
// The original document id travels in the payload "id" field because Qdrant
// point ids must be UUIDs.
type QdrantSearcher struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
}

// NewQdrantSearcher connects to Qdrant and verifies the connection.
func NewQdrantSearcher(config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantSearcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	s := &QdrantSearcher{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}

	logger.Info("qdrant searcher initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
	)

	return s, nil
}

// Search implements Searcher.
func (s *QdrantSearcher) Search(ctx context.Context, query string, k int, threshold float32) ([]Candidate, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantSearcher.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", k),
	)

	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrSearchFailed)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrSearchFailed, k)
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		ScoreThreshold: qdrant.PtrOf(threshold),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	candidates := make([]Candidate, 0, len(points))
	for _, point := range points {
		c := Candidate{Score: point.Score}
		if point.Payload != nil {
			c.RawMetadata = make(map[string]any, len(point.Payload))
			for key, value := range point.Payload {
				switch v := value.Kind.(type) {
				case *qdrant.Value_StringValue:
					c.RawMetadata[key] = v.StringValue
					if key == "id" {
						c.ID = v.StringValue
					}
				case *qdrant.Value_IntegerValue:
					c.RawMetadata[key] = v.IntegerValue
				case *qdrant.Value_DoubleValue:
					c.RawMetadata[key] = v.DoubleValue
				case *qdrant.Value_BoolValue:
					c.RawMetadata[key] = v.BoolValue
				}
			}
		}
		candidates = append(candidates, c)
	}

	span.SetAttributes(attribute.Int("results", len(candidates)))
	span.SetStatus(codes.Ok, "success")
	return candidates, nil
}

// Upsert implements Searcher.
func (s *QdrantSearcher) Upsert(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantSearcher.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(docs)))

	if len(docs) == 0 {
		return nil, nil
	}

	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	points := make([]*qdrant.PointStruct, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID

		payload := map[string]*qdrant.Value{
			"id":      {Kind: &qdrant.Value_StringValue{StringValue: doc.ID}},
			"content": {Kind: &qdrant.Value_StringValue{StringValue: doc.Content}},
		}
		for k, v := range doc.Metadata {
			switch val := v.(type) {
			case string:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
			case int:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
			case int64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
			case float64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
			case bool:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
			}
		}

		// Qdrant point ids must be UUIDs; non-UUID document ids get a fresh
		// point id while the real id stays in the payload.
		pointID := doc.ID
		if _, err := uuid.Parse(pointID); err != nil {
			pointID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(doc.ID)).String()
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: payload,
		}
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Points:         points,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upserting points to %s: %w", s.config.Collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

func (s *QdrantSearcher) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// Close implements Searcher.
func (s *QdrantSearcher) Close() error {
	return s.client.Close()
}
