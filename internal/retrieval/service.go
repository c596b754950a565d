package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/metastore"
	"github.com/fyrsmithlabs/retrievald/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/retrievald/internal/retrieval"

// Fetcher resolves metadata for candidate ids; metastore.BatchFetcher in
// production, fakes in tests.
type Fetcher interface {
	FetchAll(ctx context.Context, docIDs []string) map[string]*metastore.Record
}

// Service is the retrieval orchestrator.
type Service interface {
	// Retrieve runs the full merge: cache lookup, vector search, metadata
	// enrichment, filtering, ranking and cache store.
	Retrieve(ctx context.Context, req Request) (*Result, error)
}

// Config configures the orchestrator.
type Config struct {
	// DefaultLimit caps results when a request leaves Limit unset.
	DefaultLimit int

	// MaxLimit is the hard upper bound on a request's Limit.
	MaxLimit int

	// CandidateMultiplier scales the vector search request over the limit to
	// leave headroom for filtering loss.
	CandidateMultiplier int

	// DefaultScoreThreshold applies when a request leaves ScoreThreshold
	// unset. Zero disables threshold filtering.
	DefaultScoreThreshold float32
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultLimit:        10,
		MaxLimit:            100,
		CandidateMultiplier: 2,
	}
}

// service implements Service.
type service struct {
	config   *Config
	searcher vectorstore.Searcher
	fetcher  Fetcher
	cache    *Cache
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *Metrics
}

// NewService creates the orchestrator.
//
// All collaborators are explicit constructor dependencies; the composition
// root owns their lifecycle.
func NewService(cfg *Config, searcher vectorstore.Searcher, fetcher Fetcher, cache *Cache, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &service{
		config:   cfg,
		searcher: searcher,
		fetcher:  fetcher,
		cache:    cache,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}, nil
}

// SetMetrics attaches optional metrics tracking to a service.
func SetMetrics(s Service, m *Metrics) {
	if svc, ok := s.(*service); ok {
		svc.metrics = m
		svc.cache.SetMetrics(m)
	}
}

// Retrieve implements Service.
func (s *service) Retrieve(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	start := time.Now()

	if req.Query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	req.Limit = limit
	if req.ScoreThreshold == 0 {
		req.ScoreThreshold = s.config.DefaultScoreThreshold
	}

	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.Int("metadata_filters", len(req.MetadataFilters)),
		attribute.Int("tags", len(req.Tags)),
	)

	key := Fingerprint(req)
	if cached, ok := s.cache.Get(key); ok {
		span.SetAttributes(attribute.Bool("cached", true))
		s.countOutcome("hit")
		hit := cached.clone()
		hit.Cached = true
		return hit, nil
	}

	candidates, err := s.searcher.Search(ctx, req.Query, limit*s.config.CandidateMultiplier, req.ScoreThreshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.countOutcome("error")
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	result := s.merge(ctx, req, candidates)

	// Empty results are valid and cacheable: the same query will be just as
	// empty next time. The cache keeps its own copy so the returned result
	// stays caller-owned.
	s.cache.Put(key, result.clone())
	s.countOutcome("miss")
	s.observeDuration(time.Since(start))

	span.SetAttributes(attribute.Int("results", len(result.Items)))
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

// merge enriches candidates with metadata, filters, ranks and truncates.
// Filtering always operates on the complete fetched metadata set.
func (s *service) merge(ctx context.Context, req Request, candidates []vectorstore.Candidate) *Result {
	ids := make([]string, 0, len(candidates))
	byID := make(map[string]float32, len(candidates))
	order := make(map[string]int, len(candidates))
	for i, c := range candidates {
		if c.ID == "" {
			continue
		}
		if _, dup := byID[c.ID]; dup {
			// First occurrence wins when a searcher returns an id twice.
			continue
		}
		ids = append(ids, c.ID)
		byID[c.ID] = c.Score
		order[c.ID] = i
	}
	if len(ids) == 0 {
		return &Result{Items: []Item{}}
	}

	records := s.fetcher.FetchAll(ctx, ids)

	type scored struct {
		rec   *metastore.Record
		score float32
		pos   int
	}
	working := make([]scored, 0, len(records))
	for _, id := range ids {
		rec, ok := records[id]
		if !ok {
			// Candidate without metadata never surfaces to the caller.
			continue
		}
		working = append(working, scored{rec: rec, score: byID[id], pos: order[id]})
	}

	kept := working[:0]
	for _, w := range working {
		if len(req.MetadataFilters) > 0 && !matchesMetadata(w.rec, req.MetadataFilters) {
			s.countFiltered()
			continue
		}
		if len(req.Tags) > 0 && !matchesTags(w.rec, req.Tags) {
			s.countFiltered()
			continue
		}
		if req.PathQuery != "" && !matchesPath(w.rec, req.PathQuery) {
			s.countFiltered()
			continue
		}
		kept = append(kept, w)
	}

	// Stable sort: ties keep the vector search order.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].score > kept[j].score
	})
	if len(kept) > req.Limit {
		kept = kept[:req.Limit]
	}

	items := make([]Item, 0, len(kept))
	for _, w := range kept {
		items = append(items, Item{
			DocID:         w.rec.DocID,
			Score:         w.score,
			Metadata:      w.rec,
			HierarchyPath: w.rec.HierarchyPath(),
			Version:       w.rec.Version,
		})
	}

	s.logger.Debug("merged retrieval result",
		zap.Int("candidates", len(candidates)),
		zap.Int("with_metadata", len(working)),
		zap.Int("results", len(items)),
	)

	return &Result{Items: items}
}

func (s *service) countOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RetrievalsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *service) countFiltered() {
	if s.metrics != nil {
		s.metrics.CandidatesFiltered.Inc()
	}
}

func (s *service) observeDuration(d time.Duration) {
	if s.metrics != nil {
		s.metrics.RetrievalDuration.Observe(d.Seconds())
	}
}
