package metastore

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultFetchConcurrency caps in-flight per-document fetches during fallback.
const DefaultFetchConcurrency = 10

// Reader is the read-side of the metadata store consumed by BatchFetcher.
type Reader interface {
	Get(ctx context.Context, docID string) (*Record, error)
	BatchGet(ctx context.Context, docIDs []string) (map[string]*Record, error)
}

// BatchFetcher resolves metadata for a set of document ids.
//
// It prefers the store's native bulk path and falls back to a bounded
// fan-out of single gets when the bulk call fails. Partial results are valid
// and expected: an id whose fetch fails is logged and omitted, never aborting
// the batch.
type BatchFetcher struct {
	reader      Reader
	concurrency int64
	logger      *zap.Logger
}

// NewBatchFetcher creates a fetcher over reader. A non-positive concurrency
// falls back to DefaultFetchConcurrency.
func NewBatchFetcher(reader Reader, concurrency int, logger *zap.Logger) (*BatchFetcher, error) {
	if reader == nil {
		return nil, errors.New("reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	return &BatchFetcher{
		reader:      reader,
		concurrency: int64(concurrency),
		logger:      logger,
	}, nil
}

// FetchAll returns metadata for the given ids, keyed by id.
func (f *BatchFetcher) FetchAll(ctx context.Context, docIDs []string) map[string]*Record {
	if len(docIDs) == 0 {
		return map[string]*Record{}
	}

	records, err := f.reader.BatchGet(ctx, docIDs)
	if err == nil {
		return records
	}
	f.logger.Warn("batch get failed, falling back to bounded fan-out",
		zap.Int("ids", len(docIDs)),
		zap.Error(err),
	)

	return f.fanOut(ctx, docIDs)
}

// fanOut fetches ids individually with at most f.concurrency in flight.
// Admission is semaphore-style: callers beyond the cap block until a slot
// frees rather than queueing unbounded work against the store.
func (f *BatchFetcher) fanOut(ctx context.Context, docIDs []string) map[string]*Record {
	sem := semaphore.NewWeighted(f.concurrency)

	var (
		mu  sync.Mutex
		out = make(map[string]*Record, len(docIDs))
		wg  sync.WaitGroup
	)

	for _, id := range docIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled; whatever is already fetched still counts.
			break
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer sem.Release(1)

			rec, err := f.reader.Get(ctx, id)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					f.logger.Warn("dropping document from batch",
						zap.String("doc_id", id),
						zap.Error(err),
					)
				}
				return
			}

			mu.Lock()
			out[id] = rec
			mu.Unlock()
		}(id)
	}

	wg.Wait()
	return out
}
