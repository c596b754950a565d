package metastore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader drives BatchFetcher through its bulk and fallback paths.
type fakeReader struct {
	records   map[string]*Record
	batchErr  error
	getErrs   map[string]error
	batchHits atomic.Int64
	getHits   atomic.Int64
}

func (f *fakeReader) Get(ctx context.Context, docID string) (*Record, error) {
	f.getHits.Add(1)
	if err, ok := f.getErrs[docID]; ok {
		return nil, err
	}
	rec, ok := f.records[docID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (f *fakeReader) BatchGet(ctx context.Context, docIDs []string) (map[string]*Record, error) {
	f.batchHits.Add(1)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make(map[string]*Record, len(docIDs))
	for _, id := range docIDs {
		if rec, ok := f.records[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func TestFetchAllPrefersBulkPath(t *testing.T) {
	reader := &fakeReader{records: map[string]*Record{
		"doc-1": {DocID: "doc-1"},
		"doc-2": {DocID: "doc-2"},
	}}
	fetcher, err := NewBatchFetcher(reader, 4, nil)
	require.NoError(t, err)

	out := fetcher.FetchAll(context.Background(), []string{"doc-1", "doc-2", "ghost"})

	assert.Len(t, out, 2)
	assert.Equal(t, int64(1), reader.batchHits.Load())
	assert.Equal(t, int64(0), reader.getHits.Load())
}

func TestFetchAllFallsBackToFanOut(t *testing.T) {
	reader := &fakeReader{
		records: map[string]*Record{
			"doc-1": {DocID: "doc-1"},
			"doc-3": {DocID: "doc-3"},
		},
		batchErr: errors.New("bulk path down"),
		getErrs:  map[string]error{"doc-2": errors.New("transient read failure")},
	}
	fetcher, err := NewBatchFetcher(reader, 2, nil)
	require.NoError(t, err)

	out := fetcher.FetchAll(context.Background(), []string{"doc-1", "doc-2", "doc-3", "ghost"})

	// Failed and absent ids are omitted, never fatal.
	assert.Len(t, out, 2)
	assert.Contains(t, out, "doc-1")
	assert.Contains(t, out, "doc-3")
	assert.Equal(t, int64(4), reader.getHits.Load())
}

func TestFetchAllEmptyInput(t *testing.T) {
	fetcher, err := NewBatchFetcher(&fakeReader{}, 0, nil)
	require.NoError(t, err)

	out := fetcher.FetchAll(context.Background(), nil)
	assert.Empty(t, out)
}

func TestNewBatchFetcherRequiresReader(t *testing.T) {
	_, err := NewBatchFetcher(nil, 4, nil)
	assert.Error(t, err)
}
