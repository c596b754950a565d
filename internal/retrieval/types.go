// Package retrieval implements the hybrid retrieval engine: it merges ranked
// vector candidates with versioned metadata under concurrent filters, and
// caches finished results keyed by a normalized query fingerprint.
package retrieval

import (
	"github.com/fyrsmithlabs/retrievald/internal/metastore"
)

// Request describes a single retrieval.
type Request struct {
	// Query is the free-text query.
	Query string `json:"query"`

	// MetadataFilters keeps only records where every field matches: exact
	// match for non-string values, case-insensitive substring for strings.
	MetadataFilters map[string]any `json:"metadata_filters,omitempty"`

	// Tags keeps records carrying any of the given tags (case-insensitive).
	Tags []string `json:"tags,omitempty"`

	// PathQuery keeps records whose hierarchy contains the (trimmed,
	// case-insensitive) substring at any populated level.
	PathQuery string `json:"path_query,omitempty"`

	// Limit caps the result size.
	Limit int `json:"limit"`

	// ScoreThreshold drops vector candidates scoring below it.
	ScoreThreshold float32 `json:"score_threshold"`
}

// Item is one enriched retrieval hit.
type Item struct {
	DocID         string            `json:"doc_id"`
	Score         float32           `json:"score"`
	Metadata      *metastore.Record `json:"metadata"`
	HierarchyPath string            `json:"hierarchy_path"`
	Version       int64             `json:"version"`
}

// Result is an ordered, capped, enriched result set.
type Result struct {
	Items []Item `json:"items"`

	// Cached is true when the result was served from the result cache.
	Cached bool `json:"cached"`
}

// clone deep-copies the result so cached entries and caller-visible results
// never alias each other.
func (r *Result) clone() *Result {
	cp := *r
	cp.Items = make([]Item, len(r.Items))
	for i, it := range r.Items {
		if it.Metadata != nil {
			it.Metadata = it.Metadata.Clone()
		}
		cp.Items[i] = it
	}
	return &cp
}
