// Package metastore provides the versioned metadata store backing hybrid
// retrieval.
//
// Records are keyed by document id and carry a monotonically increasing
// version, a compact change history, and a six level hierarchical
// classification derived from caller supplied fields. Writes go through
// optimistic concurrency: versioning is server assigned by default, with an
// optional explicit expected-version check for callers that need it.
package metastore

import (
	"strings"
	"time"
)

// historyCap is the maximum number of version history entries retained per
// record. Older entries are dropped; historical full-state is not kept.
const historyCap = 10

// VersionEntry summarizes a single accepted write.
//
// Changes holds compact tokens of the form "added:<field>",
// "modified:<field>" and "removed:<field>" rather than full snapshots.
type VersionEntry struct {
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Changes   []string  `json:"changes"`
}

// Record is a versioned metadata document.
//
// Well-known fields are typed; everything else a caller writes lives in
// Attrs. DocID and CreatedAt are immutable after creation.
type Record struct {
	DocID       string    `json:"doc_id"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`

	// VersionHistory holds the ten most recent change summaries, oldest first.
	VersionHistory []VersionEntry `json:"version_history,omitempty"`

	// Level1..Level6 form the hierarchical classification. Empty means unset.
	// Auto-derivation only fills empty levels and never overwrites a value a
	// caller set explicitly.
	Level1 string `json:"level_1_category,omitempty"`
	Level2 string `json:"level_2_category,omitempty"`
	Level3 string `json:"level_3_category,omitempty"`
	Level4 string `json:"level_4_category,omitempty"`
	Level5 string `json:"level_5_category,omitempty"`
	Level6 string `json:"level_6_category,omitempty"`

	// AutoTags is the merged set of machine tags and caller labels, sorted.
	AutoTags []string `json:"auto_tags,omitempty"`

	// LockTimestamp, when non-nil, signals an in-progress exclusive operation.
	// The lock is advisory: it does not block Save or Get.
	LockTimestamp *time.Time `json:"lock_timestamp,omitempty"`

	// Attrs holds caller supplied fields (doc_type, category, author, ...).
	Attrs map[string]any `json:"attrs,omitempty"`

	// Partial marks a record reconstructed from version history. Only
	// Version, LastUpdated and the originating change tokens are meaningful.
	Partial bool `json:"partial,omitempty"`

	// Changes is populated only on partial reconstructions.
	Changes []string `json:"changes,omitempty"`
}

// Levels returns the populated hierarchy values in order, skipping unset ones.
func (r *Record) Levels() []string {
	out := make([]string, 0, 6)
	for _, lvl := range []string{r.Level1, r.Level2, r.Level3, r.Level4, r.Level5, r.Level6} {
		if lvl != "" {
			out = append(out, lvl)
		}
	}
	return out
}

// HierarchyPath joins the populated hierarchy levels with " > ".
// A record with no populated level yields "Uncategorized".
func (r *Record) HierarchyPath() string {
	levels := r.Levels()
	if len(levels) == 0 {
		return "Uncategorized"
	}
	return strings.Join(levels, " > ")
}

// HasTag reports whether the record carries the tag, case-insensitively.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.AutoTags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never alias store-owned state.
func (r *Record) Clone() *Record {
	cp := *r
	if r.VersionHistory != nil {
		cp.VersionHistory = make([]VersionEntry, len(r.VersionHistory))
		for i, e := range r.VersionHistory {
			cp.VersionHistory[i] = e
			cp.VersionHistory[i].Changes = append([]string(nil), e.Changes...)
		}
	}
	cp.AutoTags = append([]string(nil), r.AutoTags...)
	if r.LockTimestamp != nil {
		ts := *r.LockTimestamp
		cp.LockTimestamp = &ts
	}
	if r.Attrs != nil {
		cp.Attrs = make(map[string]any, len(r.Attrs))
		for k, v := range r.Attrs {
			cp.Attrs[k] = v
		}
	}
	cp.Changes = append([]string(nil), r.Changes...)
	return &cp
}
