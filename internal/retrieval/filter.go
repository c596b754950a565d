package retrieval

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/retrievald/internal/metastore"
)

// matchesMetadata reports whether a record satisfies every filter pair.
//
// A pair matches when the field exists and either equals the filter value
// (non-string values) or contains it case-insensitively (string values).
// AND semantics: all pairs must match.
func matchesMetadata(rec *metastore.Record, filters map[string]any) bool {
	for field, want := range filters {
		got, ok := lookupField(rec, field)
		if !ok {
			return false
		}
		wantStr, wantIsStr := want.(string)
		gotStr, gotIsStr := got.(string)
		if wantIsStr && gotIsStr {
			if !strings.Contains(strings.ToLower(gotStr), strings.ToLower(wantStr)) {
				return false
			}
			continue
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// matchesTags reports whether any record tag equals any requested tag,
// case-insensitively. OR semantics across tags.
func matchesTags(rec *metastore.Record, tags []string) bool {
	for _, tag := range tags {
		if rec.HasTag(tag) {
			return true
		}
	}
	return false
}

// matchesPath reports whether the trimmed, case-insensitive path query is a
// substring of any populated hierarchy level.
func matchesPath(rec *metastore.Record, pathQuery string) bool {
	needle := strings.ToLower(strings.TrimSpace(pathQuery))
	for _, level := range rec.Levels() {
		if strings.Contains(strings.ToLower(level), needle) {
			return true
		}
	}
	return false
}

// lookupField resolves a filterable field on a record: caller attributes
// first, then hierarchy levels.
func lookupField(rec *metastore.Record, field string) (any, bool) {
	if v, ok := rec.Attrs[field]; ok {
		return v, true
	}
	levels := map[string]string{
		"level_1_category": rec.Level1,
		"level_2_category": rec.Level2,
		"level_3_category": rec.Level3,
		"level_4_category": rec.Level4,
		"level_5_category": rec.Level5,
		"level_6_category": rec.Level6,
	}
	if v, ok := levels[field]; ok && v != "" {
		return v, true
	}
	return nil, false
}
