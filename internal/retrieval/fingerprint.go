package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint derives the deterministic cache key for a request.
//
// The query text is canonicalized (trimmed, lowercased) and the filter map
// and tag list are serialized in sorted order, so two logically identical
// requests always map to the same key regardless of ordering.
func Fingerprint(req Request) string {
	var b strings.Builder

	b.WriteString("q=")
	b.WriteString(strings.ToLower(strings.TrimSpace(req.Query)))

	b.WriteString("|f=")
	keys := make([]string, 0, len(req.MetadataFilters))
	for k := range req.MetadataFilters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s:%v;", k, req.MetadataFilters[k])
	}

	b.WriteString("|t=")
	tags := make([]string, 0, len(req.Tags))
	for _, t := range req.Tags {
		tags = append(tags, strings.ToLower(t))
	}
	sort.Strings(tags)
	b.WriteString(strings.Join(tags, ","))

	b.WriteString("|p=")
	b.WriteString(strings.ToLower(strings.TrimSpace(req.PathQuery)))

	fmt.Fprintf(&b, "|l=%d|s=%g", req.Limit, req.ScoreThreshold)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}
