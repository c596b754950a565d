package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintNormalizesEquivalentRequests(t *testing.T) {
	base := Fingerprint(Request{
		Query:           "refund policy",
		MetadataFilters: map[string]any{"doc_type": "faq", "year": 2024},
		Tags:            []string{"billing", "refunds"},
		PathQuery:       "faq",
		Limit:           10,
		ScoreThreshold:  0.5,
	})

	variants := []Request{
		{
			Query:           "  Refund POLICY  ",
			MetadataFilters: map[string]any{"year": 2024, "doc_type": "faq"},
			Tags:            []string{"Refunds", "BILLING"},
			PathQuery:       " FAQ ",
			Limit:           10,
			ScoreThreshold:  0.5,
		},
		{
			Query:           "refund policy",
			MetadataFilters: map[string]any{"doc_type": "faq", "year": 2024},
			Tags:            []string{"refunds", "billing"},
			PathQuery:       "faq",
			Limit:           10,
			ScoreThreshold:  0.5,
		},
	}

	for _, v := range variants {
		assert.Equal(t, base, Fingerprint(v))
	}
}

func TestFingerprintDistinguishesRequests(t *testing.T) {
	base := Request{Query: "refund policy", Limit: 10, ScoreThreshold: 0.5}

	seen := map[string]bool{Fingerprint(base): true}

	different := []Request{
		{Query: "cancellation policy", Limit: 10, ScoreThreshold: 0.5},
		{Query: "refund policy", Limit: 20, ScoreThreshold: 0.5},
		{Query: "refund policy", Limit: 10, ScoreThreshold: 0.7},
		{Query: "refund policy", Limit: 10, ScoreThreshold: 0.5, Tags: []string{"billing"}},
		{Query: "refund policy", Limit: 10, ScoreThreshold: 0.5, MetadataFilters: map[string]any{"doc_type": "faq"}},
		{Query: "refund policy", Limit: 10, ScoreThreshold: 0.5, PathQuery: "faq"},
	}

	for _, req := range different {
		fp := Fingerprint(req)
		assert.False(t, seen[fp], "fingerprint collision for %+v", req)
		seen[fp] = true
	}
}
