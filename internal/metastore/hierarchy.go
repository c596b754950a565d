package metastore

import (
	"fmt"
	"strconv"
	"time"
)

// deriveHierarchy fills empty hierarchy levels from record attributes.
//
// Each level has a fixed, first-match-wins source chain. Levels the caller
// set explicitly (or that were derived on an earlier write) are left alone.
func deriveHierarchy(r *Record) {
	if r.Level1 == "" {
		r.Level1 = firstOf(
			attrString(r, "doc_type"),
			attrString(r, "category"),
			attrString(r, "source"),
			tagAt(r, 0),
			"document",
		)
	}
	if r.Level2 == "" {
		r.Level2 = firstOf(
			attrString(r, "tag"),
			tagAt(r, 1),
			attrString(r, "subdomain"),
		)
	}
	if r.Level3 == "" {
		r.Level3 = firstOf(
			attrString(r, "author"),
			attrString(r, "project"),
			tagAt(r, 2),
		)
	}
	if r.Level4 == "" {
		r.Level4 = firstOf(
			yearOf(r),
			yearPrefixOfDate(r),
			tagAt(r, 3),
		)
	}
	if r.Level5 == "" {
		r.Level5 = firstOf(
			attrString(r, "language"),
			attrString(r, "format"),
			tagAt(r, 4),
		)
	}
	if r.Level6 == "" {
		format := attrString(r, "format")
		if format != "" && format == r.Level5 {
			format = ""
		}
		r.Level6 = firstOf(
			format,
			attrString(r, "status"),
			attrString(r, "priority"),
			"general",
		)
	}
}

func firstOf(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

func attrString(r *Record, key string) string {
	if r.Attrs == nil {
		return ""
	}
	s, _ := r.Attrs[key].(string)
	return s
}

func tagAt(r *Record, i int) string {
	if i < len(r.AutoTags) {
		return r.AutoTags[i]
	}
	return ""
}

// yearOf normalizes the "year" attribute, which callers supply as either a
// string or a number.
func yearOf(r *Record) string {
	if r.Attrs == nil {
		return ""
	}
	switch v := r.Attrs["year"].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return fmt.Sprintf("%d", int64(v))
	}
	return ""
}

// yearPrefixOfDate extracts the year from a "date" attribute.
func yearPrefixOfDate(r *Record) string {
	date := attrString(r, "date")
	if date == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, date); err == nil {
			return strconv.Itoa(t.Year())
		}
	}
	if len(date) >= 4 {
		if _, err := strconv.Atoi(date[:4]); err == nil {
			return date[:4]
		}
	}
	return ""
}
