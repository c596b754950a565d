package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	maxFieldNameLen = 64
	maxStringLen    = 8192
	maxTags         = 64
)

// reservedKeys are versioning metadata managed by the store; patches may not
// write them directly.
var reservedKeys = map[string]bool{
	"doc_id":          true,
	"version":         true,
	"created_at":      true,
	"last_updated":    true,
	"version_history": true,
	"lock_timestamp":  true,
}

// levelKeys maps patch keys to explicit hierarchy level assignment.
var levelKeys = map[string]int{
	"level_1_category": 1,
	"level_2_category": 2,
	"level_3_category": 3,
	"level_4_category": 4,
	"level_5_category": 5,
	"level_6_category": 6,
}

// Patch is a partial update to a record. A nil value removes the field.
type Patch map[string]any

// SaveOption customizes a Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	targetVersion int64
}

// WithTargetVersion makes Save fail with VersionConflictError unless the
// write would produce exactly the given version. Zero (the default) means
// versioning is fully automatic.
func WithTargetVersion(v int64) SaveOption {
	return func(o *saveOptions) { o.targetVersion = v }
}

// Store is the versioned metadata store.
//
// The backend is a plain last-write-wins key/value store, so the Save path
// holds a store-wide mutex to make its read-diff-write sequence atomic within
// the process. Reads never take the write lock.
type Store struct {
	backend Backend
	logger  *zap.Logger

	mu sync.Mutex // serializes Save/AcquireLock/ReleaseLock
}

// NewStore creates a Store on top of backend.
func NewStore(backend Backend, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}, nil
}

// Save validates patch, applies it to the current record (creating one if
// absent), assigns the next version, records a change summary, re-derives
// hierarchy levels and writes atomically.
func (s *Store) Save(ctx context.Context, docID string, patch Patch, opts ...SaveOption) (*Record, error) {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}

	if docID == "" {
		return nil, &ValidationError{Field: "doc_id", Reason: "must not be empty"}
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.load(ctx, docID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var current int64
	if old != nil {
		current = old.Version
	}
	if o.targetVersion != 0 && o.targetVersion != current+1 {
		return nil, &VersionConflictError{DocID: docID, Expected: o.targetVersion, Current: current}
	}

	now := time.Now().UTC()
	var rec *Record
	if old == nil {
		rec = &Record{DocID: docID, CreatedAt: now}
	} else {
		rec = old.Clone()
	}
	rec.Version = current + 1
	rec.LastUpdated = now

	before := fieldView(old)
	applyPatch(rec, patch)
	deriveHierarchy(rec)
	changes := diffFields(before, fieldView(rec))

	rec.VersionHistory = append(rec.VersionHistory, VersionEntry{
		Version:   rec.Version,
		Timestamp: now,
		Changes:   changes,
	})
	if len(rec.VersionHistory) > historyCap {
		rec.VersionHistory = rec.VersionHistory[len(rec.VersionHistory)-historyCap:]
	}

	if err := s.persist(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Debug("saved metadata record",
		zap.String("doc_id", docID),
		zap.Int64("version", rec.Version),
		zap.Strings("changes", changes),
	)

	return rec.Clone(), nil
}

// Get returns the latest record for docID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, docID string) (*Record, error) {
	rec, err := s.load(ctx, docID)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// GetVersion returns the record at a specific version.
//
// The live version is returned in full. Older versions are reconstructed
// from the change history and come back marked Partial, carrying only the
// version, its timestamp and the change tokens; full historical state is not
// retained.
func (s *Store) GetVersion(ctx context.Context, docID string, version int64) (*Record, error) {
	rec, err := s.load(ctx, docID)
	if err != nil {
		return nil, err
	}
	if version == rec.Version {
		return rec.Clone(), nil
	}
	for _, entry := range rec.VersionHistory {
		if entry.Version == version {
			return &Record{
				DocID:       docID,
				Version:     entry.Version,
				LastUpdated: entry.Timestamp,
				Partial:     true,
				Changes:     append([]string(nil), entry.Changes...),
			}, nil
		}
	}
	return nil, fmt.Errorf("version %d of %s: %w", version, docID, ErrNotFound)
}

// BatchGet returns the latest records for the given ids. Absent ids are
// omitted from the result, never an error; a backend failure aborts the call.
func (s *Store) BatchGet(ctx context.Context, docIDs []string) (map[string]*Record, error) {
	out := make(map[string]*Record, len(docIDs))
	for _, id := range docIDs {
		rec, err := s.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = rec.Clone()
	}
	return out, nil
}

// AcquireLock sets the advisory lock timestamp for docID.
//
// An existing lock younger than staleness fails with ErrAlreadyLocked; a
// stale lock is silently taken over. Locks do not block Save or Get, they
// only coordinate cooperating callers.
func (s *Store) AcquireLock(ctx context.Context, docID string, staleness time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, docID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if rec.LockTimestamp != nil && now.Sub(*rec.LockTimestamp) < staleness {
		return fmt.Errorf("%w: %s held for %s", ErrAlreadyLocked, docID, now.Sub(*rec.LockTimestamp).Round(time.Millisecond))
	}
	if rec.LockTimestamp != nil {
		s.logger.Warn("taking over stale lock",
			zap.String("doc_id", docID),
			zap.Time("lock_timestamp", *rec.LockTimestamp),
		)
	}

	rec.LockTimestamp = &now
	return s.persist(ctx, rec)
}

// ReleaseLock clears the advisory lock unconditionally.
func (s *Store) ReleaseLock(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, docID)
	if err != nil {
		return err
	}
	if rec.LockTimestamp == nil {
		return nil
	}
	rec.LockTimestamp = nil
	return s.persist(ctx, rec)
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) load(ctx context.Context, docID string) (*Record, error) {
	data, err := s.backend.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", docID, err)
	}
	return &rec, nil
}

func (s *Store) persist(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.DocID, err)
	}
	return s.backend.Set(ctx, rec.DocID, data)
}

// validatePatch enforces field name, type, length and timestamp constraints.
func validatePatch(patch Patch) error {
	if len(patch) == 0 {
		return &ValidationError{Reason: "patch must not be empty"}
	}
	for key, value := range patch {
		if key == "" {
			return &ValidationError{Field: key, Reason: "field name must not be empty"}
		}
		if len(key) > maxFieldNameLen {
			return &ValidationError{Field: key, Reason: fmt.Sprintf("field name exceeds %d characters", maxFieldNameLen)}
		}
		if reservedKeys[key] {
			return &ValidationError{Field: key, Reason: "field is managed by the store"}
		}
		if value == nil {
			continue // nil removes the field
		}
		if _, isLevel := levelKeys[key]; isLevel {
			if _, ok := value.(string); !ok {
				return &ValidationError{Field: key, Reason: "hierarchy level must be a string"}
			}
		}
		switch key {
		case "auto_tags", "labels":
			tags, err := toStringSlice(value)
			if err != nil {
				return &ValidationError{Field: key, Reason: "must be a list of strings"}
			}
			if len(tags) > maxTags {
				return &ValidationError{Field: key, Reason: fmt.Sprintf("exceeds %d entries", maxTags)}
			}
		case "date":
			str, ok := value.(string)
			if !ok {
				return &ValidationError{Field: key, Reason: "must be a string timestamp"}
			}
			if !validDate(str) {
				return &ValidationError{Field: key, Reason: "must be RFC3339 or YYYY-MM-DD"}
			}
		}
		if err := validateValue(key, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(key string, value any) error {
	switch v := value.(type) {
	case string:
		if len(v) > maxStringLen {
			return &ValidationError{Field: key, Reason: fmt.Sprintf("string exceeds %d characters", maxStringLen)}
		}
	case bool, int, int64, float64:
	case []string:
	case []any:
		if _, err := toStringSlice(v); err != nil {
			return &ValidationError{Field: key, Reason: "lists may only contain strings"}
		}
	default:
		return &ValidationError{Field: key, Reason: fmt.Sprintf("unsupported type %T", value)}
	}
	return nil
}

func validDate(s string) bool {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// applyPatch mutates rec in place. Hierarchy keys assign levels explicitly,
// auto_tags and labels merge into the tag set, everything else lands in Attrs.
func applyPatch(rec *Record, patch Patch) {
	for key, value := range patch {
		if lvl, ok := levelKeys[key]; ok {
			if s, ok := value.(string); ok {
				setLevel(rec, lvl, s)
			}
			continue
		}
		if key == "auto_tags" || key == "labels" {
			if value == nil {
				continue
			}
			tags, _ := toStringSlice(value)
			rec.AutoTags = mergeTags(rec.AutoTags, tags)
			if key == "labels" {
				// Labels also remain visible as a plain attribute.
				setAttr(rec, key, value)
			}
			continue
		}
		setAttr(rec, key, value)
	}
	// Pre-existing labels merge into the tag set even when only auto_tags moved.
	if labels, ok := rec.Attrs["labels"]; ok {
		if tags, err := toStringSlice(labels); err == nil {
			rec.AutoTags = mergeTags(rec.AutoTags, tags)
		}
	}
}

func setAttr(rec *Record, key string, value any) {
	if value == nil {
		delete(rec.Attrs, key)
		return
	}
	if rec.Attrs == nil {
		rec.Attrs = make(map[string]any)
	}
	rec.Attrs[key] = value
}

func setLevel(rec *Record, level int, value string) {
	switch level {
	case 1:
		rec.Level1 = value
	case 2:
		rec.Level2 = value
	case 3:
		rec.Level3 = value
	case 4:
		rec.Level4 = value
	case 5:
		rec.Level5 = value
	case 6:
		rec.Level6 = value
	}
}

func mergeTags(existing, incoming []string) []string {
	set := make(map[string]bool, len(existing)+len(incoming))
	for _, t := range existing {
		if t != "" {
			set[t] = true
		}
	}
	for _, t := range incoming {
		if t != "" {
			set[t] = true
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func toStringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("non-string element %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a string list: %T", value)
	}
}

// fieldView flattens the caller-visible fields of a record for change
// detection. Versioning metadata is excluded.
func fieldView(rec *Record) map[string]any {
	view := make(map[string]any)
	if rec == nil {
		return view
	}
	for k, v := range rec.Attrs {
		view[k] = v
	}
	for key, lvl := range levelKeys {
		levels := []string{rec.Level1, rec.Level2, rec.Level3, rec.Level4, rec.Level5, rec.Level6}
		if levels[lvl-1] != "" {
			view[key] = levels[lvl-1]
		}
	}
	if len(rec.AutoTags) > 0 {
		view["auto_tags"] = append([]string(nil), rec.AutoTags...)
	}
	return view
}

// diffFields produces sorted "added:"/"modified:"/"removed:" change tokens.
func diffFields(before, after map[string]any) []string {
	var added, modified, removed []string
	for key, newVal := range after {
		oldVal, ok := before[key]
		if !ok {
			added = append(added, "added:"+key)
			continue
		}
		if !equalValues(oldVal, newVal) {
			modified = append(modified, "modified:"+key)
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			removed = append(removed, "removed:"+key)
		}
	}
	sort.Strings(added)
	sort.Strings(modified)
	sort.Strings(removed)

	out := make([]string, 0, len(added)+len(modified)+len(removed))
	out = append(out, added...)
	out = append(out, modified...)
	out = append(out, removed...)
	return out
}

func equalValues(a, b any) bool {
	as, aok := toStringSlice(a)
	bs, bok := toStringSlice(b)
	if aok == nil && bok == nil {
		if len(as) != len(bs) {
			return false
		}
		sort.Strings(as)
		sort.Strings(bs)
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
		return true
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
