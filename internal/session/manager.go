// Package session applies the metadata store's optimistic concurrency
// discipline to arbitrary mutable session state.
//
// Updates are a classic read-modify-write retry loop over a last-write-wins
// key/value backend: read fresh state, apply the mutation, and write only if
// the version is still the one that was read. Conflicts retry internally
// with exponential backoff before surfacing, and the caller is expected to
// retry again at a higher level once the conflict has likely resolved.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/metastore"
)

// ErrConcurrentUpdate is returned when the optimistic retry loop exhausts
// its attempts without winning the write race.
var ErrConcurrentUpdate = errors.New("concurrent session update")

const keyPrefix = "session/"

// Session is a versioned unit of mutable state.
type Session struct {
	Key       string         `json:"key"`
	Version   int64          `json:"version"`
	State     map[string]any `json:"state"`
	UpdatedAt time.Time      `json:"updated_at"`

	// LockTimestamp marks an in-progress exclusive operation by a
	// cooperating caller. Stale locks are bypassed, not honored.
	LockTimestamp *time.Time `json:"lock_timestamp,omitempty"`
}

// Mutator merges changes into the current state in place.
type Mutator func(state map[string]any)

// Config configures the manager.
type Config struct {
	// MaxRetries is the number of internal optimistic retries. Default: 3.
	MaxRetries int

	// BackoffBase is the first retry delay; attempt n waits base * 2^n.
	// Default: 100ms.
	BackoffBase time.Duration

	// LockStaleness is the age past which an advisory lock is treated as
	// expired. Default: 30s.
	LockStaleness time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:    3,
		BackoffBase:   100 * time.Millisecond,
		LockStaleness: 30 * time.Second,
	}
}

// UpdateOption customizes an Update call.
type UpdateOption func(*updateOptions)

type updateOptions struct {
	expectedVersion int64
}

// WithExpectedVersion makes Update fail when the current version differs
// from v. Zero (the default) skips the check.
func WithExpectedVersion(v int64) UpdateOption {
	return func(o *updateOptions) { o.expectedVersion = v }
}

// Manager coordinates concurrent access to session state.
type Manager struct {
	backend metastore.Backend
	config  *Config
	logger  *zap.Logger

	// mu makes the compare step of compare-and-write atomic in-process;
	// the backend itself offers no conditional write.
	mu sync.Mutex
}

// NewManager creates a Manager over backend.
func NewManager(backend metastore.Backend, cfg *Config, logger *zap.Logger) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{backend: backend, config: cfg, logger: logger}, nil
}

// Get returns the current session, or metastore.ErrNotFound.
func (m *Manager) Get(ctx context.Context, key string) (*Session, error) {
	return m.load(ctx, key)
}

// Update applies mutator to the session's state and increments its version.
// A missing session starts at version 0 with empty state, so the first
// update creates version 1.
//
// On a version race the manager retries internally with backoff, re-reading
// fresh state on every attempt, before surfacing ErrConcurrentUpdate.
func (m *Manager) Update(ctx context.Context, key string, mutator Mutator, opts ...UpdateOption) (*Session, error) {
	if key == "" {
		return nil, errors.New("session key must not be empty")
	}
	if mutator == nil {
		return nil, errors.New("mutator is required")
	}
	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := m.config.BackoffBase * (1 << (attempt - 1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		sess, err := m.tryUpdate(ctx, key, mutator, o.expectedVersion)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return nil, err
		}
		lastErr = err
		m.logger.Debug("session update conflict, retrying",
			zap.String("key", key),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, lastErr
}

func (m *Manager) tryUpdate(ctx context.Context, key string, mutator Mutator, expectedVersion int64) (*Session, error) {
	current, err := m.load(ctx, key)
	if errors.Is(err, metastore.ErrNotFound) {
		current = &Session{Key: key, State: map[string]any{}}
	} else if err != nil {
		return nil, err
	}

	if expectedVersion != 0 && current.Version != expectedVersion {
		return nil, fmt.Errorf("%w: expected version %d, current %d", ErrConcurrentUpdate, expectedVersion, current.Version)
	}

	if current.LockTimestamp != nil {
		age := time.Since(*current.LockTimestamp)
		if age < m.config.LockStaleness {
			return nil, fmt.Errorf("%w: session locked for %s", ErrConcurrentUpdate, age.Round(time.Millisecond))
		}
		// Liveness over strict exclusion: an expired lock never blocks.
		m.logger.Warn("bypassing stale session lock",
			zap.String("key", key),
			zap.Duration("age", age),
		)
		current.LockTimestamp = nil
	}

	next := &Session{
		Key:       key,
		Version:   current.Version + 1,
		State:     cloneState(current.State),
		UpdatedAt: time.Now().UTC(),
	}
	mutator(next.State)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check the version under the lock; another writer may have landed
	// between our read and now.
	latest, err := m.load(ctx, key)
	switch {
	case errors.Is(err, metastore.ErrNotFound):
		if current.Version != 0 {
			return nil, fmt.Errorf("%w: session vanished mid-update", ErrConcurrentUpdate)
		}
	case err != nil:
		return nil, err
	case latest.Version != current.Version:
		return nil, fmt.Errorf("%w: version moved from %d to %d", ErrConcurrentUpdate, current.Version, latest.Version)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encoding session %s: %w", key, err)
	}
	if err := m.backend.Set(ctx, keyPrefix+key, data); err != nil {
		return nil, err
	}
	return next, nil
}

// Lock sets the session's advisory lock for cooperating callers.
func (m *Manager) Lock(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.load(ctx, key)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if sess.LockTimestamp != nil && now.Sub(*sess.LockTimestamp) < m.config.LockStaleness {
		return fmt.Errorf("%w: lock held", metastore.ErrAlreadyLocked)
	}
	sess.LockTimestamp = &now
	return m.persist(ctx, sess)
}

// Unlock clears the advisory lock unconditionally.
func (m *Manager) Unlock(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.load(ctx, key)
	if err != nil {
		return err
	}
	sess.LockTimestamp = nil
	return m.persist(ctx, sess)
}

func (m *Manager) load(ctx context.Context, key string) (*Session, error) {
	data, err := m.backend.Get(ctx, keyPrefix+key)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", key, err)
	}
	return &sess, nil
}

func (m *Manager) persist(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.Key, err)
	}
	return m.backend.Set(ctx, keyPrefix+sess.Key, data)
}

func cloneState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}
