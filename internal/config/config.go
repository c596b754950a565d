// Package config provides configuration loading for retrievald.
//
// Configuration comes from a YAML file overridden by environment variables,
// with hardcoded defaults underneath.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete retrievald configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Metastore   MetastoreConfig   `koanf:"metastore"`
	Cache       CacheConfig       `koanf:"cache"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Session     SessionConfig     `koanf:"session"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
}

// MetastoreConfig holds metadata store configuration.
type MetastoreConfig struct {
	// Backend selects the persistence: "memory" or "sqlite".
	Backend string `koanf:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `koanf:"sqlite_path"`

	// FetchConcurrency caps in-flight single-document fetches during the
	// batch fallback path.
	FetchConcurrency int `koanf:"fetch_concurrency"`
}

// CacheConfig holds result cache configuration.
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	MaxEntries int           `koanf:"max_entries"`
	TTL        time.Duration `koanf:"ttl"`
}

// RetrievalConfig holds orchestrator configuration.
type RetrievalConfig struct {
	DefaultLimit        int     `koanf:"default_limit"`
	MaxLimit            int     `koanf:"max_limit"`
	CandidateMultiplier int     `koanf:"candidate_multiplier"`
	ScoreThreshold      float32 `koanf:"score_threshold"`
}

// SessionConfig holds session concurrency configuration.
type SessionConfig struct {
	MaxRetries    int           `koanf:"max_retries"`
	BackoffBase   time.Duration `koanf:"backoff_base"`
	LockStaleness time.Duration `koanf:"lock_staleness"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	APIKey            string  `koanf:"api_key"`
	BaseURL           string  `koanf:"base_url"`
	Model             string  `koanf:"model"`
	Dimension         int     `koanf:"dimension"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// VectorStoreConfig holds vector search collaborator configuration.
type VectorStoreConfig struct {
	// Provider selects the implementation: "chromem" or "qdrant".
	Provider string `koanf:"provider"`

	// Path is the chromem persistence directory. Empty means in-memory.
	Path string `koanf:"path"`

	// Collection is the collection documents and queries target.
	Collection string `koanf:"collection"`

	// QdrantHost and QdrantPort locate the external Qdrant gRPC endpoint.
	QdrantHost string `koanf:"qdrant_host"`
	QdrantPort int    `koanf:"qdrant_port"`
	QdrantTLS  bool   `koanf:"qdrant_tls"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Metastore.Backend == "" {
		cfg.Metastore.Backend = "memory"
	}
	if cfg.Metastore.SQLitePath == "" {
		cfg.Metastore.SQLitePath = "retrievald.db"
	}
	if cfg.Metastore.FetchConcurrency == 0 {
		cfg.Metastore.FetchConcurrency = 10
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 256
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Retrieval.DefaultLimit == 0 {
		cfg.Retrieval.DefaultLimit = 10
	}
	if cfg.Retrieval.MaxLimit == 0 {
		cfg.Retrieval.MaxLimit = 100
	}
	if cfg.Retrieval.CandidateMultiplier == 0 {
		cfg.Retrieval.CandidateMultiplier = 2
	}
	if cfg.Retrieval.ScoreThreshold == 0 {
		cfg.Retrieval.ScoreThreshold = 0.5
	}
	if cfg.Session.MaxRetries == 0 {
		cfg.Session.MaxRetries = 3
	}
	if cfg.Session.BackoffBase == 0 {
		cfg.Session.BackoffBase = 100 * time.Millisecond
	}
	if cfg.Session.LockStaleness == 0 {
		cfg.Session.LockStaleness = 30 * time.Second
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 1536
	}
	if cfg.Embeddings.RequestsPerSecond == 0 {
		cfg.Embeddings.RequestsPerSecond = 10
	}
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "retrievald_documents"
	}
	if cfg.VectorStore.QdrantHost == "" {
		cfg.VectorStore.QdrantHost = "localhost"
	}
	if cfg.VectorStore.QdrantPort == 0 {
		cfg.VectorStore.QdrantPort = 6334
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.Server.Port)
	}
	switch c.Metastore.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("metastore.backend must be memory or sqlite, got %q", c.Metastore.Backend)
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore.provider must be chromem or qdrant, got %q", c.VectorStore.Provider)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		return fmt.Errorf("retrieval.score_threshold must be in [0,1], got %g", c.Retrieval.ScoreThreshold)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
