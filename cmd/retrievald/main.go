// Retrievald is a hybrid retrieval daemon for customer-care knowledge bases.
//
// It merges vector similarity search with a versioned metadata store and
// serves the combined results over HTTP.
//
// Usage:
//
//	# Start server with defaults
//	retrievald
//
//	# Load a config file, override via environment
//	retrievald -config retrievald.yaml
//	SERVER_HTTP_PORT=9090 retrievald
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/config"
	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
	httpserver "github.com/fyrsmithlabs/retrievald/internal/http"
	"github.com/fyrsmithlabs/retrievald/internal/logging"
	"github.com/fyrsmithlabs/retrievald/internal/metastore"
	"github.com/fyrsmithlabs/retrievald/internal/retrieval"
	"github.com/fyrsmithlabs/retrievald/internal/session"
	"github.com/fyrsmithlabs/retrievald/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  retrievald           Start the retrieval daemon\n")
			fmt.Fprintf(os.Stderr, "  retrievald version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("retrievald by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting retrievald",
		zap.Int("port", cfg.Server.Port),
		zap.String("metastore_backend", cfg.Metastore.Backend),
		zap.String("vectorstore_provider", cfg.VectorStore.Provider),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("Dependencies initialized",
		zap.Bool("vectorstore_ready", deps.searcher != nil),
		zap.Bool("cache_enabled", cfg.Cache.Enabled))

	srv, err := httpserver.NewServer(deps.store, deps.retriever, deps.sessions, deps.searcher, logger, &httpserver.Config{
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout,
		LockStaleness:  cfg.Session.LockStaleness,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/healthz", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// dependencies holds all wired infrastructure and services.
type dependencies struct {
	backend   metastore.Backend
	store     *metastore.Store
	searcher  vectorstore.Searcher
	retriever retrieval.Service
	sessions  *session.Manager
	logger    *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.searcher != nil {
		_ = d.searcher.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.logger != nil {
		_ = d.logger.Sync()
	}
}

// initDependencies builds the full object graph:
//
//  1. Metadata backend (memory or SQLite) and versioned store
//  2. Embedding provider
//  3. Vector searcher (chromem or Qdrant)
//  4. Batch fetcher, result cache, retrieval orchestrator
//  5. Session manager sharing the metadata backend
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	var backend metastore.Backend
	switch cfg.Metastore.Backend {
	case "sqlite":
		b, err := metastore.NewSQLiteBackend(cfg.Metastore.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite backend: %w", err)
		}
		backend = b
		logger.Info("Metadata backend initialized",
			zap.String("backend", "sqlite"),
			zap.String("path", cfg.Metastore.SQLitePath))
	default:
		backend = metastore.NewMemoryBackend()
		logger.Info("Metadata backend initialized", zap.String("backend", "memory"))
	}

	store, err := metastore.NewStore(backend, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata store: %w", err)
	}

	embedder, err := embeddings.NewProvider(embeddings.Config{
		APIKey:            cfg.Embeddings.APIKey,
		BaseURL:           cfg.Embeddings.BaseURL,
		Model:             cfg.Embeddings.Model,
		Dimension:         cfg.Embeddings.Dimension,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	logger.Info("Embedding provider initialized",
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", cfg.Embeddings.Dimension))

	var searcher vectorstore.Searcher
	switch cfg.VectorStore.Provider {
	case "qdrant":
		searcher, err = vectorstore.NewQdrantSearcher(vectorstore.QdrantConfig{
			Host:       cfg.VectorStore.QdrantHost,
			Port:       cfg.VectorStore.QdrantPort,
			UseTLS:     cfg.VectorStore.QdrantTLS,
			Collection: cfg.VectorStore.Collection,
			VectorSize: uint64(cfg.Embeddings.Dimension),
		}, embedder, logger)
	default:
		searcher, err = vectorstore.NewChromemSearcher(vectorstore.ChromemConfig{
			Path:       cfg.VectorStore.Path,
			Collection: cfg.VectorStore.Collection,
		}, embedder, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	logger.Info("Vector store initialized",
		zap.String("provider", cfg.VectorStore.Provider),
		zap.String("collection", cfg.VectorStore.Collection))

	fetcher, err := metastore.NewBatchFetcher(store, cfg.Metastore.FetchConcurrency, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch fetcher: %w", err)
	}

	cache := retrieval.NewCache(cfg.Cache.MaxEntries, cfg.Cache.TTL, cfg.Cache.Enabled)

	retriever, err := retrieval.NewService(&retrieval.Config{
		DefaultLimit:          cfg.Retrieval.DefaultLimit,
		MaxLimit:              cfg.Retrieval.MaxLimit,
		CandidateMultiplier:   cfg.Retrieval.CandidateMultiplier,
		DefaultScoreThreshold: cfg.Retrieval.ScoreThreshold,
	}, searcher, fetcher, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval service: %w", err)
	}
	retrieval.SetMetrics(retriever, retrieval.NewMetrics())

	sessions, err := session.NewManager(backend, &session.Config{
		MaxRetries:    cfg.Session.MaxRetries,
		BackoffBase:   cfg.Session.BackoffBase,
		LockStaleness: cfg.Session.LockStaleness,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	return &dependencies{
		backend:   backend,
		store:     store,
		searcher:  searcher,
		retriever: retriever,
		sessions:  sessions,
		logger:    logger,
	}, nil
}
