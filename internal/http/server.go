// Package http exposes the retrieval API over HTTP.
package http

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/metastore"
	"github.com/fyrsmithlabs/retrievald/internal/retrieval"
	"github.com/fyrsmithlabs/retrievald/internal/session"
	"github.com/fyrsmithlabs/retrievald/internal/vectorstore"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RequestTimeout bounds handler execution per request.
	RequestTimeout time.Duration

	// LockStaleness is forwarded to document lock acquisition.
	LockStaleness time.Duration
}

// Server wires the retrieval engine into an echo instance.
type Server struct {
	echo      *echo.Echo
	store     *metastore.Store
	retriever retrieval.Service
	sessions  *session.Manager
	searcher  vectorstore.Searcher
	logger    *zap.Logger
	config    *Config
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(store *metastore.Store, retriever retrieval.Service, sessions *session.Manager, searcher vectorstore.Searcher, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8085
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.LockStaleness <= 0 {
		cfg.LockStaleness = 30 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: cfg.RequestTimeout,
	}))
	e.Use(requestMetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		store:     store,
		retriever: retriever,
		sessions:  sessions,
		searcher:  searcher,
		logger:    logger,
		config:    cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/retrieve", s.handleRetrieve)
	v1.POST("/documents", s.handleIngest)
	v1.GET("/documents/:id/metadata", s.handleGetMetadata)
	v1.PUT("/documents/:id/metadata", s.handleSaveMetadata)
	v1.POST("/documents/:id/lock", s.handleLock)
	v1.DELETE("/documents/:id/lock", s.handleUnlock)
	v1.GET("/sessions/:key", s.handleGetSession)
	v1.PUT("/sessions/:key", s.handleUpdateSession)
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
