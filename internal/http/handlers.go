package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/metastore"
	"github.com/fyrsmithlabs/retrievald/internal/retrieval"
	"github.com/fyrsmithlabs/retrievald/internal/session"
	"github.com/fyrsmithlabs/retrievald/internal/vectorstore"
)

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// RetrieveRequest is the request body for POST /api/v1/retrieve.
type RetrieveRequest struct {
	Query           string         `json:"query"`
	MetadataFilters map[string]any `json:"metadata_filters,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	PathQuery       string         `json:"path_query,omitempty"`
	Limit           int            `json:"limit,omitempty"`
	ScoreThreshold  float32        `json:"score_threshold,omitempty"`
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid retrieve request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.retriever.Retrieve(c.Request().Context(), retrieval.Request{
		Query:           req.Query,
		MetadataFilters: req.MetadataFilters,
		Tags:            req.Tags,
		PathQuery:       req.PathQuery,
		Limit:           req.Limit,
		ScoreThreshold:  req.ScoreThreshold,
	})
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// IngestDocument is one document in an ingest request.
type IngestDocument struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IngestRequest is the request body for POST /api/v1/documents.
type IngestRequest struct {
	Documents []IngestDocument `json:"documents"`
}

// IngestResponse reports the indexed document ids.
type IngestResponse struct {
	Indexed []string `json:"indexed"`
}

func (s *Server) handleIngest(c echo.Context) error {
	if s.searcher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "document indexing is not configured")
	}

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents field is required")
	}

	ctx := c.Request().Context()

	docs := make([]vectorstore.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		if d.ID == "" || d.Content == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "each document requires id and content")
		}
		docs = append(docs, vectorstore.Document{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: d.Metadata,
		})
	}

	ids, err := s.searcher.Upsert(ctx, docs)
	if err != nil {
		return mapError(err)
	}

	// Index writes succeed before metadata writes so a metadata failure
	// never strands vectors pointing at records we refused to create.
	for _, d := range req.Documents {
		patch := metastore.Patch(d.Metadata)
		if len(patch) == 0 {
			// Metadata-less documents still need a record, or retrieval
			// would drop them at the merge step.
			patch = metastore.Patch{"origin": "ingest"}
		}
		if _, err := s.store.Save(ctx, d.ID, patch); err != nil {
			s.logger.Error("metadata save after index",
				zap.String("doc_id", d.ID), zap.Error(err))
			return mapError(err)
		}
	}

	return c.JSON(http.StatusOK, IngestResponse{Indexed: ids})
}

func (s *Server) handleGetMetadata(c echo.Context) error {
	docID := c.Param("id")
	ctx := c.Request().Context()

	if v := c.QueryParam("version"); v != "" {
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "version must be an integer")
		}
		rec, err := s.store.GetVersion(ctx, docID, version)
		if err != nil {
			return mapError(err)
		}
		return c.JSON(http.StatusOK, rec)
	}

	rec, err := s.store.Get(ctx, docID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// SaveMetadataRequest is the request body for PUT /api/v1/documents/:id/metadata.
type SaveMetadataRequest struct {
	Patch         map[string]any `json:"patch"`
	TargetVersion int64          `json:"target_version,omitempty"`
}

func (s *Server) handleSaveMetadata(c echo.Context) error {
	docID := c.Param("id")

	var req SaveMetadataRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid metadata request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Patch == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patch field is required")
	}

	var opts []metastore.SaveOption
	if req.TargetVersion > 0 {
		opts = append(opts, metastore.WithTargetVersion(req.TargetVersion))
	}

	rec, err := s.store.Save(c.Request().Context(), docID, metastore.Patch(req.Patch), opts...)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleLock(c echo.Context) error {
	docID := c.Param("id")
	if err := s.store.AcquireLock(c.Request().Context(), docID, s.config.LockStaleness); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleUnlock(c echo.Context) error {
	docID := c.Param("id")
	if err := s.store.ReleaseLock(c.Request().Context(), docID); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetSession(c echo.Context) error {
	if s.sessions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sessions are not configured")
	}
	sess, err := s.sessions.Get(c.Request().Context(), c.Param("key"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

// UpdateSessionRequest is the request body for PUT /api/v1/sessions/:key.
// Keys with null values are removed from session state.
type UpdateSessionRequest struct {
	State           map[string]any `json:"state"`
	ExpectedVersion int64          `json:"expected_version,omitempty"`
}

func (s *Server) handleUpdateSession(c echo.Context) error {
	if s.sessions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sessions are not configured")
	}

	var req UpdateSessionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid session request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.State == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "state field is required")
	}

	var opts []session.UpdateOption
	if req.ExpectedVersion > 0 {
		opts = append(opts, session.WithExpectedVersion(req.ExpectedVersion))
	}

	sess, err := s.sessions.Update(c.Request().Context(), c.Param("key"), func(state map[string]any) {
		for k, v := range req.State {
			if v == nil {
				delete(state, k)
				continue
			}
			state[k] = v
		}
	}, opts...)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sess)
}
