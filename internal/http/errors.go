package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/retrievald/internal/metastore"
	"github.com/fyrsmithlabs/retrievald/internal/retrieval"
	"github.com/fyrsmithlabs/retrievald/internal/session"
)

// mapError translates domain errors into HTTP status codes. Unrecognized
// errors become 500s with a generic message so internals never leak to
// clients.
func mapError(err error) *echo.HTTPError {
	switch {
	case metastore.IsValidation(err), errors.Is(err, retrieval.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, metastore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case metastore.IsVersionConflict(err),
		errors.Is(err, metastore.ErrAlreadyLocked),
		errors.Is(err, session.ErrConcurrentUpdate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, retrieval.ErrUpstreamTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, retrieval.ErrUpstream), errors.Is(err, metastore.ErrBackendUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
