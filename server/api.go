package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/jcp/internal/version"
	"github.com/hrygo/jcp/plugin/vector"
	searcherrors "github.com/hrygo/jcp/server/internal/errors"
	"github.com/hrygo/jcp/server/service/search"
)

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Code      searcherrors.ErrorCode `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	VectorBackend string `json:"vector_backend"`
}

func writeError(c echo.Context, err error) error {
	code := searcherrors.GetCodeFromError(err, searcherrors.ErrCodeServiceUnavailable)
	return c.JSON(code.HTTPStatus(), ErrorBody{
		Code:      code,
		Message:   err.Error(),
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	})
}

// apiSearch handles GET /api/v1/search?dataset=&id=&k=&filter=&where=&exclude=
func (s *Server) apiSearch(c echo.Context) error {
	k, err := intParam(c, "k", search.DefaultK)
	if err != nil {
		return writeError(c, err)
	}
	nprobe, err := intParam(c, "nprobe", 0)
	if err != nil {
		return writeError(c, err)
	}
	exclude, err := boolParam(c, "exclude")
	if err != nil {
		return writeError(c, err)
	}

	resp, err := s.Search.Search(c.Request().Context(), search.Request{
		Dataset:        c.QueryParam("dataset"),
		QueryID:        c.QueryParam("id"),
		K:              k,
		Filter:         c.QueryParam("filter"),
		MetadataFilter: c.QueryParam("where"),
		ExcludeQuery:   exclude,
		Metric:         vector.Metric(c.QueryParam("metric")),
		NProbe:         nprobe,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// getProfile handles GET /api/v1/profiles/:id
func (s *Server) getProfile(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return writeError(c, searcherrors.InvalidArgument("id is required"))
	}
	p, err := s.Store.GetOne(c.Request().Context(), id)
	if err != nil {
		return writeError(c, searcherrors.ServiceUnavailable("metadata lookup failed", err))
	}
	if p == nil {
		return writeError(c, searcherrors.NotFound("profile not found: "+id))
	}
	return c.JSON(http.StatusOK, p)
}

// getMetrics handles GET /api/v1/metrics
func (s *Server) getMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) healthz(c echo.Context) error {
	backend := ""
	if s.Vectors != nil {
		backend = s.Vectors.Backend().Name()
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       version.GetCurrentVersion(s.Profile.Mode),
		VectorBackend: backend,
	})
}
