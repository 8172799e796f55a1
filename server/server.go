// Package server serves the search UI and its JSON API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/jcp/internal/profile"
	"github.com/hrygo/jcp/plugin/vector"
	searcherrors "github.com/hrygo/jcp/server/internal/errors"
	"github.com/hrygo/jcp/server/internal/observability"
	ratelimit "github.com/hrygo/jcp/server/middleware"
	"github.com/hrygo/jcp/server/service/search"
	"github.com/hrygo/jcp/store"
	"github.com/hrygo/jcp/store/cache"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	Profile *profile.Profile
	Store   *store.Store
	Vectors *vector.Service
	Search  *search.Service

	metrics    *observability.Metrics
	queries    *cache.LRU[[]float32]
	echoServer *echo.Echo
	intro      []byte
}

// NewServer wires routes and middleware. It does not touch the backends;
// the vector service connects lazily on the first search.
func NewServer(p *profile.Profile, s *store.Store, vectors *vector.Service) (*Server, error) {
	intro, err := renderIntro()
	if err != nil {
		return nil, errors.Wrap(err, "failed to render introduction")
	}
	renderer, err := newTemplateRenderer()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse templates")
	}

	metrics := observability.GlobalMetrics()
	opts := []search.Option{
		search.WithMaxK(p.MaxTopK),
		search.WithMetrics(metrics),
		search.WithLogger(slog.Default().With(slog.String("component", "search"))),
	}
	var queries *cache.LRU[[]float32]
	if p.QueryCacheSize > 0 {
		queries = cache.New[[]float32](p.QueryCacheSize, p.QueryCacheTTL)
		opts = append(opts, search.WithQueryCache(queries))
	}
	server := &Server{
		Profile: p,
		Store:   s,
		Vectors: vectors,
		Search:  search.NewService(vectors, s, opts...),
		metrics: metrics,
		queries: queries,
		intro:   intro,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	e.HTTPErrorHandler = server.handleError
	e.Use(middleware.Recover())
	e.Use(requestID())
	e.Use(requestLogger())
	e.Use(ratelimit.NewRateLimiter(p.RateLimitRPS, p.RateLimitBurst).Middleware())

	e.GET("/", server.index)
	e.GET("/search", server.searchPage)
	e.GET("/healthz", server.healthz)

	api := e.Group("/api/v1")
	api.GET("/search", server.apiSearch)
	api.GET("/profiles/:id", server.getProfile)
	api.GET("/metrics", server.getMetrics)

	server.echoServer = e
	return server, nil
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.Profile.Addr, fmt.Sprintf("%d", s.Profile.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	slog.Info("jcp server started", slog.String("addr", listener.Addr().String()), slog.String("mode", s.Profile.Mode))

	s.echoServer.Listener = listener
	if s.queries != nil {
		go s.sweepQueryCache(ctx, s.Profile.QueryCacheTTL)
	}
	errCh := make(chan error, 1)
	go func() {
		if err := s.echoServer.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// sweepQueryCache drops expired query vectors every interval until ctx is done.
func (s *Server) sweepQueryCache(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.queries.CleanupExpired(); n > 0 {
				slog.Debug("expired query vectors dropped", slog.Int("count", n))
			}
		}
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("jcp server shutting down")
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown http server", slog.String("error", err.Error()))
	}
	if s.Vectors != nil {
		if err := s.Vectors.Close(); err != nil {
			slog.Error("failed to close vector service", slog.String("error", err.Error()))
		}
	}
	return s.Store.Close()
}

// handleError renders coded errors as ErrorBody and leaves the rest to echo.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var se *searcherrors.SearchError
	if errors.As(err, &se) {
		if werr := writeError(c, se); werr != nil {
			slog.Error("failed to write error response", slog.String("error", werr.Error()))
		}
		return
	}
	s.echoServer.DefaultHTTPErrorHandler(err, c)
}

// requestID stores the caller's X-Request-ID, or a fresh uuid, on the request
// context and echoes it back.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = observability.NewRequestID()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			c.SetRequest(req.WithContext(observability.WithRequestID(req.Context(), id)))
			return next(c)
		}
	}
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			slog.Info("http request",
				slog.String("method", c.Request().Method),
				slog.String("path", c.Path()),
				slog.Int("status", c.Response().Status),
				slog.String(observability.LogFieldRequestID, c.Response().Header().Get(echo.HeaderXRequestID)),
				slog.Int64(observability.LogFieldDuration, time.Since(start).Milliseconds()),
			)
			return nil
		}
	}
}
