package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	searcherrors "github.com/hrygo/jcp/server/internal/errors"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys are limited independently")
}

func TestRateLimiterEvictsIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))

	now = now.Add(idleTTL + time.Second)
	rl.Allow("b")
	rl.mu.Lock()
	_, kept := rl.limits["a"]
	rl.mu.Unlock()
	assert.False(t, kept)
}

func TestRateLimiterMiddleware(t *testing.T) {
	e := echo.New()
	var handled error
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		handled = err
		_ = c.NoContent(searcherrors.GetCodeFromError(err, searcherrors.ErrCodeServiceUnavailable).HTTPStatus())
	}
	e.Use(NewRateLimiter(1, 1).Middleware())
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, do())
	require.NoError(t, handled)

	assert.Equal(t, http.StatusTooManyRequests, do())
	require.Error(t, handled)
	assert.True(t, searcherrors.IsCode(handled, searcherrors.ErrCodeRateLimitExceeded))
	var se *searcherrors.SearchError
	require.ErrorAs(t, handled, &se)
	assert.Equal(t, "10.0.0.1", se.Context["client_ip"])
}
