package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/jcp/internal/profile"
	"github.com/hrygo/jcp/plugin/vector"
	"github.com/hrygo/jcp/plugin/vector/embedded"
	searcherrors "github.com/hrygo/jcp/server/internal/errors"
	"github.com/hrygo/jcp/server/internal/observability"
	"github.com/hrygo/jcp/server/service/search"
	"github.com/hrygo/jcp/store"
	"github.com/hrygo/jcp/store/test"
)

func testProfile() *profile.Profile {
	return &profile.Profile{
		Mode:           "dev",
		Addr:           "127.0.0.1",
		Port:           0,
		MaxTopK:        50,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}
}

// newTestServer seeds demo_0..demo_11 as vectors and metadata for all but demo_11.
func newTestServer(t *testing.T, p *profile.Profile) *Server {
	t.Helper()
	ctx := context.Background()

	vectors := vector.NewService(embedded.New(embedded.Options{InMemory: true}), vector.Config{
		Collections: map[string]string{"orf": "orf_profiles", "crispr": "crispr_profiles", "compound": "compound_profiles"},
	})
	t.Cleanup(func() { _ = vectors.Close() })
	require.NoError(t, vectors.CreateCollection(ctx, "orf", 2))

	records := make([]vector.Record, 0, 12)
	rows := make([]*store.CellProfile, 0, 11)
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("demo_%d", i)
		records = append(records, vector.Record{ID: id, Vector: []float32{float32(i), 1}})
		if i < 11 {
			rows = append(rows, &store.CellProfile{ID: id, Dataset: "orf", Name: fmt.Sprintf("DemoGene%d", i), Plate: "P1", CellLine: "U2OS"})
		}
	}
	require.NoError(t, vectors.Insert(ctx, "orf", records))
	require.NoError(t, vectors.CreateIndex(ctx, "orf", vector.DefaultIndexSpec))
	require.NoError(t, vectors.Load(ctx, "orf"))

	metadata := test.NewTestingStoreWithDriver(ctx, t, "sqlite")
	require.NoError(t, metadata.UpsertCellProfiles(ctx, rows))

	srv, err := NewServer(p, metadata, vectors)
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexPage(t *testing.T) {
	srv := newTestServer(t, testProfile())

	rec := get(t, srv, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<h1>JCP profile similarity</h1>")
	assert.Contains(t, body, `value="demo_0"`)
	assert.Contains(t, body, `min="5" max="50" value="10"`)
	assert.Contains(t, body, `<option value="orf" selected>orf</option>`)
	assert.Contains(t, body, `<option value="compound">compound</option>`)
	assert.Contains(t, body, "11 orf profiles in the metadata store")
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestSearchPage(t *testing.T) {
	srv := newTestServer(t, testProfile())

	t.Run("renders results", func(t *testing.T) {
		rec := get(t, srv, "/search?id=demo_3&k=5&dataset=orf")
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "5 neighbors of <code>demo_3</code> in orf")
		assert.Contains(t, body, "<td>1</td><td>demo_3</td><td>0.0000</td>")
		assert.Contains(t, body, "DemoGene3")
		assert.Contains(t, body, `value="demo_3"`)
	})

	t.Run("hits without metadata are kept", func(t *testing.T) {
		rec := get(t, srv, "/search?id=demo_11&k=5")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `<tr class="missing">`)
	})

	t.Run("unknown id renders inline", func(t *testing.T) {
		rec := get(t, srv, "/search?id=ghost&k=5")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), `class="error"`)
		assert.Contains(t, rec.Body.String(), "ghost")
	})

	t.Run("bad k", func(t *testing.T) {
		rec := get(t, srv, "/search?id=demo_0&k=ten")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "k must be an integer")
	})
}

func TestAPISearch(t *testing.T) {
	srv := newTestServer(t, testProfile())

	t.Run("ok", func(t *testing.T) {
		rec := get(t, srv, "/api/v1/search?dataset=orf&id=demo_0&k=3&exclude=true")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp search.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"demo_1", "demo_2", "demo_3"}, resp.IDs())
		assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), resp.RequestID)
		assert.Equal(t, "DemoGene1", resp.Results[0].Profile.Name)
	})

	t.Run("metadata filter", func(t *testing.T) {
		q := url.Values{"id": {"demo_9"}, "k": {"4"}, "where": {`name != "DemoGene9"`}}
		rec := get(t, srv, "/api/v1/search?"+q.Encode())
		require.Equal(t, http.StatusOK, rec.Code)

		var resp search.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotContains(t, resp.IDs(), "demo_9")
	})

	t.Run("request id is propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/search?id=demo_0&k=2", nil)
		req.Header.Set(echo.HeaderXRequestID, "req-123")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp search.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "req-123", resp.RequestID)
	})

	errorCases := []struct {
		name   string
		target string
		status int
		code   searcherrors.ErrorCode
	}{
		{"missing id", "/api/v1/search?k=3", http.StatusBadRequest, searcherrors.ErrCodeInvalidArgument},
		{"k too large", "/api/v1/search?id=demo_0&k=51", http.StatusBadRequest, searcherrors.ErrCodeInvalidArgument},
		{"bad exclude", "/api/v1/search?id=demo_0&exclude=maybe", http.StatusBadRequest, searcherrors.ErrCodeInvalidArgument},
		{"unknown dataset", "/api/v1/search?id=demo_0&dataset=yeast", http.StatusBadRequest, searcherrors.ErrCodeInvalidArgument},
		{"missing collection", "/api/v1/search?id=demo_0&dataset=crispr", http.StatusNotFound, searcherrors.ErrCodeNotFound},
		{"unknown id", "/api/v1/search?id=ghost", http.StatusNotFound, searcherrors.ErrCodeNotFound},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, srv, tt.target)
			require.Equal(t, tt.status, rec.Code)

			var body ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestSearchSeesRecreatedCollection(t *testing.T) {
	srv := newTestServer(t, testProfile())
	ctx := context.Background()

	query := func() search.Response {
		rec := get(t, srv, "/api/v1/search?id=demo_0&k=2")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp search.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}
	require.Equal(t, "demo_0", query().Results[0].ID)

	dropped, err := srv.Vectors.DropCollection(ctx, "orf")
	require.NoError(t, err)
	require.True(t, dropped)
	require.NoError(t, srv.Vectors.CreateCollection(ctx, "orf", 2))
	require.NoError(t, srv.Vectors.Insert(ctx, "orf", []vector.Record{
		{ID: "demo_0", Vector: []float32{100, 100}},
		{ID: "demo_1", Vector: []float32{0, 0}},
	}))
	require.NoError(t, srv.Vectors.CreateIndex(ctx, "orf", vector.DefaultIndexSpec))
	require.NoError(t, srv.Vectors.Load(ctx, "orf"))

	resp := query()
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "demo_0", resp.Results[0].ID)
	assert.InDelta(t, 0, resp.Results[0].Distance, 1e-6)
}

func TestGetProfile(t *testing.T) {
	srv := newTestServer(t, testProfile())

	rec := get(t, srv, "/api/v1/profiles/demo_4")
	require.Equal(t, http.StatusOK, rec.Code)
	var p store.CellProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "DemoGene4", p.Name)
	assert.Equal(t, "U2OS", p.CellLine)
	assert.Nil(t, p.PCAX)

	rec = get(t, srv, "/api/v1/profiles/demo_11")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, searcherrors.ErrCodeNotFound, body.Code)
}

func TestMetricsAndHealth(t *testing.T) {
	srv := newTestServer(t, testProfile())

	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/search?id=demo_0&k=2").Code)

	rec := get(t, srv, "/api/v1/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot observability.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.GreaterOrEqual(t, snapshot.RequestTotal, int64(1))
	assert.Contains(t, snapshot.Datasets, "orf")

	rec = get(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "embedded", health.VectorBackend)
	assert.NotEmpty(t, health.Version)
}

func TestQueryCacheIsSweptWhileServing(t *testing.T) {
	p := testProfile()
	p.QueryCacheSize = 10
	p.QueryCacheTTL = 20 * time.Millisecond
	srv := newTestServer(t, p)
	require.NotNil(t, srv.queries)

	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/search?id=demo_0&k=2").Code)
	require.Equal(t, 1, srv.queries.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	assert.Eventually(t, func() bool { return srv.queries.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRateLimit(t *testing.T) {
	p := testProfile()
	p.RateLimitRPS = 0.001
	p.RateLimitBurst = 2
	srv := newTestServer(t, p)

	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").Code)

	rec := get(t, srv, "/api/v1/search?id=demo_0")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, searcherrors.ErrCodeRateLimitExceeded, body.Code)
	assert.Contains(t, body.Message, "rate limit exceeded")
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), body.RequestID)
	assert.NotEmpty(t, body.RequestID)
}

func TestStartShutsDownOnCancel(t *testing.T) {
	srv := newTestServer(t, testProfile())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	cancel()
	require.NoError(t, <-done)
}
