// Package search joins vector similarity hits with profile metadata.
package search

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/hrygo/jcp/internal/celexpr"
	"github.com/hrygo/jcp/plugin/vector"
	searcherrors "github.com/hrygo/jcp/server/internal/errors"
	"github.com/hrygo/jcp/server/internal/observability"
	"github.com/hrygo/jcp/store"
	"github.com/hrygo/jcp/store/cache"
)

const (
	DefaultDataset = "orf"
	DefaultK       = 10
	DefaultMaxK    = 100
)

// VectorSearcher is the part of vector.Service the pipeline needs.
type VectorSearcher interface {
	FetchVectorByID(ctx context.Context, dataset, id string) ([]float32, error)
	Search(ctx context.Context, dataset string, query []float32, k int, opts ...vector.SearchOption) ([]vector.Hit, error)
}

// MetadataReader is the part of store.Store the pipeline needs.
type MetadataReader interface {
	GetMetadata(ctx context.Context, ids []string) ([]*store.CellProfile, error)
}

// Request describes one similarity search by profile id.
type Request struct {
	Dataset string
	QueryID string
	K       int
	// Filter is passed to the vector backend.
	Filter string
	// MetadataFilter is a CEL expression over the metadata columns and distance.
	MetadataFilter string
	// ExcludeQuery drops the query profile from its own results.
	ExcludeQuery bool
	Metric       vector.Metric
	NProbe       int
}

// Result is one ranked neighbor. Profile is never nil; a hit without
// metadata carries only its id.
type Result struct {
	Rank        int                `json:"rank" yaml:"rank"`
	ID          string             `json:"id" yaml:"id"`
	Distance    float32            `json:"distance" yaml:"distance"`
	HasMetadata bool               `json:"has_metadata" yaml:"has_metadata"`
	Profile     *store.CellProfile `json:"profile" yaml:"profile"`
}

type Response struct {
	RequestID  string   `json:"request_id" yaml:"request_id"`
	Dataset    string   `json:"dataset" yaml:"dataset"`
	QueryID    string   `json:"query_id" yaml:"query_id"`
	K          int      `json:"k" yaml:"k"`
	Results    []Result `json:"results" yaml:"results"`
	DurationMs int64    `json:"duration_ms" yaml:"duration_ms"`
}

// IDs returns the result ids in rank order.
func (r *Response) IDs() []string {
	ids := make([]string, len(r.Results))
	for i, res := range r.Results {
		ids[i] = res.ID
	}
	return ids
}

type Service struct {
	vectors  VectorSearcher
	metadata MetadataReader
	maxK     int
	metrics  *observability.Metrics
	logger   *slog.Logger
	// queries caches query vectors by "<dataset>/<id>". Nil disables caching.
	queries *cache.LRU[[]float32]
}

type Option func(*Service)

func WithMaxK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.maxK = k
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQueryCache caches the vectors of query ids between searches.
func WithQueryCache(c *cache.LRU[[]float32]) Option {
	return func(s *Service) {
		s.queries = c
	}
}

func NewService(vectors VectorSearcher, metadata MetadataReader, opts ...Option) *Service {
	s := &Service{
		vectors:  vectors,
		metadata: metadata,
		maxK:     DefaultMaxK,
		metrics:  observability.GlobalMetrics(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) MaxK() int {
	return s.maxK
}

// metadataVars are the variables visible to MetadataFilter.
var metadataVars = celexpr.Vars{
	"id":                cel.StringType,
	"dataset":           cel.StringType,
	"name":              cel.StringType,
	"perturbation_type": cel.StringType,
	"plate":             cel.StringType,
	"well":              cel.StringType,
	"batch":             cel.StringType,
	"cell_line":         cel.StringType,
	"timepoint":         cel.StringType,
	"pca_x":             cel.DynType,
	"pca_y":             cel.DynType,
	"umap_x":            cel.DynType,
	"umap_y":            cel.DynType,
	"distance":          cel.DoubleType,
}

// Search runs fetch, ANN search, metadata lookup and join for req.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	req.Dataset = strings.ToLower(strings.TrimSpace(req.Dataset))
	if req.Dataset == "" {
		req.Dataset = DefaultDataset
	}
	req.QueryID = strings.TrimSpace(req.QueryID)

	rc := observability.NewRequestContextWithID(s.logger, observability.RequestIDFromContext(ctx), req.Dataset, req.QueryID)
	resp, err := s.search(ctx, req)
	duration := rc.Duration()

	hits := 0
	if resp != nil {
		hits = len(resp.Results)
		resp.RequestID = rc.RequestID
		resp.DurationMs = duration.Milliseconds()
	}
	s.metrics.RecordSearch(req.Dataset, duration, hits, err)

	if err != nil {
		rc.Error("search failed", err,
			slog.String(observability.LogFieldErrorCode, string(searcherrors.GetCodeFromError(err, searcherrors.ErrCodeServiceUnavailable))),
			slog.Int64(observability.LogFieldDuration, duration.Milliseconds()))
		return nil, err
	}
	rc.Info("search finished",
		slog.Int("k", req.K),
		slog.Int(observability.LogFieldHits, hits),
		slog.Int64(observability.LogFieldDuration, duration.Milliseconds()))
	return resp, nil
}

func (s *Service) search(ctx context.Context, req Request) (*Response, error) {
	if req.QueryID == "" {
		return nil, searcherrors.InvalidArgument("query id is required")
	}
	if req.K < 1 || req.K > s.maxK {
		return nil, searcherrors.InvalidArgument("k must be between 1 and " + strconv.Itoa(s.maxK)).WithContext("k", req.K)
	}
	where, err := celexpr.Compile(req.MetadataFilter, metadataVars)
	if err != nil {
		return nil, searcherrors.Wrap(err, searcherrors.ErrCodeInvalidArgument, "invalid metadata filter")
	}

	query, err := s.queryVector(ctx, req.Dataset, req.QueryID)
	if err != nil {
		return nil, searcherrors.Classify(err, "failed to fetch query vector "+req.QueryID)
	}

	k := req.K
	if req.ExcludeQuery {
		k++
	}
	opts := []vector.SearchOption{vector.WithMetric(req.Metric), vector.WithNProbe(req.NProbe), vector.WithFilter(req.Filter)}
	hits, err := s.vectors.Search(ctx, req.Dataset, query, k, opts...)
	if err != nil {
		return nil, searcherrors.Classify(err, "vector search failed")
	}
	if req.ExcludeQuery {
		hits = dropID(hits, req.QueryID)
	}
	if len(hits) > req.K {
		hits = hits[:req.K]
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := s.metadata.GetMetadata(ctx, ids)
	if err != nil {
		return nil, searcherrors.Classify(err, "metadata lookup failed")
	}

	results := join(hits, rows)
	if where != nil {
		results = filterResults(results, where)
	}
	return &Response{Dataset: req.Dataset, QueryID: req.QueryID, K: req.K, Results: results}, nil
}

func (s *Service) queryVector(ctx context.Context, dataset, id string) ([]float32, error) {
	key := dataset + "/" + id
	if s.queries != nil {
		if vec, ok := s.queries.Get(key); ok {
			return vec, nil
		}
	}
	vec, err := s.vectors.FetchVectorByID(ctx, dataset, id)
	if err != nil {
		return nil, err
	}
	if s.queries != nil {
		s.queries.Set(key, vec, 0)
	}
	return vec, nil
}

// InvalidateDataset drops the cached query vectors of dataset.
func (s *Service) InvalidateDataset(dataset string) int {
	if s.queries == nil {
		return 0
	}
	return s.queries.Invalidate(strings.ToLower(strings.TrimSpace(dataset)) + "/*")
}

// join attaches metadata to hits in hit order and assigns ranks.
func join(hits []vector.Hit, rows []*store.CellProfile) []Result {
	byID := make(map[string]*store.CellProfile, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		profile, ok := byID[h.ID]
		if !ok {
			profile = &store.CellProfile{ID: h.ID}
		}
		results[i] = Result{Rank: i + 1, ID: h.ID, Distance: h.Distance, HasMetadata: ok, Profile: profile}
	}
	return results
}

func filterResults(results []Result, where *celexpr.Program) []Result {
	kept := results[:0]
	for _, r := range results {
		if where.Match(rowVars(r)) {
			kept = append(kept, r)
		}
	}
	for i := range kept {
		kept[i].Rank = i + 1
	}
	return kept
}

func rowVars(r Result) map[string]any {
	p := r.Profile
	return map[string]any{
		"id":                p.ID,
		"dataset":           p.Dataset,
		"name":              p.Name,
		"perturbation_type": p.PerturbationType,
		"plate":             p.Plate,
		"well":              p.Well,
		"batch":             p.Batch,
		"cell_line":         p.CellLine,
		"timepoint":         p.Timepoint,
		"pca_x":             floatOrNil(p.PCAX),
		"pca_y":             floatOrNil(p.PCAY),
		"umap_x":            floatOrNil(p.UMAPX),
		"umap_y":            floatOrNil(p.UMAPY),
		"distance":          float64(r.Distance),
	}
}

func dropID(hits []vector.Hit, id string) []vector.Hit {
	out := make([]vector.Hit, 0, len(hits))
	for _, h := range hits {
		if h.ID != id {
			out = append(out, h)
		}
	}
	return out
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
