package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/jcp/internal/profile"
)

const (
	// FetchBatchSize bounds the ids sent in one `id in [...]` query.
	FetchBatchSize = 200
	// fetchConcurrency bounds the query batches in flight.
	fetchConcurrency = 4

	DefaultNProbe = 16
)

// Datasets are the dataset keys in display order.
var Datasets = []string{"orf", "crispr", "compound"}

// Config maps datasets to collections.
type Config struct {
	Collections map[string]string
}

// ConfigFromProfile reads collection names from the profile.
func ConfigFromProfile(p *profile.Profile) Config {
	return Config{
		Collections: map[string]string{
			"orf":      p.MilvusORFCollection,
			"crispr":   p.MilvusCRISPRCollection,
			"compound": p.MilvusCompoundCollection,
		},
	}
}

// Service is the vector store adapter used by the UI and the scripts.
// It is safe for concurrent use.
type Service struct {
	backend Backend
	config  Config

	mu        sync.Mutex
	connected bool
}

func NewService(backend Backend, config Config) *Service {
	return &Service{backend: backend, config: config}
}

func (s *Service) Backend() Backend {
	return s.backend
}

// Connect connects the backend once. A failed attempt is retried on the
// next call.
func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if err := s.backend.Connect(ctx); err != nil {
		return errors.Wrapf(err, "failed to connect to %s", s.backend.Name())
	}
	s.connected = true
	slog.Info("connected to vector backend", slog.String("backend", s.backend.Name()))
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.backend.Close()
}

// CollectionName resolves a dataset key to its collection.
func (s *Service) CollectionName(dataset string) (string, error) {
	name, ok := s.config.Collections[strings.ToLower(strings.TrimSpace(dataset))]
	if !ok || name == "" {
		return "", unknownDatasetError(dataset, Datasets)
	}
	return name, nil
}

// GetCollection returns the loaded collection of dataset.
func (s *Service) GetCollection(ctx context.Context, dataset string) (*Collection, error) {
	name, err := s.CollectionName(dataset)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}

	exists, err := s.backend.HasCollection(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to check collection %s", name)
	}
	if !exists {
		return nil, collectionNotFoundError(s.backend.Name(), name, dataset)
	}
	if err := s.backend.LoadCollection(ctx, name); err != nil {
		return nil, errors.Wrapf(err, "failed to load collection %s", name)
	}
	col, err := s.backend.DescribeCollection(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to describe collection %s", name)
	}
	return col, nil
}

type searchOptions struct {
	metric Metric
	nprobe int
	filter string
}

// SearchOption tunes a Search call.
type SearchOption func(*searchOptions)

func WithMetric(m Metric) SearchOption {
	return func(o *searchOptions) {
		if m != "" {
			o.metric = Metric(strings.ToUpper(string(m)))
		}
	}
}

func WithNProbe(n int) SearchOption {
	return func(o *searchOptions) {
		if n > 0 {
			o.nprobe = n
		}
	}
}

// WithFilter restricts candidates with a backend filter expression.
func WithFilter(expr string) SearchOption {
	return func(o *searchOptions) {
		o.filter = strings.TrimSpace(expr)
	}
}

// Search returns the k nearest vectors to query in dataset. Defaults are L2
// with nprobe 16 and no filter.
func (s *Service) Search(ctx context.Context, dataset string, query []float32, k int, opts ...SearchOption) ([]Hit, error) {
	if len(query) == 0 {
		return nil, errors.Wrap(ErrInvalidQuery, "query vector is empty")
	}
	if k <= 0 {
		return nil, errors.Wrapf(ErrInvalidQuery, "k must be positive, got %d", k)
	}

	o := searchOptions{metric: MetricL2, nprobe: DefaultNProbe}
	for _, opt := range opts {
		opt(&o)
	}
	switch o.metric {
	case MetricL2, MetricIP, MetricCosine:
	default:
		return nil, errors.Wrapf(ErrInvalidQuery, "unknown metric %s", o.metric)
	}

	col, err := s.GetCollection(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if col.Dim > 0 && len(query) != col.Dim {
		return nil, errors.Wrapf(ErrInvalidQuery, "query dimension %d does not match collection %s dimension %d", len(query), col.Name, col.Dim)
	}

	hits, err := s.backend.Search(ctx, &SearchRequest{
		Collection: col.Name,
		Vector:     query,
		K:          k,
		Metric:     o.metric,
		NProbe:     o.nprobe,
		Filter:     o.filter,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search collection %s", col.Name)
	}
	return hits, nil
}

// FetchVectors returns the vectors of ids aligned to the input order. Any
// missing id fails the call with a *MissingIDsError.
func (s *Service) FetchVectors(ctx context.Context, dataset string, ids []string) ([][]float32, error) {
	if len(ids) == 0 {
		return [][]float32{}, nil
	}
	col, err := s.GetCollection(ctx, dataset)
	if err != nil {
		return nil, err
	}

	batches := splitBatches(uniqueStrings(ids), FetchBatchSize)
	found := make([]map[string][]float32, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			vectors, err := s.backend.Query(gctx, col.Name, batch)
			if err != nil {
				return errors.Wrapf(err, "failed to query %d ids from %s", len(batch), col.Name)
			}
			found[i] = vectors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string][]float32, len(ids))
	for _, m := range found {
		for id, vec := range m {
			merged[id] = vec
		}
	}

	out := make([][]float32, len(ids))
	var missing []string
	for i, id := range ids {
		vec, ok := merged[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out[i] = vec
	}
	if len(missing) > 0 {
		return nil, &MissingIDsError{Collection: col.Name, IDs: missing}
	}
	return out, nil
}

// FetchVectorByID returns the vector of one id.
func (s *Service) FetchVectorByID(ctx context.Context, dataset, id string) ([]float32, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.Wrap(ErrInvalidQuery, "id is required")
	}
	vectors, err := s.FetchVectors(ctx, dataset, []string{id})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// ====================================================================
// Admin operations used by the seed and ingest commands.
// ====================================================================

func (s *Service) resolve(ctx context.Context, dataset string) (string, error) {
	name, err := s.CollectionName(dataset)
	if err != nil {
		return "", err
	}
	if err := s.Connect(ctx); err != nil {
		return "", err
	}
	return name, nil
}

func (s *Service) HasCollection(ctx context.Context, dataset string) (bool, error) {
	name, err := s.resolve(ctx, dataset)
	if err != nil {
		return false, err
	}
	return s.backend.HasCollection(ctx, name)
}

// DropCollection drops the collection of dataset and reports whether it existed.
func (s *Service) DropCollection(ctx context.Context, dataset string) (bool, error) {
	name, err := s.resolve(ctx, dataset)
	if err != nil {
		return false, err
	}
	exists, err := s.backend.HasCollection(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	if err := s.backend.DropCollection(ctx, name); err != nil {
		return false, errors.Wrapf(err, "failed to drop collection %s", name)
	}
	slog.Info("dropped collection", slog.String("collection", name), slog.String("dataset", dataset))
	return true, nil
}

func (s *Service) CreateCollection(ctx context.Context, dataset string, dim int) error {
	if dim <= 0 {
		return errors.Errorf("dimension must be positive, got %d", dim)
	}
	name, err := s.resolve(ctx, dataset)
	if err != nil {
		return err
	}
	if err := s.backend.CreateCollection(ctx, CollectionSpec{Name: name, Dim: dim, IDMaxLength: 128}); err != nil {
		return errors.Wrapf(err, "failed to create collection %s", name)
	}
	return nil
}

func (s *Service) Insert(ctx context.Context, dataset string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	name, err := s.resolve(ctx, dataset)
	if err != nil {
		return err
	}
	dim := len(records[0].Vector)
	for _, r := range records {
		if r.ID == "" {
			return errors.Wrap(ErrInvalidQuery, "record id is empty")
		}
		if len(r.Vector) != dim {
			return errors.Wrapf(ErrInvalidQuery, "record %s has dimension %d, expected %d", r.ID, len(r.Vector), dim)
		}
	}
	if err := s.backend.Insert(ctx, name, records); err != nil {
		return errors.Wrapf(err, "failed to insert %d records into %s", len(records), name)
	}
	return nil
}

func (s *Service) Flush(ctx context.Context, dataset string) error {
	name, err := s.resolve(ctx, dataset)
	if err != nil {
		return err
	}
	return s.backend.Flush(ctx, name)
}

func (s *Service) CreateIndex(ctx context.Context, dataset string, spec IndexSpec) error {
	name, err := s.resolve(ctx, dataset)
	if err != nil {
		return err
	}
	if spec.Type == "" {
		spec.Type = DefaultIndexSpec.Type
	}
	if spec.Metric == "" {
		spec.Metric = DefaultIndexSpec.Metric
	}
	if spec.NList <= 0 {
		spec.NList = DefaultIndexSpec.NList
	}
	if err := s.backend.CreateIndex(ctx, name, spec); err != nil {
		return errors.Wrapf(err, "failed to create %s index on %s", spec.Type, name)
	}
	return nil
}

func (s *Service) Load(ctx context.Context, dataset string) error {
	name, err := s.resolve(ctx, dataset)
	if err != nil {
		return err
	}
	return s.backend.LoadCollection(ctx, name)
}

func splitBatches(ids []string, size int) [][]string {
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// QuoteIDs renders ids as a Milvus `id in [...]` list literal.
func QuoteIDs(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
