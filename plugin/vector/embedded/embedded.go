// Package embedded is a file-backed vector backend on BadgerDB. Search is an
// exact scan with Milvus-compatible metrics.
package embedded

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hrygo/jcp/internal/celexpr"
	"github.com/hrygo/jcp/plugin/vector"
)

const (
	collectionPrefix = "col/"
	vectorPrefix     = "vec/"
)

// Options configures the backend.
type Options struct {
	// Dir holds the badger data files. Required unless InMemory.
	Dir string
	// InMemory keeps all data in memory.
	InMemory bool
	Fields   vector.Fields
}

// collectionMeta is the msgpack value stored under col/<name>.
type collectionMeta struct {
	Name        string            `msgpack:"name"`
	Dim         int               `msgpack:"dim"`
	IDMaxLength int               `msgpack:"id_max_length"`
	Index       *vector.IndexSpec `msgpack:"index,omitempty"`
	Loaded      bool              `msgpack:"loaded"`
}

type Backend struct {
	opts   Options
	fields vector.Fields

	mu sync.RWMutex
	db *badger.DB
}

func New(opts Options) *Backend {
	return &Backend{opts: opts, fields: opts.Fields.WithDefaults()}
}

func (*Backend) Name() string { return "embedded" }

func (b *Backend) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return nil
	}
	if !b.opts.InMemory && b.opts.Dir == "" {
		return errors.New("embedded vector store requires a directory")
	}
	dbOpts := badger.DefaultOptions(b.opts.Dir).WithLogger(slogLogger{})
	if b.opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(slogLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return errors.Wrapf(err, "failed to open badger at %s", b.opts.Dir)
	}
	b.db = db
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *Backend) handle() (*badger.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, errors.New("embedded vector store is not connected")
	}
	return b.db, nil
}

func collectionKey(name string) []byte {
	return []byte(collectionPrefix + name)
}

func vectorKeyPrefix(name string) []byte {
	return []byte(vectorPrefix + name + "/")
}

func vectorKey(name, id string) []byte {
	return append(vectorKeyPrefix(name), id...)
}

func (b *Backend) getMeta(db *badger.DB, name string) (*collectionMeta, error) {
	var meta *collectionMeta
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(collectionKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			meta = &collectionMeta{}
			return msgpack.Unmarshal(val, meta)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read collection %s", name)
	}
	return meta, nil
}

func (b *Backend) putMeta(db *badger.DB, meta *collectionMeta) error {
	data, err := msgpack.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "failed to encode collection")
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(collectionKey(meta.Name), data)
	})
}

// mustMeta returns the collection or vector.ErrCollectionNotFound.
func (b *Backend) mustMeta(db *badger.DB, name string) (*collectionMeta, error) {
	meta, err := b.getMeta(db, name)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, errors.Wrap(vector.ErrCollectionNotFound, name)
	}
	return meta, nil
}

func (b *Backend) HasCollection(_ context.Context, name string) (bool, error) {
	db, err := b.handle()
	if err != nil {
		return false, err
	}
	meta, err := b.getMeta(db, name)
	return meta != nil, err
}

func (b *Backend) DescribeCollection(_ context.Context, name string) (*vector.Collection, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	meta, err := b.mustMeta(db, name)
	if err != nil {
		return nil, err
	}
	return &vector.Collection{
		Name: meta.Name,
		Dim:  meta.Dim,
		Fields: []vector.Field{
			{Name: b.fields.ID, DataType: "VarChar", PrimaryKey: true, MaxLength: meta.IDMaxLength},
			{Name: b.fields.Vector, DataType: "FloatVector", Dim: meta.Dim},
		},
	}, nil
}

func (b *Backend) LoadCollection(_ context.Context, name string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	meta, err := b.mustMeta(db, name)
	if err != nil {
		return err
	}
	if meta.Loaded {
		return nil
	}
	meta.Loaded = true
	return b.putMeta(db, meta)
}

func (b *Backend) DropCollection(_ context.Context, name string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Delete(collectionKey(name))
	}); err != nil {
		return errors.Wrapf(err, "failed to drop collection %s", name)
	}
	return db.DropPrefix(vectorKeyPrefix(name))
}

func (b *Backend) CreateCollection(_ context.Context, spec vector.CollectionSpec) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	existing, err := b.getMeta(db, spec.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return errors.Errorf("collection %s already exists", spec.Name)
	}
	return b.putMeta(db, &collectionMeta{Name: spec.Name, Dim: spec.Dim, IDMaxLength: spec.IDMaxLength})
}

// CreateIndex records the index; scans are exact regardless of its type.
func (b *Backend) CreateIndex(_ context.Context, name string, spec vector.IndexSpec) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	meta, err := b.mustMeta(db, name)
	if err != nil {
		return err
	}
	meta.Index = &spec
	return b.putMeta(db, meta)
}

func (b *Backend) Insert(_ context.Context, name string, records []vector.Record) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	meta, err := b.mustMeta(db, name)
	if err != nil {
		return err
	}

	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range records {
		if len(r.Vector) != meta.Dim {
			return errors.Wrapf(vector.ErrInvalidQuery, "record %s has dimension %d, collection %s expects %d", r.ID, len(r.Vector), name, meta.Dim)
		}
		if meta.IDMaxLength > 0 && len(r.ID) > meta.IDMaxLength {
			return errors.Wrapf(vector.ErrInvalidQuery, "record id %q is longer than %d", r.ID, meta.IDMaxLength)
		}
		data, err := msgpack.Marshal(r.Vector)
		if err != nil {
			return errors.Wrapf(err, "failed to encode vector %s", r.ID)
		}
		if err := wb.Set(vectorKey(name, r.ID), data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *Backend) Flush(_ context.Context, _ string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	if b.opts.InMemory {
		return nil
	}
	return db.Sync()
}

func (b *Backend) Search(ctx context.Context, req *vector.SearchRequest) ([]vector.Hit, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	meta, err := b.mustMeta(db, req.Collection)
	if err != nil {
		return nil, err
	}
	if !meta.Loaded {
		return nil, errors.Errorf("collection %s is not loaded", req.Collection)
	}
	if len(req.Vector) != meta.Dim {
		return nil, errors.Wrapf(vector.ErrInvalidQuery, "query dimension %d, collection %s expects %d", len(req.Vector), req.Collection, meta.Dim)
	}
	if req.K <= 0 {
		return []vector.Hit{}, nil
	}
	filter, err := celexpr.Compile(req.Filter, celexpr.IDVars)
	if err != nil {
		return nil, errors.Wrap(vector.ErrInvalidQuery, err.Error())
	}
	score, ascending, err := scorer(req.Metric)
	if err != nil {
		return nil, err
	}

	prefix := vectorKeyPrefix(req.Collection)
	hits := make([]vector.Hit, 0, req.K)
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := string(bytes.TrimPrefix(item.Key(), prefix))
			if !filter.Match(map[string]any{"id": id}) {
				continue
			}
			var vec []float32
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &vec)
			}); err != nil {
				return errors.Wrapf(err, "failed to decode vector %s", id)
			}
			hits = append(hits, vector.Hit{ID: id, Distance: score(req.Vector, vec)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if ascending {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Distance > hits[j].Distance
	})
	if len(hits) > req.K {
		hits = hits[:req.K]
	}
	return hits, nil
}

func (b *Backend) Query(_ context.Context, name string, ids []string) (map[string][]float32, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	if _, err := b.mustMeta(db, name); err != nil {
		return nil, err
	}

	out := make(map[string][]float32, len(ids))
	err = db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(vectorKey(name, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var vec []float32
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &vec)
			}); err != nil {
				return errors.Wrapf(err, "failed to decode vector %s", id)
			}
			out[id] = vec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scorer returns the metric function and whether smaller is closer.
func scorer(metric vector.Metric) (func(a, b []float32) float32, bool, error) {
	switch metric {
	case vector.MetricL2, "":
		return SquaredL2, true, nil
	case vector.MetricIP:
		return InnerProduct, false, nil
	case vector.MetricCosine:
		return CosineSimilarity, false, nil
	}
	return nil, false, errors.Wrapf(vector.ErrInvalidQuery, "unknown metric %s", metric)
}

// SquaredL2 is the squared euclidean distance, as Milvus reports for L2.
func SquaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

func InnerProduct(a, b []float32) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}

// CosineSimilarity returns 0 when either vector has zero norm.
func CosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// slogLogger routes badger warnings and errors to slog.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...any) {
	slog.Error("badger", slog.String("message", fmt.Sprintf(f, v...)))
}

func (slogLogger) Warningf(f string, v ...any) {
	slog.Warn("badger", slog.String("message", fmt.Sprintf(f, v...)))
}
func (slogLogger) Infof(string, ...any)  {}
func (slogLogger) Debugf(string, ...any) {}
