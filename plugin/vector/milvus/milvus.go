// Package milvus implements the vector backend on a Milvus server.
package milvus

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/pkg/errors"

	"github.com/hrygo/jcp/internal/profile"
	"github.com/hrygo/jcp/internal/version"
	"github.com/hrygo/jcp/plugin/vector"
)

// Config holds the connection settings of one Milvus server.
type Config struct {
	Address    string
	Token      string
	Username   string
	Password   string
	DBName     string
	Fields     vector.Fields
	MinVersion string
}

func ConfigFromProfile(p *profile.Profile) Config {
	return Config{
		Address:    p.MilvusAddress(),
		Token:      p.MilvusToken,
		Username:   p.MilvusUser,
		Password:   p.MilvusPassword,
		DBName:     p.MilvusDB,
		Fields:     vector.Fields{ID: p.MilvusIDField, Vector: p.MilvusVectorField},
		MinVersion: p.MilvusMinServerVersion,
	}
}

type Backend struct {
	config Config
	fields vector.Fields

	mu     sync.RWMutex
	client *milvusclient.Client
}

func New(config Config) *Backend {
	return &Backend{config: config, fields: config.Fields.WithDefaults()}
}

func (*Backend) Name() string { return "milvus" }

func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return nil
	}

	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  b.config.Address,
		APIKey:   b.config.Token,
		Username: b.config.Username,
		Password: b.config.Password,
		DBName:   b.config.DBName,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create milvus client for %s", b.config.Address)
	}
	b.client = client
	b.checkServerVersion(ctx)
	return nil
}

// checkServerVersion warns when the server is older than the configured minimum.
func (b *Backend) checkServerVersion(ctx context.Context) {
	if b.config.MinVersion == "" {
		return
	}
	serverVersion, err := b.client.GetServerVersion(ctx, milvusclient.NewGetServerVersionOption())
	if err != nil {
		slog.Warn("failed to read milvus server version", slog.String("address", b.config.Address), slog.String("error", err.Error()))
		return
	}
	if !version.IsVersionGreaterOrEqualThan(serverVersion, b.config.MinVersion) {
		slog.Warn("milvus server is older than the supported minimum",
			slog.String("server_version", serverVersion),
			slog.String("min_version", b.config.MinVersion))
		return
	}
	slog.Debug("milvus server version", slog.String("server_version", serverVersion))
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Close(context.Background())
	b.client = nil
	return err
}

func (b *Backend) cli() (*milvusclient.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.client == nil {
		return nil, errors.New("milvus client is not connected")
	}
	return b.client, nil
}

func (b *Backend) HasCollection(ctx context.Context, name string) (bool, error) {
	c, err := b.cli()
	if err != nil {
		return false, err
	}
	return c.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
}

func (b *Backend) DescribeCollection(ctx context.Context, name string) (*vector.Collection, error) {
	c, err := b.cli()
	if err != nil {
		return nil, err
	}
	coll, err := c.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(name))
	if err != nil {
		return nil, err
	}

	out := &vector.Collection{Name: coll.Name}
	if coll.Schema == nil {
		return out, nil
	}
	for _, f := range coll.Schema.Fields {
		field := vector.Field{Name: f.Name, DataType: f.DataType.String(), PrimaryKey: f.PrimaryKey}
		if raw, ok := f.TypeParams[entity.TypeParamDim]; ok {
			field.Dim, _ = strconv.Atoi(raw)
		}
		if raw, ok := f.TypeParams[entity.TypeParamMaxLength]; ok {
			field.MaxLength, _ = strconv.Atoi(raw)
		}
		if f.Name == b.fields.Vector {
			out.Dim = field.Dim
		}
		out.Fields = append(out.Fields, field)
	}
	return out, nil
}

// LoadCollection loads the collection unless it is already loaded.
func (b *Backend) LoadCollection(ctx context.Context, name string) error {
	c, err := b.cli()
	if err != nil {
		return err
	}
	state, err := c.GetLoadState(ctx, milvusclient.NewGetLoadStateOption(name))
	if err == nil && state.State == entity.LoadStateLoaded {
		return nil
	}
	task, err := c.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return err
	}
	return task.Await(ctx)
}

func (b *Backend) DropCollection(ctx context.Context, name string) error {
	c, err := b.cli()
	if err != nil {
		return err
	}
	return c.DropCollection(ctx, milvusclient.NewDropCollectionOption(name))
}

func (b *Backend) CreateCollection(ctx context.Context, spec vector.CollectionSpec) error {
	c, err := b.cli()
	if err != nil {
		return err
	}
	return c.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(spec.Name, b.schema(spec)))
}

func (b *Backend) schema(spec vector.CollectionSpec) *entity.Schema {
	maxLength := spec.IDMaxLength
	if maxLength <= 0 {
		maxLength = 128
	}
	return entity.NewSchema().
		WithName(spec.Name).
		WithAutoID(false).
		WithField(entity.NewField().
			WithName(b.fields.ID).
			WithDataType(entity.FieldTypeVarChar).
			WithIsPrimaryKey(true).
			WithMaxLength(int64(maxLength))).
		WithField(entity.NewField().
			WithName(b.fields.Vector).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(spec.Dim)))
}

func (b *Backend) CreateIndex(ctx context.Context, name string, spec vector.IndexSpec) error {
	c, err := b.cli()
	if err != nil {
		return err
	}
	idx, err := buildIndex(spec)
	if err != nil {
		return err
	}
	task, err := c.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, b.fields.Vector, idx))
	if err != nil {
		return err
	}
	return task.Await(ctx)
}

func (b *Backend) Insert(ctx context.Context, name string, records []vector.Record) error {
	c, err := b.cli()
	if err != nil {
		return err
	}
	ids := make([]string, len(records))
	vectors := make([][]float32, len(records))
	for i, r := range records {
		ids[i] = r.ID
		vectors[i] = r.Vector
	}
	_, err = c.Insert(ctx, milvusclient.NewColumnBasedInsertOption(name).
		WithVarcharColumn(b.fields.ID, ids).
		WithFloatVectorColumn(b.fields.Vector, len(vectors[0]), vectors))
	return err
}

func (b *Backend) Flush(ctx context.Context, name string) error {
	c, err := b.cli()
	if err != nil {
		return err
	}
	task, err := c.Flush(ctx, milvusclient.NewFlushOption(name))
	if err != nil {
		return err
	}
	return task.Await(ctx)
}

func (b *Backend) Search(ctx context.Context, req *vector.SearchRequest) ([]vector.Hit, error) {
	c, err := b.cli()
	if err != nil {
		return nil, err
	}
	metric, err := metricType(req.Metric)
	if err != nil {
		return nil, err
	}

	opt := milvusclient.NewSearchOption(req.Collection, req.K, []entity.Vector{entity.FloatVector(req.Vector)}).
		WithANNSField(b.fields.Vector).
		WithOutputFields(b.fields.ID).
		WithAnnParam(index.NewIvfAnnParam(req.NProbe)).
		WithSearchParam("metric_type", string(metric))
	if req.Filter != "" {
		opt = opt.WithFilter(req.Filter)
	}

	results, err := c.Search(ctx, opt)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []vector.Hit{}, nil
	}
	rs := results[0]
	if rs.Err != nil {
		return nil, rs.Err
	}
	ids, err := hitIDs(rs.GetColumn(b.fields.ID), rs.IDs, rs.ResultCount)
	if err != nil {
		return nil, err
	}

	hits := make([]vector.Hit, len(ids))
	for i, id := range ids {
		hits[i] = vector.Hit{ID: id}
		if i < len(rs.Scores) {
			hits[i].Distance = rs.Scores[i]
		}
	}
	return hits, nil
}

func (b *Backend) Query(ctx context.Context, name string, ids []string) (map[string][]float32, error) {
	c, err := b.cli()
	if err != nil {
		return nil, err
	}
	rs, err := c.Query(ctx, milvusclient.NewQueryOption(name).
		WithFilter(b.fields.ID+" in "+vector.QuoteIDs(ids)).
		WithOutputFields(b.fields.ID, b.fields.Vector).
		WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		return nil, err
	}

	idCol := rs.GetColumn(b.fields.ID)
	vecCol := rs.GetColumn(b.fields.Vector)
	if idCol == nil || vecCol == nil {
		return nil, errors.Errorf("query on %s did not return fields %s and %s", name, b.fields.ID, b.fields.Vector)
	}
	keys, err := columnStrings(idCol)
	if err != nil {
		return nil, err
	}
	vectors, err := columnVectors(vecCol)
	if err != nil {
		return nil, err
	}
	if len(keys) != len(vectors) {
		return nil, errors.Errorf("query on %s returned %d ids and %d vectors", name, len(keys), len(vectors))
	}

	out := make(map[string][]float32, len(keys))
	for i, id := range keys {
		out[id] = vectors[i]
	}
	return out, nil
}

// ====================================================================
// Conversions between milvus entities and backend values.
// ====================================================================

func metricType(m vector.Metric) (entity.MetricType, error) {
	switch m {
	case vector.MetricL2, "":
		return entity.L2, nil
	case vector.MetricIP:
		return entity.IP, nil
	case vector.MetricCosine:
		return entity.COSINE, nil
	}
	return "", errors.Wrapf(vector.ErrInvalidQuery, "unknown metric %s", m)
}

func buildIndex(spec vector.IndexSpec) (index.Index, error) {
	metric, err := metricType(spec.Metric)
	if err != nil {
		return nil, err
	}
	switch spec.Type {
	case "IVF_FLAT", "":
		return index.NewIvfFlatIndex(metric, spec.NList), nil
	case "FLAT":
		return index.NewFlatIndex(metric), nil
	}
	return nil, errors.Wrapf(vector.ErrUnsupported, "index type %s", spec.Type)
}

// hitIDs reads primary keys from the id output field, falling back to the
// result id column.
func hitIDs(output, ids column.Column, count int) ([]string, error) {
	col := output
	if col == nil || col.Len() == 0 {
		col = ids
	}
	if col == nil {
		return []string{}, nil
	}
	keys, err := columnStrings(col)
	if err != nil {
		return nil, err
	}
	if count > 0 && count < len(keys) {
		keys = keys[:count]
	}
	return keys, nil
}

func columnStrings(col column.Column) ([]string, error) {
	out := make([]string, 0, col.Len())
	for i := 0; i < col.Len(); i++ {
		v, err := col.Get(i)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s[%d]", col.Name(), i)
		}
		switch id := v.(type) {
		case string:
			out = append(out, id)
		case int64:
			out = append(out, strconv.FormatInt(id, 10))
		default:
			return nil, errors.Errorf("unexpected %T in id column %s", v, col.Name())
		}
	}
	return out, nil
}

func columnVectors(col column.Column) ([][]float32, error) {
	if fv, ok := col.(*column.ColumnFloatVector); ok {
		data := fv.Data()
		out := make([][]float32, 0, len(data))
		for _, v := range data {
			out = append(out, []float32(v))
		}
		return out, nil
	}
	out := make([][]float32, 0, col.Len())
	for i := 0; i < col.Len(); i++ {
		v, err := col.Get(i)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s[%d]", col.Name(), i)
		}
		switch vec := v.(type) {
		case entity.FloatVector:
			out = append(out, []float32(vec))
		case []float32:
			out = append(out, vec)
		default:
			return nil, errors.Errorf("unexpected %T in vector column %s", v, col.Name())
		}
	}
	return out, nil
}
