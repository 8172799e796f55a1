package embedded

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/jcp/plugin/vector"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b := New(Options{InMemory: true})
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func seed(t *testing.T, b *Backend, name string, records []vector.Record) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.CreateCollection(ctx, vector.CollectionSpec{Name: name, Dim: 2, IDMaxLength: 128}))
	require.NoError(t, b.Insert(ctx, name, records))
	require.NoError(t, b.Flush(ctx, name))
	require.NoError(t, b.CreateIndex(ctx, name, vector.DefaultIndexSpec))
	require.NoError(t, b.LoadCollection(ctx, name))
}

func gridRecords() []vector.Record {
	return []vector.Record{
		{ID: "demo_0", Vector: []float32{0, 0}},
		{ID: "demo_1", Vector: []float32{1, 0}},
		{ID: "demo_2", Vector: []float32{0, 2}},
		{ID: "demo_3", Vector: []float32{3, 3}},
	}
}

func TestCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	exists, err := b.HasCollection(ctx, "orf_profiles")
	require.NoError(t, err)
	assert.False(t, exists)

	seed(t, b, "orf_profiles", gridRecords())

	exists, err = b.HasCollection(ctx, "orf_profiles")
	require.NoError(t, err)
	assert.True(t, exists)

	col, err := b.DescribeCollection(ctx, "orf_profiles")
	require.NoError(t, err)
	assert.Equal(t, 2, col.Dim)
	require.Len(t, col.Fields, 2)
	assert.Equal(t, "id", col.Fields[0].Name)
	assert.True(t, col.Fields[0].PrimaryKey)
	assert.Equal(t, "vector", col.Fields[1].Name)

	require.Error(t, b.CreateCollection(ctx, vector.CollectionSpec{Name: "orf_profiles", Dim: 2}))

	require.NoError(t, b.DropCollection(ctx, "orf_profiles"))
	exists, err = b.HasCollection(ctx, "orf_profiles")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, b.CreateCollection(ctx, vector.CollectionSpec{Name: "orf_profiles", Dim: 2}))
	found, err := b.Query(ctx, "orf_profiles", []string{"demo_0"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSearchMetrics(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	seed(t, b, "orf_profiles", gridRecords())

	tests := []struct {
		name    string
		metric  vector.Metric
		query   []float32
		wantIDs []string
	}{
		{"l2 ascending", vector.MetricL2, []float32{0, 0}, []string{"demo_0", "demo_1", "demo_2"}},
		{"ip descending", vector.MetricIP, []float32{1, 1}, []string{"demo_3", "demo_2", "demo_1"}},
		{"cosine descending", vector.MetricCosine, []float32{1, 0}, []string{"demo_1", "demo_3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := b.Search(ctx, &vector.SearchRequest{
				Collection: "orf_profiles",
				Vector:     tt.query,
				K:          len(tt.wantIDs),
				Metric:     tt.metric,
			})
			require.NoError(t, err)
			ids := make([]string, len(hits))
			for i, h := range hits {
				ids[i] = h.ID
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	hits, err := b.Search(ctx, &vector.SearchRequest{Collection: "orf_profiles", Vector: []float32{0, 0}, K: 2, Metric: vector.MetricL2})
	require.NoError(t, err)
	assert.InDelta(t, 0, hits[0].Distance, 1e-6)
	assert.InDelta(t, 1, hits[1].Distance, 1e-6)
}

func TestSearchFilter(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	seed(t, b, "orf_profiles", gridRecords())

	hits, err := b.Search(ctx, &vector.SearchRequest{
		Collection: "orf_profiles",
		Vector:     []float32{0, 0},
		K:          10,
		Metric:     vector.MetricL2,
		Filter:     `id != "demo_0" && id != "demo_1"`,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "demo_2", hits[0].ID)
	assert.Equal(t, "demo_3", hits[1].ID)

	_, err = b.Search(ctx, &vector.SearchRequest{Collection: "orf_profiles", Vector: []float32{0, 0}, K: 1, Filter: "id =="})
	require.ErrorIs(t, err, vector.ErrInvalidQuery)
}

func TestSearchRequiresLoad(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateCollection(ctx, vector.CollectionSpec{Name: "c", Dim: 2}))

	_, err := b.Search(ctx, &vector.SearchRequest{Collection: "c", Vector: []float32{0, 0}, K: 1})
	require.Error(t, err)

	_, err = b.Search(ctx, &vector.SearchRequest{Collection: "missing", Vector: []float32{0, 0}, K: 1})
	require.ErrorIs(t, err, vector.ErrCollectionNotFound)
}

func TestInsertValidates(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateCollection(ctx, vector.CollectionSpec{Name: "c", Dim: 2, IDMaxLength: 4}))

	err := b.Insert(ctx, "c", []vector.Record{{ID: "a", Vector: []float32{1}}})
	require.ErrorIs(t, err, vector.ErrInvalidQuery)

	err = b.Insert(ctx, "c", []vector.Record{{ID: "too_long", Vector: []float32{1, 2}}})
	require.ErrorIs(t, err, vector.ErrInvalidQuery)
}

func TestQueryReturnsExistingIDs(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	seed(t, b, "orf_profiles", gridRecords())

	found, err := b.Query(ctx, "orf_profiles", []string{"demo_2", "ghost"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, []float32{0, 2}, found["demo_2"])
}

func TestServiceOverEmbedded(t *testing.T) {
	ctx := context.Background()
	svc := vector.NewService(New(Options{InMemory: true}), vector.Config{Collections: map[string]string{"orf": "orf_profiles"}})
	t.Cleanup(func() { _ = svc.Close() })

	require.NoError(t, svc.CreateCollection(ctx, "orf", 2))
	records := make([]vector.Record, 0, 250)
	for i := 0; i < 250; i++ {
		records = append(records, vector.Record{ID: fmt.Sprintf("demo_%d", i), Vector: []float32{float32(i), 0}})
	}
	require.NoError(t, svc.Insert(ctx, "orf", records))
	require.NoError(t, svc.Flush(ctx, "orf"))
	require.NoError(t, svc.CreateIndex(ctx, "orf", vector.IndexSpec{}))
	require.NoError(t, svc.Load(ctx, "orf"))

	query, err := svc.FetchVectorByID(ctx, "orf", "demo_10")
	require.NoError(t, err)

	hits, err := svc.Search(ctx, "orf", query, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "demo_10", hits[0].ID)

	ids := []string{"demo_249", "demo_0", "demo_201"}
	vectors, err := svc.FetchVectors(ctx, "orf", ids)
	require.NoError(t, err)
	assert.Equal(t, []float32{249, 0}, vectors[0])
	assert.Equal(t, []float32{0, 0}, vectors[1])
	assert.Equal(t, []float32{201, 0}, vectors[2])
}
