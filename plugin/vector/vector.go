// Package vector resolves datasets to vector collections and shapes search
// and fetch requests for the configured vector engine.
package vector

import "context"

// Metric names the distance used for ANN search.
type Metric string

const (
	MetricL2     Metric = "L2"
	MetricIP     Metric = "IP"
	MetricCosine Metric = "COSINE"
)

// Hit is one search result in engine order.
type Hit struct {
	ID       string  `json:"id" yaml:"id"`
	Distance float32 `json:"distance" yaml:"distance"`
}

// Field describes one collection field.
type Field struct {
	Name       string `json:"name" yaml:"name"`
	DataType   string `json:"data_type" yaml:"data_type"`
	PrimaryKey bool   `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Dim        int    `json:"dim,omitempty" yaml:"dim,omitempty"`
	MaxLength  int    `json:"max_length,omitempty" yaml:"max_length,omitempty"`
}

// Collection is the description of a loaded collection.
type Collection struct {
	Name   string  `json:"name" yaml:"name"`
	Dim    int     `json:"dim" yaml:"dim"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// CollectionSpec is the schema used when creating a collection: a VARCHAR
// primary key and a FLOAT_VECTOR field of Dim.
type CollectionSpec struct {
	Name        string
	Dim         int
	IDMaxLength int
}

// IndexSpec describes the ANN index built on the vector field.
type IndexSpec struct {
	Type   string
	Metric Metric
	NList  int
}

// DefaultIndexSpec is IVF_FLAT over L2 with 64 lists.
var DefaultIndexSpec = IndexSpec{Type: "IVF_FLAT", Metric: MetricL2, NList: 64}

// Record is one id/vector pair to insert.
type Record struct {
	ID     string
	Vector []float32
}

// SearchRequest is a single-vector ANN search against one collection.
type SearchRequest struct {
	Collection string
	Vector     []float32
	K          int
	Metric     Metric
	NProbe     int
	Filter     string
}

// Backend talks to one vector engine. Field names are fixed per backend at
// construction time.
type Backend interface {
	// Name identifies the engine in logs.
	Name() string
	Connect(ctx context.Context) error
	Close() error

	HasCollection(ctx context.Context, name string) (bool, error)
	DescribeCollection(ctx context.Context, name string) (*Collection, error)
	LoadCollection(ctx context.Context, name string) error
	DropCollection(ctx context.Context, name string) error
	CreateCollection(ctx context.Context, spec CollectionSpec) error
	CreateIndex(ctx context.Context, name string, spec IndexSpec) error
	Insert(ctx context.Context, name string, records []Record) error
	Flush(ctx context.Context, name string) error

	Search(ctx context.Context, req *SearchRequest) ([]Hit, error)
	// Query returns the vectors of the given ids that exist, keyed by id.
	Query(ctx context.Context, name string, ids []string) (map[string][]float32, error)
}

// Fields are the id and vector field names shared by backends.
type Fields struct {
	ID     string
	Vector string
}

// DefaultFields are the field names used when none are configured.
var DefaultFields = Fields{ID: "id", Vector: "vector"}

// WithDefaults fills empty names from DefaultFields.
func (f Fields) WithDefaults() Fields {
	if f.ID == "" {
		f.ID = DefaultFields.ID
	}
	if f.Vector == "" {
		f.Vector = DefaultFields.Vector
	}
	return f
}
