// Package backends builds the vector backend selected by the profile.
package backends

import (
	"fmt"
	"log/slog"

	"github.com/hrygo/jcp/internal/profile"
	"github.com/hrygo/jcp/plugin/vector"
	"github.com/hrygo/jcp/plugin/vector/embedded"
	"github.com/hrygo/jcp/plugin/vector/milvus"
	"github.com/hrygo/jcp/plugin/vector/pgvector"
)

// NewBackend returns the backend for VECTOR_BACKEND. MILVUS_MODE=lite runs
// the embedded store at MILVUS_LITE_PATH.
func NewBackend(p *profile.Profile) (vector.Backend, error) {
	fields := vector.Fields{ID: p.MilvusIDField, Vector: p.MilvusVectorField}

	switch p.VectorBackend {
	case "milvus", "":
		switch p.MilvusMode {
		case "server", "":
			return milvus.New(milvus.ConfigFromProfile(p)), nil
		case "lite":
			slog.Debug("using embedded vector store for milvus lite mode", slog.String("path", p.MilvusLitePath))
			return embedded.New(embedded.Options{Dir: p.MilvusLitePath, Fields: fields}), nil
		default:
			return nil, fmt.Errorf("unknown MILVUS_MODE: %s", p.MilvusMode)
		}
	case "pgvector":
		dsn := p.PGVectorDSN
		if dsn == "" {
			dsn = p.PostgresDSN
		}
		return pgvector.New(pgvector.Options{DSN: dsn, Fields: fields}), nil
	case "memory":
		return embedded.New(embedded.Options{InMemory: true, Fields: fields}), nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND: %s", p.VectorBackend)
	}
}

// NewService wraps the configured backend in a vector.Service.
func NewService(p *profile.Profile) (*vector.Service, error) {
	backend, err := NewBackend(p)
	if err != nil {
		return nil, err
	}
	return vector.NewService(backend, vector.ConfigFromProfile(p)), nil
}
