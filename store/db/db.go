package db

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/hrygo/jcp/internal/profile"
	"github.com/hrygo/jcp/store"
	"github.com/hrygo/jcp/store/db/duckdb"
	"github.com/hrygo/jcp/store/db/postgres"
	"github.com/hrygo/jcp/store/db/sqlite"
)

// ============================================================================
// METADATA BACKEND POLICY
// ============================================================================
// DuckDB: default, single embedded file.
// SQLite: pure-Go fallback when cgo is unavailable.
// PostgreSQL: shared server, pairs with the pgvector vector backend.
// ============================================================================

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.MetadataBackend {
	case "duckdb":
		driver, err = duckdb.NewDB(profile)
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, fmt.Errorf("unknown METADATA_BACKEND: %s", profile.MetadataBackend)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}

// NewStore opens the configured driver and wraps it in a Store.
func NewStore(profile *profile.Profile) (*store.Store, error) {
	driver, err := NewDBDriver(profile)
	if err != nil {
		return nil, err
	}
	return store.New(driver, profile), nil
}
