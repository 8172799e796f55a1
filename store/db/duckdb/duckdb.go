package duckdb

import (
	"context"
	"database/sql"

	// Import the DuckDB driver.
	_ "github.com/marcboeker/go-duckdb"
	"github.com/pkg/errors"

	"github.com/hrygo/jcp/internal/profile"
	"github.com/hrygo/jcp/store"
)

// ============================================================================
// DUCKDB SUPPORT (Default)
// ============================================================================
// DuckDB is the default metadata engine: a single embedded file, no server.
//
// DuckDB allows one writing process per database file. Run the seed commands
// before starting the UI, or point both at the same process.
//
// UpsertCellProfiles is not atomic: the delete and insert are separate
// autocommit statements, so a failed insert leaves the replaced ids deleted.
// Rerun the load to recover.
// ============================================================================

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a DuckDB database file, creating it if needed.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DuckDBPath == "" {
		return nil, errors.New("DUCKDB_PATH is required for the duckdb driver")
	}

	db, err := sql.Open("duckdb", profile.DuckDBPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open duckdb database: %s", profile.DuckDBPath)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping duckdb database")
	}

	return &DB{
		db:      db,
		profile: profile,
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (*DB) Type() string {
	return "duckdb"
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'profiles'").Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return count > 0, nil
}
