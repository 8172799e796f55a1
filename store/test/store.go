package test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hrygo/jcp/internal/profile"
	"github.com/hrygo/jcp/store"
	"github.com/hrygo/jcp/store/db"
)

func getDriverFromEnv() string {
	driver := os.Getenv("DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}

// NewTestingStore opens a store for the DRIVER env var (default sqlite) with
// the schema initialized.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	return NewTestingStoreWithDriver(ctx, t, getDriverFromEnv())
}

// NewTestingStoreWithDriver opens a fresh store on driver with the schema
// initialized. The store is closed when t finishes.
func NewTestingStoreWithDriver(ctx context.Context, t *testing.T, driver string) *store.Store {
	t.Helper()

	profile := getTestingProfile(t, driver)
	dbDriver, err := db.NewDBDriver(profile)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(dbDriver, profile)
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("failed to close store: %v", err)
		}
	})

	if err := s.InitSchema(ctx, ""); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	if driver == "postgres" {
		if _, err := dbDriver.GetDB().ExecContext(ctx, "TRUNCATE profiles"); err != nil {
			t.Fatalf("failed to truncate profiles: %v", err)
		}
	}
	return s
}

func getTestingProfile(t *testing.T, driver string) *profile.Profile {
	dir := t.TempDir()
	p := &profile.Profile{
		Mode:            "dev",
		MetadataBackend: driver,
		DuckDBPath:      filepath.Join(dir, "metadata.duckdb"),
		SQLitePath:      filepath.Join(dir, "metadata.sqlite"),
		VectorBackend:   "memory",
	}
	if driver == "postgres" {
		p.PostgresDSN = GetPostgresDSN(t)
	}
	return p
}
