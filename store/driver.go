package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Type returns the driver name, matching a directory under migration/.
	Type() string

	IsInitialized(ctx context.Context) (bool, error)

	// CellProfile model related methods.
	UpsertCellProfiles(ctx context.Context, profiles []*CellProfile) error
	ListCellProfiles(ctx context.Context, find *FindCellProfile) ([]*CellProfile, error)
	CountCellProfiles(ctx context.Context, dataset string) (int64, error)
}
