package store

import (
	"context"
	"embed"
	"log/slog"
	"os"
	"path"

	"github.com/pkg/errors"
)

// Schema files live at migration/{driver}/LATEST.sql and hold the full,
// idempotent schema for a fresh database.

//go:embed migration
var migrationFS embed.FS

const (
	// LatestSchemaFileName is the name of the latest schema file.
	LatestSchemaFileName = "LATEST.sql"
)

// InitSchema executes the schema script at schemaPath. When schemaPath is
// empty the embedded schema for the current driver is used.
func (s *Store) InitSchema(ctx context.Context, schemaPath string) error {
	script, source, err := s.loadSchema(schemaPath)
	if err != nil {
		return err
	}

	if _, err := s.driver.GetDB().ExecContext(ctx, script); err != nil {
		return errors.Wrapf(err, "failed to execute schema %s", source)
	}
	slog.Info("metadata schema initialized",
		slog.String("driver", s.driver.Type()),
		slog.String("schema", source),
	)
	return nil
}

func (s *Store) loadSchema(schemaPath string) (string, string, error) {
	if schemaPath != "" {
		buf, err := os.ReadFile(schemaPath)
		if err != nil {
			return "", "", errors.Wrapf(err, "failed to read schema file %s", schemaPath)
		}
		return string(buf), schemaPath, nil
	}

	name := path.Join("migration", s.driver.Type(), LatestSchemaFileName)
	buf, err := migrationFS.ReadFile(name)
	if err != nil {
		return "", "", errors.Wrapf(err, "no embedded schema for driver %s", s.driver.Type())
	}
	return string(buf), name, nil
}

// EnsureSchema initializes the schema only when the profiles table is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}
	return s.InitSchema(ctx, s.schemaPath())
}

func (s *Store) schemaPath() string {
	if s.profile == nil {
		return ""
	}
	return s.profile.MetadataSchemaPath
}
