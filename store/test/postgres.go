package test

import (
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	testUser     = "testuser"
	testPassword = "testpassword"
	testDatabase = "jcp_test"

	// PGVectorImage ships PostgreSQL with the vector extension preinstalled.
	PGVectorImage = "pgvector/pgvector:pg16"
)

// PostgresEnabled reports whether PostgreSQL-backed tests should run.
func PostgresEnabled() bool {
	return os.Getenv("POSTGRES_TEST_DSN") != "" || os.Getenv("JCP_TEST_POSTGRES") == "1"
}

// GetPostgresDSN returns a DSN for PostgreSQL testing.
// It uses testcontainers to create a fresh PostgreSQL instance for each test.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()

	// Check if a custom DSN is provided via environment variable
	if dsn := os.Getenv("POSTGRES_TEST_DSN"); dsn != "" {
		return dsn
	}
	if !PostgresEnabled() {
		t.Skip("set JCP_TEST_POSTGRES=1 or POSTGRES_TEST_DSN to run PostgreSQL tests")
	}

	pgContainer, err := postgres.Run(t.Context(),
		PGVectorImage,
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername(testUser),
		postgres.WithPassword(testPassword),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	// Store container for cleanup
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(t.Context(), "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	return connStr
}
