package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Profile is the configuration shared by the server and the demo commands.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for the UI server
	Addr string
	// Port is the binding port for the UI server
	Port int
	// Version is the current version of the binary
	Version string

	// Metadata store
	MetadataBackend    string // METADATA_BACKEND (default: duckdb)
	DuckDBPath         string // DUCKDB_PATH (default: ./data/metadata.duckdb)
	SQLitePath         string // SQLITE_PATH (default: ./data/metadata.sqlite)
	PostgresDSN        string // POSTGRES_DSN
	MetadataSchemaPath string // METADATA_SCHEMA_PATH (default: embedded schema)

	// Vector store
	VectorBackend            string // VECTOR_BACKEND (default: milvus)
	MilvusMode               string // MILVUS_MODE (default: server)
	MilvusHost               string // MILVUS_HOST (default: localhost)
	MilvusPort               string // MILVUS_PORT (default: 19530)
	MilvusToken              string // MILVUS_TOKEN
	MilvusUser               string // MILVUS_USER
	MilvusPassword           string // MILVUS_PASSWORD
	MilvusDB                 string // MILVUS_DB
	MilvusLitePath           string // MILVUS_LITE_PATH (default: ./data/milvus_lite.db)
	MilvusVectorField        string // MILVUS_VECTOR_FIELD (default: vector)
	MilvusIDField            string // MILVUS_ID_FIELD (default: id)
	MilvusORFCollection      string // MILVUS_ORF_COLLECTION (default: orf_profiles)
	MilvusCRISPRCollection   string // MILVUS_CRISPR_COLLECTION (default: crispr_profiles)
	MilvusCompoundCollection string // MILVUS_COMPOUND_COLLECTION (default: compound_profiles)
	MilvusMinServerVersion   string // MILVUS_MIN_SERVER_VERSION (default: v2.4.0)
	PGVectorDSN              string // PGVECTOR_DSN

	// Smoke test
	SmokeQueryID string // SMOKE_QUERY_ID
	SmokeDataset string // SMOKE_DATASET (default: orf)
	SmokeK       int    // SMOKE_K (default: 10)

	// UI limits
	RateLimitRPS   float64 // JCP_RATE_LIMIT_RPS (default: 10)
	RateLimitBurst int     // JCP_RATE_LIMIT_BURST (default: 20)
	MaxTopK        int     // JCP_MAX_TOP_K (default: 100)

	// Query vector cache
	QueryCacheSize int           // JCP_QUERY_CACHE_SIZE (default: 0, disabled)
	QueryCacheTTL  time.Duration // JCP_QUERY_CACHE_TTL (default: 5m)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// MilvusAddress returns host:port of the Milvus server.
func (p *Profile) MilvusAddress() string {
	return p.MilvusHost + ":" + p.MilvusPort
}

// MetadataPath returns the database file for file-backed metadata drivers.
func (p *Profile) MetadataPath() string {
	switch p.MetadataBackend {
	case "duckdb":
		return p.DuckDBPath
	case "sqlite":
		return p.SQLitePath
	}
	return ""
}

var defaults = map[string]any{
	"JCP_MODE":                   "demo",
	"JCP_ADDR":                   "",
	"JCP_PORT":                   8501,
	"METADATA_BACKEND":           "duckdb",
	"DUCKDB_PATH":                "./data/metadata.duckdb",
	"SQLITE_PATH":                "./data/metadata.sqlite",
	"POSTGRES_DSN":               "",
	"METADATA_SCHEMA_PATH":       "",
	"VECTOR_BACKEND":             "milvus",
	"MILVUS_MODE":                "server",
	"MILVUS_HOST":                "localhost",
	"MILVUS_PORT":                "19530",
	"MILVUS_TOKEN":               "",
	"MILVUS_USER":                "",
	"MILVUS_PASSWORD":            "",
	"MILVUS_DB":                  "",
	"MILVUS_LITE_PATH":           "./data/milvus_lite.db",
	"MILVUS_VECTOR_FIELD":        "vector",
	"MILVUS_ID_FIELD":            "id",
	"MILVUS_ORF_COLLECTION":      "orf_profiles",
	"MILVUS_CRISPR_COLLECTION":   "crispr_profiles",
	"MILVUS_COMPOUND_COLLECTION": "compound_profiles",
	"MILVUS_MIN_SERVER_VERSION":  "v2.4.0",
	"PGVECTOR_DSN":               "",
	"SMOKE_QUERY_ID":             "",
	"SMOKE_DATASET":              "orf",
	"SMOKE_K":                    10,
	"JCP_RATE_LIMIT_RPS":         10.0,
	"JCP_RATE_LIMIT_BURST":       20,
	"JCP_MAX_TOP_K":              100,
	"JCP_QUERY_CACHE_SIZE":       0,
	"JCP_QUERY_CACHE_TTL":        "5m",
}

// newViper builds a viper instance reading the process environment first and
// the optional dotenv file second. Missing env files are not an error.
func newViper(envFile string) (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if envFile == "" {
		return v, nil
	}
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(envFile); os.IsNotExist(statErr) {
			return v, nil
		}
		return nil, errors.Wrapf(err, "failed to read env file %s", envFile)
	}
	return v, nil
}

// FromEnv loads configuration from environment variables and the given dotenv
// file. Empty values fall back to defaults.
func (p *Profile) FromEnv(envFile string) error {
	v, err := newViper(envFile)
	if err != nil {
		return err
	}

	// Empty env values should not shadow defaults.
	getString := func(key string) string {
		if val := strings.TrimSpace(v.GetString(key)); val != "" {
			return val
		}
		if def, ok := defaults[key].(string); ok {
			return def
		}
		return ""
	}

	p.Mode = strings.ToLower(getString("JCP_MODE"))
	p.Addr = getString("JCP_ADDR")
	p.Port = v.GetInt("JCP_PORT")

	p.MetadataBackend = strings.ToLower(getString("METADATA_BACKEND"))
	p.DuckDBPath = getString("DUCKDB_PATH")
	p.SQLitePath = getString("SQLITE_PATH")
	p.PostgresDSN = getString("POSTGRES_DSN")
	p.MetadataSchemaPath = getString("METADATA_SCHEMA_PATH")

	p.VectorBackend = strings.ToLower(getString("VECTOR_BACKEND"))
	p.MilvusMode = strings.ToLower(getString("MILVUS_MODE"))
	p.MilvusHost = getString("MILVUS_HOST")
	p.MilvusPort = getString("MILVUS_PORT")
	p.MilvusToken = getString("MILVUS_TOKEN")
	p.MilvusUser = getString("MILVUS_USER")
	p.MilvusPassword = getString("MILVUS_PASSWORD")
	p.MilvusDB = getString("MILVUS_DB")
	p.MilvusLitePath = getString("MILVUS_LITE_PATH")
	p.MilvusVectorField = getString("MILVUS_VECTOR_FIELD")
	p.MilvusIDField = getString("MILVUS_ID_FIELD")
	p.MilvusORFCollection = getString("MILVUS_ORF_COLLECTION")
	p.MilvusCRISPRCollection = getString("MILVUS_CRISPR_COLLECTION")
	p.MilvusCompoundCollection = getString("MILVUS_COMPOUND_COLLECTION")
	p.MilvusMinServerVersion = getString("MILVUS_MIN_SERVER_VERSION")
	p.PGVectorDSN = getString("PGVECTOR_DSN")

	p.SmokeQueryID = getString("SMOKE_QUERY_ID")
	p.SmokeDataset = getString("SMOKE_DATASET")
	p.SmokeK = v.GetInt("SMOKE_K")

	p.RateLimitRPS = v.GetFloat64("JCP_RATE_LIMIT_RPS")
	p.RateLimitBurst = v.GetInt("JCP_RATE_LIMIT_BURST")
	p.MaxTopK = v.GetInt("JCP_MAX_TOP_K")

	p.QueryCacheSize = v.GetInt("JCP_QUERY_CACHE_SIZE")
	p.QueryCacheTTL = v.GetDuration("JCP_QUERY_CACHE_TTL")
	return nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.MetadataBackend {
	case "duckdb", "sqlite":
		if err := ensureParentDir(p.MetadataPath()); err != nil {
			slog.Error("failed to prepare metadata directory", slog.String("path", p.MetadataPath()), slog.String("error", err.Error()))
			return err
		}
	case "postgres":
		if p.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required when METADATA_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown METADATA_BACKEND: %s", p.MetadataBackend)
	}

	switch p.VectorBackend {
	case "milvus":
		if p.MilvusMode != "server" && p.MilvusMode != "lite" {
			return fmt.Errorf("unknown MILVUS_MODE: %s", p.MilvusMode)
		}
	case "pgvector":
		if p.PGVectorDSN == "" {
			p.PGVectorDSN = p.PostgresDSN
		}
		if p.PGVectorDSN == "" {
			return errors.New("PGVECTOR_DSN is required when VECTOR_BACKEND=pgvector")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND: %s", p.VectorBackend)
	}

	if p.SmokeK <= 0 {
		p.SmokeK = 10
	}
	if p.MaxTopK <= 0 {
		p.MaxTopK = 100
	}
	if p.RateLimitRPS <= 0 {
		p.RateLimitRPS = 10
	}
	if p.RateLimitBurst <= 0 {
		p.RateLimitBurst = 20
	}
	if p.QueryCacheTTL <= 0 {
		p.QueryCacheTTL = 5 * time.Minute
	}
	return nil
}

func ensureParentDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return errors.Wrapf(err, "unable to create data folder %s", dir)
	}
	return nil
}
