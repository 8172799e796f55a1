package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var profileEnvVars = []string{
	"JCP_MODE", "METADATA_BACKEND", "DUCKDB_PATH", "VECTOR_BACKEND", "MILVUS_MODE",
	"MILVUS_HOST", "MILVUS_PORT", "MILVUS_ORF_COLLECTION", "SMOKE_QUERY_ID",
	"SMOKE_DATASET", "SMOKE_K", "POSTGRES_DSN", "PGVECTOR_DSN",
	"JCP_QUERY_CACHE_SIZE", "JCP_QUERY_CACHE_TTL",
}

// clearProfileEnvVars blanks the variables under test for the duration of t.
func clearProfileEnvVars(t *testing.T) {
	for _, key := range profileEnvVars {
		t.Setenv(key, "")
	}
}

// TestProfileDefaults 测试默认值
func TestProfileDefaults(t *testing.T) {
	clearProfileEnvVars(t)

	p := &Profile{}
	if err := p.FromEnv(""); err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"Mode default", "demo", p.Mode},
		{"MetadataBackend default", "duckdb", p.MetadataBackend},
		{"DuckDBPath default", "./data/metadata.duckdb", p.DuckDBPath},
		{"VectorBackend default", "milvus", p.VectorBackend},
		{"MilvusMode default", "server", p.MilvusMode},
		{"MilvusAddress default", "localhost:19530", p.MilvusAddress()},
		{"MilvusVectorField default", "vector", p.MilvusVectorField},
		{"MilvusIDField default", "id", p.MilvusIDField},
		{"MilvusORFCollection default", "orf_profiles", p.MilvusORFCollection},
		{"MilvusCRISPRCollection default", "crispr_profiles", p.MilvusCRISPRCollection},
		{"MilvusCompoundCollection default", "compound_profiles", p.MilvusCompoundCollection},
		{"MilvusLitePath default", "./data/milvus_lite.db", p.MilvusLitePath},
		{"SmokeDataset default", "orf", p.SmokeDataset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if p.SmokeK != 10 {
		t.Errorf("SmokeK: expected 10, got %d", p.SmokeK)
	}
	if p.Port != 8501 {
		t.Errorf("Port: expected 8501, got %d", p.Port)
	}
	// Collections are reseeded by other processes, so caching is opt-in.
	if p.QueryCacheSize != 0 {
		t.Errorf("QueryCacheSize: expected 0, got %d", p.QueryCacheSize)
	}
	if p.QueryCacheTTL != 5*time.Minute {
		t.Errorf("QueryCacheTTL: expected 5m, got %s", p.QueryCacheTTL)
	}
}

// TestProfileFromEnv 测试从环境变量读取配置
func TestProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "METADATA_BACKEND is lower-cased",
			envVar:   "METADATA_BACKEND",
			envValue: "SQLite",
			field:    func(p *Profile) string { return p.MetadataBackend },
			expected: "sqlite",
		},
		{
			name:     "MILVUS_MODE=lite",
			envVar:   "MILVUS_MODE",
			envValue: "LITE",
			field:    func(p *Profile) string { return p.MilvusMode },
			expected: "lite",
		},
		{
			name:     "MILVUS_HOST",
			envVar:   "MILVUS_HOST",
			envValue: "milvus.internal",
			field:    func(p *Profile) string { return p.MilvusAddress() },
			expected: "milvus.internal:19530",
		},
		{
			name:     "MILVUS_ORF_COLLECTION",
			envVar:   "MILVUS_ORF_COLLECTION",
			envValue: "orf_v2",
			field:    func(p *Profile) string { return p.MilvusORFCollection },
			expected: "orf_v2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearProfileEnvVars(t)
			t.Setenv(tt.envVar, tt.envValue)

			p := &Profile{}
			if err := p.FromEnv(""); err != nil {
				t.Fatalf("FromEnv failed: %v", err)
			}
			if got := tt.field(p); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestProfileFromEnvFile(t *testing.T) {
	clearProfileEnvVars(t)

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "SMOKE_QUERY_ID=demo_7\nSMOKE_K=25\nMILVUS_PORT=29530\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	p := &Profile{}
	if err := p.FromEnv(envFile); err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if p.SmokeQueryID != "demo_7" {
		t.Errorf("SmokeQueryID: expected demo_7, got %q", p.SmokeQueryID)
	}
	if p.SmokeK != 25 {
		t.Errorf("SmokeK: expected 25, got %d", p.SmokeK)
	}
	if p.MilvusPort != "29530" {
		t.Errorf("MilvusPort: expected 29530, got %q", p.MilvusPort)
	}
}

func TestProfileEnvOverridesEnvFile(t *testing.T) {
	clearProfileEnvVars(t)
	t.Setenv("SMOKE_DATASET", "crispr")

	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("SMOKE_DATASET=compound\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	p := &Profile{}
	if err := p.FromEnv(envFile); err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if p.SmokeDataset != "crispr" {
		t.Errorf("SmokeDataset: expected crispr, got %q", p.SmokeDataset)
	}
}

func TestProfileMissingEnvFile(t *testing.T) {
	clearProfileEnvVars(t)

	p := &Profile{}
	if err := p.FromEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored, got %v", err)
	}
}

func TestProfileValidate(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{
			name:    "duckdb creates parent directory",
			profile: Profile{MetadataBackend: "duckdb", DuckDBPath: filepath.Join(dir, "nested", "meta.duckdb"), VectorBackend: "memory"},
		},
		{
			name:    "unknown metadata backend",
			profile: Profile{MetadataBackend: "mysql", VectorBackend: "memory"},
			wantErr: true,
		},
		{
			name:    "postgres requires dsn",
			profile: Profile{MetadataBackend: "postgres", VectorBackend: "memory"},
			wantErr: true,
		},
		{
			name:    "unknown milvus mode",
			profile: Profile{MetadataBackend: "sqlite", SQLitePath: filepath.Join(dir, "m.sqlite"), VectorBackend: "milvus", MilvusMode: "cloud"},
			wantErr: true,
		},
		{
			name:    "pgvector falls back to postgres dsn",
			profile: Profile{MetadataBackend: "postgres", PostgresDSN: "postgres://localhost/jcp", VectorBackend: "pgvector"},
		},
		{
			name:    "unknown vector backend",
			profile: Profile{MetadataBackend: "sqlite", SQLitePath: filepath.Join(dir, "m.sqlite"), VectorBackend: "faiss"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.profile
			err := p.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(dir, "nested")); err != nil {
		t.Errorf("expected nested data directory to exist: %v", err)
	}
}
