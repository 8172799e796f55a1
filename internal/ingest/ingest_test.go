package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/jcp/plugin/vector"
	"github.com/hrygo/jcp/store"
)

func TestReadProfilesCSV(t *testing.T) {
	input := strings.Join([]string{
		"id,dataset,name,plate,well,pca_x,extra",
		"demo_0,orf,DemoGene0,P1,A1,1.5,ignored",
		"demo_1,orf,,P1,A2,,ignored",
	}, "\n")

	rows, err := ReadProfilesCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "demo_0", rows[0].ID)
	assert.Equal(t, "DemoGene0", rows[0].Name)
	require.NotNil(t, rows[0].PCAX)
	assert.InDelta(t, 1.5, *rows[0].PCAX, 1e-9)
	assert.Nil(t, rows[0].UMAPX)

	assert.Empty(t, rows[1].Name)
	assert.Nil(t, rows[1].PCAX)
	assert.Equal(t, "A2", rows[1].Well)
}

func TestReadProfilesCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no id column", "name,plate\nx,P1\n"},
		{"empty id", "id,name\n,x\n"},
		{"bad number", "id,pca_x\ndemo_0,abc\n"},
		{"empty input", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadProfilesCSV(strings.NewReader(tt.input))
			require.Error(t, err)
		})
	}
}

func TestProfilesParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.parquet")
	x := 0.25
	in := []*store.CellProfile{
		{ID: "demo_0", Dataset: "orf", Name: "DemoGene0", Well: "A1", PCAX: &x},
		{ID: "demo_1", Dataset: "orf"},
	}
	require.NoError(t, WriteProfilesParquet(path, in))

	out, err := ReadProfiles(path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "DemoGene0", out[0].Name)
	require.NotNil(t, out[0].PCAX)
	assert.InDelta(t, 0.25, *out[0].PCAX, 1e-9)
	assert.Empty(t, out[1].Name)
	assert.Nil(t, out[1].PCAX)
}

func TestReadProfilesByExtension(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "profiles.CSV")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,dataset\ndemo_9,crispr\n"), 0o600))

	rows, err := ReadProfiles(csvPath)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "crispr", rows[0].Dataset)

	_, err = ReadProfiles(filepath.Join(dir, "profiles.json"))
	require.Error(t, err)
}

func TestVectorsParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.parquet")
	in := []vector.Record{
		{ID: "demo_0", Vector: []float32{0.1, 0.2, 0.3}},
		{ID: "demo_1", Vector: []float32{1, 2, 3}},
	}
	require.NoError(t, WriteVectors(path, in))

	out, err := ReadVectors(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadVectorsRejectsMixedDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.parquet")
	require.NoError(t, WriteVectors(path, []vector.Record{
		{ID: "a", Vector: []float32{1, 2}},
		{ID: "b", Vector: []float32{1}},
	}))

	_, err := ReadVectors(path)
	require.Error(t, err)

	_, err = ReadVectors(filepath.Join(t.TempDir(), "vectors.csv"))
	require.Error(t, err)
}
