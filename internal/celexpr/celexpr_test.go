package celexpr

import (
	"testing"

	"github.com/google/cel-go/cel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileEmpty(t *testing.T) {
	prg, err := Compile("   ", IDVars)
	require.NoError(t, err)
	assert.Nil(t, prg)
	assert.True(t, prg.Match(map[string]any{"id": "x"}))
	assert.Equal(t, "", prg.String())
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"syntax", `id ==`},
		{"unknown variable", `plate == "P1"`},
		{"not boolean", `id + "x"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.expr, IDVars)
			require.Error(t, err)
		})
	}
}

func TestMatchID(t *testing.T) {
	prg, err := Compile(`id in ["demo_1", "demo_2"]`, IDVars)
	require.NoError(t, err)

	assert.True(t, prg.Match(map[string]any{"id": "demo_1"}))
	assert.False(t, prg.Match(map[string]any{"id": "demo_3"}))

	prefix, err := Compile(`id.startsWith("demo_1")`, IDVars)
	require.NoError(t, err)
	assert.True(t, prefix.Match(map[string]any{"id": "demo_10"}))
	assert.False(t, prefix.Match(map[string]any{"id": "demo_2"}))
}

func TestMatchNullableColumn(t *testing.T) {
	vars := Vars{"pca_x": cel.DynType, "distance": cel.DoubleType}
	prg, err := Compile(`pca_x > 1.0 && distance < 5.0`, vars)
	require.NoError(t, err)

	assert.True(t, prg.Match(map[string]any{"pca_x": 2.0, "distance": 1.0}))
	assert.False(t, prg.Match(map[string]any{"pca_x": 0.5, "distance": 1.0}))
	assert.False(t, prg.Match(map[string]any{"pca_x": nil, "distance": 1.0}))
}
