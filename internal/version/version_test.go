package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsVersionGreaterOrEqualThan(t *testing.T) {
	tests := []struct {
		version string
		target  string
		want    bool
	}{
		{"v2.5.4", "v2.4.0", true},
		{"2.4.0", "v2.4.0", true},
		{"v2.3.21", "v2.4.0", false},
		{"v2.4.0-rc.1", "v2.4.0", false},
		{"not-a-version", "v2.4.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.version+">="+tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, IsVersionGreaterOrEqualThan(tt.version, tt.target))
		})
	}
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "v2.5.0", Canonical("2.5"))
	assert.Equal(t, "v2.5.4", Canonical(" v2.5.4 "))
	assert.Equal(t, "", Canonical(""))
	assert.Equal(t, "", Canonical("latest"))
}

func TestGetCurrentVersion(t *testing.T) {
	assert.Equal(t, DevVersion, GetCurrentVersion("dev"))
	assert.Equal(t, DevVersion, GetCurrentVersion("demo"))
	assert.Equal(t, Version, GetCurrentVersion("prod"))
	assert.NotEqual(t, GetCurrentVersion("dev"), GetCurrentVersion("prod"))
	assert.NotEmpty(t, Canonical(DevVersion))
}
