package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Both are set at release time:
//
//	go build -ldflags "-X github.com/hrygo/jcp/internal/version.Version=0.2.0 \
//	  -X github.com/hrygo/jcp/internal/version.DevVersion=0.3.0-dev" ./cmd/jcp
var (
	// Version is the service current released version in semantic version format.
	Version = "0.1.0"
	// DevVersion is reported in dev and demo mode.
	DevVersion = "0.2.0-dev"
)

func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return DevVersion
	}
	return Version
}

// Canonical returns v in the "vMAJOR.MINOR.PATCH" form understood by semver,
// or "" when v is not a valid version.
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// IsVersionGreaterOrEqualThan returns true if version is greater than or equal to target.
// Invalid versions compare as lower than any valid one.
func IsVersionGreaterOrEqualThan(version, target string) bool {
	return semver.Compare(Canonical(version), Canonical(target)) > -1
}
