package version

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the released version of routinesense.
// Override at build time:
//
//	go build -ldflags "-X github.com/hrygo/routinesense/internal/version.Version=0.3.0"
var Version = "0.3.0"

// DevVersion is reported in dev and demo modes.
var DevVersion = Version + "-dev"

// GitCommit is the git commit hash at build time.
var GitCommit = "unknown"

// BuildTime is the build timestamp in RFC3339 format.
var BuildTime = "unknown"

func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return DevVersion
	}
	return Version
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// IsValid reports whether v is a semantic version, with or without the leading "v".
func IsValid(v string) bool {
	return semver.IsValid(canonical(v))
}

// IsVersionGreaterThan returns true if version is greater than target.
func IsVersionGreaterThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) > 0
}

// SortVersion orders versions ascending by semver precedence.
type SortVersion []string

func (s SortVersion) Len() int {
	return len(s)
}

func (s SortVersion) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s SortVersion) Less(i, j int) bool {
	return semver.Compare(canonical(s[i]), canonical(s[j])) == -1
}

// Sorted returns a sorted copy of versions.
func Sorted(versions []string) []string {
	out := append([]string(nil), versions...)
	sort.Sort(SortVersion(out))
	return out
}

// String returns the version string with optional commit hash.
func String() string {
	v := Version
	if GitCommit != "" && GitCommit != "unknown" {
		shortCommit := GitCommit
		if len(shortCommit) > 8 {
			shortCommit = shortCommit[:8]
		}
		v = fmt.Sprintf("%s-%s", v, shortCommit)
	}
	if BuildTime != "" && BuildTime != "unknown" {
		v = fmt.Sprintf("%s (built %s)", v, BuildTime)
	}
	return v
}
