// Package semver compares modpack version strings. Strings that parse as
// strict semantic versions (MAJOR.MINOR.PATCH[-pre][+build]) are compared
// semantically; anything else falls back to plain string rules.
package semver

import (
	"regexp"
	"strings"

	gosemver "github.com/coreos/go-semver/semver"
)

// strictPattern is the semver.org 2.0.0 grammar: no leading zeros in numeric
// identifiers, no empty pre-release or build identifiers.
var strictPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
	`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?` +
	`(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// Parse returns the semantic version for v, or nil when v is not a strict
// MAJOR.MINOR.PATCH version. A leading "v" is not accepted.
func Parse(v string) *gosemver.Version {
	if !strictPattern.MatchString(v) {
		return nil
	}
	parsed, err := gosemver.NewVersion(v)
	if err != nil {
		return nil
	}
	return parsed
}

// Canonical returns the canonical form of v when it parses as a semantic
// version, and v unchanged otherwise.
func Canonical(v string) string {
	if parsed := Parse(v); parsed != nil {
		return parsed.String()
	}
	return v
}

// Equal reports whether two version strings name the same version. When both
// sides parse they are compared semantically (build metadata included),
// otherwise by exact string equality.
func Equal(a, b string) bool {
	av, bv := Parse(a), Parse(b)
	if av == nil || bv == nil {
		return a == b
	}
	return av.Compare(*bv) == 0 && av.Metadata == bv.Metadata
}

// Compare returns -1, 0 or +1. Semantic versions are ordered semantically
// and sort above non-semver strings; two non-semver strings are compared with
// natural (numeric-aware) ordering.
func Compare(a, b string) int {
	av, bv := Parse(a), Parse(b)
	switch {
	case av == nil && bv == nil:
		return compareNatural(a, b)
	case av == nil:
		return -1
	case bv == nil:
		return 1
	}
	return av.Compare(*bv)
}

// compareNatural compares strings with numeric-aware ordering.
// Example: "ATM10-2.10" > "ATM10-2.9".
func compareNatural(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		aDigit := a[i] >= '0' && a[i] <= '9'
		bDigit := b[j] >= '0' && b[j] <= '9'
		if aDigit && bDigit {
			i2 := i
			for i2 < len(a) && a[i2] >= '0' && a[i2] <= '9' {
				i2++
			}
			j2 := j
			for j2 < len(b) && b[j2] >= '0' && b[j2] <= '9' {
				j2++
			}
			if cmp := compareNumericRuns(a[i:i2], b[j:j2]); cmp != 0 {
				return cmp
			}
			i, j = i2, j2
			continue
		}
		if a[i] != b[j] {
			if a[i] < b[j] {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case i == len(a) && j == len(b):
		return 0
	case i == len(a):
		return -1
	default:
		return 1
	}
}

func compareNumericRuns(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return strings.Compare(a, b)
}
