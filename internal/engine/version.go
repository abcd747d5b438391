package engine

import (
	"strconv"
	"strings"
)

// NormalizeVersion applies the version identifier rule: look up the
// shorthand in the engine's version map; else, if the string already
// has three numeric parts, keep it as-is; else append ".0" (two
// parts) or ".0.0" (one part). Invalid shapes are passed through
// unchanged — they may cause a later download failure, which is an
// acceptable outcome for a malformed version string.
//
// NormalizeVersion is idempotent: NormalizeVersion(NormalizeVersion(v))
// == NormalizeVersion(v), since a three-numeric-part string always
// hits the "keep as-is" branch on the second call, and the version map
// never maps shorthand onto another shorthand.
func NormalizeVersion(engineName, v string) string {
	if d, ok := Lookup(engineName); ok {
		if full, ok := d.VersionMap[v]; ok {
			return full
		}
	}

	parts := strings.Split(v, ".")
	numeric := true
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			numeric = false
			break
		}
	}
	if !numeric || len(parts) == 0 {
		return v
	}

	switch len(parts) {
	case 1:
		return v + ".0.0"
	case 2:
		return v + ".0"
	default:
		return v
	}
}

// ParsedVersion is a three-component numeric version.
type ParsedVersion struct {
	Major, Minor, Patch int
}

// ParseVersion splits a normalized "X.Y.Z"-shaped string into its
// numeric components. Missing components default to 0.
func ParseVersion(v string) ParsedVersion {
	parts := strings.SplitN(v, ".", 3)
	get := func(i int) int {
		if i >= len(parts) {
			return 0
		}
		n, _ := strconv.Atoi(parts[i])
		return n
	}
	return ParsedVersion{Major: get(0), Minor: get(1), Patch: get(2)}
}

// CompareVersions compares two version strings numerically after
// normalizing both to three components (treating missing components as
// 0, so "16" == "16.0.0"). It returns <0, 0, or >0 like strings.Compare.
func CompareVersions(a, b string) int {
	pa, pb := ParseVersion(a), ParseVersion(b)
	if pa.Major != pb.Major {
		return pa.Major - pb.Major
	}
	if pa.Minor != pb.Minor {
		return pa.Minor - pb.Minor
	}
	return pa.Patch - pb.Patch
}
