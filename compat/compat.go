// Package compat decides whether a provider's declared interface version can
// be served by the host.
package compat

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is an interface version "major.minor[.patch]".
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// ParseVersion parses a version string like "0.2.0" or "0.2".
func ParseVersion(s string) (Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}

	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, fmt.Errorf("version %q: want major.minor[.patch]", s)
	}

	var v Version
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, "+-") {
			return Version{}, fmt.Errorf("version %q: bad component %q", s, p)
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("version %q: bad component %q", s, p)
		}
		switch i {
		case 0:
			v.Major = uint32(n)
		case 1:
			v.Minor = uint32(n)
		case 2:
			v.Patch = uint32(n)
		}
	}
	return v, nil
}

// MustParse is ParseVersion for constants. It panics on error.
func MustParse(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compatible reports whether a host implementing v can serve a provider
// declaring want: same major, and want.Minor <= v.Minor. Patch is ignored.
func (v Version) Compatible(want Version) bool {
	return v.Major == want.Major && want.Minor <= v.Minor
}

// String returns the version as "major.minor.patch"
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Range is the interface line the host implements.
type Range struct {
	Major uint32
	Minor uint32
}

// RangeOf returns the range implemented by host version v.
func RangeOf(v Version) Range {
	return Range{Major: v.Major, Minor: v.Minor}
}

// String returns "major.minor".
func (r Range) String() string {
	return fmt.Sprintf("%d.%d", r.Major, r.Minor)
}

// Result is the outcome of a compatibility check.
type Result struct {
	Reason     string
	Compatible bool
}

// Check decides whether a provider declaring interface version declared is
// served by host. It is pure and total.
func Check(declared string, host Range) Result {
	v, err := ParseVersion(declared)
	if err != nil {
		return Result{Reason: fmt.Sprintf("unparseable interface version: %v", err)}
	}
	if v.Major != host.Major {
		return Result{Reason: fmt.Sprintf("interface major %d, host implements %s", v.Major, host)}
	}
	if v.Minor > host.Minor {
		return Result{Reason: fmt.Sprintf("interface %d.%d is newer than host %s", v.Major, v.Minor, host)}
	}
	return Result{Compatible: true}
}
