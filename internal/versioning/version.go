// Package versioning implements the append-only version ledger for work
// items: snapshot-before-write, monotonic "major.minor" numbering with
// compare-and-swap commits, history reconstruction, field-level diffs and
// restore-as-new-version.
package versioning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vhalberd/tracegraph/api/schemas"
)

// Version is a parsed "major.minor" pair.
type Version struct {
	Major int
	Minor int
}

// Parse parses a version string. The format is exactly two dot-separated
// non-negative integers; anything else is a fatal format error that is never
// silently coerced, since it indicates corrupted ledger data.
func Parse(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return Version{}, fmt.Errorf("%w: %q is not major.minor", schemas.ErrInvalidVersionFormat, s)
	}
	major, err := parseComponent(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", schemas.ErrInvalidVersionFormat, s, err)
	}
	minor, err := parseComponent(parts[1])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", schemas.ErrInvalidVersionFormat, s, err)
	}
	return Version{Major: major, Minor: minor}, nil
}

func parseComponent(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty component")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("component %q is not a non-negative integer", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// String renders "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// NextMinor returns the version with the minor component incremented. This
// is the only implicit transition the ledger performs.
func (v Version) NextMinor() Version {
	return Version{Major: v.Major, Minor: v.Minor + 1}
}

// NextMajor returns the next major version with minor reset. Major bumps are
// a deliberate, externally triggered operation.
func (v Version) NextMajor() Version {
	return Version{Major: v.Major + 1, Minor: 0}
}

// Compare returns -1, 0 or 1 ordering by (major, minor).
func (v Version) Compare(o Version) int {
	if v.Major != o.Major {
		if v.Major < o.Major {
			return -1
		}
		return 1
	}
	if v.Minor != o.Minor {
		if v.Minor < o.Minor {
			return -1
		}
		return 1
	}
	return 0
}

// Initial is the version every work item is created at.
var Initial = Version{Major: 1, Minor: 0}
