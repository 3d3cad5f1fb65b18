package update

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed dotted-integer version of any segment count.
type Version struct {
	Segments []int
	Raw      string
}

// ParseVersion parses a dotted-integer version string.
// Accepts versions with or without 'v' prefix (e.g., "1.2.3" or "v1.2").
// Every segment must be a non-negative decimal integer.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version string")
	}
	body := strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")

	parts := strings.Split(body, ".")
	segments := make([]int, len(parts))
	for i, part := range parts {
		if part == "" || strings.TrimLeft(part, "0123456789") != "" {
			return Version{}, fmt.Errorf("invalid version format: %s", s)
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version format: %s", s)
		}
		segments[i] = n
	}
	return Version{Segments: segments, Raw: s}, nil
}

// String returns the segments joined by dots.
func (v Version) String() string {
	parts := make([]string, len(v.Segments))
	for i, n := range v.Segments {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Compare compares two versions.
// Returns:
//
//	-1 if v < other
//	 0 if v == other
//	 1 if v > other
//
// Missing trailing segments count as zero, so 1.2 equals 1.2.0.
func (v Version) Compare(other Version) int {
	n := max(len(v.Segments), len(other.Segments))
	for i := range n {
		if c := compareInt(segment(v.Segments, i), segment(other.Segments, i)); c != 0 {
			return c
		}
	}
	return 0
}

// LessThan returns true if v < other.
func (v Version) LessThan(other Version) bool {
	return v.Compare(other) < 0
}

// GreaterThan returns true if v > other.
func (v Version) GreaterThan(other Version) bool {
	return v.Compare(other) > 0
}

// Equal returns true if v == other.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// CompareVersions compares two version strings. Malformed input on either
// side yields 0; callers needing strict validation use ParseVersion first.
func CompareVersions(a, b string) int {
	va, err := ParseVersion(a)
	if err != nil {
		return 0
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0
	}
	return va.Compare(vb)
}

func segment(s []int, i int) int {
	if i < len(s) {
		return s[i]
	}
	return 0
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
