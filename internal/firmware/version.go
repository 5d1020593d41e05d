package firmware

import "strings"

// NormalizeVersion trims whitespace and makes sure the version starts with a
// lower-case "v". It is idempotent.
func NormalizeVersion(version string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		return ""
	}
	switch v[0] {
	case 'v':
		return v
	case 'V':
		return "v" + v[1:]
	default:
		return "v" + v
	}
}

// SameVersion compares two versions as opaque strings after normalisation.
// No ordering is implied: "v1.0.0" and "v2.0.0" are simply different.
func SameVersion(a, b string) bool {
	return NormalizeVersion(a) == NormalizeVersion(b)
}
