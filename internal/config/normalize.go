package config

import (
	"regexp"
	"strings"
)

var (
	validProjectRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars   = regexp.MustCompile(`[^a-z0-9_-]+`)
	edgeDashes     = regexp.MustCompile(`^-+|-+$`)
)

// NormalizeProjectID converts a log directory name into a stable project
// identifier usable as a map key, a file path segment, and a database key:
// lowercase, max 64 chars, only [a-z0-9_-], invalid runs collapsed to "-".
// Returns "" for names that reduce to nothing.
func NormalizeProjectID(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}

	lower := strings.ToLower(trimmed)
	if validProjectRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = edgeDashes.ReplaceAllString(result, "")
	if len(result) > 64 {
		result = result[:64]
	}
	return result
}
