package catalog

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// NormalizeSlug applies Unicode NFC normalization before validating a
// slug, so visually-identical slugs that differ only in combining-mark
// composition are rejected as the same string rather than silently
// treated as distinct (spec §4.4 "slug uniqueness enforced
// database-side").
func NormalizeSlug(raw string) (string, bool) {
	normalized := norm.NFC.String(strings.ToLower(strings.TrimSpace(raw)))
	if !slugPattern.MatchString(normalized) {
		return "", false
	}
	return normalized, true
}
