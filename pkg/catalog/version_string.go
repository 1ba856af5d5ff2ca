package catalog

import (
	"regexp"

	"github.com/Masterminds/semver/v3"
)

var targetRuntimeShape = regexp.MustCompile(`^\d+\.\d+(\.\d+)?(-[0-9A-Za-z.-]+)?$`)

// ValidTargetRuntimeVersion checks the §4.4 "X.Y[.Z][-suffix]" shape with
// a pattern, then parses it as a semver constraint-free version;
// Masterminds/semver tolerates a missing patch component, which the
// spec's grammar allows and the standard library's own version parsers
// do not.
func ValidTargetRuntimeVersion(v string) bool {
	if !targetRuntimeShape.MatchString(v) {
		return false
	}
	_, err := semver.NewVersion(v)
	return err == nil
}
