package importer

import (
	"path"
	"strings"

	"github.com/packforge/distro/pkg/apperr"
)

// NormalizeRelativePath cleans a relative path and rejects anything that
// could escape the version's file tree (leading slash, drive-style
// prefix, or a ".." segment surviving path.Clean).
func NormalizeRelativePath(raw string) (string, error) {
	if raw == "" {
		return "", apperr.New(apperr.KindValidation, "relative path must not be empty")
	}
	cleaned := path.Clean(strings.ReplaceAll(raw, "\\", "/"))
	if strings.HasPrefix(cleaned, "/") || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", apperr.Field(apperr.KindValidation, "relativePath", "escapes the archive root: "+raw)
	}
	if cleaned == "." {
		return "", apperr.Field(apperr.KindValidation, "relativePath", "resolves to an empty path: "+raw)
	}
	return cleaned, nil
}
