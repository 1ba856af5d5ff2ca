package importer

import (
	"archive/zip"
	"encoding/json"
	"io"
	"strings"

	"github.com/packforge/distro/pkg/apperr"
)

const (
	manifestEntryName = "manifest.json"
	overridesPrefix   = "overrides/"
)

// maxOverrideFileBytes bounds a single override entry so an archive
// can't claim an absurd override size and exhaust memory during
// extraction; overrides are typically small config/resource files.
const maxOverrideFileBytes = 64 << 20 // 64 MiB

// ParsedArchive is the result of stream-reading an uploaded import
// archive (spec §4.5 step 1): the decoded manifest plus the raw bytes of
// every file under overrides/, keyed by its normalized relative path.
type ParsedArchive struct {
	Manifest  Manifest
	Overrides map[string][]byte
}

// ReadArchive extracts the manifest and override files from a zip
// archive. r must support random access (the multipart form file backing
// an upload satisfies io.ReaderAt). Reject if manifest.json is missing,
// unparseable, or declares zero entries, i.e. neither mods nor overrides
// (spec §4.5 step 1).
func ReadArchive(r io.ReaderAt, size int64) (ParsedArchive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return ParsedArchive{}, apperr.Field(apperr.KindValidation, "archive", "not a valid zip archive")
	}

	var manifestRaw []byte
	overrides := make(map[string][]byte)

	for _, f := range zr.File {
		name := strings.TrimPrefix(f.Name, "/")
		switch {
		case name == manifestEntryName:
			manifestRaw, err = readZipEntry(f, maxManifestBytes)
			if err != nil {
				return ParsedArchive{}, err
			}
		case strings.HasPrefix(name, overridesPrefix):
			if f.FileInfo().IsDir() {
				continue
			}
			relPath, err := NormalizeRelativePath(strings.TrimPrefix(name, overridesPrefix))
			if err != nil {
				return ParsedArchive{}, err
			}
			data, err := readZipEntry(f, maxOverrideFileBytes)
			if err != nil {
				return ParsedArchive{}, err
			}
			overrides[relPath] = data
		}
	}

	if manifestRaw == nil {
		return ParsedArchive{}, apperr.Field(apperr.KindValidation, "archive", "missing manifest.json at archive root")
	}

	var shape map[string]any
	if err := json.Unmarshal(manifestRaw, &shape); err != nil {
		return ParsedArchive{}, apperr.New(apperr.KindValidation, "archive manifest is not valid JSON")
	}
	if err := ValidateManifestShape(shape); err != nil {
		return ParsedArchive{}, apperr.Field(apperr.KindValidation, "archive", err.Error())
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		return ParsedArchive{}, apperr.New(apperr.KindValidation, "archive manifest could not be decoded")
	}
	if len(manifest.Mods) == 0 && len(manifest.Overrides) == 0 {
		return ParsedArchive{}, apperr.Field(apperr.KindValidation, "archive", "manifest declares zero entries")
	}

	return ParsedArchive{Manifest: manifest, Overrides: overrides}, nil
}

// maxManifestBytes bounds the manifest.json entry itself.
const maxManifestBytes = 8 << 20 // 8 MiB

func readZipEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "could not open archive entry "+f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "could not read archive entry "+f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, apperr.Field(apperr.KindValidation, "archive", "entry too large: "+f.Name)
	}
	return data, nil
}
