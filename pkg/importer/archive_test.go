package importer

import (
	"archive/zip"
	"bytes"
	"testing"
)

func buildTestArchive(t *testing.T, manifestJSON string, overrideFiles map[string]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create(manifestEntryName)
	if err != nil {
		t.Fatalf("creating manifest entry: %v", err)
	}
	if _, err := w.Write([]byte(manifestJSON)); err != nil {
		t.Fatalf("writing manifest entry: %v", err)
	}

	for path, contents := range overrideFiles {
		w, err := zw.Create(overridesPrefix + path)
		if err != nil {
			t.Fatalf("creating override entry %q: %v", path, err)
		}
		if _, err := w.Write([]byte(contents)); err != nil {
			t.Fatalf("writing override entry %q: %v", path, err)
		}
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestReadArchive_ManifestAndOverrides(t *testing.T) {
	manifest := `{
		"name": "test-pack",
		"versionString": "1.0.0",
		"targetRuntimeVersion": "1.20.1",
		"mods": [{"projectId": "p1", "fileId": "f1"}],
		"overrides": [{"relativePath": "config/server.properties"}]
	}`
	r := buildTestArchive(t, manifest, map[string]string{
		"config/server.properties": "motd=hello",
	})

	parsed, err := ReadArchive(r, r.Size())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Manifest.Name != "test-pack" {
		t.Fatalf("unexpected manifest name: %q", parsed.Manifest.Name)
	}
	if len(parsed.Manifest.Mods) != 1 {
		t.Fatalf("expected 1 mod, got %d", len(parsed.Manifest.Mods))
	}
	data, ok := parsed.Overrides["config/server.properties"]
	if !ok {
		t.Fatal("expected override file to be extracted")
	}
	if string(data) != "motd=hello" {
		t.Fatalf("unexpected override contents: %q", data)
	}
}

func TestReadArchive_RejectsMissingManifest(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("overrides/foo.txt")
	if err != nil {
		t.Fatalf("creating entry: %v", err)
	}
	if _, err := w.Write([]byte("bar")); err != nil {
		t.Fatalf("writing entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	r := bytes.NewReader(buf.Bytes())

	if _, err := ReadArchive(r, r.Size()); err == nil {
		t.Fatal("expected an error for an archive with no manifest.json")
	}
}

func TestReadArchive_RejectsZeroEntries(t *testing.T) {
	manifest := `{
		"name": "empty-pack",
		"versionString": "1.0.0",
		"targetRuntimeVersion": "1.20.1",
		"mods": []
	}`
	r := buildTestArchive(t, manifest, nil)

	if _, err := ReadArchive(r, r.Size()); err == nil {
		t.Fatal("expected an error for a manifest with zero mods and zero overrides")
	}
}

func TestReadArchive_RejectsOverridePathTraversal(t *testing.T) {
	manifest := `{
		"versionString": "1.0.0",
		"targetRuntimeVersion": "1.20.1",
		"mods": [{"projectId": "p1", "fileId": "f1"}]
	}`
	r := buildTestArchive(t, manifest, map[string]string{
		"../../etc/passwd": "pwned",
	})

	if _, err := ReadArchive(r, r.Size()); err == nil {
		t.Fatal("expected an error for an override path that escapes the archive root")
	}
}
