// Package importer implements the import orchestrator (spec §4.5): it
// stream-reads an uploaded zip archive for its manifest and override
// files, resolves each referenced mod against the external catalog,
// ingests everything into blob storage with bounded parallelism, and
// lands the result as a draft modpack version.
package importer

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const manifestSchemaURL = "https://packforge.local/import/manifest.schema.json"

const manifestSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["versionString", "targetRuntimeVersion", "mods"],
	"properties": {
		"name": {"type": "string"},
		"versionString": {"type": "string", "minLength": 1},
		"targetRuntimeVersion": {"type": "string", "minLength": 1},
		"optionalLoaderVersion": {"type": "string"},
		"mods": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["projectId", "fileId"],
				"properties": {
					"projectId": {"type": "string", "minLength": 1},
					"fileId": {"type": "string", "minLength": 1}
				}
			}
		},
		"overrides": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["relativePath"],
				"properties": {
					"relativePath": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

// ModRef names one project/file pair to resolve against the external
// catalog.
type ModRef struct {
	ProjectID string `json:"projectId"`
	FileID    string `json:"fileId"`
}

// OverrideFile declares one entry under the archive's overrides/
// directory. The manifest only names the path; the bytes themselves are
// read out of the archive and streamed through the blob store, which
// computes the digest (spec §4.5 steps 2/5/6).
type OverrideFile struct {
	RelativePath string `json:"relativePath"`
}

// Manifest is the parsed, schema-validated shape of an import request.
type Manifest struct {
	Name                  string         `json:"name"`
	VersionString         string         `json:"versionString"`
	TargetRuntimeVersion  string         `json:"targetRuntimeVersion"`
	OptionalLoaderVersion string         `json:"optionalLoaderVersion"`
	Mods                  []ModRef       `json:"mods"`
	Overrides             []OverrideFile `json:"overrides"`
}

var compiledManifestSchema *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(manifestSchemaURL, strings.NewReader(manifestSchemaJSON)); err != nil {
		panic(fmt.Sprintf("importer: invalid embedded manifest schema: %v", err))
	}
	compiled, err := c.Compile(manifestSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("importer: manifest schema failed to compile: %v", err))
	}
	compiledManifestSchema = compiled
}

// ValidateManifestShape runs the decoded manifest (as a generic
// map[string]any, the shape jsonschema.Validate expects) against the
// compiled schema.
func ValidateManifestShape(raw map[string]any) error {
	return compiledManifestSchema.Validate(raw)
}
