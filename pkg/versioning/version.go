// Package versioning tracks the lifecycle of the distribution backend's
// public HTTP API groups: which version each group is on, when it
// shipped, and what's deprecated and scheduled for removal.
package versioning

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// APIRegistry tracks versioned APIs and their lifecycle.
type APIRegistry struct {
	APIs map[string]*APIDefinition `json:"apis"`
}

// APIDefinition describes a versioned API group.
type APIDefinition struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	CurrentVersion *semver.Version `json:"current_version"`
	Versions       []APIVersion    `json:"versions"`
	DeprecatedAPIs []DeprecatedAPI `json:"deprecated_apis,omitempty"`
	Stability      StabilityLevel  `json:"stability"`
	LastUpdated    time.Time       `json:"last_updated"`
}

// APIVersion tracks a specific version of an API group.
type APIVersion struct {
	Version    *semver.Version `json:"version"`
	ReleasedAt time.Time       `json:"released_at"`
	Changelog  string          `json:"changelog"`
	Breaking   bool            `json:"breaking"`
	Deprecates []string        `json:"deprecates,omitempty"`
}

// StabilityLevel indicates API stability.
type StabilityLevel string

const (
	StabilityExperimental StabilityLevel = "EXPERIMENTAL"
	StabilityBeta         StabilityLevel = "BETA"
	StabilityStable       StabilityLevel = "STABLE"
	StabilityDeprecated   StabilityLevel = "DEPRECATED"
)

// DeprecatedAPI describes deprecated functionality within an API group.
type DeprecatedAPI struct {
	Name           string          `json:"name"`
	DeprecatedIn   *semver.Version `json:"deprecated_in"`
	RemovalPlanned *semver.Version `json:"removal_planned,omitempty"`
	Replacement    string          `json:"replacement,omitempty"`
	Reason         string          `json:"reason"`
	DeprecatedAt   time.Time       `json:"deprecated_at"`
	MigrationGuide string          `json:"migration_guide,omitempty"`
}

// NewAPIRegistry creates an empty API registry.
func NewAPIRegistry() *APIRegistry {
	return &APIRegistry{
		APIs: make(map[string]*APIDefinition),
	}
}

// RegisterAPI registers a new API group.
func (r *APIRegistry) RegisterAPI(api *APIDefinition) {
	r.APIs[api.Name] = api
}

// GetAPI retrieves an API definition by group name.
func (r *APIRegistry) GetAPI(name string) (*APIDefinition, bool) {
	api, ok := r.APIs[name]
	return api, ok
}

// ListDeprecated returns all deprecated functionality across every
// registered API group.
func (r *APIRegistry) ListDeprecated() []DeprecatedAPI {
	var deprecated []DeprecatedAPI
	for _, api := range r.APIs {
		deprecated = append(deprecated, api.DeprecatedAPIs...)
	}
	return deprecated
}

// AddVersion records a new release of api, bumping CurrentVersion when
// the new version outranks it.
func (api *APIDefinition) AddVersion(version APIVersion) {
	api.Versions = append(api.Versions, version)
	if api.CurrentVersion == nil || version.Version.GreaterThan(api.CurrentVersion) {
		api.CurrentVersion = version.Version
	}
	api.LastUpdated = time.Now()
}

// MarkDeprecated marks part of api as deprecated, as of now.
func (api *APIDefinition) MarkDeprecated(deprecated DeprecatedAPI) {
	deprecated.DeprecatedAt = time.Now()
	api.DeprecatedAPIs = append(api.DeprecatedAPIs, deprecated)
}

// DistributionAPIs returns the current public API group definitions
// for this backend.
func DistributionAPIs() *APIRegistry {
	registry := NewAPIRegistry()

	registry.RegisterAPI(&APIDefinition{
		Name:           "catalog",
		Description:    "Modpack, version, and manifest browsing/management API",
		CurrentVersion: mustVersion("1.2.0"),
		Stability:      StabilityStable,
		Versions: []APIVersion{
			{Version: mustVersion("1.0.0"), ReleasedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Changelog: "Initial modpack/version CRUD"},
			{Version: mustVersion("1.1.0"), ReleasedAt: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), Changelog: "Added visibility and metadata patching"},
			{Version: mustVersion("1.2.0"), ReleasedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), Changelog: "Draft/published version lifecycle"},
		},
		LastUpdated: time.Now(),
	})

	registry.RegisterAPI(&APIDefinition{
		Name:           "import",
		Description:    "Modpack manifest import and mod resolution API",
		CurrentVersion: mustVersion("1.1.0"),
		Stability:      StabilityStable,
		Versions: []APIVersion{
			{Version: mustVersion("1.0.0"), ReleasedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), Changelog: "Initial import orchestrator"},
			{Version: mustVersion("1.1.0"), ReleasedAt: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), Changelog: "Bounded-parallelism downloads and per-import wall clock limit"},
		},
		LastUpdated: time.Now(),
	})

	registry.RegisterAPI(&APIDefinition{
		Name:           "access",
		Description:    "Entitlement and access-resolution API",
		CurrentVersion: mustVersion("1.0.0"),
		Stability:      StabilityStable,
		Versions: []APIVersion{
			{Version: mustVersion("1.0.0"), ReleasedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), Changelog: "Initial subscription-gated access resolution"},
		},
		LastUpdated: time.Now(),
	})

	registry.RegisterAPI(&APIDefinition{
		Name:           "payments",
		Description:    "Purchase intent and payment gateway webhook API",
		CurrentVersion: mustVersion("2.0.0"),
		Stability:      StabilityStable,
		Versions: []APIVersion{
			{Version: mustVersion("1.0.0"), ReleasedAt: time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC), Changelog: "Single-gateway checkout"},
			{
				Version:    mustVersion("2.0.0"),
				ReleasedAt: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
				Changelog:  "Breaking: multi-gateway registry with per-gateway signature verification",
				Breaking:   true,
			},
		},
		DeprecatedAPIs: []DeprecatedAPI{
			{
				Name:           "CreateIntentSingleGateway",
				DeprecatedIn:   mustVersion("2.0.0"),
				RemovalPlanned: mustVersion("3.0.0"),
				Replacement:    "CreateIntent",
				Reason:         "superseded by the multi-gateway registry",
				MigrationGuide: "Call CreateIntent; the registry now picks the gateway",
			},
		},
		LastUpdated: time.Now(),
	})

	registry.RegisterAPI(&APIDefinition{
		Name:           "wallet",
		Description:    "Publisher balance and withdrawal API",
		CurrentVersion: mustVersion("1.0.0"),
		Stability:      StabilityStable,
		Versions: []APIVersion{
			{Version: mustVersion("1.0.0"), ReleasedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Changelog: "Balance accrual and admin-approved withdrawals"},
		},
		LastUpdated: time.Now(),
	})

	return registry
}

func mustVersion(v string) *semver.Version {
	sv, err := semver.NewVersion(v)
	if err != nil {
		panic(fmt.Sprintf("versioning: invalid built-in version %q: %v", v, err))
	}
	return sv
}

// ToJSON exports the registry as JSON.
func (r *APIRegistry) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
