// Package catalog implements Publisher/Modpack/ModpackVersion/Category
// CRUD, slug and version invariants, and acquisition bookkeeping
// (spec §4.4, §4.8's Acquisition model).
package catalog

import "time"

type Visibility string

const (
	VisibilityPublic       Visibility = "public"
	VisibilityPrivate      Visibility = "private"
	VisibilitySubscription Visibility = "subscription"
)

type ModpackStatus string

const (
	ModpackDraft     ModpackStatus = "draft"
	ModpackPublished ModpackStatus = "published"
	ModpackArchived  ModpackStatus = "archived"
	ModpackDeleted   ModpackStatus = "deleted"
)

type VersionStatus string

const (
	VersionDraft     VersionStatus = "draft"
	VersionPublished VersionStatus = "published"
)

// PricingKind discriminates a Modpack's Pricing variant (spec §9:
// "model as tagged variants ... never owning back-pointers").
type PricingKind string

const (
	PricingFree              PricingKind = "free"
	PricingPaid              PricingKind = "paid"
	PricingSubscriptionGated PricingKind = "subscription_gated"
)

// Pricing is a closed tagged variant: exactly the fields for Kind are
// meaningful.
type Pricing struct {
	Kind             PricingKind
	AmountMinor      int64    // Kind == PricingPaid
	Currency         string   // Kind == PricingPaid
	SubscriptionKeys []string // Kind == PricingSubscriptionGated; "channels"
}

type Publisher struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
}

type Modpack struct {
	ID                string
	PublisherID       string
	Slug              string
	Name              string
	Description       string
	IconURL           string
	BannerURL         string
	Visibility        Visibility
	Status            ModpackStatus
	Pricing           Pricing
	PrimaryCategoryID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type ModpackVersion struct {
	ID                    string
	ModpackID             string
	VersionString         string
	TargetRuntimeVersion  string
	OptionalLoaderVersion string
	Changelog             string
	Status                VersionStatus
	CreatedBy             string
	CreatedAt             time.Time
	ReleasedAt            *time.Time
}

type VersionFile struct {
	ID           string
	VersionID    string
	Digest       string
	RelativePath string
}

type Category struct {
	ID      string
	Name    string
	Slug    string
	IconURL string
}

// AcquisitionSource discriminates how a user came to hold an
// Acquisition.
type AcquisitionSource string

const (
	SourceFree         AcquisitionSource = "free"
	SourcePurchase     AcquisitionSource = "purchase"
	SourceSubscription AcquisitionSource = "subscription"
	SourceAdminGrant   AcquisitionSource = "admin-grant"
)

type Acquisition struct {
	ID               string
	UserID           string
	ModpackID        string
	Source           AcquisitionSource
	RelatedPaymentID string
	AcquiredAt       time.Time
	RevokedAt        *time.Time
}
