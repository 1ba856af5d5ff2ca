package authz

import "time"

// Membership is a user's role within one publisher.
type Membership struct {
	PublisherID string
	UserID      string
	Role        Role
	JoinedAt    time.Time
}

// TargetKind discriminates a Scope's target, per the Scope invariant in
// §4: "target discriminant set exactly one field".
type TargetKind string

const (
	TargetPublisher TargetKind = "publisher"
	TargetModpack   TargetKind = "modpack"
)

// Scope grants a set of permissions to one publisher member over either
// the whole publisher or a single modpack it owns.
type Scope struct {
	ID          string
	MemberID    string // references Membership (publisherId, userId)
	TargetKind  TargetKind
	PublisherID string // set iff TargetKind == TargetPublisher
	ModpackID   string // set iff TargetKind == TargetModpack
	Permissions Set
}

// Resource is what a Check call is evaluated against: a specific modpack
// belonging to a specific publisher.
type Resource struct {
	PublisherID string
	ModpackID   string // empty for publisher-level checks (e.g. manage_members)
}
