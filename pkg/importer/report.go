package importer

// FailedEntry records one mod reference that could not be resolved or
// downloaded, so the caller can surface a partial-success report rather
// than aborting the whole import on a single missing mod.
type FailedEntry struct {
	Pair   ModRef
	Reason string
}

// Report is the §4.5 outcome shape returned once an import either
// commits a draft version or fails fast on a transient upstream issue.
type Report struct {
	ModpackID      string
	VersionID      string
	TotalRequested int
	Downloaded     int
	Deduped        int
	FailedEntries  []FailedEntry
	OverrideFiles  int
}
