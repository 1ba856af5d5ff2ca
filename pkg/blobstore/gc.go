package blobstore

import (
	"context"
	"log/slog"
	"time"
)

// ReferenceSource enumerates the digests a store must not collect because
// some version or import still names them. Implemented by the catalog
// package over its version_files table.
type ReferenceSource interface {
	// ReferencedDigests returns a repeatable snapshot of every digest
	// currently referenced by a VersionFile row. GC takes this snapshot
	// once, up front, rather than re-querying mid-sweep, so a digest
	// can only be deleted if it was unreferenced throughout the sweep.
	ReferencedDigests(ctx context.Context) (map[string]struct{}, error)
}

// CandidateLister enumerates every digest currently present in the
// store, independent of any particular backend's directory layout.
type CandidateLister interface {
	ListDigests(ctx context.Context) ([]StoredObject, error)
}

// StoredObject is one blob as seen by a GC candidate listing.
type StoredObject struct {
	Digest   string
	StoredAt time.Time
}

// SweepResult summarizes one GC pass.
type SweepResult struct {
	Scanned int
	Deleted int
	Skipped int // referenced or younger than the grace window
}

// Sweep deletes blobs that are unreferenced as of the snapshot taken from
// refs AND older than grace (spec §4.1 "Garbage collection"). The grace
// window protects a blob that was just written by an in-flight import
// whose manifest commit (and therefore its VersionFile row) hasn't landed
// yet.
func Sweep(ctx context.Context, store Store, lister CandidateLister, refs ReferenceSource, grace time.Duration, log *slog.Logger) (SweepResult, error) {
	referenced, err := refs.ReferencedDigests(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	candidates, err := lister.ListDigests(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	cutoff := time.Now().Add(-grace)
	var result SweepResult
	for _, obj := range candidates {
		result.Scanned++

		if _, stillReferenced := referenced[obj.Digest]; stillReferenced {
			result.Skipped++
			continue
		}
		if obj.StoredAt.After(cutoff) {
			result.Skipped++
			continue
		}

		if err := store.Delete(ctx, obj.Digest); err != nil {
			log.Error("gc: failed to delete blob", "digest", obj.Digest, "error", err)
			continue
		}
		result.Deleted++
	}

	log.Info("gc: sweep complete", "scanned", result.Scanned, "deleted", result.Deleted, "skipped", result.Skipped)
	return result, nil
}
