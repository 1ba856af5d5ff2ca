// Package blobstore implements the content-addressed, write-once blob
// store described in spec §4.1: every mod file is written once, keyed
// by the sha-256 digest of its bytes, and shared across every version
// and modpack that references it.
package blobstore

import (
	"context"
	"io"
)

// PutResult reports the outcome of a Put.
type PutResult struct {
	Digest  string // hex-encoded sha-256, no "sha256:" prefix
	Size    int64
	Deduped bool // true if a blob with this digest already existed
}

// Store is the content-addressed blob store contract (spec §4.1).
type Store interface {
	// Put consumes r fully, computing its sha-256 digest while writing to
	// a temporary location, then atomically commits it to its final path
	// keyed by digest. If claimedDigest is non-empty and does not match
	// the computed digest, Put fails without publishing the blob
	// (spec §4.1 "Failure semantics").
	Put(ctx context.Context, r io.Reader, claimedDigest string) (PutResult, error)

	// Open returns a reader for the blob with the given digest.
	// Returns an apperr NotFound if absent.
	Open(ctx context.Context, digest string) (io.ReadCloser, error)

	// Exists reports whether a blob with the given digest is stored.
	Exists(ctx context.Context, digest string) (bool, error)

	// Delete removes the blob. Used only by GC; never called from a
	// request path that might still be referencing the digest.
	Delete(ctx context.Context, digest string) error
}
