package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/packforge/distro/pkg/apperr"
)

// FileStore is a filesystem-backed Store rooted at objects/<hh>/<digest>,
// where <hh> is the first two hex characters of the digest (spec §6).
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at root/objects.
func NewFileStore(root string) (*FileStore, error) {
	objRoot := filepath.Join(root, "objects")
	if err := os.MkdirAll(objRoot, 0755); err != nil {
		return nil, fmt.Errorf("blobstore: create object root: %w", err)
	}
	return &FileStore{root: objRoot}, nil
}

func (s *FileStore) pathFor(digest string) string {
	return filepath.Join(s.root, digest[:2], digest)
}

// Put implements Store. It streams r to a temp file in the flat
// .staging directory under the object root, computes sha-256 as it
// writes, fsyncs, and renames into objects/<hh>/<digest>. Two concurrent Puts of identical content race on the
// rename; the OS serializes it and both callers observe the same final
// file (spec §4.1, invariant I2/I3).
func (s *FileStore) Put(ctx context.Context, r io.Reader, claimedDigest string) (PutResult, error) {
	// Shard directory is unknown until the digest is computed, so stage
	// the temp file under a flat staging area first.
	stagingDir := filepath.Join(s.root, ".staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return PutResult{}, apperr.Internal(fmt.Errorf("blobstore: staging dir: %w", err))
	}

	tmp, err := os.CreateTemp(stagingDir, "blob-*.tmp")
	if err != nil {
		return PutResult{}, apperr.Internal(fmt.Errorf("blobstore: create temp: %w", err))
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	h := sha256.New()
	size, err := io.Copy(tmp, io.TeeReader(r, h))
	if err != nil {
		_ = tmp.Close()
		cleanup()
		return PutResult{}, apperr.Wrap(apperr.KindInternal, "failed writing blob", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return PutResult{}, apperr.Internal(fmt.Errorf("blobstore: fsync: %w", err))
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return PutResult{}, apperr.Internal(fmt.Errorf("blobstore: close temp: %w", err))
	}

	digest := hex.EncodeToString(h.Sum(nil))
	if claimedDigest != "" && claimedDigest != digest {
		cleanup()
		return PutResult{}, apperr.New(apperr.KindValidation,
			fmt.Sprintf("digest mismatch: claimed %s, computed %s", claimedDigest, digest))
	}

	shardDir := filepath.Join(s.root, digest[:2])
	if err := os.MkdirAll(shardDir, 0755); err != nil {
		cleanup()
		return PutResult{}, apperr.Internal(fmt.Errorf("blobstore: shard dir: %w", err))
	}

	finalPath := s.pathFor(digest)
	if _, err := os.Stat(finalPath); err == nil {
		// Already stored by us or a concurrent writer; discard the temp copy.
		cleanup()
		return PutResult{Digest: digest, Size: size, Deduped: true}, nil
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		cleanup()
		return PutResult{}, apperr.Internal(fmt.Errorf("blobstore: chmod: %w", err))
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		// Another writer may have won the race between Stat and Rename.
		if _, statErr := os.Stat(finalPath); statErr == nil {
			cleanup()
			return PutResult{Digest: digest, Size: size, Deduped: true}, nil
		}
		cleanup()
		return PutResult{}, apperr.Internal(fmt.Errorf("blobstore: commit rename: %w", err))
	}

	return PutResult{Digest: digest, Size: size, Deduped: false}, nil
}

func (s *FileStore) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	f, err := os.Open(s.pathFor(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.KindNotFound, "blob not found")
		}
		return nil, apperr.Internal(err)
	}
	return f, nil
}

func (s *FileStore) Exists(ctx context.Context, digest string) (bool, error) {
	_, err := os.Stat(s.pathFor(digest))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, apperr.Internal(err)
}

func (s *FileStore) Delete(ctx context.Context, digest string) error {
	err := os.Remove(s.pathFor(digest))
	if err != nil && !os.IsNotExist(err) {
		return apperr.Internal(fmt.Errorf("blobstore: delete: %w", err))
	}
	return nil
}

// ListDigests walks the shard directories for GC. It satisfies CandidateLister.
func (s *FileStore) ListDigests(ctx context.Context) ([]StoredObject, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("blobstore: list shards: %w", err))
	}

	var objs []StoredObject
	for _, shard := range entries {
		if !shard.IsDir() || shard.Name() == ".staging" {
			continue
		}
		shardPath := filepath.Join(s.root, shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("blobstore: list shard %s: %w", shard.Name(), err))
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			objs = append(objs, StoredObject{Digest: f.Name(), StoredAt: info.ModTime()})
		}
	}
	return objs, nil
}
