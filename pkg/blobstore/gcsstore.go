package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/packforge/distro/pkg/apperr"
)

// GCSStore is a Google Cloud Storage-backed Store, selected when
// OBJECT_ROOT has the form "gs://bucket/prefix".
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore builds a GCS-backed store using application default credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSStore) object(digest string) *storage.ObjectHandle {
	key := fmt.Sprintf("objects/%s/%s", digest[:2], digest)
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return s.client.Bucket(s.bucket).Object(key)
}

func (s *GCSStore) Put(ctx context.Context, r io.Reader, claimedDigest string) (PutResult, error) {
	h := sha256.New()
	buf, err := io.ReadAll(io.TeeReader(r, h))
	if err != nil {
		return PutResult{}, apperr.Wrap(apperr.KindInternal, "failed reading blob", err)
	}
	digest := hex.EncodeToString(h.Sum(nil))
	if claimedDigest != "" && claimedDigest != digest {
		return PutResult{}, apperr.New(apperr.KindValidation,
			fmt.Sprintf("digest mismatch: claimed %s, computed %s", claimedDigest, digest))
	}

	if exists, err := s.Exists(ctx, digest); err != nil {
		return PutResult{}, err
	} else if exists {
		return PutResult{Digest: digest, Size: int64(len(buf)), Deduped: true}, nil
	}

	// DoesNotExist precondition makes concurrent first-writers race safely:
	// the loser's write is rejected instead of silently overwriting.
	w := s.object(digest).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := w.Write(buf); err != nil {
		_ = w.Close()
		return PutResult{}, apperr.Wrap(apperr.KindUpstreamUnavailable, "gcs write failed", err)
	}
	if err := w.Close(); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return PutResult{Digest: digest, Size: int64(len(buf)), Deduped: true}, nil
		}
		return PutResult{}, apperr.Wrap(apperr.KindUpstreamUnavailable, "gcs commit failed", err)
	}

	return PutResult{Digest: digest, Size: int64(len(buf)), Deduped: false}, nil
}

func (s *GCSStore) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	r, err := s.object(digest).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, apperr.New(apperr.KindNotFound, "blob not found")
		}
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "gcs read failed", err)
	}
	return r, nil
}

func (s *GCSStore) Exists(ctx context.Context, digest string) (bool, error) {
	_, err := s.object(digest).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, apperr.Wrap(apperr.KindUpstreamUnavailable, "gcs stat failed", err)
}

func (s *GCSStore) Delete(ctx context.Context, digest string) error {
	err := s.object(digest).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "gcs delete failed", err)
	}
	return nil
}
