package blobstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// NewFromEnv builds a Store from an OBJECT_ROOT value (spec §6):
//
//	/var/lib/distro/blobs   -> FileStore rooted there
//	s3://bucket/prefix      -> S3Store (region/endpoint from the extra args)
//	gs://bucket/prefix      -> GCSStore
//
// region and endpoint are only consulted for the s3:// scheme; endpoint
// lets a MinIO/LocalStack deployment override the default AWS endpoint,
// mirroring how the teacher's artifact store picks between local disk
// and cloud backends from a single configuration string.
func NewFromEnv(ctx context.Context, objectRoot, s3Region, s3Endpoint string) (Store, error) {
	if objectRoot == "" {
		return nil, fmt.Errorf("blobstore: OBJECT_ROOT is required")
	}

	u, err := url.Parse(objectRoot)
	if err != nil || u.Scheme == "" {
		return NewFileStore(objectRoot)
	}

	switch u.Scheme {
	case "s3":
		bucket := u.Host
		prefix := strings.TrimPrefix(u.Path, "/")
		return NewS3Store(ctx, bucket, prefix, s3Region, s3Endpoint)
	case "gs":
		bucket := u.Host
		prefix := strings.TrimPrefix(u.Path, "/")
		return NewGCSStore(ctx, bucket, prefix)
	case "file":
		return NewFileStore(u.Path)
	default:
		return nil, fmt.Errorf("blobstore: unsupported OBJECT_ROOT scheme %q", u.Scheme)
	}
}
