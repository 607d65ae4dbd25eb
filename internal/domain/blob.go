package domain

import (
	"context"
	"time"
)

// ObjectInfo is the listing entry of one archived object.
type ObjectInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads report artifacts. The implementation decides whether a
// payload needs a multipart upload.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// BlobReader reads report artifacts back. Get on a missing path returns
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}
