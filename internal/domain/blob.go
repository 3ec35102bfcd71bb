package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter stores objects (item resource files, proof uploads).
type BlobWriter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// BlobReader retrieves stored objects. Get returns ErrNotFound when the
// object does not exist.
type BlobReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (BlobInfo, error)
}
