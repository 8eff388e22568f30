// Package storage is the object storage port behind blob.ObjectHandles. Handle
// content lives under handles/<uuid> keys and is read back only through
// presigned URLs, so the port writes, deletes and presigns but never downloads.
package storage

import (
	"context"
	"io"
	"time"
)

// PutObjectOptions describe an upload. Handle content is fully in memory, so
// Size is always the exact byte count.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo is what the backend reports about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is the subset of an S3-compatible client that resource handles need.
type Storage interface {
	// Put uploads r under key.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Delete removes the object under key. It is how a handle is released.
	Delete(ctx context.Context, key string) error
	// PresignGet returns a credential-free download URL valid for expiry. The
	// URL lapsing does not remove the object.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
