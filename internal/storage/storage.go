// Package storage holds rep audio blobs. Backends are selected by config;
// callers only see BlobStore.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when the key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore is the blob capability the rep pipeline needs.
type BlobStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
