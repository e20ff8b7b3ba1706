// Package storage defines the blob storage abstraction used to archive
// closed event files. Implementations live in the gcs, local and memory
// subpackages.
package storage

import (
	"context"
	"io"
)

// BlobStore uploads one object and returns the URI it can be fetched from.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOpBlobStore discards objects. It is useful when archiving is disabled
// but callers still expect a BlobStore.
type NoOpBlobStore struct{}

// PutObject drains r and returns an empty URI.
func (NoOpBlobStore) PutObject(_ context.Context, _ string, _ string, r io.Reader) (string, error) {
	if r != nil {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return "", err
		}
	}
	return "", nil
}
