// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to upload to GCS.
type Config struct {
	Bucket string
	// ChunkSize overrides the resumable upload chunk size when > 0.
	ChunkSize int
}

// Validate reports missing settings.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("bucket name is required")
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be >= 0")
	}
	return nil
}

// BlobStore uploads archived event files to a configured GCS bucket.
type BlobStore struct {
	client    *storage.Client
	bucket    string
	chunkSize int
}

// New creates a GCS-backed blob store around an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BlobStore{
		client:    client,
		bucket:    cfg.Bucket,
		chunkSize: cfg.ChunkSize,
	}, nil
}

// NewFromEnv dials a client using application default credentials.
func NewFromEnv(ctx context.Context, cfg Config) (*BlobStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return New(client, cfg)
}

// URI returns the gs:// URI for path in the configured bucket.
func (s *BlobStore) URI(path string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, path)
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if s.chunkSize > 0 {
		writer.ChunkSize = s.chunkSize
	}
	if _, err := io.Copy(writer, r); err != nil {
		return "", errors.Join(fmt.Errorf("copy object: %w", err), writer.Close())
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return s.URI(path), nil
}

// Close releases the underlying client.
func (s *BlobStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
