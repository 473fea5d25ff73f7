// Package blob stores detection image payloads in durable object storage.
// Records are only committed to the canonical store after their images are
// written here, so a record row never points at a missing image.
package blob

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// Store wraps a bucket for image payloads.
type Store struct {
	bucket *blob.Bucket
}

// Open creates a Store from a bucket URL (file:///path, mem:// in tests).
func Open(ctx context.Context, url string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob bucket: %w", err)
	}
	return &Store{bucket: bucket}, nil
}

// Write stores one image under the given key.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	return s.bucket.WriteAll(ctx, key, data, nil)
}

// Delete removes one image. Missing keys are not an error: retention may run
// twice over the same window.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && gcerrorsIsNotFound(err) {
		return nil
	}
	return err
}

// Exists reports whether a key is present. Used by tests and diagnostics.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

// ImageKey builds the canonical key for one image of a message.
func ImageKey(kind, messageID string, index int) string {
	return fmt.Sprintf("%s/%s/%d.jpg", kind, messageID, index)
}

func gcerrorsIsNotFound(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
