package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"pdf2md/internal/domain"
	"pdf2md/internal/domain/ports/repository"
)

var _ repository.ObjectStore = (*GCSStore)(nil)

// GCSStore keys objects under an optional prefix within a single bucket.
type GCSStore struct {
	bucket *gcs.BucketHandle
	prefix string
}

func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &GCSStore{bucket: client.Bucket(bucket), prefix: prefix}, nil
}

func (s *GCSStore) object(key string) *gcs.ObjectHandle {
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return s.bucket.Object(key)
}

// Put writes the object only if it does not already exist. A precondition
// failure means an earlier attempt already wrote identical pipeline output,
// which is not an error in an idempotent workflow.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := s.object(key).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			return nil // object already exists
		}
		return fmt.Errorf("finalize object %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
