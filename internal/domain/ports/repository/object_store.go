package repository

import "context"

// ObjectStore is key-based storage for source PDFs, page objects, and
// assembled results.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}
