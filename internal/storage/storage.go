// Package storage provides the key/value blob store that the caches use to
// survive restarts. Callers treat blobs as opaque JSON documents.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("storage: not found")

// BlobStore is an opaque key/value store.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// LoadJSON reads key and decodes it into dst.
func LoadJSON(ctx context.Context, store BlobStore, key string, dst any) error {
	data, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return nil
}

// SaveJSON encodes v and writes it under key.
func SaveJSON(ctx context.Context, store BlobStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return store.Set(ctx, key, data)
}
