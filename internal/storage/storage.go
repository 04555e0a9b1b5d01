// Package storage provides the durable object store behind the room
// registry: a byte-oriented get/put/delete keyed by path-like strings,
// with one implementation per backend selected once at startup.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/devsync/devsync/internal/config"
)

// ErrNotFound is returned by Get when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// Store is the capability interface for object storage backends.
// Get on a missing key returns ErrNotFound; Delete of a missing key
// succeeds.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error

	// Type returns the backend identifier ("local", "s3").
	Type() string

	Close() error
}

// New creates a Store from the configured provider.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Provider {
	case "local":
		return NewLocal(cfg.Local)
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}
