package gateways

import (
	"context"
	"io"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// StorageBackend is the capability set every remote repository variant implements.
// Backends only move bytes; the publish diff and the missing-index reset live in
// the shared store built on top of them.
type StorageBackend interface {
	// Kind names the variant ("local", "bucket", "hosted")
	Kind() string

	// ListAssets returns the published files keyed by name
	ListAssets(ctx context.Context) (map[string]entities.Asset, error)

	// Delete removes one published file
	Delete(ctx context.Context, asset entities.Asset) error

	// Upload publishes the local file under its base name. Callers delete an
	// existing asset of the same name first.
	Upload(ctx context.Context, localPath string) (entities.Asset, error)

	// Fetch copies a published file to destPath. Returns false when the asset
	// is not available; each variant decides which errors mean "not available".
	Fetch(ctx context.Context, asset entities.Asset, destPath string) (bool, error)

	// Describe stores the rendered repository status page
	Describe(ctx context.Context, markdown string) error
}

// StoredObject describes one object in a bucket
type StoredObject struct {
	Key  string
	Size int64
}

// ObjectStore is the list/get/put/delete surface of an object storage bucket.
// Keys are relative to the store's configured prefix.
type ObjectStore interface {
	List(ctx context.Context) ([]StoredObject, error)
	Get(ctx context.Context, key string, w io.Writer) (int64, error)
	Put(ctx context.Context, key string, r io.Reader, contentType string) (StoredObject, error)
	Delete(ctx context.Context, key string) error
}
