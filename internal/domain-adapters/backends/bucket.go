package backends

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/interfaces"
	"github.com/ochairo/reposync/internal/domain/interfaces/gateways"
)

// BucketBackend publishes into an object storage bucket
type BucketBackend struct {
	store  gateways.ObjectStore
	logger interfaces.Logger
}

// NewBucketBackend wraps an object store
func NewBucketBackend(store gateways.ObjectStore, logger interfaces.Logger) *BucketBackend {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &BucketBackend{store: store, logger: logger}
}

// Kind implements gateways.StorageBackend
func (b *BucketBackend) Kind() string { return string(entities.BackendBucket) }

// ListAssets lists the bucket objects under the prefix
func (b *BucketBackend) ListAssets(ctx context.Context) (map[string]entities.Asset, error) {
	objects, err := b.store.List(ctx)
	if err != nil {
		return nil, err
	}
	assets := make(map[string]entities.Asset, len(objects))
	for _, o := range objects {
		assets[o.Key] = entities.Asset{Name: o.Key, Handle: o.Key, Size: o.Size}
	}
	return assets, nil
}

// Delete removes the object
func (b *BucketBackend) Delete(ctx context.Context, asset entities.Asset) error {
	return b.store.Delete(ctx, asset.Handle)
}

// Upload stores the local file under its base name
func (b *BucketBackend) Upload(ctx context.Context, localPath string) (entities.Asset, error) {
	//nolint:gosec // G304: localPath is an artifact directory entry
	f, err := os.Open(localPath)
	if err != nil {
		return entities.Asset{}, err
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	name := filepath.Base(localPath)
	obj, err := b.store.Put(ctx, name, f, contentType(name))
	if err != nil {
		return entities.Asset{}, err
	}
	return entities.Asset{Name: name, Handle: obj.Key, Size: obj.Size}, nil
}

// Fetch downloads the object to destPath. Every failure means "not available".
func (b *BucketBackend) Fetch(ctx context.Context, asset entities.Asset, destPath string) (bool, error) {
	part := destPath + ".part"
	if err := b.fetch(ctx, asset, part); err != nil {
		_ = os.Remove(part)
		b.logger.Debug("Bucket fetch failed, treating asset as absent",
			interfaces.F("name", asset.Name),
			interfaces.F("error", err))
		return false, nil
	}
	if err := os.Rename(part, destPath); err != nil {
		_ = os.Remove(part)
		return false, nil
	}
	return true, nil
}

func (b *BucketBackend) fetch(ctx context.Context, asset entities.Asset, path string) error {
	//nolint:gosec // G304: path lies in the artifact directory
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := b.store.Get(ctx, asset.Handle, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if asset.Size > 0 && n != asset.Size {
		return fmt.Errorf("short read: got %d of %d bytes", n, asset.Size)
	}
	return nil
}

// Describe stores the status page as an object
func (b *BucketBackend) Describe(ctx context.Context, markdown string) error {
	_, err := b.store.Put(ctx, entities.DescriptionFile, strings.NewReader(markdown), "text/markdown; charset=utf-8")
	return err
}

func contentType(name string) string {
	switch {
	case entities.IsPackageFile(name):
		return "application/vnd.debian.binary-package"
	case filepath.Ext(name) == ".gz":
		return "application/gzip"
	case filepath.Ext(name) == ".gpg":
		return "application/pgp-signature"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "text/plain; charset=utf-8"
}
