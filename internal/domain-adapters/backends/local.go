package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// LocalBackend publishes into a directory on the local filesystem
type LocalBackend struct {
	dir string
}

// NewLocalBackend creates the directory if needed
func NewLocalBackend(dir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}
	return &LocalBackend{dir: dir}, nil
}

// Kind implements gateways.StorageBackend
func (b *LocalBackend) Kind() string { return string(entities.BackendLocal) }

// ListAssets returns every regular file in the directory
func (b *LocalBackend) ListAssets(_ context.Context) (map[string]entities.Asset, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read repository directory: %w", err)
	}

	assets := make(map[string]entities.Asset, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || name == entities.DescriptionFile || strings.HasSuffix(name, ".part") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", name, err)
		}
		path := filepath.Join(b.dir, name)
		assets[name] = entities.Asset{Name: name, Handle: path, Size: info.Size(), URL: "file://" + path}
	}
	return assets, nil
}

// Delete removes the file
func (b *LocalBackend) Delete(_ context.Context, asset entities.Asset) error {
	if err := os.Remove(asset.Handle); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Upload copies the local file into the directory
func (b *LocalBackend) Upload(_ context.Context, localPath string) (entities.Asset, error) {
	name := filepath.Base(localPath)
	dest := filepath.Join(b.dir, name)

	n, err := copyFile(localPath, dest)
	if err != nil {
		return entities.Asset{}, err
	}
	return entities.Asset{Name: name, Handle: dest, Size: n, URL: "file://" + dest}, nil
}

// Fetch copies the published file to destPath. No transfer happens when the
// repository directory is the artifact directory.
func (b *LocalBackend) Fetch(_ context.Context, asset entities.Asset, destPath string) (bool, error) {
	src, err := os.Stat(asset.Handle)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if dst, err := os.Stat(destPath); err == nil && os.SameFile(src, dst) {
		return true, nil
	}
	if _, err := copyFile(asset.Handle, destPath); err != nil {
		return false, fmt.Errorf("failed to copy %s: %w", asset.Name, err)
	}
	return true, nil
}

// Describe writes the status page next to the published files
func (b *LocalBackend) Describe(_ context.Context, markdown string) error {
	//nolint:gosec // G306: Repository files are world-readable
	return os.WriteFile(filepath.Join(b.dir, entities.DescriptionFile), []byte(markdown), 0644)
}
