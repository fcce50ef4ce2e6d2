// Package backends implements the remote repository variants and the store
// that applies the shared publication rules on top of them.
package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/interfaces"
	"github.com/ochairo/reposync/internal/domain/interfaces/gateways"
)

// PublishResult lists what a publish pass changed remotely
type PublishResult struct {
	Uploaded []string
	Deleted  []string
}

// Changed reports whether the pass touched the remote repository
func (r PublishResult) Changed() bool {
	return len(r.Uploaded) > 0 || len(r.Deleted) > 0
}

// Store is the remote repository view of one run
type Store struct {
	backend gateways.StorageBackend
	assets  map[string]entities.Asset
	logger  interfaces.Logger
}

// NewStore lists the backend and applies the initialisation rule: without the
// index marker every listed asset is deleted and the view starts empty. A
// rebuild resets the remote repository the same way.
func NewStore(ctx context.Context, backend gateways.StorageBackend, rebuild bool, logger interfaces.Logger) (*Store, error) {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}

	assets, err := backend.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s assets: %w", backend.Kind(), err)
	}
	delete(assets, entities.DescriptionFile)

	s := &Store{
		backend: backend,
		assets:  assets,
		logger:  logger,
	}

	_, indexed := assets[entities.IndexRelease]
	if (!indexed || rebuild) && len(assets) > 0 {
		logger.Warn("Resetting remote repository",
			interfaces.F("backend", backend.Kind()),
			interfaces.F("index_present", indexed),
			interfaces.F("rebuild", rebuild),
			interfaces.F("assets", len(assets)))
		for _, name := range sortedNames(assets) {
			if err := backend.Delete(ctx, assets[name]); err != nil {
				return nil, fmt.Errorf("failed to reset asset %s: %w", name, err)
			}
		}
		s.assets = map[string]entities.Asset{}
	}

	return s, nil
}

// Kind names the underlying backend variant
func (s *Store) Kind() string {
	return s.backend.Kind()
}

// ListAssets returns a copy of the current remote view
func (s *Store) ListAssets() map[string]entities.Asset {
	out := make(map[string]entities.Asset, len(s.assets))
	for k, v := range s.assets {
		out[k] = v
	}
	return out
}

// Delete removes one asset and drops it from the view
func (s *Store) Delete(ctx context.Context, asset entities.Asset) error {
	if err := s.backend.Delete(ctx, asset); err != nil {
		return fmt.Errorf("failed to delete %s: %w", asset.Name, err)
	}
	delete(s.assets, asset.Name)
	return nil
}

// Invalidate removes the index marker so the next run resets the remote repository
func (s *Store) Invalidate(ctx context.Context) error {
	marker, ok := s.assets[entities.IndexRelease]
	if !ok {
		return nil
	}
	return s.Delete(ctx, marker)
}

// FetchIfPresent copies a published package file to destPath. Names that are
// not package files are never fetched.
func (s *Store) FetchIfPresent(ctx context.Context, name, destPath string) (bool, error) {
	if !entities.IsPackageFile(name) {
		return false, nil
	}
	asset, ok := s.assets[name]
	if !ok {
		return false, nil
	}
	return s.backend.Fetch(ctx, asset, destPath)
}

// Download copies any published asset into dir, failing when it cannot be fetched
func (s *Store) Download(ctx context.Context, name, dir string) error {
	asset, ok := s.assets[name]
	if !ok {
		return fmt.Errorf("asset %s is not published", name)
	}
	ok, err := s.backend.Fetch(ctx, asset, filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("asset %s could not be fetched", name)
	}
	return nil
}

// Publish makes the remote repository hold exactly the given local files.
// Remote assets without a local counterpart are deleted, missing ones are
// uploaded and index files are always replaced, after every package file.
// Existing package files are only replaced when named in refresh.
func (s *Store) Publish(ctx context.Context, localPaths, refresh []string) (PublishResult, error) {
	var result PublishResult

	local := make(map[string]string, len(localPaths))
	for _, p := range localPaths {
		local[filepath.Base(p)] = p
	}
	replace := make(map[string]struct{}, len(refresh))
	for _, name := range refresh {
		replace[name] = struct{}{}
	}

	var uploads []string
	for _, name := range sortedNames(local) {
		_, exists := s.assets[name]
		_, refreshed := replace[name]
		if !exists || isIndexFile(name) || refreshed {
			uploads = append(uploads, name)
		}
	}
	sortIndexLast(uploads)

	var stale []string
	for _, name := range sortedNames(s.assets) {
		if _, ok := local[name]; !ok {
			stale = append(stale, name)
		}
	}

	if len(uploads) == 0 && len(stale) == 0 {
		return result, nil
	}

	// Drop the marker first so an interrupted pass resets on the next run
	if marker, ok := s.assets[entities.IndexRelease]; ok {
		if err := s.Delete(ctx, marker); err != nil {
			return result, err
		}
		result.Deleted = append(result.Deleted, marker.Name)
	}

	for _, name := range stale {
		asset, ok := s.assets[name]
		if !ok {
			continue
		}
		if err := s.Delete(ctx, asset); err != nil {
			return result, err
		}
		result.Deleted = append(result.Deleted, name)
		s.logger.Info("Deleted remote asset", interfaces.F("name", name))
	}

	for _, name := range uploads {
		if asset, ok := s.assets[name]; ok {
			if err := s.Delete(ctx, asset); err != nil {
				return result, err
			}
		}
		asset, err := s.backend.Upload(ctx, local[name])
		if err != nil {
			return result, fmt.Errorf("failed to upload %s: %w", name, err)
		}
		s.assets[name] = asset
		result.Uploaded = append(result.Uploaded, name)
		s.logger.Info("Uploaded asset", interfaces.F("name", name), interfaces.F("size", asset.Size))
	}

	return result, nil
}

// Describe stores the rendered status page
func (s *Store) Describe(ctx context.Context, markdown string) error {
	if err := s.backend.Describe(ctx, markdown); err != nil {
		return fmt.Errorf("failed to publish repository description: %w", err)
	}
	return nil
}

func isIndexFile(name string) bool {
	for _, f := range entities.IndexFiles {
		if f == name {
			return true
		}
	}
	return false
}

// sortIndexLast moves index files behind package files, in IndexFiles order
func sortIndexLast(names []string) {
	rank := func(name string) int {
		for i, f := range entities.IndexFiles {
			if f == name {
				return i + 1
			}
		}
		return 0
	}
	sort.SliceStable(names, func(i, j int) bool { return rank(names[i]) < rank(names[j]) })
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// copyFile copies src to dst through a .part file renamed into place
func copyFile(src, dst string) (int64, error) {
	//nolint:gosec // G304: Paths are artifact and backend directory entries
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	//nolint:errcheck // Defer close on read-only file
	defer in.Close()

	part := dst + ".part"
	//nolint:gosec // G304: Destination lies in a configured directory
	out, err := os.Create(part)
	if err != nil {
		return 0, err
	}
	n, err := out.ReadFrom(in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(part)
		return 0, err
	}
	return n, os.Rename(part, dst)
}
