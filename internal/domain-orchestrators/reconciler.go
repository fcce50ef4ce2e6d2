package orchestrators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ochairo/reposync/internal/domain-adapters/backends"
	"github.com/ochairo/reposync/internal/domain-adapters/gateways"
	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/interfaces"
	"github.com/ochairo/reposync/internal/domain/services"
)

// RemoteStore is the remote repository as seen by one run
type RemoteStore interface {
	Kind() string
	ListAssets() map[string]entities.Asset
	FetchIfPresent(ctx context.Context, name, destPath string) (bool, error)
	Download(ctx context.Context, name, dir string) error
	Publish(ctx context.Context, localPaths, refresh []string) (backends.PublishResult, error)
	Invalidate(ctx context.Context) error
	Describe(ctx context.Context, markdown string) error
}

// Reconciler compares and synchronises the local artifact directory with the remote store
type Reconciler struct {
	store  RemoteStore
	logger interfaces.Logger
}

// NewReconciler creates a reconciler for store
func NewReconciler(store RemoteStore, logger interfaces.Logger) *Reconciler {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &Reconciler{store: store, logger: logger}
}

// Unchanged reports whether the published package files are exactly the ones
// the catalog produces.
func (r *Reconciler) Unchanged(catalog *services.Catalog) bool {
	want := catalog.PackageFileNames()

	published := 0
	for name := range r.store.ListAssets() {
		if !entities.IsPackageFile(name) {
			continue
		}
		if _, ok := want[name]; !ok {
			return false
		}
		published++
	}
	return published == len(want)
}

// Verify checks every package listed in dir's Packages index against the file in dir
func (r *Reconciler) Verify(dir string) error {
	//nolint:gosec // G304: index path is built from the configured artifact directory
	f, err := os.Open(filepath.Join(dir, entities.IndexPackages))
	if err != nil {
		return fmt.Errorf("failed to open package index: %w", err)
	}
	defer f.Close() //nolint:errcheck // Read-only file

	entries, err := services.ParsePackagesIndex(f)
	if err != nil {
		return fmt.Errorf("failed to parse package index: %w", err)
	}

	for _, e := range entries {
		if err := gateways.VerifyDigests(filepath.Join(dir, e.Filename), e.Digests); err != nil {
			return err
		}
	}
	r.logger.Debug("Verified package index", interfaces.F("dir", dir), interfaces.F("packages", len(entries)))
	return nil
}

// Restore downloads every published asset into dir, replacing local copies
func (r *Reconciler) Restore(ctx context.Context, dir string) error {
	assets := r.store.ListAssets()
	names := make([]string, 0, len(assets))
	for name := range assets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := r.store.Download(ctx, name, dir); err != nil {
			return fmt.Errorf("failed to restore %s: %w", name, err)
		}
	}
	r.logger.Debug("Restored remote assets", interfaces.F("count", len(names)))
	return nil
}

// Publish uploads the package files and index of dir, then proves the
// round trip: the local copy is verified, every asset is fetched back and
// the restored copy is verified again. Package files named in refresh replace
// their published copies. When the round trip fails the remote index marker
// is dropped, so the next run starts from an empty remote repository.
func (r *Reconciler) Publish(ctx context.Context, dir string, refresh []string) (backends.PublishResult, error) {
	paths, err := publishablePaths(dir)
	if err != nil {
		return backends.PublishResult{}, err
	}

	result, err := r.store.Publish(ctx, paths, refresh)
	if err != nil {
		return result, err
	}
	r.logger.Info("Published repository",
		interfaces.F("backend", r.store.Kind()),
		interfaces.F("uploaded", len(result.Uploaded)),
		interfaces.F("deleted", len(result.Deleted)))

	if err := r.roundTrip(ctx, dir); err != nil {
		if invErr := r.store.Invalidate(ctx); invErr != nil {
			r.logger.Error("Failed to drop remote index marker", interfaces.F("error", invErr))
		} else {
			r.logger.Warn("Dropped remote index marker after failed verification")
		}
		return result, err
	}
	return result, nil
}

func (r *Reconciler) roundTrip(ctx context.Context, dir string) error {
	if err := r.Verify(dir); err != nil {
		return fmt.Errorf("verification before restore failed: %w", err)
	}
	if err := r.Restore(ctx, dir); err != nil {
		return err
	}
	if err := r.Verify(dir); err != nil {
		return fmt.Errorf("verification after restore failed: %w", err)
	}
	return nil
}

// publishablePaths lists the package files and the index files present in dir
func publishablePaths(dir string) ([]string, error) {
	packages, err := gateways.PackageFiles(dir)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(packages)+len(entities.IndexFiles))
	for _, name := range packages {
		paths = append(paths, filepath.Join(dir, name))
	}
	for _, name := range entities.IndexFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths, nil
}
