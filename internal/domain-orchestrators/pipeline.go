// Package orchestrators coordinates the build pipeline across the domain services and adapters.
package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ochairo/reposync/internal/domain-adapters/backends"
	"github.com/ochairo/reposync/internal/domain-adapters/gateways"
	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/interfaces"
	"github.com/ochairo/reposync/internal/domain/interfaces/repositories"
	"github.com/ochairo/reposync/internal/domain/services"
)

// VersionSource lists the upstream versions of a product
type VersionSource interface {
	FetchVersions(ctx context.Context, product *entities.Product) ([]string, error)
}

// SourceFetcher downloads (or reuses) the upstream archive of a record
type SourceFetcher interface {
	FetchSource(ctx context.Context, product *entities.Product, record *entities.ArtifactRecord, cacheDir string, reload bool) (string, error)
}

// PackageBuilder turns an upstream archive into the record's package file
type PackageBuilder interface {
	BuildPackage(ctx context.Context, product *entities.Product, record *entities.ArtifactRecord, sourceArchive, artifactDir string) (string, string, error)
}

// PackageInspector parses the control fields of a package file, failing on malformed archives
type PackageInspector func(path string) ([]entities.ControlField, error)

// RepositoryIndexer maintains the repository index of the artifact directory
type RepositoryIndexer interface {
	Exists(dir string) bool
	Invalidate(dir string) error
	Generate(dir string) ([]entities.IndexEntry, error)
}

// ArtifactFinder locates leftovers and stale files on disk
type ArtifactFinder interface {
	FindLeftovers(dir string) ([]string, error)
	FindStalePackages(dir string, keep map[string]struct{}) ([]string, error)
	FindStaleSources(dir string, keep map[string]struct{}) ([]string, error)
}

// Notifier delivers operator notifications
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// RunRecorder counts what a run did
type RunRecorder interface {
	Built()
	Reused()
	Fetched()
	Uploaded()
	Deleted()
	BetaFailure()
}

// StoreOpener connects to the remote repository. It is called at most once per
// run and only when the run gets past the patch stage.
type StoreOpener func(ctx context.Context) (RemoteStore, error)

// PipelineConfig holds the per-run options
type PipelineConfig struct {
	ArtifactDir string
	CacheDir    string
	Title       string // Heading of the repository status page
	Bump        bool
	Reload      bool
	Rebuild     bool
}

// Outcome says how a run ended
type Outcome string

// Run outcomes
const (
	OutcomeBumped           Outcome = "bumped"
	OutcomeUnchanged        Outcome = "unchanged"
	OutcomeNothingToPublish Outcome = "nothing-to-publish"
	OutcomePublished        Outcome = "published"
)

// RunResult summarises a completed run
type RunResult struct {
	Outcome      Outcome
	Records      int
	Built        []string
	Reused       []string
	BetaFailures []*services.BuildFailure
	Published    backends.PublishResult
}

// PipelineDeps groups the collaborators of a pipeline
type PipelineDeps struct {
	Catalog  repositories.CatalogConfigRepository
	Versions VersionSource
	Sources  SourceFetcher
	Builder  PackageBuilder
	Inspect  PackageInspector
	Indexer  RepositoryIndexer
	Finder   ArtifactFinder
	Store    StoreOpener
	Notifier Notifier
	Metrics  RunRecorder
	Logger   interfaces.Logger
}

// Pipeline runs the discover, cleanup, patch, build, trim and publish stages in order
type Pipeline struct {
	deps   PipelineDeps
	config PipelineConfig
	now    func() time.Time
}

// NewPipeline creates a pipeline. Notifier, Metrics and Logger may be nil.
func NewPipeline(deps PipelineDeps, config PipelineConfig) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = &interfaces.NoOpLogger{}
	}
	if deps.Notifier == nil {
		deps.Notifier = gateways.NoOpNotifier{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noOpRecorder{}
	}
	if config.Title == "" {
		config.Title = "Package repository"
	}
	return &Pipeline{deps: deps, config: config, now: time.Now}
}

// Run executes one generation. A returned *services.BuildFailure carries the
// captured tool output of the failed build.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	log := p.deps.Logger
	result := &RunResult{}

	cfg, err := p.deps.Catalog.Load(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load catalog config: %w", err)
	}

	catalog, err := p.discover(ctx, cfg)
	if err != nil {
		return result, err
	}
	result.Records = catalog.Len()
	log.Info("Discovered artifacts", interfaces.F("records", catalog.Len()), interfaces.F("products", len(cfg.Products)))

	if err := p.cleanup(catalog); err != nil {
		return result, err
	}

	bumped, err := p.reconcilePatches(ctx, cfg, catalog)
	if err != nil {
		return result, err
	}
	if bumped {
		result.Outcome = OutcomeBumped
		return result, nil
	}

	store, err := p.deps.Store(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to open storage backend: %w", err)
	}
	reconciler := NewReconciler(store, log)

	if !p.config.Rebuild && reconciler.Unchanged(catalog) {
		log.Info("Published packages match the catalog, nothing to do")
		result.Outcome = OutcomeUnchanged
		return result, nil
	}

	if err := p.buildAll(ctx, cfg, catalog, store, result); err != nil {
		return result, err
	}

	if err := p.trim(catalog); err != nil {
		return result, err
	}

	_, remoteIndexed := store.ListAssets()[entities.IndexRelease]
	if !catalog.AnyRebuilt() && p.deps.Indexer.Exists(p.config.ArtifactDir) && remoteIndexed {
		log.Info("Nothing to publish")
		result.Outcome = OutcomeNothingToPublish
		return result, nil
	}

	if err := p.publish(ctx, cfg, catalog, store, reconciler, result); err != nil {
		return result, err
	}
	result.Outcome = OutcomePublished
	return result, nil
}

// discover registers one record per upstream version and architecture of every product
func (p *Pipeline) discover(ctx context.Context, cfg *entities.CatalogConfig) (*services.Catalog, error) {
	catalog := services.NewCatalog()
	now := p.now()

	for _, id := range productIDs(cfg) {
		product := cfg.Products[id]
		versions, err := p.deps.Versions.FetchVersions(ctx, product)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch versions of %s: %w", id, err)
		}

		records, err := services.DiscoverRecords(product, versions, now)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			catalog.Register(r)
		}
		p.deps.Logger.Debug("Discovered product versions",
			interfaces.F("product", id),
			interfaces.F("upstream", len(versions)),
			interfaces.F("records", len(records)))
	}
	return catalog, nil
}

// cleanup removes leftovers of interrupted runs and cached sources no record needs
func (p *Pipeline) cleanup(catalog *services.Catalog) error {
	var doomed []string
	for _, dir := range []string{p.config.ArtifactDir, p.config.CacheDir} {
		leftovers, err := p.deps.Finder.FindLeftovers(dir)
		if err != nil {
			return fmt.Errorf("failed to scan for leftovers: %w", err)
		}
		doomed = append(doomed, leftovers...)
	}

	stale, err := p.deps.Finder.FindStaleSources(p.config.CacheDir, catalog.SourceArchiveNames())
	if err != nil {
		return fmt.Errorf("failed to scan source cache: %w", err)
	}
	doomed = append(doomed, stale...)

	for _, path := range doomed {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		p.deps.Logger.Debug("Removed stale file", interfaces.F("path", path))
	}
	return nil
}

// reconcilePatches prunes dead patch levels and performs the bump operation.
// Returns true when the run ends here.
func (p *Pipeline) reconcilePatches(ctx context.Context, cfg *entities.CatalogConfig, catalog *services.Catalog) (bool, error) {
	dirty := false
	for _, id := range productIDs(cfg) {
		pruned, err := services.PrunePatches(cfg.Products[id], catalog)
		if err != nil {
			return false, err
		}
		dirty = dirty || pruned
	}

	if p.config.Bump {
		for _, id := range productIDs(cfg) {
			version, level, err := services.BumpLatest(cfg.Products[id], catalog)
			if errors.Is(err, services.ErrNotFound) {
				p.deps.Logger.Warn("No release version to bump", interfaces.F("product", id))
				continue
			}
			if err != nil {
				return false, err
			}
			dirty = true
			p.deps.Logger.Info("Bumped patch level",
				interfaces.F("product", id),
				interfaces.F("version", version),
				interfaces.F("patch", level))
		}
	}

	if dirty {
		if err := p.deps.Catalog.Save(ctx, cfg); err != nil {
			return false, fmt.Errorf("failed to save catalog config: %w", err)
		}
	}
	return p.config.Bump, nil
}

// buildAll builds or reuses every record. Recoverable beta failures are
// reported and skipped, anything else stops the run.
func (p *Pipeline) buildAll(ctx context.Context, cfg *entities.CatalogConfig, catalog *services.Catalog, store RemoteStore, result *RunResult) error {
	records, err := catalog.Select(services.Filter{})
	if err != nil {
		return err
	}

	for _, record := range records {
		product, ok := cfg.Product(record.Product)
		if !ok {
			return fmt.Errorf("record %s has no product configuration", record)
		}

		output, err := p.buildRecord(ctx, product, record, store)
		if err == nil {
			if record.Rebuilt() {
				result.Built = append(result.Built, record.PackageFileName())
			} else {
				result.Reused = append(result.Reused, record.PackageFileName())
			}
			continue
		}

		failure := &services.BuildFailure{
			Artifact:       record.String(),
			Beta:           record.IsBeta(),
			DownloadCaused: errors.Is(err, gateways.ErrDownload),
			Output:         output,
			Err:            err,
		}
		if failure.DownloadCaused {
			// Force a fresh download next time
			if rmErr := os.Remove(record.SourceArchivePath(p.config.CacheDir)); rmErr != nil && !os.IsNotExist(rmErr) {
				p.deps.Logger.Warn("Failed to drop cached source", interfaces.F("error", rmErr))
			}
		}
		if !failure.Recoverable() {
			return failure
		}

		p.deps.Logger.Warn("Skipping beta artifact", interfaces.F("artifact", record.String()), interfaces.F("error", err))
		p.deps.Metrics.BetaFailure()
		result.BetaFailures = append(result.BetaFailures, failure)
		if nErr := p.deps.Notifier.Notify(ctx, "reposync: beta build failed", failure.Error()); nErr != nil {
			p.deps.Logger.Warn("Failed to send notification", interfaces.F("error", nErr))
		}
	}
	return nil
}

// buildRecord applies the reuse-before-rebuild policy to one record and
// returns the captured build output.
func (p *Pipeline) buildRecord(ctx context.Context, product *entities.Product, record *entities.ArtifactRecord, store RemoteStore) (string, error) {
	log := p.deps.Logger
	name := record.PackageFileName()
	target := filepath.Join(p.config.ArtifactDir, name)

	if !p.config.Rebuild {
		if _, err := os.Stat(target); err == nil {
			if p.valid(record, target) {
				log.Debug("Reusing local package", interfaces.F("file", name))
				p.deps.Metrics.Reused()
				return "", nil
			}
			log.Warn("Local package is corrupt, rebuilding", interfaces.F("file", name))
			if err := os.Remove(target); err != nil {
				return "", fmt.Errorf("failed to remove corrupt package: %w", err)
			}
		} else {
			fetched, err := store.FetchIfPresent(ctx, name, target)
			if err != nil {
				return "", fmt.Errorf("failed to fetch published package: %w", err)
			}
			if fetched {
				if p.valid(record, target) {
					log.Debug("Reusing published package", interfaces.F("file", name))
					p.deps.Metrics.Fetched()
					return "", nil
				}
				log.Warn("Published package is corrupt, rebuilding", interfaces.F("file", name))
				if err := os.Remove(target); err != nil {
					return "", fmt.Errorf("failed to remove corrupt package: %w", err)
				}
			}
		}
	}

	log.Info("Building package", interfaces.F("file", name))
	source, err := p.deps.Sources.FetchSource(ctx, product, record, p.config.CacheDir, p.config.Reload)
	if err != nil {
		return "", err
	}
	if _, output, err := p.deps.Builder.BuildPackage(ctx, product, record, source, p.config.ArtifactDir); err != nil {
		return output, err
	}

	record.MarkRebuilt()
	p.deps.Metrics.Built()
	return "", nil
}

// valid reports whether path is a well-formed package of record
func (p *Pipeline) valid(record *entities.ArtifactRecord, path string) bool {
	fields, err := p.deps.Inspect(path)
	if err != nil {
		p.deps.Logger.Debug("Package inspection failed", interfaces.F("path", path), interfaces.F("error", err))
		return false
	}
	pkg, _ := services.FieldValue(fields, "Package")
	version, _ := services.FieldValue(fields, "Version")
	return pkg == record.PackageName() && version == record.PackagingVersion()
}

// trim deletes local package files no record produces and invalidates the index if it did
func (p *Pipeline) trim(catalog *services.Catalog) error {
	stale, err := p.deps.Finder.FindStalePackages(p.config.ArtifactDir, catalog.PackageFileNames())
	if err != nil {
		return fmt.Errorf("failed to scan artifact directory: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		p.deps.Logger.Info("Trimmed package", interfaces.F("file", filepath.Base(path)))
	}
	return p.deps.Indexer.Invalidate(p.config.ArtifactDir)
}

// publish regenerates the index, runs the publish round trip and refreshes the status page
func (p *Pipeline) publish(ctx context.Context, cfg *entities.CatalogConfig, catalog *services.Catalog, store RemoteStore, reconciler *Reconciler, result *RunResult) error {
	entries, err := p.deps.Indexer.Generate(p.config.ArtifactDir)
	if err != nil {
		return fmt.Errorf("failed to generate repository index: %w", err)
	}
	p.deps.Logger.Info("Generated repository index", interfaces.F("packages", len(entries)))

	// Rebuilt packages never match their published copies byte for byte
	published, err := reconciler.Publish(ctx, p.config.ArtifactDir, result.Built)
	for range published.Uploaded {
		p.deps.Metrics.Uploaded()
	}
	for range published.Deleted {
		p.deps.Metrics.Deleted()
	}
	result.Published = published
	if err != nil {
		return err
	}

	page, err := services.BuildStatusPage(p.config.Title, cfg.Products, catalog, store.ListAssets(), p.now())
	if err != nil {
		return err
	}
	markdown, err := services.RenderStatusPage(page)
	if err != nil {
		return err
	}
	if err := store.Describe(ctx, markdown); err != nil {
		p.deps.Logger.Warn("Failed to update repository description", interfaces.F("error", err))
	}
	return nil
}

func productIDs(cfg *entities.CatalogConfig) []string {
	ids := make([]string, 0, len(cfg.Products))
	for id := range cfg.Products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type noOpRecorder struct{}

func (noOpRecorder) Built()       {}
func (noOpRecorder) Reused()      {}
func (noOpRecorder) Fetched()     {}
func (noOpRecorder) Uploaded()    {}
func (noOpRecorder) Deleted()     {}
func (noOpRecorder) BetaFailure() {}
