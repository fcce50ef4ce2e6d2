package gateways

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/interfaces"
	"github.com/ochairo/reposync/internal/domain/services"
	"github.com/ochairo/reposync/internal/external-adapters/deb"
)

// IndexSigner produces the repository's detached and clear-signed signatures
type IndexSigner interface {
	DetachSign(w io.Writer, message io.Reader) error
	ClearSign(w io.Writer, message []byte) error
}

// Indexer generates the flat repository index of an artifact directory
type Indexer struct {
	repo   entities.RepositoryConfig
	signer IndexSigner
	logger interfaces.Logger
	now    func() time.Time
}

// NewIndexer creates an indexer; a nil signer skips signature files
func NewIndexer(repo entities.RepositoryConfig, signer IndexSigner, logger interfaces.Logger) *Indexer {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &Indexer{
		repo:   repo,
		signer: signer,
		logger: logger,
		now:    time.Now,
	}
}

// Exists reports whether the index marker file is present in dir
func (ix *Indexer) Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, entities.IndexRelease))
	return err == nil
}

// Invalidate removes every index file from dir
func (ix *Indexer) Invalidate(dir string) error {
	for _, name := range entities.IndexFiles {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// Generate writes Packages, Packages.gz, Release and the signature files for
// every package in dir and returns the entries it indexed.
func (ix *Indexer) Generate(dir string) ([]entities.IndexEntry, error) {
	names, err := PackageFiles(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]entities.IndexEntry, 0, len(names))
	archs := map[string]struct{}{}
	for _, name := range names {
		path := filepath.Join(dir, name)
		fields, err := deb.Inspect(path)
		if err != nil {
			return nil, fmt.Errorf("failed to index %s: %w", name, err)
		}
		digests, err := ComputeDigests(path)
		if err != nil {
			return nil, fmt.Errorf("failed to index %s: %w", name, err)
		}

		e := entities.IndexEntry{Filename: name, Digests: digests, Fields: fields}
		e.Package, _ = services.FieldValue(fields, "Package")
		e.Version, _ = services.FieldValue(fields, "Version")
		e.Architecture, _ = services.FieldValue(fields, "Architecture")
		archs[e.Architecture] = struct{}{}
		entries = append(entries, e)
	}

	packages := services.RenderPackagesIndex(entries)
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(packages); err != nil {
		return nil, fmt.Errorf("failed to compress index: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress index: %w", err)
	}

	files := map[string]entities.Digests{}
	for name, data := range map[string][]byte{
		entities.IndexPackages:   packages,
		entities.IndexPackagesGz: compressed.Bytes(),
	} {
		if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
			return nil, err
		}
		digests, err := DigestReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		files[name] = digests
	}

	archList := make([]string, 0, len(archs))
	for a := range archs {
		archList = append(archList, a)
	}
	sort.Strings(archList)

	release := services.RenderRelease(services.ReleaseMeta{
		Origin:        ix.repo.Origin,
		Label:         ix.repo.Label,
		Suite:         ix.repo.Suite,
		Codename:      ix.repo.Codename,
		Description:   ix.repo.Description,
		Architectures: archList,
		Date:          ix.now().UTC(),
	}, files)

	if err := ix.sign(dir, release); err != nil {
		return nil, err
	}
	// Release is the marker and is written last
	if err := writeFileAtomic(filepath.Join(dir, entities.IndexRelease), release); err != nil {
		return nil, err
	}

	ix.logger.Info("Generated repository index",
		interfaces.F("packages", len(entries)),
		interfaces.F("signed", ix.signer != nil))
	return entries, nil
}

func (ix *Indexer) sign(dir string, release []byte) error {
	gpgPath := filepath.Join(dir, entities.IndexReleaseGPG)
	inReleasePath := filepath.Join(dir, entities.IndexInRelease)

	if ix.signer == nil {
		ix.logger.Warn("No signing key configured, repository index is unsigned")
		for _, p := range []string{gpgPath, inReleasePath} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove stale signature: %w", err)
			}
		}
		return nil
	}

	var detached bytes.Buffer
	if err := ix.signer.DetachSign(&detached, bytes.NewReader(release)); err != nil {
		return err
	}
	if err := writeFileAtomic(gpgPath, detached.Bytes()); err != nil {
		return err
	}

	var clear bytes.Buffer
	if err := ix.signer.ClearSign(&clear, release); err != nil {
		return err
	}
	return writeFileAtomic(inReleasePath, clear.Bytes())
}

// PackageFiles lists the package archives in dir, sorted by name
func PackageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && entities.IsPackageFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// writeFileAtomic writes data through a .part file renamed into place
func writeFileAtomic(path string, data []byte) error {
	part := path + PartSuffix
	if err := os.WriteFile(part, data, 0644); err != nil { //nolint:gosec // G306: Repository files are world-readable
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(part, path); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", filepath.Base(path), err)
	}
	return nil
}
