package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// Filter is a partial predicate over artifact records. Zero-valued fields match anything.
type Filter struct {
	Product          string
	Version          string // Exact upstream version string
	PackagingVersion string // Computed version including patch suffix
	Architecture     entities.Architecture
	PackagingArch    string
	Beta             *bool
}

// Beta and Release are convenience values for Filter.Beta
var (
	beta    = true
	release = false
	Beta    = &beta
	Release = &release
)

// Matches reports whether r satisfies every set field of the filter
func (f Filter) Matches(r *entities.ArtifactRecord) bool {
	switch {
	case f.Product != "" && r.Product != f.Product:
		return false
	case f.Version != "" && r.VersionString != f.Version:
		return false
	case f.PackagingVersion != "" && r.PackagingVersion() != f.PackagingVersion:
		return false
	case f.Architecture != "" && r.Architecture != f.Architecture:
		return false
	case f.PackagingArch != "" && r.Architecture.PackagingName() != f.PackagingArch:
		return false
	case f.Beta != nil && r.IsBeta() != *f.Beta:
		return false
	}
	return true
}

// Catalog is the in-memory registry of one generation of artifact records.
// It is owned by a single pipeline run and is not safe for concurrent use.
type Catalog struct {
	records []*entities.ArtifactRecord
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{}
}

// Register appends a record. Uniqueness of (product, version, arch) is the caller's job.
func (c *Catalog) Register(r *entities.ArtifactRecord) {
	c.records = append(c.records, r)
}

// Records returns all records in registration order
func (c *Catalog) Records() []*entities.ArtifactRecord {
	out := make([]*entities.ArtifactRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Len returns the number of registered records
func (c *Catalog) Len() int {
	return len(c.records)
}

// Select returns all records matching f sorted ascending by CompareRecords
func (c *Catalog) Select(f Filter) ([]*entities.ArtifactRecord, error) {
	type keyed struct {
		record  *entities.ArtifactRecord
		version Version
	}

	matched := make([]keyed, 0, len(c.records))
	for _, r := range c.records {
		if !f.Matches(r) {
			continue
		}
		v, err := RecordVersion(r)
		if err != nil {
			return nil, err
		}
		matched = append(matched, keyed{record: r, version: v})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if c := strings.Compare(matched[i].record.Product, matched[j].record.Product); c != 0 {
			return c < 0
		}
		return matched[i].version.Compare(matched[j].version) < 0
	})

	out := make([]*entities.ArtifactRecord, len(matched))
	for i, k := range matched {
		out[i] = k.record
	}
	return out, nil
}

// Latest returns the greatest record matching f, or ErrNotFound
func (c *Catalog) Latest(f Filter) (*entities.ArtifactRecord, error) {
	selected, err := c.Select(f)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no artifact matches filter: %w", ErrNotFound)
	}
	return selected[len(selected)-1], nil
}

// AnyRebuilt reports whether any record was rebuilt in this generation
func (c *Catalog) AnyRebuilt() bool {
	for _, r := range c.records {
		if r.Rebuilt() {
			return true
		}
	}
	return false
}

// PackageFileNames returns the set of package files this generation produces
func (c *Catalog) PackageFileNames() map[string]struct{} {
	names := make(map[string]struct{}, len(c.records))
	for _, r := range c.records {
		names[r.PackageFileName()] = struct{}{}
	}
	return names
}

// SourceArchiveNames returns the set of upstream archive names this generation needs
func (c *Catalog) SourceArchiveNames() map[string]struct{} {
	names := make(map[string]struct{}, len(c.records))
	for _, r := range c.records {
		names[r.SourceArchiveName()] = struct{}{}
	}
	return names
}
