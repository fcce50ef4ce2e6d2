package yaml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// CatalogRepository implements repositories.CatalogConfigRepository on a YAML file
type CatalogRepository struct {
	path   string
	parser *CatalogParser
}

// NewCatalogRepository creates a new YAML-based catalog repository
func NewCatalogRepository(path string) *CatalogRepository {
	return &CatalogRepository{
		path:   path,
		parser: NewCatalogParser(),
	}
}

// Load reads and validates the catalog file
func (r *CatalogRepository) Load(_ context.Context) (*entities.CatalogConfig, error) {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return nil, fmt.Errorf("catalog not found: %s", r.path)
	}

	return r.parser.ParseFile(r.path)
}

// Save writes the catalog atomically via rename
func (r *CatalogRepository) Save(_ context.Context, cfg *entities.CatalogConfig) error {
	data, err := r.parser.Render(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary catalog: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close catalog: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	return nil
}
