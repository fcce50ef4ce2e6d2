// Package repositories defines interfaces for data access layers.
package repositories

import (
	"context"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// CatalogConfigRepository loads and persists the per-product catalog config
type CatalogConfigRepository interface {
	// Load reads the catalog config document
	Load(ctx context.Context) (*entities.CatalogConfig, error)

	// Save persists the catalog config document (patch levels included)
	Save(ctx context.Context, cfg *entities.CatalogConfig) error
}
