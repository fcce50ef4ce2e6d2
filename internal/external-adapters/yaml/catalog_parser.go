// Package yaml provides YAML-based catalog and settings parsing.
package yaml

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// yamlCatalog represents the raw YAML structure of catalog.yml
type yamlCatalog struct {
	Products map[string]*yamlProduct `yaml:"products" validate:"required,min=1,dive,required"`
}

type yamlProduct struct {
	Name          string         `yaml:"name" validate:"required"`
	Description   string         `yaml:"description" validate:"required"`
	Depends       []string       `yaml:"depends,omitempty"`
	Section       string         `yaml:"section,omitempty"`
	Manifest      yamlManifest   `yaml:"manifest"`
	Download      yamlDownload   `yaml:"download"`
	Architectures []string       `yaml:"architectures" validate:"required,min=1,dive,oneof=32 64"`
	Patches       map[string]int `yaml:"patches,omitempty" validate:"omitempty,dive,gte=0"`
	Prepare       string         `yaml:"prepare,omitempty"`
}

type yamlManifest struct {
	URL       string `yaml:"url" validate:"required,url"`
	Format    string `yaml:"format" validate:"required,oneof=json lines"`
	Separator string `yaml:"separator,omitempty" validate:"omitempty,len=1"`
	Burst     bool   `yaml:"burst,omitempty"`
}

type yamlDownload struct {
	ReleaseURL string `yaml:"release_url" validate:"required"`
	BetaURL    string `yaml:"beta_url" validate:"required"`
}

// CatalogParser parses and renders catalog.yml documents
type CatalogParser struct {
	validate *validator.Validate
}

// NewCatalogParser creates a new YAML parser
func NewCatalogParser() *CatalogParser {
	return &CatalogParser{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// ParseFile parses a catalog file into a CatalogConfig entity
func (p *CatalogParser) ParseFile(filePath string) (*entities.CatalogConfig, error) {
	//nolint:gosec // G304: filePath is the operator-provided catalog path
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	return p.Parse(data)
}

// Parse parses YAML bytes into a CatalogConfig entity
func (p *CatalogParser) Parse(data []byte) (*entities.CatalogConfig, error) {
	var raw yamlCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := p.validate.Struct(&raw); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	cfg := &entities.CatalogConfig{Products: make(map[string]*entities.Product, len(raw.Products))}
	for id, yp := range raw.Products {
		product, err := convertProduct(id, yp)
		if err != nil {
			return nil, err
		}
		cfg.Products[id] = product
	}
	return cfg, nil
}

// Render converts a CatalogConfig back to YAML
func (p *CatalogParser) Render(cfg *entities.CatalogConfig) ([]byte, error) {
	raw := yamlCatalog{Products: make(map[string]*yamlProduct, len(cfg.Products))}
	for id, product := range cfg.Products {
		raw.Products[id] = renderProduct(product)
	}

	data, err := yaml.Marshal(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to render YAML: %w", err)
	}
	return data, nil
}

func convertProduct(id string, yp *yamlProduct) (*entities.Product, error) {
	archs := make([]entities.Architecture, 0, len(yp.Architectures))
	for _, a := range yp.Architectures {
		arch, err := entities.ParseArchitecture(a)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", id, err)
		}
		archs = append(archs, arch)
	}

	depends := yp.Depends
	if depends == nil {
		depends = []string{}
	}
	patches := make(map[string]int, len(yp.Patches))
	for v, level := range yp.Patches {
		patches[v] = level
	}

	return &entities.Product{
		ID:          id,
		Name:        yp.Name,
		Description: yp.Description,
		Depends:     depends,
		Section:     yp.Section,
		Manifest: entities.ManifestConfig{
			URL:       yp.Manifest.URL,
			Format:    entities.ManifestFormat(yp.Manifest.Format),
			Separator: yp.Manifest.Separator,
			Burst:     yp.Manifest.Burst,
		},
		Download: entities.DownloadConfig{
			ReleaseURL: yp.Download.ReleaseURL,
			BetaURL:    yp.Download.BetaURL,
		},
		Architectures: archs,
		Patches:       patches,
		Prepare:       yp.Prepare,
	}, nil
}

func renderProduct(p *entities.Product) *yamlProduct {
	archs := make([]string, 0, len(p.Architectures))
	for _, a := range p.Architectures {
		archs = append(archs, string(a))
	}
	sort.Strings(archs)

	var patches map[string]int
	if len(p.Patches) > 0 {
		patches = make(map[string]int, len(p.Patches))
		for v, level := range p.Patches {
			patches[v] = level
		}
	}

	var depends []string
	if len(p.Depends) > 0 {
		depends = p.Depends
	}

	return &yamlProduct{
		Name:        p.Name,
		Description: p.Description,
		Depends:     depends,
		Section:     p.Section,
		Manifest: yamlManifest{
			URL:       p.Manifest.URL,
			Format:    string(p.Manifest.Format),
			Separator: p.Manifest.Separator,
			Burst:     p.Manifest.Burst,
		},
		Download: yamlDownload{
			ReleaseURL: p.Download.ReleaseURL,
			BetaURL:    p.Download.BetaURL,
		},
		Architectures: archs,
		Patches:       patches,
		Prepare:       p.Prepare,
	}
}
