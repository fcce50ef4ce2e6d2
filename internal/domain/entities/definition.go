package entities

// ManifestFormat identifies how an upstream version manifest is encoded
type ManifestFormat string

// Supported manifest formats
const (
	ManifestJSON  ManifestFormat = "json"
	ManifestLines ManifestFormat = "lines"
)

// Product represents one product line from the persisted catalog config
type Product struct {
	ID            string
	Name          string
	Description   string
	Depends       []string
	Section       string
	Manifest      ManifestConfig
	Download      DownloadConfig
	Architectures []Architecture
	Patches       map[string]int
	Prepare       string
}

// ManifestConfig describes where upstream versions are listed
type ManifestConfig struct {
	URL       string
	Format    ManifestFormat
	Separator string // Channel-specific separator normalised to '.'
	Burst     bool   // Collapse bursts sharing a major component
}

// DownloadConfig holds source archive URL templates ({version}, {arch})
type DownloadConfig struct {
	ReleaseURL string
	BetaURL    string
}

// PatchLevel returns the persisted patch level of a version (0 when absent)
func (p *Product) PatchLevel(version string) int {
	return p.Patches[version]
}

// CatalogConfig is the persisted per-product configuration document
type CatalogConfig struct {
	Products map[string]*Product
}

// Product looks up a product by id
func (c *CatalogConfig) Product(id string) (*Product, bool) {
	p, ok := c.Products[id]
	return p, ok
}
