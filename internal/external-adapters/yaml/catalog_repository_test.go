package yaml

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/reposync/internal/domain/entities"
)

const testCatalog = `products:
  nightowl:
    name: Night Owl
    description: A browser for late hours
    depends: [libgtk-3-0, libasound2]
    section: web
    manifest:
      url: https://example.com/versions.txt
      format: lines
      separator: m
      burst: true
    download:
      release_url: https://example.com/{version}/nightowl-{arch}.tar.gz
      beta_url: https://example.com/beta/nightowl-{arch}.tar.gz
    architectures: ["32", "64"]
    patches:
      "3m2": 1
  lark:
    name: Lark
    description: Mail client
    manifest:
      url: https://example.com/lark.json
      format: json
    download:
      release_url: https://example.com/lark-{version}-{arch}.tar.gz
      beta_url: https://example.com/lark-beta-{arch}.tar.gz
    architectures: ["64"]
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestCatalogRepository_Load_Success(t *testing.T) {
	repo := NewCatalogRepository(writeCatalog(t, testCatalog))

	cfg, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cfg.Products, 2)

	owl, ok := cfg.Product("nightowl")
	require.True(t, ok)
	assert.Equal(t, "nightowl", owl.ID)
	assert.Equal(t, []string{"libgtk-3-0", "libasound2"}, owl.Depends)
	assert.Equal(t, entities.ManifestLines, owl.Manifest.Format)
	assert.Equal(t, "m", owl.Manifest.Separator)
	assert.True(t, owl.Manifest.Burst)
	assert.Equal(t, []entities.Architecture{entities.Arch32, entities.Arch64}, owl.Architectures)
	assert.Equal(t, 1, owl.PatchLevel("3m2"))
	assert.Equal(t, 0, owl.PatchLevel("3m1"))

	lark, ok := cfg.Product("lark")
	require.True(t, ok)
	assert.NotNil(t, lark.Depends, "optional lists default to empty")
	assert.NotNil(t, lark.Patches, "optional maps default to empty")
}

func TestCatalogRepository_Load_NotFound(t *testing.T) {
	repo := NewCatalogRepository(filepath.Join(t.TempDir(), "missing.yml"))

	_, err := repo.Load(context.Background())
	assert.Error(t, err)
}

func TestCatalogRepository_Load_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no products", "products: {}\n"},
		{"bad yaml", "products: [\n"},
		{"bad architecture", `products:
  x:
    name: X
    description: d
    manifest: {url: "https://e.com/v.json", format: json}
    download: {release_url: a, beta_url: b}
    architectures: ["arm"]
`},
		{"bad format", `products:
  x:
    name: X
    description: d
    manifest: {url: "https://e.com/v.json", format: xml}
    download: {release_url: a, beta_url: b}
    architectures: ["64"]
`},
		{"negative patch", `products:
  x:
    name: X
    description: d
    manifest: {url: "https://e.com/v.json", format: json}
    download: {release_url: a, beta_url: b}
    architectures: ["64"]
    patches: {"1.0": -1}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewCatalogRepository(writeCatalog(t, tt.content))
			_, err := repo.Load(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestCatalogRepository_SaveRoundTrip(t *testing.T) {
	path := writeCatalog(t, testCatalog)
	repo := NewCatalogRepository(path)
	ctx := context.Background()

	cfg, err := repo.Load(ctx)
	require.NoError(t, err)

	cfg.Products["nightowl"].Patches["3m2"] = 2
	cfg.Products["lark"].Patches["1.0"] = 1
	require.NoError(t, repo.Save(ctx, cfg))

	reloaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Products["nightowl"].PatchLevel("3m2"))
	assert.Equal(t, 1, reloaded.Products["lark"].PatchLevel("1.0"))
	assert.Equal(t, cfg.Products["nightowl"].Depends, reloaded.Products["nightowl"].Depends)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}
