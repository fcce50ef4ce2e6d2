package orchestrators

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/reposync/internal/domain-adapters/backends"
	"github.com/ochairo/reposync/internal/domain-adapters/gateways"
	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/services"
)

const (
	releasePkg = "tool_1.0_amd64.deb"
	betaPkg    = "tool-beta_20260102_amd64.deb"
)

var pipelineNow = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

// Mock implementations for testing

type mockCatalogRepo struct {
	cfg   *entities.CatalogConfig
	saves int
	saved map[string]map[string]int
}

func (m *mockCatalogRepo) Load(_ context.Context) (*entities.CatalogConfig, error) {
	return m.cfg, nil
}

func (m *mockCatalogRepo) Save(_ context.Context, cfg *entities.CatalogConfig) error {
	m.saves++
	m.saved = make(map[string]map[string]int)
	for id, p := range cfg.Products {
		patches := make(map[string]int, len(p.Patches))
		for v, l := range p.Patches {
			patches[v] = l
		}
		m.saved[id] = patches
	}
	return nil
}

type mockVersions struct {
	versions map[string][]string
}

func (m *mockVersions) FetchVersions(_ context.Context, product *entities.Product) ([]string, error) {
	return m.versions[product.ID], nil
}

type mockSources struct {
	calls int
	errs  map[string]error // Keyed by version string
}

func (m *mockSources) FetchSource(_ context.Context, _ *entities.Product, record *entities.ArtifactRecord, cacheDir string, _ bool) (string, error) {
	m.calls++
	if err := m.errs[record.VersionString]; err != nil {
		return "", err
	}
	path := record.SourceArchivePath(cacheDir)
	return path, os.WriteFile(path, []byte("source"), 0644)
}

type mockBuilder struct {
	built  []string
	errs   map[string]error // Keyed by version string
	output string
}

func (m *mockBuilder) BuildPackage(_ context.Context, _ *entities.Product, record *entities.ArtifactRecord, _, artifactDir string) (string, string, error) {
	name := record.PackageFileName()
	m.built = append(m.built, name)
	if err := m.errs[record.VersionString]; err != nil {
		return "", m.output, err
	}
	path := filepath.Join(artifactDir, name)
	return path, m.output, os.WriteFile(path, packageContent(record), 0644)
}

// mockIndexer writes a Packages index with real digests and a placeholder Release
type mockIndexer struct {
	generated   int
	invalidated int
}

func (m *mockIndexer) Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, entities.IndexRelease))
	return err == nil
}

func (m *mockIndexer) Invalidate(dir string) error {
	m.invalidated++
	for _, name := range entities.IndexFiles {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (m *mockIndexer) Generate(dir string) ([]entities.IndexEntry, error) {
	m.generated++
	names, err := gateways.PackageFiles(dir)
	if err != nil {
		return nil, err
	}
	var entries []entities.IndexEntry
	for _, name := range names {
		d, err := gateways.ComputeDigests(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entities.IndexEntry{
			Filename: name,
			Digests:  d,
			Fields:   []entities.ControlField{{Key: "Package", Value: name}},
		})
	}
	if err := os.WriteFile(filepath.Join(dir, entities.IndexPackages), services.RenderPackagesIndex(entries), 0644); err != nil {
		return nil, err
	}
	return entries, os.WriteFile(filepath.Join(dir, entities.IndexRelease), []byte("Origin: test\n"), 0644)
}

// mockStore keeps published files in memory
type mockStore struct {
	assets      map[string][]byte
	fetchErr    error
	published   [][]string
	refreshed   [][]string
	invalidated int
	described   string
}

func newMockStore(files map[string][]byte) *mockStore {
	assets := make(map[string][]byte, len(files))
	for k, v := range files {
		assets[k] = v
	}
	return &mockStore{assets: assets}
}

func (m *mockStore) Kind() string { return "mock" }

func (m *mockStore) ListAssets() map[string]entities.Asset {
	out := make(map[string]entities.Asset, len(m.assets))
	for name, data := range m.assets {
		out[name] = entities.Asset{Name: name, Handle: name, Size: int64(len(data))}
	}
	return out
}

func (m *mockStore) FetchIfPresent(_ context.Context, name, destPath string) (bool, error) {
	if m.fetchErr != nil {
		return false, m.fetchErr
	}
	data, ok := m.assets[name]
	if !ok || !entities.IsPackageFile(name) {
		return false, nil
	}
	return true, os.WriteFile(destPath, data, 0644)
}

func (m *mockStore) Download(_ context.Context, name, dir string) error {
	data, ok := m.assets[name]
	if !ok {
		return fmt.Errorf("asset %s is not published", name)
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0644)
}

func (m *mockStore) Publish(_ context.Context, localPaths, refresh []string) (backends.PublishResult, error) {
	m.refreshed = append(m.refreshed, refresh)
	var result backends.PublishResult
	next := make(map[string][]byte, len(localPaths))
	var names []string
	for _, p := range localPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return result, err
		}
		name := filepath.Base(p)
		next[name] = data
		names = append(names, name)
		if old, ok := m.assets[name]; !ok || !bytes.Equal(old, data) {
			result.Uploaded = append(result.Uploaded, name)
		}
	}
	for name := range m.assets {
		if _, ok := next[name]; !ok {
			result.Deleted = append(result.Deleted, name)
		}
	}
	m.assets = next
	m.published = append(m.published, names)
	return result, nil
}

func (m *mockStore) Invalidate(_ context.Context) error {
	m.invalidated++
	delete(m.assets, entities.IndexRelease)
	return nil
}

func (m *mockStore) Describe(_ context.Context, markdown string) error {
	m.described = markdown
	return nil
}

type mockNotifier struct {
	messages []string
}

func (m *mockNotifier) Notify(_ context.Context, title, message string) error {
	m.messages = append(m.messages, title+": "+message)
	return nil
}

type mockRecorder struct {
	counts map[string]int
}

func (m *mockRecorder) inc(name string) {
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[name]++
}

func (m *mockRecorder) Built()       { m.inc("built") }
func (m *mockRecorder) Reused()      { m.inc("reused") }
func (m *mockRecorder) Fetched()     { m.inc("fetched") }
func (m *mockRecorder) Uploaded()    { m.inc("uploaded") }
func (m *mockRecorder) Deleted()     { m.inc("deleted") }
func (m *mockRecorder) BetaFailure() { m.inc("beta_failure") }

// inspectControl treats a package file as a bare control paragraph
func inspectControl(path string) ([]entities.ControlField, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // Test helper

	paragraphs, err := services.ParseParagraphs(f)
	if err != nil {
		return nil, err
	}
	if len(paragraphs) == 0 {
		return nil, errors.New("empty package")
	}
	return paragraphs[0], nil
}

func packageContent(record *entities.ArtifactRecord) []byte {
	return []byte(fmt.Sprintf("Package: %s\nVersion: %s\n", record.PackageName(), record.PackagingVersion()))
}

var (
	releaseContent = []byte("Package: tool\nVersion: 1.0\n")
	betaContent    = []byte("Package: tool-beta\nVersion: 20260102\n")
)

type fixture struct {
	repo        *mockCatalogRepo
	versions    *mockVersions
	sources     *mockSources
	builder     *mockBuilder
	indexer     *mockIndexer
	store       *mockStore
	notifier    *mockNotifier
	metrics     *mockRecorder
	opened      int
	artifactDir string
	cacheDir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		repo: &mockCatalogRepo{cfg: &entities.CatalogConfig{Products: map[string]*entities.Product{
			"tool": {
				ID:            "tool",
				Name:          "Tool",
				Architectures: []entities.Architecture{entities.Arch64},
				Patches:       map[string]int{},
			},
		}}},
		versions:    &mockVersions{versions: map[string][]string{"tool": {"1.0"}}},
		sources:     &mockSources{},
		builder:     &mockBuilder{},
		indexer:     &mockIndexer{},
		store:       newMockStore(nil),
		notifier:    &mockNotifier{},
		metrics:     &mockRecorder{},
		artifactDir: t.TempDir(),
		cacheDir:    t.TempDir(),
	}
}

func (f *fixture) run(t *testing.T, cfg PipelineConfig) (*RunResult, error) {
	t.Helper()
	cfg.ArtifactDir = f.artifactDir
	cfg.CacheDir = f.cacheDir

	p := NewPipeline(PipelineDeps{
		Catalog:  f.repo,
		Versions: f.versions,
		Sources:  f.sources,
		Builder:  f.builder,
		Inspect:  inspectControl,
		Indexer:  f.indexer,
		Finder:   gateways.NewArtifactFinder(),
		Store: func(_ context.Context) (RemoteStore, error) {
			f.opened++
			return f.store, nil
		},
		Notifier: f.notifier,
		Metrics:  f.metrics,
	}, cfg)
	p.now = func() time.Time { return pipelineNow }
	return p.Run(context.Background())
}

func (f *fixture) writeArtifact(t *testing.T, name string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.artifactDir, name), content, 0644))
}

func TestPipeline_FirstRunBuildsAndPublishes(t *testing.T) {
	f := newFixture(t)

	result, err := f.run(t, PipelineConfig{})
	require.NoError(t, err)

	assert.Equal(t, OutcomePublished, result.Outcome)
	assert.Equal(t, 2, result.Records)
	assert.Equal(t, []string{releasePkg, betaPkg}, f.builder.built)
	assert.Equal(t, []string{releasePkg, betaPkg}, result.Built)
	assert.Equal(t, 1, f.indexer.generated)

	published := make([]string, 0, len(f.store.assets))
	for name := range f.store.assets {
		published = append(published, name)
	}
	sort.Strings(published)
	assert.Equal(t, []string{entities.IndexPackages, entities.IndexRelease, betaPkg, releasePkg}, published)
	assert.Contains(t, f.store.described, "## Tool")
	assert.Equal(t, 2, f.metrics.counts["built"])
	assert.Equal(t, 4, f.metrics.counts["uploaded"])
}

func TestPipeline_ReusesValidLocalPackage(t *testing.T) {
	f := newFixture(t)
	f.writeArtifact(t, releasePkg, releaseContent)
	f.writeArtifact(t, betaPkg, betaContent)

	result, err := f.run(t, PipelineConfig{})
	require.NoError(t, err)

	assert.Empty(t, f.builder.built, "valid local packages must not be rebuilt")
	assert.Zero(t, f.sources.calls)
	assert.Equal(t, []string{releasePkg, betaPkg}, result.Reused)
	assert.Equal(t, 2, f.metrics.counts["reused"])
	// No local index yet, so the repository is still published
	assert.Equal(t, OutcomePublished, result.Outcome)
}

func TestPipeline_CorruptLocalPackageIsRebuilt(t *testing.T) {
	f := newFixture(t)
	f.writeArtifact(t, releasePkg, []byte("\x00\x01garbage"))
	f.writeArtifact(t, betaPkg, betaContent)

	result, err := f.run(t, PipelineConfig{})
	require.NoError(t, err)

	assert.Equal(t, []string{releasePkg}, f.builder.built)
	assert.Equal(t, []string{releasePkg}, result.Built)
	data, err := os.ReadFile(filepath.Join(f.artifactDir, releasePkg))
	require.NoError(t, err)
	assert.Equal(t, releaseContent, data)
	require.Len(t, f.store.refreshed, 1)
	assert.Equal(t, []string{releasePkg}, f.store.refreshed[0], "rebuilt packages replace their published copies")
	assert.Zero(t, f.store.invalidated)
}

func TestPipeline_MismatchedLocalPackageIsRebuilt(t *testing.T) {
	f := newFixture(t)
	// Well-formed, but a different patch level than the record expects
	f.writeArtifact(t, releasePkg, []byte("Package: tool\nVersion: 1.0-1\n"))
	f.writeArtifact(t, betaPkg, betaContent)

	_, err := f.run(t, PipelineConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{releasePkg}, f.builder.built)
}

func TestPipeline_FetchesPublishedPackage(t *testing.T) {
	tests := []struct {
		name      string
		published []byte
		wantBuilt []string
		wantFetch int
	}{
		{"valid published package is reused", releaseContent, []string{betaPkg}, 1},
		{"corrupt published package is rebuilt", []byte("{\"message\":\"Not Found\"}"), []string{releasePkg, betaPkg}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store = newMockStore(map[string][]byte{releasePkg: tt.published})

			_, err := f.run(t, PipelineConfig{})
			require.NoError(t, err)

			assert.Equal(t, tt.wantBuilt, f.builder.built)
			assert.Equal(t, tt.wantFetch, f.metrics.counts["fetched"])
		})
	}
}

func TestPipeline_FetchErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	f.store.fetchErr = errors.New("connection reset")

	_, err := f.run(t, PipelineConfig{})
	var failure *services.BuildFailure
	require.True(t, errors.As(err, &failure))
	assert.False(t, failure.Recoverable())
	assert.Empty(t, f.builder.built)
}

func TestPipeline_UnchangedShortCircuits(t *testing.T) {
	published := map[string][]byte{
		releasePkg:            releaseContent,
		betaPkg:               betaContent,
		entities.IndexRelease: []byte("Origin: test\n"),
	}

	f := newFixture(t)
	f.store = newMockStore(published)
	result, err := f.run(t, PipelineConfig{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, result.Outcome)
	assert.Empty(t, f.builder.built)
	assert.Zero(t, f.sources.calls)
	assert.Empty(t, f.store.published)

	f = newFixture(t)
	f.store = newMockStore(published)
	result, err = f.run(t, PipelineConfig{Rebuild: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomePublished, result.Outcome)
	assert.Equal(t, []string{releasePkg, betaPkg}, f.builder.built)
}

func TestPipeline_NothingToPublish(t *testing.T) {
	f := newFixture(t)
	f.writeArtifact(t, releasePkg, releaseContent)
	f.writeArtifact(t, betaPkg, betaContent)
	f.writeArtifact(t, entities.IndexRelease, []byte("Origin: test\n"))
	// Yesterday's beta is still published, so the sets differ
	f.store = newMockStore(map[string][]byte{
		releasePkg:                     releaseContent,
		"tool-beta_20260101_amd64.deb": betaContent,
		entities.IndexRelease:          []byte("Origin: test\n"),
	})

	result, err := f.run(t, PipelineConfig{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingToPublish, result.Outcome)
	assert.Empty(t, f.store.published)
	assert.Zero(t, f.indexer.generated)
}

func TestPipeline_BetaDownloadFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.sources.errs = map[string]error{
		"beta-20260102": fmt.Errorf("%w: https://example.com/beta.tar.gz: HTTP 502", gateways.ErrDownload),
	}

	result, err := f.run(t, PipelineConfig{})
	require.NoError(t, err)

	assert.Equal(t, OutcomePublished, result.Outcome)
	assert.Equal(t, []string{releasePkg}, result.Built)
	require.Len(t, result.BetaFailures, 1)
	assert.True(t, result.BetaFailures[0].DownloadCaused)
	assert.Len(t, f.notifier.messages, 1)
	assert.Equal(t, 1, f.metrics.counts["beta_failure"])
	assert.NotContains(t, f.store.assets, betaPkg)
}

func TestPipeline_FatalBuildFailures(t *testing.T) {
	tests := []struct {
		name     string
		sources  map[string]error
		builds   map[string]error
		wantBeta bool
	}{
		{
			name:   "release build failure",
			builds: map[string]error{"1.0": errors.New("prepare script failed (exit 2)")},
		},
		{
			name:    "release download failure",
			sources: map[string]error{"1.0": fmt.Errorf("%w: truncated", gateways.ErrDownload)},
		},
		{
			name:     "beta failure not caused by download",
			builds:   map[string]error{"beta-20260102": errors.New("prepare script failed (exit 1)")},
			wantBeta: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.sources.errs = tt.sources
			f.builder.errs = tt.builds
			f.builder.output = "compiler exploded\n"

			_, err := f.run(t, PipelineConfig{})
			var failure *services.BuildFailure
			require.True(t, errors.As(err, &failure), "error = %v", err)
			assert.False(t, failure.Recoverable())
			assert.Equal(t, tt.wantBeta, failure.Beta)
			if tt.builds != nil {
				assert.Equal(t, "compiler exploded\n", failure.Output)
			}
			assert.Empty(t, f.store.published)
			assert.Empty(t, f.notifier.messages)
		})
	}
}

func TestPipeline_BumpTwice(t *testing.T) {
	f := newFixture(t)
	f.versions.versions["tool"] = []string{"0.9", "1.0"}

	for want := 1; want <= 2; want++ {
		result, err := f.run(t, PipelineConfig{Bump: true})
		require.NoError(t, err)
		assert.Equal(t, OutcomeBumped, result.Outcome)
		assert.Equal(t, map[string]int{"1.0": want}, f.repo.saved["tool"])
	}
	assert.Equal(t, 2, f.repo.saves)
	assert.Zero(t, f.opened, "bump must not contact the backend")
	assert.Empty(t, f.builder.built)
}

func TestPipeline_PrunesDeadPatches(t *testing.T) {
	f := newFixture(t)
	f.repo.cfg.Products["tool"].Patches = map[string]int{"1.0": 1, "0.8": 3}
	f.writeArtifact(t, "tool_1.0-1_amd64.deb", []byte("Package: tool\nVersion: 1.0-1\n"))

	result, err := f.run(t, PipelineConfig{})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"1.0": 1}, f.repo.saved["tool"])
	assert.Equal(t, []string{"tool_1.0-1_amd64.deb"}, result.Reused)
}

func TestPipeline_CleanupAndTrim(t *testing.T) {
	f := newFixture(t)
	f.writeArtifact(t, releasePkg, releaseContent)
	f.writeArtifact(t, betaPkg, betaContent)
	f.writeArtifact(t, "tool_0.9_amd64.deb", []byte("Package: tool\nVersion: 0.9\n"))
	f.writeArtifact(t, "tool_1.1_amd64.deb.part", []byte("partial"))
	f.writeArtifact(t, entities.IndexRelease, []byte("Origin: test\n"))
	require.NoError(t, os.MkdirAll(filepath.Join(f.artifactDir, "tool_1.1_amd64.deb.build", "src"), 0755))
	for _, name := range []string{"tool_0.9_64.tar.gz", "tool_1.0_64.tar.gz", "tool_1.1_64.tar.gz.part"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.cacheDir, name), []byte("source"), 0644))
	}
	f.store = newMockStore(map[string][]byte{entities.IndexRelease: []byte("Origin: test\n")})

	result, err := f.run(t, PipelineConfig{})
	require.NoError(t, err)

	artifacts, err := os.ReadDir(f.artifactDir)
	require.NoError(t, err)
	var names []string
	for _, e := range artifacts {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{releasePkg, betaPkg, entities.IndexPackages, entities.IndexRelease}, names)

	cached, err := os.ReadDir(f.cacheDir)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "tool_1.0_64.tar.gz", cached[0].Name())

	// The trim invalidated the stale index, forcing a publish
	assert.Equal(t, 1, f.indexer.invalidated)
	assert.Equal(t, OutcomePublished, result.Outcome)
	assert.Empty(t, f.builder.built)
}
