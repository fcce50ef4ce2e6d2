package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// memBackend is an in-memory StorageBackend recording every call
type memBackend struct {
	files       map[string][]byte
	calls       []string
	description string
	failUpload  string
}

func newMemBackend(names ...string) *memBackend {
	b := &memBackend{files: map[string][]byte{}}
	for _, n := range names {
		b.files[n] = []byte("remote " + n)
	}
	return b
}

func (m *memBackend) Kind() string { return "memory" }

func (m *memBackend) ListAssets(_ context.Context) (map[string]entities.Asset, error) {
	out := map[string]entities.Asset{}
	for name, data := range m.files {
		out[name] = entities.Asset{Name: name, Handle: name, Size: int64(len(data))}
	}
	return out, nil
}

func (m *memBackend) Delete(_ context.Context, asset entities.Asset) error {
	m.calls = append(m.calls, "delete "+asset.Name)
	delete(m.files, asset.Handle)
	return nil
}

func (m *memBackend) Upload(_ context.Context, localPath string) (entities.Asset, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return entities.Asset{}, err
	}
	name := filepath.Base(localPath)
	if name == m.failUpload {
		return entities.Asset{}, fmt.Errorf("upload of %s rejected", name)
	}
	if _, exists := m.files[name]; exists {
		return entities.Asset{}, fmt.Errorf("asset %s already exists", name)
	}
	m.calls = append(m.calls, "upload "+name)
	m.files[name] = data
	return entities.Asset{Name: name, Handle: name, Size: int64(len(data))}, nil
}

func (m *memBackend) Fetch(_ context.Context, asset entities.Asset, destPath string) (bool, error) {
	data, ok := m.files[asset.Handle]
	if !ok {
		return false, nil
	}
	m.calls = append(m.calls, "fetch "+asset.Name)
	return true, os.WriteFile(destPath, data, 0600)
}

func (m *memBackend) Describe(_ context.Context, markdown string) error {
	m.description = markdown
	return nil
}

func writeLocal(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("local "+n), 0600))
		paths = append(paths, p)
	}
	return paths
}

func TestNewStore_MissingIndexResetsRemote(t *testing.T) {
	backend := newMemBackend("a_1_amd64.deb", "b_1_amd64.deb", "Packages")

	store, err := NewStore(context.Background(), backend, false, nil)
	require.NoError(t, err)

	assert.Empty(t, backend.files, "every pre-existing asset is deleted")
	assert.Empty(t, store.ListAssets())
}

func TestNewStore_IndexPresentKeepsRemote(t *testing.T) {
	backend := newMemBackend("a_1_amd64.deb", "Packages", "Release")

	store, err := NewStore(context.Background(), backend, false, nil)
	require.NoError(t, err)

	assert.Len(t, backend.files, 3)
	assert.Len(t, store.ListAssets(), 3)
	assert.Empty(t, backend.calls)
}

func TestNewStore_IgnoresDescription(t *testing.T) {
	backend := newMemBackend(entities.DescriptionFile)

	store, err := NewStore(context.Background(), backend, false, nil)
	require.NoError(t, err)
	assert.Empty(t, store.ListAssets())
	assert.Contains(t, backend.files, entities.DescriptionFile)
}

func TestStore_FetchIfPresent(t *testing.T) {
	backend := newMemBackend("a_1_amd64.deb", "Packages", "Release")
	store, err := NewStore(context.Background(), backend, false, nil)
	require.NoError(t, err)

	dir := t.TempDir()

	ok, err := store.FetchIfPresent(context.Background(), "a_1_amd64.deb", filepath.Join(dir, "a_1_amd64.deb"))
	require.NoError(t, err)
	assert.True(t, ok)
	data, err := os.ReadFile(filepath.Join(dir, "a_1_amd64.deb"))
	require.NoError(t, err)
	assert.Equal(t, "remote a_1_amd64.deb", string(data))

	ok, err = store.FetchIfPresent(context.Background(), "Packages", filepath.Join(dir, "Packages"))
	require.NoError(t, err)
	assert.False(t, ok, "non-package names are never fetched")
	assert.NoFileExists(t, filepath.Join(dir, "Packages"))

	ok, err = store.FetchIfPresent(context.Background(), "missing_1_amd64.deb", filepath.Join(dir, "missing_1_amd64.deb"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Publish(t *testing.T) {
	backend := newMemBackend("keep_1_amd64.deb", "old_1_amd64.deb", "Packages", "Release")
	store, err := NewStore(context.Background(), backend, false, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	local := writeLocal(t, dir, "Release", "Packages", "keep_1_amd64.deb", "new_1_amd64.deb")

	result, err := store.Publish(context.Background(), local, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"delete Release",
		"delete old_1_amd64.deb",
		"upload new_1_amd64.deb",
		"delete Packages",
		"upload Packages",
		"upload Release",
	}, backend.calls)
	assert.ElementsMatch(t, []string{"Release", "old_1_amd64.deb"}, result.Deleted)
	assert.Equal(t, []string{"new_1_amd64.deb", "Packages", "Release"}, result.Uploaded)

	assert.Equal(t, "remote keep_1_amd64.deb", string(backend.files["keep_1_amd64.deb"]), "unchanged packages are not rewritten")
	assert.Equal(t, "local new_1_amd64.deb", string(backend.files["new_1_amd64.deb"]))
	assert.ElementsMatch(t, []string{"keep_1_amd64.deb", "new_1_amd64.deb", "Packages", "Release"}, sortedNames(store.ListAssets()))
}

func TestNewStore_RebuildResetsRemote(t *testing.T) {
	backend := newMemBackend("keep_1_amd64.deb", "Packages", "Release")
	store, err := NewStore(context.Background(), backend, true, nil)
	require.NoError(t, err)
	assert.Empty(t, backend.files)
	assert.Empty(t, store.ListAssets())

	local := writeLocal(t, t.TempDir(), "keep_1_amd64.deb", "Release")

	_, err = store.Publish(context.Background(), local, nil)
	require.NoError(t, err)
	assert.Equal(t, "local keep_1_amd64.deb", string(backend.files["keep_1_amd64.deb"]))
}

func TestStore_PublishRefreshesNamedPackages(t *testing.T) {
	backend := newMemBackend("keep_1_amd64.deb", "fresh_1_amd64.deb", "Release")
	store, err := NewStore(context.Background(), backend, false, nil)
	require.NoError(t, err)

	local := writeLocal(t, t.TempDir(), "keep_1_amd64.deb", "fresh_1_amd64.deb", "Release")

	result, err := store.Publish(context.Background(), local, []string{"fresh_1_amd64.deb"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh_1_amd64.deb", "Release"}, result.Uploaded)
	assert.Equal(t, "local fresh_1_amd64.deb", string(backend.files["fresh_1_amd64.deb"]))
	assert.Equal(t, "remote keep_1_amd64.deb", string(backend.files["keep_1_amd64.deb"]))
}

func TestStore_PublishUploadsReleaseLast(t *testing.T) {
	backend := newMemBackend()
	store, err := NewStore(context.Background(), backend, false, nil)
	require.NoError(t, err)

	local := writeLocal(t, t.TempDir(),
		entities.IndexRelease, entities.IndexInRelease, entities.IndexReleaseGPG,
		entities.IndexPackagesGz, entities.IndexPackages, "tool_1.0_amd64.deb")

	_, err = store.Publish(context.Background(), local, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"upload tool_1.0_amd64.deb",
		"upload Packages",
		"upload Packages.gz",
		"upload Release.gpg",
		"upload InRelease",
		"upload Release",
	}, backend.calls)
}

func TestStore_FailedSignatureUploadResetsNextRun(t *testing.T) {
	backend := newMemBackend("tool_0.9_amd64.deb", "Packages", "Release.gpg", "InRelease", "Release")
	backend.failUpload = entities.IndexReleaseGPG
	store, err := NewStore(context.Background(), backend, false, nil)
	require.NoError(t, err)

	local := writeLocal(t, t.TempDir(),
		"tool_1.0_amd64.deb", entities.IndexPackages, entities.IndexPackagesGz,
		entities.IndexReleaseGPG, entities.IndexInRelease, entities.IndexRelease)

	_, err = store.Publish(context.Background(), local, nil)
	require.ErrorContains(t, err, "failed to upload Release.gpg")
	assert.NotContains(t, backend.files, entities.IndexRelease)

	backend.failUpload = ""
	backend.calls = nil
	next, err := NewStore(context.Background(), backend, false, nil)
	require.NoError(t, err)
	assert.Empty(t, next.ListAssets())
	assert.Empty(t, backend.files, "a partial index is never served")
}

func TestStore_Invalidate(t *testing.T) {
	backend := newMemBackend("tool_1.0_amd64.deb", "Packages", "Release")
	store, err := NewStore(context.Background(), backend, false, nil)
	require.NoError(t, err)

	require.NoError(t, store.Invalidate(context.Background()))
	assert.Equal(t, []string{"delete Release"}, backend.calls)
	assert.NotContains(t, store.ListAssets(), entities.IndexRelease)

	// Nothing left to drop
	require.NoError(t, store.Invalidate(context.Background()))
	assert.Len(t, backend.calls, 1)
}

func TestStore_Download(t *testing.T) {
	backend := newMemBackend("Release")
	store, err := NewStore(context.Background(), backend, false, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, store.Download(context.Background(), "Release", dir))
	assert.FileExists(t, filepath.Join(dir, "Release"))

	assert.Error(t, store.Download(context.Background(), "Packages", dir))
}

func TestStore_Describe(t *testing.T) {
	backend := newMemBackend()
	store, err := NewStore(context.Background(), backend, false, nil)
	require.NoError(t, err)

	require.NoError(t, store.Describe(context.Background(), "# Repository"))
	assert.Equal(t, "# Repository", backend.description)
}
