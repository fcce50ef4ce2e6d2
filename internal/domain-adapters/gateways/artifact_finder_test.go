package gateways

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
}

func TestArtifactFinder_FindLeftovers(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "tool_1.0_amd64.deb"))
	touch(t, filepath.Join(dir, "tool_1.1_amd64.deb.part"))
	touch(t, filepath.Join(dir, "Packages.part"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "tool_1.1_amd64.deb.build"), 0750))
	touch(t, filepath.Join(dir, "notes.build"))

	got, err := NewArtifactFinder().FindLeftovers(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "Packages.part"),
		filepath.Join(dir, "tool_1.1_amd64.deb.part"),
		filepath.Join(dir, "tool_1.1_amd64.deb.build"),
	}, got)
}

func TestArtifactFinder_FindLeftovers_MissingDir(t *testing.T) {
	got, err := NewArtifactFinder().FindLeftovers(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestArtifactFinder_FindStale(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "tool_1.0_amd64.deb"))
	touch(t, filepath.Join(dir, "tool_0.9_amd64.deb"))
	touch(t, filepath.Join(dir, "tool_1.0_64.tar.gz"))
	touch(t, filepath.Join(dir, "tool_0.9_64.tar.gz"))
	touch(t, filepath.Join(dir, "Packages"))

	f := NewArtifactFinder()

	packages, err := f.FindStalePackages(dir, map[string]struct{}{"tool_1.0_amd64.deb": {}})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "tool_0.9_amd64.deb")}, packages)

	sources, err := f.FindStaleSources(dir, map[string]struct{}{"tool_1.0_64.tar.gz": {}})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "tool_0.9_64.tar.gz")}, sources)
}
