package gateways

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// ArtifactFinder locates files left in the artifact and cache directories
type ArtifactFinder struct{}

// NewArtifactFinder creates a new artifact finder
func NewArtifactFinder() *ArtifactFinder {
	return &ArtifactFinder{}
}

// FindLeftovers returns in-progress files and staging directories of an interrupted run.
// A missing directory has no leftovers.
func (f *ArtifactFinder) FindLeftovers(dir string) ([]string, error) {
	entries, err := readDirIfExists(dir)
	if err != nil {
		return nil, err
	}

	var leftovers []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, PartSuffix) || (e.IsDir() && strings.HasSuffix(name, StagingSuffix)) {
			leftovers = append(leftovers, filepath.Join(dir, name))
		}
	}
	return leftovers, nil
}

// FindUnlisted returns regular files in dir matching pattern whose base name is not in keep
func (f *ArtifactFinder) FindUnlisted(dir, pattern string, keep map[string]struct{}) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
	}
	sort.Strings(matches)

	var stale []string
	for _, path := range matches {
		if _, ok := keep[filepath.Base(path)]; ok {
			continue
		}
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			stale = append(stale, path)
		}
	}
	return stale, nil
}

// FindStalePackages returns package files no longer produced by the catalog
func (f *ArtifactFinder) FindStalePackages(dir string, keep map[string]struct{}) ([]string, error) {
	return f.FindUnlisted(dir, "*"+entities.PackageExt, keep)
}

// FindStaleSources returns cached source archives no record refers to
func (f *ArtifactFinder) FindStaleSources(dir string, keep map[string]struct{}) ([]string, error) {
	return f.FindUnlisted(dir, "*.tar.gz", keep)
}

func readDirIfExists(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	return entries, nil
}
