// Package entities defines core domain models and data structures.
package entities

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// BetaPrefix marks a version string as belonging to the beta channel
const BetaPrefix = "beta-"

// BetaSuffix is appended to the package name of beta channel artifacts
const BetaSuffix = "-beta"

// PackageExt is the file extension of built package archives
const PackageExt = ".deb"

// Architecture is an upstream CPU architecture token
type Architecture string

// Supported upstream architectures
const (
	Arch32 Architecture = "32"
	Arch64 Architecture = "64"
)

// packagingArchitectures maps upstream architectures to Debian architecture names
var packagingArchitectures = map[Architecture]string{
	Arch32: "i386",
	Arch64: "amd64",
}

// ParseArchitecture validates an upstream architecture token
func ParseArchitecture(s string) (Architecture, error) {
	a := Architecture(s)
	if _, ok := packagingArchitectures[a]; !ok {
		return "", fmt.Errorf("unsupported architecture %q", s)
	}
	return a, nil
}

// PackagingName returns the packaging-system architecture name
func (a Architecture) PackagingName() string {
	return packagingArchitectures[a]
}

// ArtifactRecord is one (product, version, architecture) tuple discovered from upstream
type ArtifactRecord struct {
	Product       string
	VersionString string
	Architecture  Architecture
	PatchLevel    int

	// Separator is the product's channel separator, normalised to '.' in versions
	Separator string

	rebuilt bool
}

// IsBeta reports whether the record belongs to the beta channel
func (r *ArtifactRecord) IsBeta() bool {
	return strings.HasPrefix(r.VersionString, BetaPrefix)
}

// PackageName is the Debian package name (product plus beta suffix)
func (r *ArtifactRecord) PackageName() string {
	if r.IsBeta() {
		return r.Product + BetaSuffix
	}
	return r.Product
}

// NormalizedVersion returns the dotted version used for ordering
func (r *ArtifactRecord) NormalizedVersion() string {
	if r.IsBeta() {
		return strings.TrimPrefix(r.VersionString, BetaPrefix)
	}
	if r.Separator == "" {
		return r.VersionString
	}
	return strings.ReplaceAll(r.VersionString, r.Separator, ".")
}

// PackagingVersion is the version written into the package, including the patch suffix
func (r *ArtifactRecord) PackagingVersion() string {
	v := r.NormalizedVersion()
	if !r.IsBeta() && r.PatchLevel > 0 {
		v += "-" + strconv.Itoa(r.PatchLevel)
	}
	return v
}

// PackageFileName is the deterministic package archive name
func (r *ArtifactRecord) PackageFileName() string {
	return fmt.Sprintf("%s_%s_%s%s", r.PackageName(), r.PackagingVersion(), r.Architecture.PackagingName(), PackageExt)
}

// SourceArchiveName identifies the cached upstream download
func (r *ArtifactRecord) SourceArchiveName() string {
	return fmt.Sprintf("%s_%s_%s.tar.gz", r.Product, r.VersionString, r.Architecture)
}

// SourceArchivePath returns the cached upstream download path inside cacheDir
func (r *ArtifactRecord) SourceArchivePath(cacheDir string) string {
	return filepath.Join(cacheDir, r.SourceArchiveName())
}

// MarkRebuilt records that the package was rebuilt rather than reused
func (r *ArtifactRecord) MarkRebuilt() {
	r.rebuilt = true
}

// Rebuilt reports whether the package was rebuilt during this generation
func (r *ArtifactRecord) Rebuilt() bool {
	return r.rebuilt
}

// String implements fmt.Stringer
func (r *ArtifactRecord) String() string {
	return fmt.Sprintf("%s %s (%s)", r.Product, r.VersionString, r.Architecture)
}
