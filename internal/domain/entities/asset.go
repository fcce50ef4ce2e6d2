package entities

import "strings"

// Repository index file names
const (
	IndexPackages   = "Packages"
	IndexPackagesGz = "Packages.gz"
	IndexRelease    = "Release"
	IndexReleaseGPG = "Release.gpg"
	IndexInRelease  = "InRelease"

	// DescriptionFile holds the rendered status page and never counts as an asset
	DescriptionFile = "README.md"
)

// IndexFiles lists repository index files in upload order. The Release marker
// comes last: its presence remotely means the whole index is in place.
var IndexFiles = []string{IndexPackages, IndexPackagesGz, IndexReleaseGPG, IndexInRelease, IndexRelease}

// Asset is the remote view of one published file
type Asset struct {
	Name   string
	Handle string // Backend-specific: path, object key or asset id
	Size   int64
	URL    string
}

// IsPackageFile reports whether name is a package archive
func IsPackageFile(name string) bool {
	return strings.HasSuffix(name, PackageExt)
}

// Digests holds the content hashes recorded in the repository index
type Digests struct {
	Size   int64
	MD5    string
	SHA1   string
	SHA256 string
	SHA512 string
}

// IndexEntry is one package paragraph of the Packages index
type IndexEntry struct {
	Package      string
	Version      string
	Architecture string
	Filename     string
	Digests      Digests
	Fields       []ControlField
}

// ControlField is one key/value line of a Debian control paragraph
type ControlField struct {
	Key   string
	Value string
}
