// Package services implements the pure domain rules: version ordering,
// the artifact catalog, discovery and repository index formats.
package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// Version is a parsed dotted numeric version
type Version []uint64

// ParseVersion parses a dotted numeric version after replacing separator with '.'
func ParseVersion(s, separator string) (Version, error) {
	if separator != "" {
		s = strings.ReplaceAll(s, separator, ".")
	}
	if s == "" {
		return nil, errors.New("empty version")
	}

	parts := strings.Split(s, ".")
	v := make(Version, len(parts))
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("component %d (%q) is not numeric", i, part)
		}
		v[i] = n
	}
	return v, nil
}

// Compare compares component-wise, padding the shorter version with zeros.
// Returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	n := max(len(v), len(o))
	for i := 0; i < n; i++ {
		var a, b uint64
		if i < len(v) {
			a = v[i]
		}
		if i < len(o) {
			b = o[i]
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

// RecordVersion parses the ordering version of an artifact record
func RecordVersion(r *entities.ArtifactRecord) (Version, error) {
	v, err := ParseVersion(r.NormalizedVersion(), "")
	if err != nil {
		return nil, &VersionParseError{Product: r.Product, Version: r.VersionString, Err: err}
	}
	return v, nil
}

// CompareRecords orders two records: by product name first, then by
// normalised version. Architecture does not participate.
func CompareRecords(a, b *entities.ArtifactRecord) (int, error) {
	if c := strings.Compare(a.Product, b.Product); c != 0 {
		return c, nil
	}
	va, err := RecordVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := RecordVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}
