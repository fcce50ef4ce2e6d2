package services

import (
	"errors"
	"strings"
	"time"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// CollapseBursts keeps only the newest version of each burst. A burst is a run
// of versions sharing the component before separator ("1m1", "1m2" -> "1").
// Groups keep the order in which they first appear.
func CollapseBursts(versions []string, separator string) ([]string, error) {
	type burst struct {
		newest  string
		version Version
	}

	var order []string
	bursts := make(map[string]*burst)
	for _, raw := range versions {
		v, err := ParseVersion(raw, separator)
		if err != nil {
			return nil, &VersionParseError{Version: raw, Err: err}
		}

		key := raw
		if separator != "" {
			key, _, _ = strings.Cut(raw, separator)
		}

		b, ok := bursts[key]
		if !ok {
			bursts[key] = &burst{newest: raw, version: v}
			order = append(order, key)
			continue
		}
		if v.Compare(b.version) >= 0 {
			b.newest = raw
			b.version = v
		}
	}

	out := make([]string, 0, len(order))
	for _, key := range order {
		out = append(out, bursts[key].newest)
	}
	return out, nil
}

// BetaVersion returns the beta identity for the day of now (UTC)
func BetaVersion(now time.Time) string {
	return entities.BetaPrefix + now.UTC().Format("20060102")
}

// DiscoverRecords creates one record per version and architecture of product,
// plus the synthesized beta identity for now.
func DiscoverRecords(product *entities.Product, versions []string, now time.Time) ([]*entities.ArtifactRecord, error) {
	var err error
	if product.Manifest.Burst {
		versions, err = CollapseBursts(versions, product.Manifest.Separator)
		if err != nil {
			var pe *VersionParseError
			if errors.As(err, &pe) {
				pe.Product = product.ID
			}
			return nil, err
		}
	}

	candidates := make([]string, 0, len(versions)+1)
	candidates = append(candidates, versions...)
	candidates = append(candidates, BetaVersion(now))

	seen := make(map[string]bool, len(candidates))
	all := make([]string, 0, len(candidates))
	for _, v := range candidates {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		all = append(all, v)
	}

	records := make([]*entities.ArtifactRecord, 0, len(all)*len(product.Architectures))
	for _, v := range all {
		for _, arch := range product.Architectures {
			r := &entities.ArtifactRecord{
				Product:       product.ID,
				VersionString: v,
				Architecture:  arch,
				Separator:     product.Manifest.Separator,
			}
			if !r.IsBeta() {
				r.PatchLevel = product.PatchLevel(v)
			}
			if _, err := RecordVersion(r); err != nil {
				return nil, err
			}
			records = append(records, r)
		}
	}
	return records, nil
}

// PrunePatches drops persisted patch levels whose version is not among the
// catalog's release records. Returns true if anything was removed.
func PrunePatches(product *entities.Product, catalog *Catalog) (bool, error) {
	if len(product.Patches) == 0 {
		return false, nil
	}
	releases, err := catalog.Select(Filter{Product: product.ID, Beta: Release})
	if err != nil {
		return false, err
	}

	live := make(map[string]bool, len(releases))
	for _, r := range releases {
		live[r.VersionString] = true
	}

	changed := false
	for v := range product.Patches {
		if !live[v] {
			delete(product.Patches, v)
			changed = true
		}
	}
	return changed, nil
}

// BumpLatest increments the patch level of the newest release version of
// product and returns that version with its new level.
func BumpLatest(product *entities.Product, catalog *Catalog) (string, int, error) {
	latest, err := catalog.Latest(Filter{Product: product.ID, Beta: Release})
	if err != nil {
		return "", 0, err
	}
	if product.Patches == nil {
		product.Patches = make(map[string]int)
	}
	product.Patches[latest.VersionString]++
	level := product.Patches[latest.VersionString]

	for _, r := range catalog.Records() {
		if r.Product == product.ID && r.VersionString == latest.VersionString {
			r.PatchLevel = level
		}
	}
	return latest.VersionString, level, nil
}
