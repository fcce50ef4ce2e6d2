package backends

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/interfaces/gateways"
)

// HostedBackend publishes as attachments of a GitHub release
type HostedBackend struct {
	gh      gateways.GitHubGateway
	owner   string
	repo    string
	release *gateways.GitHubRelease
}

// NewHostedBackend looks up the release by tag, creating it when missing
func NewHostedBackend(ctx context.Context, gh gateways.GitHubGateway, cfg entities.HostedBackendConfig) (*HostedBackend, error) {
	release, err := gh.GetRelease(ctx, cfg.Owner, cfg.Repo, cfg.Tag)
	if errors.Is(err, gateways.ErrReleaseNotFound) {
		release, err = gh.CreateRelease(ctx, cfg.Owner, cfg.Repo, &gateways.GitHubRelease{
			TagName: cfg.Tag,
			Name:    cfg.Tag,
			Body:    "Package repository",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open release %s/%s@%s: %w", cfg.Owner, cfg.Repo, cfg.Tag, err)
	}

	return &HostedBackend{
		gh:      gh,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		release: release,
	}, nil
}

// Kind implements gateways.StorageBackend
func (b *HostedBackend) Kind() string { return string(entities.BackendHosted) }

// ListAssets lists the release attachments
func (b *HostedBackend) ListAssets(ctx context.Context) (map[string]entities.Asset, error) {
	list, err := b.gh.ListReleaseAssets(ctx, b.owner, b.repo, b.release.ID)
	if err != nil {
		return nil, err
	}
	assets := make(map[string]entities.Asset, len(list))
	for _, a := range list {
		assets[a.Name] = toAsset(a)
	}
	return assets, nil
}

// Delete removes the attachment
func (b *HostedBackend) Delete(ctx context.Context, asset entities.Asset) error {
	id, err := strconv.ParseInt(asset.Handle, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid asset handle %q: %w", asset.Handle, err)
	}
	return b.gh.DeleteAsset(ctx, b.owner, b.repo, id)
}

// Upload attaches the local file to the release
func (b *HostedBackend) Upload(ctx context.Context, localPath string) (entities.Asset, error) {
	//nolint:gosec // G304: localPath is an artifact directory entry
	f, err := os.Open(localPath)
	if err != nil {
		return entities.Asset{}, err
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	a, err := b.gh.UploadAsset(ctx, b.release.UploadURL, filepath.Base(localPath), f)
	if err != nil {
		return entities.Asset{}, err
	}
	return toAsset(a), nil
}

// Fetch downloads the attachment through its redirect. The payload is not
// validated here; callers inspect package files before trusting them.
func (b *HostedBackend) Fetch(ctx context.Context, asset entities.Asset, destPath string) (bool, error) {
	id, err := strconv.ParseInt(asset.Handle, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid asset handle %q: %w", asset.Handle, err)
	}

	part := destPath + ".part"
	//nolint:gosec // G304: destPath lies in the artifact directory
	f, err := os.Create(part)
	if err != nil {
		return false, err
	}
	_, err = b.gh.DownloadAsset(ctx, b.owner, b.repo, id, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(part)
		return false, err
	}
	if err := os.Rename(part, destPath); err != nil {
		return false, err
	}
	return true, nil
}

// Describe replaces the release body
func (b *HostedBackend) Describe(ctx context.Context, markdown string) error {
	return b.gh.UpdateReleaseBody(ctx, b.owner, b.repo, b.release.ID, markdown)
}

func toAsset(a *gateways.GitHubAsset) entities.Asset {
	return entities.Asset{
		Name:   a.Name,
		Handle: strconv.FormatInt(a.ID, 10),
		Size:   a.Size,
		URL:    a.BrowserDownloadURL,
	}
}
