package gateways

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/interfaces"
)

// PartSuffix marks files that are still being written
const PartSuffix = ".part"

// ErrDownload marks failures to obtain an intact upstream source archive
var ErrDownload = errors.New("source download failed")

// Downloader fetches upstream source archives into the cache directory
type Downloader struct {
	httpClient *http.Client
	logger     interfaces.Logger
}

// NewDownloader creates a new downloader
func NewDownloader(logger interfaces.Logger) *Downloader {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &Downloader{
		httpClient: &http.Client{
			Timeout: 10 * time.Minute, // Long timeout for large downloads
		},
		logger: logger,
	}
}

// FetchSource returns the cached source archive of a record, downloading it first when
// it is missing or when reload is set.
func (d *Downloader) FetchSource(ctx context.Context, product *entities.Product, record *entities.ArtifactRecord, cacheDir string, reload bool) (string, error) {
	dest := record.SourceArchivePath(cacheDir)

	if reload {
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to drop cached archive: %w", err)
		}
	}

	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		d.logger.Debug("Using cached source archive", interfaces.F("path", dest))
		return dest, nil
	}

	template := product.Download.ReleaseURL
	if record.IsBeta() {
		template = product.Download.BetaURL
	}
	if template == "" {
		return "", fmt.Errorf("%w: no download url for %s", ErrDownload, record)
	}

	if err := os.MkdirAll(cacheDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	url := BuildDownloadURL(template, record)
	if err := d.downloadFile(ctx, url, dest); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrDownload, url, err)
	}

	return dest, nil
}

// BuildDownloadURL performs template substitution of {version}, {arch} and {bits}
func BuildDownloadURL(template string, record *entities.ArtifactRecord) string {
	r := strings.NewReplacer(
		"{version}", record.VersionString,
		"{arch}", record.Architecture.PackagingName(),
		"{bits}", string(record.Architecture),
	)
	return r.Replace(template)
}

// downloadFile downloads url to dest through a .part file renamed on completion
func (d *Downloader) downloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "reposync/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	part := dest + PartSuffix
	//nolint:gosec // G304: Destination derives from the configured cache directory
	out, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil && resp.ContentLength >= 0 && written != resp.ContentLength {
		err = fmt.Errorf("short read: got %d of %d bytes", written, resp.ContentLength)
	}
	if err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(part, dest); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}

	d.logger.Info("Downloaded source archive",
		interfaces.F("file", filepath.Base(dest)),
		interfaces.F("bytes", written))
	return nil
}

// ExtractTarGz extracts a .tar.gz file to destination directory
func ExtractTarGz(tarPath, destDir string, logger interfaces.Logger) error {
	//nolint:gosec // G304: File path tarPath is function parameter for extraction
	file, err := os.Open(tarPath)
	if err != nil {
		return fmt.Errorf("failed to open tar.gz: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	//nolint:errcheck // Defer close on gzip reader
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	if err := os.MkdirAll(destDir, 0750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	// Symlinks are created after regular files so their targets exist
	type symlinkInfo struct {
		target   string
		linkname string
	}
	var symlinks []symlinkInfo

	cleanDest := filepath.Clean(destDir)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar read error: %w", err)
		}

		//nolint:gosec // G305: Path traversal validated by prefix check below
		target := filepath.Join(destDir, header.Name)
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return fmt.Errorf("invalid file path in archive: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0750); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return fmt.Errorf("failed to create parent directory: %w", err)
			}

			//nolint:gosec // G115: Integer overflow from tar header mode is acceptable
			outFile, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(header.Mode).Perm())
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}

			// 1GB cap per file against decompression bombs
			if _, err := io.Copy(outFile, io.LimitReader(tr, 1<<30)); err != nil {
				_ = outFile.Close()
				return fmt.Errorf("failed to write file: %w", err)
			}
			if err := outFile.Close(); err != nil {
				return fmt.Errorf("failed to close file: %w", err)
			}

		case tar.TypeSymlink:
			symlinks = append(symlinks, symlinkInfo{
				target:   target,
				linkname: header.Linkname,
			})

		default:
			logger.Warn("Ignoring unsupported tar entry",
				interfaces.F("type", string(header.Typeflag)),
				interfaces.F("name", header.Name))
		}
	}

	for _, link := range symlinks {
		if err := os.MkdirAll(filepath.Dir(link.target), 0750); err != nil {
			return fmt.Errorf("failed to create directory for symlink: %w", err)
		}
		// Some tarballs ship broken symlinks
		if err := os.Symlink(link.linkname, link.target); err != nil {
			logger.Warn("Failed to create symlink",
				interfaces.F("path", link.target),
				interfaces.F("target", link.linkname),
				interfaces.F("error", err))
		}
	}

	return nil
}
