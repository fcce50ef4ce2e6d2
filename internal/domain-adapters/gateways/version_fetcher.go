package gateways

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// maxManifestSize bounds how much of a manifest response is read
const maxManifestSize = 8 << 20

// VersionFetcher retrieves upstream version manifests
type VersionFetcher struct {
	httpClient *http.Client
}

// NewVersionFetcher creates a new version fetcher
func NewVersionFetcher() *VersionFetcher {
	return &VersionFetcher{
		httpClient: &http.Client{
			Timeout: 30 * time.Second, // Reasonable timeout for manifest downloads
		},
	}
}

// FetchVersions downloads the product's manifest and returns its version tokens in listed order
func (vf *VersionFetcher) FetchVersions(ctx context.Context, product *entities.Product) ([]string, error) {
	if product.Manifest.URL == "" {
		return nil, fmt.Errorf("product %s: manifest url not specified", product.ID)
	}

	body, err := vf.fetchFromURL(ctx, product.Manifest.URL)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", product.ID, err)
	}

	var versions []string
	switch product.Manifest.Format {
	case entities.ManifestJSON:
		versions, err = parseJSONManifest(body)
	case entities.ManifestLines:
		versions, err = parseLinesManifest(body)
	default:
		return nil, fmt.Errorf("product %s: unsupported manifest format: %s", product.ID, product.Manifest.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", product.ID, err)
	}

	return versions, nil
}

// doWithRetry executes an HTTP request with exponential backoff retry
func (vf *VersionFetcher) doWithRetry(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt - 1)
			time.Sleep(backoff)
		}

		resp, err = vf.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			// Network errors are retryable
			if attempt < maxRetries {
				continue
			}
			return nil, err
		}

		// Success or non-retryable error
		if !isRetryableError(resp.StatusCode) {
			return resp, nil
		}

		// Retryable error - close body and retry
		//nolint:errcheck,gosec // G104: Best effort close before retry
		resp.Body.Close()

		if attempt < maxRetries {
			continue
		}

		// Max retries reached
		return resp, nil
	}

	return resp, err
}

// fetchFromURL fetches a manifest body from a plain URL
func (vf *VersionFetcher) fetchFromURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := vf.doWithRetry(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	//nolint:errcheck // Defer close
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return body, nil
}

// parseJSONManifest decodes a JSON array of version strings
func parseJSONManifest(body []byte) ([]string, error) {
	var versions []string
	if err := json.Unmarshal(body, &versions); err != nil {
		return nil, fmt.Errorf("failed to parse JSON manifest: %w", err)
	}

	out := versions[:0]
	for _, v := range versions {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// parseLinesManifest reads one version per line, ignoring blanks and # comments
func parseLinesManifest(body []byte) ([]string, error) {
	var versions []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		versions = append(versions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return versions, nil
}
