// Package gcs adapts Google Cloud Storage buckets to the ObjectStore gateway.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ochairo/reposync/internal/domain/interfaces/gateways"
)

// ErrNotExist is returned by Get for a missing object
var ErrNotExist = errors.New("object does not exist")

// Client implements gateways.ObjectStore on one bucket and key prefix
type Client struct {
	storageClient *storage.Client
	BucketName    string
	Prefix        string
}

// NewClient creates a bucket client. An empty credentialsFile uses
// Application Default Credentials.
func NewClient(ctx context.Context, bucketName, prefix, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &Client{
		storageClient: storageClient,
		BucketName:    bucketName,
		Prefix:        strings.Trim(prefix, "/"),
	}, nil
}

// Close releases the underlying client
func (c *Client) Close() error {
	return c.storageClient.Close()
}

func (c *Client) objectName(key string) string {
	if c.Prefix == "" {
		return key
	}
	return path.Join(c.Prefix, key)
}

// List returns every object below the prefix, keys relative to it
func (c *Client) List(ctx context.Context) ([]gateways.StoredObject, error) {
	query := &storage.Query{}
	if c.Prefix != "" {
		query.Prefix = c.Prefix + "/"
	}

	var objects []gateways.StoredObject
	it := c.storageClient.Bucket(c.BucketName).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", c.BucketName, c.Prefix, err)
		}
		key := strings.TrimPrefix(attrs.Name, query.Prefix)
		if key == "" || strings.Contains(key, "/") {
			continue
		}
		objects = append(objects, gateways.StoredObject{Key: key, Size: attrs.Size})
	}
	return objects, nil
}

// Get streams an object to w
func (c *Client) Get(ctx context.Context, key string, w io.Writer) (int64, error) {
	reader, err := c.storageClient.Bucket(c.BucketName).Object(c.objectName(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return 0, fmt.Errorf("%s: %w", key, ErrNotExist)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open gs://%s/%s: %w", c.BucketName, c.objectName(key), err)
	}
	//nolint:errcheck // Defer close on read-only object reader
	defer reader.Close()

	n, err := io.Copy(w, reader)
	if err != nil {
		return n, fmt.Errorf("failed to read gs://%s/%s: %w", c.BucketName, c.objectName(key), err)
	}
	return n, nil
}

// Put uploads r under key, replacing any existing object
func (c *Client) Put(ctx context.Context, key string, r io.Reader, contentType string) (gateways.StoredObject, error) {
	writer := c.storageClient.Bucket(c.BucketName).Object(c.objectName(key)).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	n, err := io.Copy(writer, r)
	if err != nil {
		_ = writer.Close()
		return gateways.StoredObject{}, fmt.Errorf("failed to copy %s to GCS: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return gateways.StoredObject{}, fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	return gateways.StoredObject{Key: key, Size: n}, nil
}

// Delete removes an object
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.storageClient.Bucket(c.BucketName).Object(c.objectName(key)).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", c.BucketName, c.objectName(key), err)
	}
	return nil
}
