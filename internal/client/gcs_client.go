package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dse120071750/anime-dance-publisher/internal/config"
)

// StorageClient defines the interface for object storage operations.
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	GetPublicURL(key string) string
}

// GCSClient implements StorageClient for Google Cloud Storage.
type GCSClient struct {
	client     *storage.Client
	bucketName string
}

// NewGCSClient creates a new GCS storage client.
func NewGCSClient(ctx context.Context, cfg *config.GCPConfig) (*GCSClient, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("GCS configuration incomplete: bucket name required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	sc, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &GCSClient{
		client:     sc,
		bucketName: cfg.Bucket,
	}, nil
}

// Upload writes an object and returns its gs:// URI.
func (c *GCSClient) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	w := c.client.Bucket(c.bucketName).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize GCS upload: %w", err)
	}

	return c.GetPublicURL(key), nil
}

// Download reads a full object into memory.
func (c *GCSClient) Download(ctx context.Context, key string) ([]byte, error) {
	r, err := c.client.Bucket(c.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", key, err)
	}
	return data, nil
}

// List returns the keys of all objects under a prefix.
func (c *GCSClient) List(ctx context.Context, prefix string) ([]string, error) {
	it := c.client.Bucket(c.bucketName).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects under %s: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// GetSignedURL generates a presigned URL for temporary access.
func (c *GCSClient) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := c.client.Bucket(c.bucketName).SignedURL(key, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiry),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return url, nil
}

// GetPublicURL returns the gs:// URI for a key.
func (c *GCSClient) GetPublicURL(key string) string {
	return fmt.Sprintf("gs://%s/%s", c.bucketName, key)
}

// Close releases the underlying storage connection.
func (c *GCSClient) Close() error {
	return c.client.Close()
}
