package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore is a BlobStore on Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore opens a GCS client. credentialsFile may be empty to use
// application default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs store: bucket required")
	}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs store: new client: %w", err)
	}
	return &GCSStore{client: c, bucket: bucket}, nil
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}

func (g *GCSStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs upload %s: %w", key, err)
	}
	return nil
}

func (g *GCSStore) Download(ctx context.Context, key string) ([]byte, error) {
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs download %s: %w", key, mapGCSError(err))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs download %s: read body: %w", key, err)
	}
	return data, nil
}

func (g *GCSStore) Delete(ctx context.Context, key string) error {
	if err := g.client.Bucket(g.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("gcs delete %s: %w", key, mapGCSError(err))
	}
	return nil
}

// SignedURL issues a V4 signed GET URL. The client credentials must be able to sign.
func (g *GCSStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := g.client.Bucket(g.bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("gcs sign %s: %w", key, err)
	}
	return u, nil
}

func mapGCSError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
