// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	appstorage "github.com/JakeFAU/license-resolver/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// ClientFactory creates storage clients; tests substitute a client with a
// fake transport.
type ClientFactory interface {
	NewClient(ctx context.Context) (*storage.Client, error)
}

// DefaultClientFactory uses Application Default Credentials.
type DefaultClientFactory struct{}

// NewClient creates a client with default credentials.
func (DefaultClientFactory) NewClient(ctx context.Context) (*storage.Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return client, nil
}

// BlobStore keeps objects in a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Open creates a client through factory and fails fast when the bucket is
// missing or not accessible.
func Open(ctx context.Context, factory ClientFactory, cfg Config) (*BlobStore, error) {
	if factory == nil {
		factory = DefaultClientFactory{}
	}
	client, err := factory.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	store, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", cfg.Bucket, err)
	}
	return store, nil
}

// Close releases the client.
func (s *BlobStore) Close() error {
	return s.client.Close()
}

// Create uploads data unless the object already exists and returns a gs:// URI.
func (s *BlobStore) Create(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	obj := s.client.Bucket(s.bucket).Object(path).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return "", fmt.Errorf("create %s: %w", path, appstorage.ErrObjectExists)
		}
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Get downloads an object.
func (s *BlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("get %s: %w", path, appstorage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open object %s: %w", path, err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return data, nil
}

// List returns object names under prefix. GCS lists in lexical order.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		out = append(out, attrs.Name)
	}
}

var _ appstorage.BlobStore = (*BlobStore)(nil)
