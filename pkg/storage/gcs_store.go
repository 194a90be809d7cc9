//go:build gcp

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore is a Store backed by a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig configures a GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore builds a GCSStore using application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) objectName(category Category, key string) string {
	return s.prefix + string(category) + "/" + key
}

func (s *GCSStore) Put(ctx context.Context, category Category, key string, data []byte) error {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(category, key))
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: gcs write %s/%s: %w", category, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: gcs close %s/%s: %w", category, key, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, category Category, key string) ([]byte, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(category, key))
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: gcs get %s/%s: %w", category, key, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSStore) Exists(ctx context.Context, category Category, key string) (bool, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(category, key))
	_, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("storage: gcs attrs %s/%s: %w", category, key, err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, category Category, key string) error {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(category, key))
	err := obj.Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("storage: gcs delete %s/%s: %w", category, key, err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
