package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSConfig struct {
	Bucket string
	Prefix string
	// Anonymous skips credential discovery; use for public task buckets.
	Anonymous bool
	// Endpoint overrides the API endpoint (emulators).
	Endpoint string
}

// GCSStore reads objects with the Cloud Storage client.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	bucketName := strings.TrimSpace(cfg.Bucket)
	if bucketName == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.Anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}
	if ep := strings.TrimSpace(cfg.Endpoint); ep != "" {
		opts = append(opts, option.WithEndpoint(ep))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("init gcs client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucketName),
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

func (s *GCSStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if s == nil || s.bucket == nil {
		return ObjectInfo{}, fmt.Errorf("store is nil")
	}
	attrs, err := s.bucket.Object(s.objectKey(key)).Attrs(ctx)
	if err != nil {
		return ObjectInfo{}, mapGCSError(key, err)
	}
	return ObjectInfo{
		Key:          key,
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		LastModified: attrs.Updated.UTC(),
	}, nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.bucket == nil {
		return nil, fmt.Errorf("store is nil")
	}
	r, err := s.bucket.Object(s.objectKey(key)).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError(key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gcs %s: %w", key, err)
	}
	return data, nil
}

func (s *GCSStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *GCSStore) objectKey(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func mapGCSError(key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("gcs %s: %w", key, err)
}

var _ Store = (*GCSStore)(nil)
