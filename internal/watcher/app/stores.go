package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"digwatch/internal/objectstore"
	"digwatch/internal/taskstatus"
	"digwatch/internal/watcher/config"
)

type closer func() error

// newObjectStore builds the backend store and the browser URL mapper for
// snapshot images. The returned store is instrumented, then cached.
func newObjectStore(ctx context.Context, cfg config.StoreConfig, observer objectstore.Observer) (objectstore.Store, func(string) string, []closer, error) {
	var (
		base      objectstore.Store
		objectURL func(string) string
		closers   []closer
	)
	switch cfg.Backend {
	case config.StoreHTTP:
		s, err := objectstore.NewHTTPStore(objectstore.HTTPConfig{
			BaseURL:        cfg.BaseURL,
			MaxObjectBytes: cfg.MaxObjectBytes,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("http store: %w", err)
		}
		base, objectURL = s, s.ObjectURL
	case config.StoreS3:
		s, err := objectstore.NewS3Store(objectstore.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.Prefix,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("s3 store: %w", err)
		}
		base = s
		objectURL = bucketURL(s3BaseURL(cfg.S3), cfg.Prefix)
	case config.StoreGCS:
		s, err := objectstore.NewGCSStore(ctx, objectstore.GCSConfig{
			Bucket:    cfg.GCS.Bucket,
			Prefix:    cfg.Prefix,
			Anonymous: cfg.GCS.Anonymous,
			Endpoint:  cfg.GCS.Endpoint,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("gcs store: %w", err)
		}
		base = s
		objectURL = bucketURL("https://storage.googleapis.com/"+strings.TrimSpace(cfg.GCS.Bucket), cfg.Prefix)
		closers = append(closers, s.Close)
	case config.StoreMemory:
		base = objectstore.NewMemoryStore()
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	cached, err := objectstore.NewCachedStore(objectstore.NewInstrumentedStore(base, observer), cfg.CacheEntries)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("object cache: %w", err)
	}
	return cached, objectURL, closers, nil
}

func s3BaseURL(cfg config.S3Config) string {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, strings.TrimSpace(cfg.Endpoint), strings.TrimSpace(cfg.Bucket))
}

func bucketURL(base, prefix string) func(string) string {
	base = strings.TrimSuffix(base, "/")
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	return func(key string) string {
		key = strings.TrimLeft(key, "/")
		if prefix != "" {
			key = prefix + "/" + key
		}
		return base + "/" + (&url.URL{Path: key}).EscapedPath()
	}
}

// newStatusProvider returns the configured registry, backed by task
// definitions when the registry has no answer. A nil provider leaves the
// status to the activity window.
func newStatusProvider(ctx context.Context, cfg config.RegistryConfig, defs *taskstatus.DefinitionLoader) (taskstatus.Provider, []closer, error) {
	switch cfg.Backend {
	case config.RegistryNone:
		return nil, nil, nil
	case config.RegistryObjectStore:
		return defs, nil, nil
	case config.RegistryPostgres:
		pg, err := taskstatus.NewPostgresProvider(ctx, cfg.PostgresDSN, cfg.PostgresTable)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres registry: %w", err)
		}
		return taskstatus.Chain{pg, defs}, []closer{pg.Close}, nil
	case config.RegistryRedis:
		rd, err := taskstatus.NewRedisProvider(ctx, taskstatus.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("redis registry: %w", err)
		}
		return taskstatus.Chain{rd, defs}, []closer{rd.Close}, nil
	default:
		return nil, nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
}
