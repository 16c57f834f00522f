package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPConfig configures a store that reads objects through a public base URL,
// e.g. https://storage.googleapis.com/<bucket>.
type HTTPConfig struct {
	BaseURL string
	Client  *http.Client
	// MaxObjectBytes caps Get bodies. Zero means 16MiB.
	MaxObjectBytes int64
}

type HTTPStore struct {
	base     *url.URL
	client   *http.Client
	maxBytes int64
}

func NewHTTPStore(cfg HTTPConfig) (*HTTPStore, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", base.Scheme)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxBytes := cfg.MaxObjectBytes
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	return &HTTPStore{base: base, client: client, maxBytes: maxBytes}, nil
}

func (s *HTTPStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if s == nil {
		return ObjectInfo{}, fmt.Errorf("store is nil")
	}
	req, err := s.newRequest(ctx, http.MethodHead, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("head %s: %w", key, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, key); err != nil {
		return ObjectInfo{}, err
	}
	info := ObjectInfo{
		Key:         key,
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if ts, err := http.ParseTime(lm); err == nil {
			info.LastModified = ts.UTC()
		}
	}
	return info, nil
}

func (s *HTTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	req, err := s.newRequest(ctx, http.MethodGet, key)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, key); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("object %s exceeds %d bytes", key, s.maxBytes)
	}
	return data, nil
}

// ObjectURL returns the public URL for key.
func (s *HTTPStore) ObjectURL(key string) string {
	u := *s.base
	u.Path = s.base.Path + "/" + strings.TrimLeft(key, "/")
	return u.String()
}

func (s *HTTPStore) newRequest(ctx context.Context, method, key string) (*http.Request, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	req, err := http.NewRequestWithContext(ctx, method, s.ObjectURL(key), nil)
	if err != nil {
		return nil, err
	}
	// Progress objects appear while we poll; never accept a cached miss.
	req.Header.Set("Cache-Control", "no-cache")
	return req, nil
}

// Public buckets answer 403 instead of 404 when listing is not granted.
func checkStatus(resp *http.Response, key string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	default:
		return fmt.Errorf("%s: unexpected status %s", key, resp.Status)
	}
}

var _ Store = (*HTTPStore)(nil)
