// Package objectstore reads task artifacts from the write-once remote store
// a background job publishes into. Keys follow the layout in layout.go and
// every backend maps its own "missing object" signal onto ErrNotFound.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that an object has not been produced yet.
var ErrNotFound = errors.New("object not found")

// ObjectInfo is the result of an existence probe.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is a read-only view over the remote object store.
type Store interface {
	// Stat probes an object without fetching it (HTTP HEAD semantics).
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// Get fetches the full object content.
	Get(ctx context.Context, key string) ([]byte, error)
}

// IsNotFound reports whether err means the object does not exist yet.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
