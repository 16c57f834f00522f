package objectstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data         []byte
	lastModified time.Time
}

// MemoryStore keeps objects in process. It counts probes and fetches per
// key so callers can assert on remote traffic, and can be told to fail keys.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]memoryObject
	fail    map[string]error
	probes  map[string]int
	fetches map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string]memoryObject),
		fail:    make(map[string]error),
		probes:  make(map[string]int),
		fetches: make(map[string]int),
	}
}

func (s *MemoryStore) Put(key string, content []byte, lastModified time.Time) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	key = normalizeKey(key)
	if key == "" {
		return fmt.Errorf("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = memoryObject{
		data:         append([]byte(nil), content...),
		lastModified: lastModified.UTC(),
	}
	return nil
}

func (s *MemoryStore) Delete(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, normalizeKey(key))
}

// FailWith makes every access to key return err until cleared with a nil err.
func (s *MemoryStore) FailWith(key string, err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key = normalizeKey(key)
	if err == nil {
		delete(s.fail, key)
		return
	}
	s.fail[key] = err
}

func (s *MemoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	if s == nil {
		return ObjectInfo{}, fmt.Errorf("store is nil")
	}
	key = normalizeKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[key]++
	if err := s.fail[key]; err != nil {
		return ObjectInfo{}, err
	}
	obj, ok := s.data[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.lastModified}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	key = normalizeKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[key]++
	if err := s.fail[key]; err != nil {
		return nil, err
	}
	obj, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

// Probes returns how many times key was probed.
func (s *MemoryStore) Probes(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.probes[normalizeKey(key)]
}

// Fetches returns how many times key was fetched.
func (s *MemoryStore) Fetches(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches[normalizeKey(key)]
}

// ProbesWithPrefix sums probes over all keys starting with prefix.
func (s *MemoryStore) ProbesWithPrefix(prefix string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for k, n := range s.probes {
		if strings.HasPrefix(k, prefix) {
			total += n
		}
	}
	return total
}

// ResetCounters clears probe and fetch counters.
func (s *MemoryStore) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes = make(map[string]int)
	s.fetches = make(map[string]int)
}

func normalizeKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}

var _ Store = (*MemoryStore)(nil)
