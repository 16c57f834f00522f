package objectstore

import (
	"context"
	"time"
)

// Observer receives timing for store operations. A not-found probe is a
// normal outcome and is reported with found=false rather than as an error.
type Observer interface {
	RecordProbe(duration time.Duration, found bool, err error)
	RecordFetch(duration time.Duration, sizeBytes int, err error)
}

type InstrumentedStore struct {
	next     Store
	observer Observer
}

// NewInstrumentedStore wraps next. A nil observer returns next unchanged.
func NewInstrumentedStore(next Store, observer Observer) Store {
	if observer == nil {
		return next
	}
	return &InstrumentedStore{next: next, observer: observer}
}

func (s *InstrumentedStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	start := time.Now()
	info, err := s.next.Stat(ctx, key)
	switch {
	case err == nil:
		s.observer.RecordProbe(time.Since(start), true, nil)
	case IsNotFound(err):
		s.observer.RecordProbe(time.Since(start), false, nil)
	default:
		s.observer.RecordProbe(time.Since(start), false, err)
	}
	return info, err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.next.Get(ctx, key)
	if IsNotFound(err) {
		s.observer.RecordFetch(time.Since(start), 0, nil)
		return data, err
	}
	s.observer.RecordFetch(time.Since(start), len(data), err)
	return data, err
}
