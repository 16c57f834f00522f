// Package taskstatus answers "is this task still running?" from an external
// task registry. Every provider may decline to answer; the reconciler then
// falls back to its recent-activity heuristic.
package taskstatus

import (
	"context"
	"errors"
	"strings"
	"sync"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Normalize maps registry spellings onto the statuses the reconciler acts
// on. Unrecognized values pass through lowercased.
func Normalize(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "running", "in_progress", "processing", "active", "started":
		return StatusRunning
	case "completed", "complete", "done", "finished", "succeeded":
		return StatusCompleted
	}
	return Status(s)
}

// Provider reports a task's status. ok is false when the provider does not
// know the task.
type Provider interface {
	Status(ctx context.Context, taskID string) (status Status, ok bool, err error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, taskID string) (Status, bool, error)

func (f ProviderFunc) Status(ctx context.Context, taskID string) (Status, bool, error) {
	return f(ctx, taskID)
}

// Static is an in-memory registry the embedding application keeps current.
type Static struct {
	mu     sync.RWMutex
	status map[string]Status
}

func NewStatic() *Static {
	return &Static{status: make(map[string]Status)}
}

func (s *Static) Set(taskID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[strings.TrimSpace(taskID)] = Normalize(string(status))
}

func (s *Static) Delete(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.status, strings.TrimSpace(taskID))
}

func (s *Static) Status(_ context.Context, taskID string) (Status, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[strings.TrimSpace(taskID)]
	return st, ok, nil
}

// Chain asks providers in order and returns the first answer. Errors from
// providers that were skipped are only returned when nobody answered.
type Chain []Provider

func (c Chain) Status(ctx context.Context, taskID string) (Status, bool, error) {
	var errs []error
	for _, p := range c {
		if p == nil {
			continue
		}
		st, ok, err := p.Status(ctx, taskID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return st, true, nil
		}
	}
	return "", false, errors.Join(errs...)
}
