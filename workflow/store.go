package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ListFilter narrows a store listing. Zero values match everything.
type ListFilter struct {
	Statuses []ExecutionStatus
	Autonomy []AutonomyLevel
}

// Matches reports whether the execution satisfies the filter.
func (f ListFilter) Matches(e *Execution) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, e.Status) {
		return false
	}
	if len(f.Autonomy) > 0 && !containsAutonomy(f.Autonomy, e.Autonomy) {
		return false
	}
	return true
}

func containsStatus(list []ExecutionStatus, s ExecutionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsAutonomy(list []AutonomyLevel, a AutonomyLevel) bool {
	for _, v := range list {
		if v == a {
			return true
		}
	}
	return false
}

// Store persists executions. Save uses Execution.Revision for optimistic
// concurrency: a zero revision creates, any other value must match the
// stored revision.
type Store interface {
	Get(ctx context.Context, id string) (*Execution, error)
	List(ctx context.Context, filter ListFilter) ([]*Execution, error)
	Save(ctx context.Context, exec *Execution) error
}

// MemoryStore is an in-process Store. Reads and writes copy executions so
// callers never share state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	execs map[string]*Execution
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{execs: make(map[string]*Execution)}
}

// Get returns a copy of the execution.
func (s *MemoryStore) Get(_ context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.execs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return exec.Clone(), nil
}

// List returns copies of matching executions ordered by id.
func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Execution, 0, len(s.execs))
	for _, exec := range s.execs {
		if filter.Matches(exec) {
			result = append(result, exec.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Save stores a copy of the execution and bumps its revision.
func (s *MemoryStore) Save(_ context.Context, exec *Execution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.execs[exec.ID]
	switch {
	case !exists && exec.Revision != 0:
		return fmt.Errorf("%w: %s", ErrNotFound, exec.ID)
	case exists && current.Revision != exec.Revision:
		return fmt.Errorf("%w: %s at revision %d, have %d", ErrConflict, exec.ID, current.Revision, exec.Revision)
	}

	stored := exec.Clone()
	stored.Revision = exec.Revision + 1
	s.execs[exec.ID] = stored
	exec.Revision = stored.Revision
	return nil
}
