package library

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps entities in a map keyed by id. It satisfies the same
// contract as the SQLite stores and is meant for tests and throwaway runs.
type MemoryStore[T Entity] struct {
	mu   sync.RWMutex
	rows map[int64]T
}

func NewMemoryStore[T Entity]() *MemoryStore[T] {
	return &MemoryStore[T]{rows: make(map[int64]T)}
}

func (s *MemoryStore[T]) SaveAll(_ context.Context, entities []T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		s.rows[e.EntityID()] = e
	}
	return nil
}

func (s *MemoryStore[T]) ReadAll(_ context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.rows))
	for _, e := range s.rows {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out, nil
}

func (s *MemoryStore[T]) FindByID(_ context.Context, id int64) (T, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rows[id]
	return e, ok, nil
}

func (s *MemoryStore[T]) DeleteByID(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}
