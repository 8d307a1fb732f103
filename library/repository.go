package library

import (
	"context"
	"sync"
)

// Repository gives whole-entity replace-by-id semantics on top of a Store.
//
// Save is a single-row upsert rather than a rewrite of the full set, and
// every call holds the repository lock, so concurrent saves of different
// entities cannot discard each other.
type Repository[T Entity] struct {
	mu    sync.Mutex
	store Store[T]
	kind  string
}

// NewRepository wraps store. kind names the entity in NotFound errors.
func NewRepository[T Entity](store Store[T], kind string) *Repository[T] {
	return &Repository[T]{store: store, kind: kind}
}

// Save replaces any stored entity with the same id by e.
func (r *Repository[T]) Save(ctx context.Context, e T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.SaveAll(ctx, []T{e})
}

// Delete removes the entity with id; unknown ids are ignored.
func (r *Repository[T]) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.DeleteByID(ctx, id)
}

// FindAll returns every entity in ascending id order.
func (r *Repository[T]) FindAll(ctx context.Context) ([]T, error) {
	return r.store.ReadAll(ctx)
}

// Lookup fetches one entity, reporting whether it exists.
func (r *Repository[T]) Lookup(ctx context.Context, id int64) (T, bool, error) {
	if f, ok := r.store.(Finder[T]); ok {
		return f.FindByID(ctx, id)
	}
	var zero T
	all, err := r.store.ReadAll(ctx)
	if err != nil {
		return zero, false, err
	}
	for _, e := range all {
		if e.EntityID() == id {
			return e, true, nil
		}
	}
	return zero, false, nil
}

// Get is Lookup with a NotFoundError for a missing id.
func (r *Repository[T]) Get(ctx context.Context, id int64) (T, error) {
	e, ok, err := r.Lookup(ctx, id)
	if err != nil {
		return e, err
	}
	if !ok {
		return e, &NotFoundError{Kind: r.kind, ID: id}
	}
	return e, nil
}
