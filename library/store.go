package library

import (
	"context"
	"database/sql"
)

// Entity is anything persisted under an integer identity.
type Entity interface {
	EntityID() int64
}

// Store is the persistence contract shared by every entity handler.
//
// SaveAll upserts each entity by id. It is not atomic across the batch
// unless the context carries a transaction: each failing item is reported
// in the returned error and the remaining items are still attempted.
// ReadAll returns entities in ascending id order. DeleteByID is a no-op for
// an unknown id.
type Store[T Entity] interface {
	SaveAll(ctx context.Context, entities []T) error
	ReadAll(ctx context.Context) ([]T, error)
	DeleteByID(ctx context.Context, id int64) error
}

// Finder is implemented by stores that can fetch one row without a scan.
type Finder[T Entity] interface {
	FindByID(ctx context.Context, id int64) (T, bool, error)
}

// Transactor runs fn so that every storage call made with the context it
// receives commits or rolls back together.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// noTx runs fn directly. Used with stores that have no transaction support.
type noTx struct{}

func (noTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var (
	_ Store[Book]    = (*BookStore)(nil)
	_ Finder[Book]   = (*BookStore)(nil)
	_ Store[Member]  = (*MemberStore)(nil)
	_ Finder[Member] = (*MemberStore)(nil)
	_ Store[Book]    = (*MemoryStore[Book])(nil)
	_ Finder[Book]   = (*MemoryStore[Book])(nil)
	_ Transactor     = (*Database)(nil)
	_ BookLookup     = (*Repository[Book])(nil)
)
