package library

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scanOnlyStore hides the Finder capability of the wrapped store.
type scanOnlyStore[T Entity] struct{ Store[T] }

func TestRepository_SaveReplacesByID(t *testing.T) {
	repo := NewRepository[Book](NewBookStore(tempDB(t)), "book")
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, NewBook(1, "Dune", "Herbert")))
	require.NoError(t, repo.Save(ctx, NewBook(1, "Dune Messiah", "Herbert")))

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Dune Messiah", all[0].Title)
}

func TestRepository_GetMissing(t *testing.T) {
	for name, store := range map[string]Store[Member]{
		"finder": NewMemoryStore[Member](),
		"scan":   scanOnlyStore[Member]{NewMemoryStore[Member]()},
	} {
		t.Run(name, func(t *testing.T) {
			repo := NewRepository[Member](store, "member")
			ctx := context.Background()
			require.NoError(t, repo.Save(ctx, NewMember(1, "Alice", "pw")))

			m, err := repo.Get(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "Alice", m.Name)

			_, err = repo.Get(ctx, 2)
			require.ErrorIs(t, err, ErrNotFound)
			assert.EqualError(t, err, "member 2 not found")
		})
	}
}

func TestRepository_ConcurrentSavesKeepEveryEntity(t *testing.T) {
	repo := NewRepository[Book](NewBookStore(tempDB(t)), "book")
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			errs <- repo.Save(ctx, NewBook(id, fmt.Sprintf("Book %d", id), "Author"))
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestRepository_Delete(t *testing.T) {
	repo := NewRepository[Book](NewMemoryStore[Book](), "book")
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, NewBook(1, "Dune", "Herbert")))

	require.NoError(t, repo.Delete(ctx, 1))
	require.NoError(t, repo.Delete(ctx, 1))

	_, ok, err := repo.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}
