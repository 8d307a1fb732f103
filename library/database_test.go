package library

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	require.NoError(t, err, "new db")
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDatabase_AppliesSchema(t *testing.T) {
	db := tempDB(t)

	var version int
	require.NoError(t, db.db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&version))
	assert.Equal(t, schemaVersion, version)

	for _, table := range []string{"books", "members", "loans"} {
		var n int
		require.NoError(t, db.db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}

func TestNewDatabase_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	ctx := context.Background()

	db, err := NewDatabase(path)
	require.NoError(t, err)
	require.NoError(t, NewBookStore(db).SaveAll(ctx, []Book{NewBook(1, "Dune", "Herbert")}))
	require.NoError(t, db.Close())

	db, err = NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()
	books, err := NewBookStore(db).ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Dune", books[0].Title)
	assert.Equal(t, path, db.Path())
}

func TestNewDatabase_InMemory(t *testing.T) {
	db, err := NewDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()

	books, err := NewBookStore(db).ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestNewDatabase_ImportsLegacyLoans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE borrowed_books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            member_id INTEGER, book_id INTEGER,
            borrow_date TEXT, due_date TEXT, return_date TEXT)`)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO borrowed_books(member_id,book_id,borrow_date,due_date,return_date) VALUES
            (7, 1, '2024-01-01', '2024-01-15', '2024-01-10'),
            (7, 2, '2024-02-01', '2024-02-15', NULL)`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	db, err := NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	ledger := NewLedger(db)
	ctx := context.Background()
	open, err := ledger.IsOpen(ctx, 2)
	require.NoError(t, err)
	assert.True(t, open)
	open, err = ledger.IsOpen(ctx, 1)
	require.NoError(t, err)
	assert.False(t, open)

	who, ok, err := ledger.CurrentBorrowerID(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), who)
}

func TestNewDatabase_AddsFinePaidToPlainLoansTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.db")

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE books (id INTEGER PRIMARY KEY, title TEXT, author TEXT, available INTEGER, cover_path TEXT)`,
		`CREATE TABLE members (id INTEGER PRIMARY KEY, name TEXT, password TEXT, balance REAL DEFAULT 0)`,
		`CREATE TABLE loans (id INTEGER PRIMARY KEY, book_id INTEGER REFERENCES books(id),
            member_id INTEGER REFERENCES members(id), borrow_date TEXT, due_date TEXT, return_date TEXT)`,
		`INSERT INTO books VALUES (1, 'Dune', 'Herbert', 0, NULL)`,
		`INSERT INTO members VALUES (1, 'Ada', 'pw', 0)`,
		`INSERT INTO loans VALUES (1, 1, 1, '2024-03-01', '2024-03-15', NULL)`,
	} {
		_, err := raw.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, raw.Close())

	db, err := NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	m, err := NewSQLiteService(db, false).FindMember(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, m.Loans, 1)
	assert.Equal(t, int64(1), m.Loans[0].BookID())
	assert.True(t, m.Loans[0].FinePaid.IsZero())
}

func TestNewDatabase_UpgradeFromVersion2(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v2.db")

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT)`,
		`INSERT INTO meta VALUES ('schema_version', '2')`,
		`CREATE TABLE loans (id INTEGER PRIMARY KEY AUTOINCREMENT, book_id INTEGER NOT NULL,
            member_id INTEGER NOT NULL, borrow_date TEXT NOT NULL, due_date TEXT NOT NULL, return_date TEXT)`,
		`INSERT INTO loans(book_id,member_id,borrow_date,due_date) VALUES (2, 7, '2024-02-01', '2024-02-15')`,
		// Already imported by the version 2 upgrade.
		`CREATE TABLE borrowed_books (id INTEGER PRIMARY KEY, member_id INTEGER, book_id INTEGER,
            borrow_date TEXT, due_date TEXT, return_date TEXT)`,
		`INSERT INTO borrowed_books VALUES (1, 7, 2, '2024-02-01', '2024-02-15', NULL)`,
	} {
		_, err := raw.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, raw.Close())

	db, err := NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	n, err := NewLedger(db).CountForBook(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "borrowed_books must not be imported twice")

	require.NoError(t, NewLedger(db).SetFinePaid(context.Background(), 1, dec("1.50")))
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	db := tempDB(t)
	store := NewBookStore(db)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.SaveAll(ctx, []Book{NewBook(1, "Dune", "Herbert")}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	books, err := store.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestWithinTx_NestedJoinsOuter(t *testing.T) {
	db := tempDB(t)
	store := NewBookStore(db)
	ctx := context.Background()

	err := db.WithinTx(ctx, func(ctx context.Context) error {
		outer, _ := txFrom(ctx)
		return db.WithinTx(ctx, func(ctx context.Context) error {
			inner, _ := txFrom(ctx)
			assert.Same(t, outer, inner)
			return store.SaveAll(ctx, []Book{NewBook(1, "Dune", "Herbert")})
		})
	})
	require.NoError(t, err)

	_, ok, err := store.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
