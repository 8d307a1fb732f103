package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Database owns the single SQLite connection shared by the stores and the
// ledger. It is created and closed by the caller; nothing is global.
type Database struct {
	db   *sql.DB
	path string
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations. ":memory:" is accepted for throwaway databases.
func NewDatabase(dbPath string) (*Database, error) {
	// Foreign keys are declared but not enforced: ledger rows outlive the
	// books and members they reference.
	dsn := "file::memory:"
	if dbPath != ":memory:" {
		// Ensure directory exists so first-run succeeds.
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection for the whole process. Every statement inside a
	// transaction must go through the *sql.Tx carried by the context.
	db.SetMaxOpenConns(1)

	if err := applyMigrations(db, dbPath != ":memory:"); err != nil {
		db.Close()
		return nil, err
	}
	return &Database{db: db, path: dbPath}, nil
}

// Path is the file the database was opened from.
func (d *Database) Path() string { return d.path }

// Close closes the connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// conn returns the transaction bound to ctx, or the pool.
func (d *Database) conn(ctx context.Context) querier {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return d.db
}

// WithinTx runs fn inside a transaction. A context that already carries a
// transaction is reused, so nested calls join the outer transaction.
func (d *Database) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(withTx(ctx, tx)); err != nil {
		return err
	}
	return storageErr("commit transaction", tx.Commit())
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 3

func applyMigrations(db *sql.DB, wal bool) error {
	if wal {
		// WAL lets readers proceed while a write transaction is open.
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            available INTEGER NOT NULL DEFAULT 1,
            cover_path TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS members (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            password TEXT NOT NULL,
            balance REAL NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS loans (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            book_id INTEGER NOT NULL REFERENCES books(id),
            member_id INTEGER NOT NULL REFERENCES members(id),
            borrow_date TEXT NOT NULL,
            due_date TEXT NOT NULL,
            return_date TEXT,
            fine_paid REAL NOT NULL DEFAULT 0
        );`,
		`CREATE INDEX IF NOT EXISTS idx_loans_book ON loans(book_id, return_date);`,
		`CREATE INDEX IF NOT EXISTS idx_loans_member ON loans(member_id);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	// Version 3 added fine_paid. A loans table created by version 2, or by
	// another program using the plain ledger layout, lacks it.
	if err := ensureColumn(tx, "loans", "fine_paid", "REAL NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	if current < 2 {
		if err := importLegacyLoans(tx); err != nil {
			return fmt.Errorf("import borrowed_books: %w", err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return tx.Commit()
}

// ensureColumn adds column to table unless it is already there.
func ensureColumn(tx *sql.Tx, table, column, decl string) error {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	found := false
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		if name == column {
			found = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if found {
		return nil
	}
	_, err = tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// importLegacyLoans copies rows from the borrowed_books table written by
// older releases into loans. It runs once, when upgrading from before version 2.
func importLegacyLoans(tx *sql.Tx) error {
	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='borrowed_books'`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	_, err := tx.Exec(`INSERT INTO loans(book_id, member_id, borrow_date, due_date, return_date)
        SELECT book_id, member_id, borrow_date, COALESCE(due_date, borrow_date), return_date
        FROM borrowed_books ORDER BY id`)
	return err
}
