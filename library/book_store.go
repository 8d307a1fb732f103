package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// BookStore persists books in the books table.
type BookStore struct {
	db *Database
}

func NewBookStore(db *Database) *BookStore {
	return &BookStore{db: db}
}

// SaveAll updates each book that already has a row and inserts the rest.
func (s *BookStore) SaveAll(ctx context.Context, books []Book) error {
	q := s.db.conn(ctx)
	var errs []error
	for _, b := range books {
		if err := upsertBook(ctx, q, b); err != nil {
			errs = append(errs, fmt.Errorf("book %d: %w", b.ID, err))
		}
	}
	if len(errs) > 0 {
		return storageErr("save books", errors.Join(errs...))
	}
	return nil
}

func upsertBook(ctx context.Context, q querier, b Book) error {
	res, err := q.ExecContext(ctx,
		`UPDATE books SET title=?, author=?, available=?, cover_path=? WHERE id=?`,
		b.Title, b.Author, boolToInt(b.Available), nullString(b.CoverPath), b.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO books(id,title,author,available,cover_path) VALUES(?,?,?,?,?)`,
		b.ID, b.Title, b.Author, boolToInt(b.Available), nullString(b.CoverPath))
	return err
}

func (s *BookStore) ReadAll(ctx context.Context) ([]Book, error) {
	rows, err := s.db.conn(ctx).QueryContext(ctx, `SELECT id,title,author,available,cover_path FROM books ORDER BY id`)
	if err != nil {
		return nil, storageErr("read books", err)
	}
	defer rows.Close()

	books := []Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, storageErr("read books", err)
		}
		books = append(books, b)
	}
	return books, storageErr("read books", rows.Err())
}

func (s *BookStore) FindByID(ctx context.Context, id int64) (Book, bool, error) {
	row := s.db.conn(ctx).QueryRowContext(ctx, `SELECT id,title,author,available,cover_path FROM books WHERE id=?`, id)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, false, nil
	}
	if err != nil {
		return Book{}, false, storageErr("find book", err)
	}
	return b, true, nil
}

func (s *BookStore) DeleteByID(ctx context.Context, id int64) error {
	_, err := s.db.conn(ctx).ExecContext(ctx, `DELETE FROM books WHERE id=?`, id)
	return storageErr("delete book", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(r rowScanner) (Book, error) {
	var (
		b         Book
		available int64
		cover     sql.NullString
	)
	if err := r.Scan(&b.ID, &b.Title, &b.Author, &available, &cover); err != nil {
		return Book{}, err
	}
	b.Available = available != 0
	b.CoverPath = cover.String
	return b, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
