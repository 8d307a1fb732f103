package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// BookLookup resolves a book id to its current state.
type BookLookup interface {
	Lookup(ctx context.Context, id int64) (Book, bool, error)
}

// Ledger is the append-only record of every loan, stored in the loans table.
// A borrow always inserts a row; a return only fills in return_date on the
// book's open rows.
//
// At most one open row per book is expected. When that does not hold, the
// default behaviour is to close every open row on return and to report the
// most recently inserted one as the current borrower. In strict mode both
// operations fail with ErrInconsistentLedger instead.
type Ledger struct {
	db     *Database
	strict bool
	logger *slog.Logger
}

type LedgerOption func(*Ledger)

// WithStrictOpenLoans rejects books with more than one open loan row.
func WithStrictOpenLoans(strict bool) LedgerOption {
	return func(l *Ledger) { l.strict = strict }
}

func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

func NewLedger(db *Database, opts ...LedgerOption) *Ledger {
	l := &Ledger{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordBorrow appends a row for loan and stores the new row id on it.
func (l *Ledger) RecordBorrow(ctx context.Context, memberID int64, loan *Loan) error {
	var ret sql.NullString
	if loan.ReturnDate != nil {
		ret = sql.NullString{String: loan.ReturnDate.Format(DateLayout), Valid: true}
	}
	res, err := l.db.conn(ctx).ExecContext(ctx,
		`INSERT INTO loans(member_id,book_id,borrow_date,due_date,return_date) VALUES(?,?,?,?,?)`,
		memberID, loan.BookID(), loan.BorrowDate.Format(DateLayout), loan.DueDate.Format(DateLayout), ret)
	if err != nil {
		return storageErr("record borrow", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storageErr("record borrow", err)
	}
	loan.ID = id
	return nil
}

// MarkReturned closes every open row for bookID and reports how many rows
// changed.
func (l *Ledger) MarkReturned(ctx context.Context, bookID int64, today time.Time) (int64, error) {
	if err := l.checkSingleOpen(ctx, bookID); err != nil {
		return 0, err
	}
	res, err := l.db.conn(ctx).ExecContext(ctx,
		`UPDATE loans SET return_date=? WHERE book_id=? AND return_date IS NULL`,
		DateOf(today).Format(DateLayout), bookID)
	if err != nil {
		return 0, storageErr("mark returned", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("mark returned", err)
	}
	if n > 1 {
		l.logger.Warn("closed more than one open loan", "book_id", bookID, "rows", n)
	}
	return n, nil
}

// SetFinePaid records how much of loanID's fine has been settled.
func (l *Ledger) SetFinePaid(ctx context.Context, loanID int64, amount decimal.Decimal) error {
	_, err := l.db.conn(ctx).ExecContext(ctx,
		`UPDATE loans SET fine_paid=? WHERE id=?`, amount.Round(2).InexactFloat64(), loanID)
	return storageErr("set fine paid", err)
}

// IsOpen reports whether bookID has an open loan.
func (l *Ledger) IsOpen(ctx context.Context, bookID int64) (bool, error) {
	n, err := l.openCount(ctx, bookID)
	return n > 0, err
}

// CurrentBorrowerID returns the member holding bookID.
func (l *Ledger) CurrentBorrowerID(ctx context.Context, bookID int64) (int64, bool, error) {
	if err := l.checkSingleOpen(ctx, bookID); err != nil {
		return 0, false, err
	}
	return l.scanID(ctx, "current borrower",
		`SELECT member_id FROM loans WHERE book_id=? AND return_date IS NULL ORDER BY id DESC LIMIT 1`, bookID)
}

// LastBorrowerID returns the member on the most recent row for bookID,
// open or closed.
func (l *Ledger) LastBorrowerID(ctx context.Context, bookID int64) (int64, bool, error) {
	return l.scanID(ctx, "last borrower",
		`SELECT member_id FROM loans WHERE book_id=? ORDER BY borrow_date DESC, id DESC LIMIT 1`, bookID)
}

// OpenDueDate returns the due date of the open loan on bookID.
func (l *Ledger) OpenDueDate(ctx context.Context, bookID int64) (time.Time, bool, error) {
	var s string
	err := l.db.conn(ctx).QueryRowContext(ctx,
		`SELECT due_date FROM loans WHERE book_id=? AND return_date IS NULL ORDER BY id DESC LIMIT 1`, bookID).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, storageErr("open due date", err)
	}
	due, err := ParseDate(s)
	if err != nil {
		return time.Time{}, false, storageErr("open due date", err)
	}
	return due, true, nil
}

// CountForBook counts every row ever written for bookID.
func (l *Ledger) CountForBook(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := l.db.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM loans WHERE book_id=?`, bookID).Scan(&n)
	return n, storageErr("count loans", err)
}

// HasOpenLoansForMember reports whether memberID holds any book.
func (l *Ledger) HasOpenLoansForMember(ctx context.Context, memberID int64) (bool, error) {
	var n int
	err := l.db.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE member_id=? AND return_date IS NULL`, memberID).Scan(&n)
	return n > 0, storageErr("count member loans", err)
}

// LoansForMember rebuilds every loan of memberID, oldest first, pairing each
// row with the current state of its book. Rows whose book no longer exists
// are skipped.
func (l *Ledger) LoansForMember(ctx context.Context, memberID int64, books BookLookup) ([]*Loan, error) {
	return l.loansForMember(ctx, memberID, books, false)
}

// OpenLoansForMember is LoansForMember restricted to unreturned loans.
func (l *Ledger) OpenLoansForMember(ctx context.Context, memberID int64, books BookLookup) ([]*Loan, error) {
	return l.loansForMember(ctx, memberID, books, true)
}

type ledgerRow struct {
	id                  int64
	bookID              int64
	borrowDate, dueDate string
	returnDate          sql.NullString
	finePaid            float64
}

func (l *Ledger) loansForMember(ctx context.Context, memberID int64, books BookLookup, openOnly bool) ([]*Loan, error) {
	query := `SELECT id,book_id,borrow_date,due_date,return_date,fine_paid FROM loans WHERE member_id=?`
	if openOnly {
		query += ` AND return_date IS NULL`
	}
	query += ` ORDER BY id`

	// Rows are drained before the book lookups: the database has a single
	// connection.
	rows, err := l.db.conn(ctx).QueryContext(ctx, query, memberID)
	if err != nil {
		return nil, storageErr("load loans", err)
	}
	var raw []ledgerRow
	for rows.Next() {
		var r ledgerRow
		if err := rows.Scan(&r.id, &r.bookID, &r.borrowDate, &r.dueDate, &r.returnDate, &r.finePaid); err != nil {
			rows.Close()
			return nil, storageErr("load loans", err)
		}
		raw = append(raw, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("load loans", err)
	}

	loans := make([]*Loan, 0, len(raw))
	for _, r := range raw {
		book, ok, err := books.Lookup(ctx, r.bookID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		loan, err := r.toLoan(book)
		if err != nil {
			return nil, storageErr(fmt.Sprintf("load loan %d", r.id), err)
		}
		loans = append(loans, loan)
	}
	return loans, nil
}

func (r ledgerRow) toLoan(book Book) (*Loan, error) {
	borrowed, err := ParseDate(r.borrowDate)
	if err != nil {
		return nil, err
	}
	due, err := ParseDate(r.dueDate)
	if err != nil {
		return nil, err
	}
	var returned *time.Time
	if r.returnDate.Valid {
		t, err := ParseDate(r.returnDate.String)
		if err != nil {
			return nil, err
		}
		returned = &t
	}
	loan, err := RestoreLoan(r.id, book, borrowed, due, returned)
	if err != nil {
		return nil, err
	}
	loan.FinePaid = decimal.NewFromFloat(r.finePaid).Round(2)
	return loan, nil
}

func (l *Ledger) openCount(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := l.db.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE book_id=? AND return_date IS NULL`, bookID).Scan(&n)
	return n, storageErr("count open loans", err)
}

func (l *Ledger) checkSingleOpen(ctx context.Context, bookID int64) error {
	if !l.strict {
		return nil
	}
	n, err := l.openCount(ctx, bookID)
	if err != nil {
		return err
	}
	if n > 1 {
		return fmt.Errorf("%w: %w: book %d has %d open loans", ErrState, ErrInconsistentLedger, bookID, n)
	}
	return nil
}

func (l *Ledger) scanID(ctx context.Context, op, query string, args ...any) (int64, bool, error) {
	var id int64
	err := l.db.conn(ctx).QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageErr(op, err)
	}
	return id, true, nil
}
