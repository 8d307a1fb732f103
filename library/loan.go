package library

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the on-disk format of every ledger date.
const DateLayout = "2006-01-02"

// Clock supplies the current calendar date.
type Clock interface {
	Today() time.Time
}

// SystemClock reads the wall clock in local time.
type SystemClock struct{}

func (SystemClock) Today() time.Time { return DateOf(time.Now()) }

// DateOf truncates t to its calendar date, expressed as UTC midnight so that
// day arithmetic never crosses a DST boundary.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// daysBetween counts whole days from a to b; negative when b is before a.
func daysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// Loan is one borrowing transaction. Book is a snapshot of the borrowed
// book taken when the loan was created or loaded. FinePaid is the part of
// the loan's accrued fine that has already been paid or forgiven.
type Loan struct {
	ID         int64
	Book       Book
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	FinePaid   decimal.Decimal
}

// NewLoan starts a loan today. The due date may be today but not earlier.
func NewLoan(book Book, today, due time.Time) (*Loan, error) {
	v := newValidator()
	v.check(book.ID != 0, "book", "must be provided")
	v.check(!due.IsZero(), "due_date", "must be provided")
	if !due.IsZero() {
		v.check(!DateOf(due).Before(DateOf(today)), "due_date", "must not be in the past")
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	return &Loan{
		Book:       book,
		BorrowDate: DateOf(today),
		DueDate:    DateOf(due),
	}, nil
}

// RestoreLoan rebuilds a loan read back from storage. Historical due dates
// are accepted as-is.
func RestoreLoan(id int64, book Book, borrowed, due time.Time, returned *time.Time) (*Loan, error) {
	v := newValidator()
	v.check(book.ID != 0, "book", "must be provided")
	v.check(!borrowed.IsZero(), "borrow_date", "must be provided")
	v.check(!due.IsZero(), "due_date", "must be provided")
	if err := v.err(); err != nil {
		return nil, err
	}
	l := &Loan{
		ID:         id,
		Book:       book,
		BorrowDate: DateOf(borrowed),
		DueDate:    DateOf(due),
	}
	if returned != nil {
		r := DateOf(*returned)
		l.ReturnDate = &r
	}
	return l, nil
}

func (l *Loan) BookID() int64 { return l.Book.ID }

func (l *Loan) IsReturned() bool { return l.ReturnDate != nil }

// IsOverdue is true only for an open loan whose due date has passed. A
// returned loan is never overdue.
func (l *Loan) IsOverdue(today time.Time) bool {
	if l.IsReturned() {
		return false
	}
	return DateOf(today).After(l.DueDate)
}

// DaysOverdue is max(0, today - due) for open loans and 0 otherwise.
func (l *Loan) DaysOverdue(today time.Time) int {
	if !l.IsOverdue(today) {
		return 0
	}
	return daysBetween(l.DueDate, today)
}

// MarkReturned closes the loan. A loan can be returned once.
func (l *Loan) MarkReturned(today time.Time) error {
	if l.IsReturned() {
		return stateErrorf("book %d already returned on %s", l.Book.ID, l.ReturnDate.Format(DateLayout))
	}
	r := DateOf(today)
	l.ReturnDate = &r
	return nil
}
