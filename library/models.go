package library

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Book represents a title in the catalogue and whether it is on the shelf.
// Available is the only thing consulted when a new loan is requested.
type Book struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Available bool   `json:"available"`
	CoverPath string `json:"cover_path,omitempty"`
}

// NewBook returns an available book.
func NewBook(id int64, title, author string) Book {
	return Book{ID: id, Title: title, Author: author, Available: true}
}

func (b Book) EntityID() int64 { return b.ID }

func (b Book) validate() error {
	v := newValidator()
	v.check(b.ID > 0, "id", "must be a positive integer")
	v.check(strings.TrimSpace(b.Title) != "", "title", "must be provided")
	v.check(strings.TrimSpace(b.Author) != "", "author", "must be provided")
	return v.err()
}

// Member represents a registered borrower. Password is stored and echoed
// verbatim. Loans holds the member's open loans while the value is in memory;
// the ledger is the durable record.
type Member struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Password string          `json:"-"`
	Balance  decimal.Decimal `json:"balance"`
	Loans    []*Loan         `json:"-"`
}

// NewMember returns a member with a zero balance and no loans.
func NewMember(id int64, name, password string) Member {
	return Member{ID: id, Name: name, Password: password, Balance: decimal.Zero}
}

func (m Member) EntityID() int64 { return m.ID }

func (m Member) validate() error {
	v := newValidator()
	v.check(m.ID > 0, "id", "must be a positive integer")
	v.check(strings.TrimSpace(m.Name) != "", "name", "must be provided")
	return v.err()
}

// SetBalance stores amount, clamping negatives to zero.
func (m *Member) SetBalance(amount decimal.Decimal) {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	m.Balance = amount
}

// PayFine reduces the balance by amount, never below zero.
func (m *Member) PayFine(amount decimal.Decimal) error {
	v := newValidator()
	v.check(amount.IsPositive(), "amount", "must be positive")
	if err := v.err(); err != nil {
		return err
	}
	m.SetBalance(m.Balance.Sub(amount))
	return nil
}

// AddFine adds a manual surcharge.
func (m *Member) AddFine(amount decimal.Decimal) error {
	v := newValidator()
	v.check(!amount.IsNegative(), "amount", "must not be negative")
	if err := v.err(); err != nil {
		return err
	}
	m.SetBalance(m.Balance.Add(amount))
	return nil
}

// AttachLoan records a new open loan on the member.
func (m *Member) AttachLoan(l *Loan) error {
	if l == nil {
		return &ValidationError{Fields: map[string]string{"loan": "must be provided"}}
	}
	m.Loans = append(m.Loans, l)
	return nil
}

// DetachLoan drops l from the member's loans.
func (m *Member) DetachLoan(l *Loan) error {
	if l == nil {
		return &ValidationError{Fields: map[string]string{"loan": "must be provided"}}
	}
	for i, cur := range m.Loans {
		if cur == l {
			m.Loans = append(m.Loans[:i:i], m.Loans[i+1:]...)
			return nil
		}
	}
	return &LoanNotHeldError{MemberID: m.ID, BookID: l.BookID()}
}

// OpenLoanFor returns the member's open loan for bookID, if any.
func (m *Member) OpenLoanFor(bookID int64) (*Loan, bool) {
	for _, l := range m.Loans {
		if l.BookID() == bookID && !l.IsReturned() {
			return l, true
		}
	}
	return nil, false
}

// Report is a count of catalogue and membership size.
type Report struct {
	TotalBooks   int `json:"total_books"`
	TotalMembers int `json:"total_members"`
}
