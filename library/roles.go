package library

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Role tags what a signed-in user may do. Capabilities come from the view
// the Service hands out for the role, not from the user value.
type Role int

const (
	RoleMember Role = iota
	RoleLibrarian
)

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleLibrarian:
		return "librarian"
	default:
		return "unknown"
	}
}

// Librarian is the staff view: catalogue upkeep, membership and fine
// administration.
type Librarian struct {
	svc *Service
}

func (s *Service) AsLibrarian() Librarian { return Librarian{svc: s} }

func (Librarian) Role() Role { return RoleLibrarian }

func (l Librarian) AddBook(ctx context.Context, b *Book) error { return l.svc.AddBook(ctx, b) }

func (l Librarian) RemoveBook(ctx context.Context, b Book) error { return l.svc.RemoveBook(ctx, b) }

func (l Librarian) RegisterMember(ctx context.Context, m *Member) error {
	return l.svc.RegisterMember(ctx, m)
}

func (l Librarian) RemoveMember(ctx context.Context, m Member) error {
	return l.svc.RemoveMember(ctx, m)
}

func (l Librarian) Report(ctx context.Context) (Report, error) { return l.svc.Report(ctx) }

func (l Librarian) ClearFine(ctx context.Context, m *Member) error { return l.svc.ClearFine(ctx, m) }

func (l Librarian) AddFine(ctx context.Context, m *Member, amount decimal.Decimal) error {
	return l.svc.AddFine(ctx, m, amount)
}

// Patron is the view a member gets of their own account.
type Patron struct {
	svc    *Service
	member *Member
}

// AsPatron binds m to a member view. m is updated in place by every call.
func (s *Service) AsPatron(m *Member) Patron { return Patron{svc: s, member: m} }

func (Patron) Role() Role { return RoleMember }

func (p Patron) Member() *Member { return p.member }

// Borrow lends b until due. A zero due uses the default loan period.
func (p Patron) Borrow(ctx context.Context, b *Book, due time.Time) (*Loan, error) {
	if due.IsZero() {
		due = p.svc.DefaultDueDate()
	}
	return p.svc.BorrowBook(ctx, p.member, b, due)
}

func (p Patron) Return(ctx context.Context, b *Book) error { return p.svc.ReturnBook(ctx, p.member, b) }

func (p Patron) PayFine(ctx context.Context, amount decimal.Decimal) error {
	return p.svc.PayFine(ctx, p.member, amount)
}

// Loans lists the member's open loans.
func (p Patron) Loans() []*Loan { return p.member.Loans }

func (p Patron) History(ctx context.Context) ([]*Loan, error) {
	return p.svc.LoanHistory(ctx, p.member.ID)
}
