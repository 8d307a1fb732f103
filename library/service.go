package library

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DailyFine is charged for every day an open loan is past its due date.
var DailyFine = decimal.RequireFromString("0.50")

// DefaultLoanPeriod is used by DefaultDueDate unless overridden.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// RemovalPolicy decides whether books and members that are part of an open
// loan may be removed.
type RemovalPolicy string

const (
	// RemovalAllow deletes unconditionally.
	RemovalAllow RemovalPolicy = "allow"
	// RemovalBlock refuses to delete a borrowed book or a member who still
	// holds books.
	RemovalBlock RemovalPolicy = "block"
)

// Service implements the circulation rules on top of the repositories and
// the ledger. It is the only type callers are expected to use.
//
// Business operations are serialized. The persistence steps of each
// operation run in one transaction, and the in-memory values passed in are
// restored when that transaction fails.
type Service struct {
	mu sync.Mutex

	books   *Repository[Book]
	members *Repository[Member]
	ledger  *Ledger
	tx      Transactor

	clock      Clock
	logger     *slog.Logger
	removal    RemovalPolicy
	loanPeriod time.Duration
}

type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithRemovalPolicy(p RemovalPolicy) Option { return func(s *Service) { s.removal = p } }

func WithTransactor(tx Transactor) Option { return func(s *Service) { s.tx = tx } }

// WithLoanPeriod sets the span used by DefaultDueDate.
func WithLoanPeriod(d time.Duration) Option { return func(s *Service) { s.loanPeriod = d } }

// NewService builds a Service. Without WithTransactor the persistence steps
// of an operation are independent writes. ledger may be nil for a service
// that only computes fines; operations that need loan records then fail
// with a StateError.
func NewService(books *Repository[Book], members *Repository[Member], ledger *Ledger, opts ...Option) *Service {
	s := &Service{
		books:      books,
		members:    members,
		ledger:     ledger,
		tx:         noTx{},
		clock:      SystemClock{},
		logger:     slog.Default(),
		removal:    RemovalBlock,
		loanPeriod: DefaultLoanPeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSQLiteService wires the SQLite stores and ledger of db into a Service
// whose operations run in database transactions.
func NewSQLiteService(db *Database, strictLedger bool, opts ...Option) *Service {
	ledger := NewLedger(db, WithStrictOpenLoans(strictLedger))
	s := NewService(
		NewRepository[Book](NewBookStore(db), "book"),
		NewRepository[Member](NewMemberStore(db), "member"),
		ledger,
		append([]Option{WithTransactor(db)}, opts...)...,
	)
	ledger.logger = s.logger
	return s
}

// NewMemoryService builds a Service over in-memory stores and no ledger.
// Catalogue and membership operations work; circulation does not.
func NewMemoryService(opts ...Option) *Service {
	return NewService(
		NewRepository[Book](NewMemoryStore[Book](), "book"),
		NewRepository[Member](NewMemoryStore[Member](), "member"),
		nil,
		opts...,
	)
}

func (s *Service) requireLedger() error {
	if s.ledger == nil {
		return stateErrorf("no loan ledger configured")
	}
	return nil
}

// Today is the service clock's current date.
func (s *Service) Today() time.Time { return s.clock.Today() }

// DefaultDueDate is today plus the configured loan period.
func (s *Service) DefaultDueDate() time.Time {
	return DateOf(s.clock.Today().Add(s.loanPeriod))
}

// ------------------ Catalogue and membership ------------------

// RegisterMember stores m. An existing member with the same id is replaced.
func (s *Service) RegisterMember(ctx context.Context, m *Member) error {
	if m == nil {
		return requiredErr("member")
	}
	if err := m.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.members.Save(ctx, *m); err != nil {
		return err
	}
	s.logger.Info("member registered", "member_id", m.ID)
	return nil
}

// AddBook stores b. An existing book with the same id is replaced.
func (s *Service) AddBook(ctx context.Context, b *Book) error {
	if b == nil {
		return requiredErr("book")
	}
	if err := b.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.books.Save(ctx, *b); err != nil {
		return err
	}
	s.logger.Info("book added", "book_id", b.ID, "title", b.Title)
	return nil
}

// RemoveBook deletes b by id.
func (s *Service) RemoveBook(ctx context.Context, b Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removal == RemovalBlock {
		if err := s.requireLedger(); err != nil {
			return err
		}
		open, err := s.ledger.IsOpen(ctx, b.ID)
		if err != nil {
			return err
		}
		if open || !b.Available {
			return stateErrorf("cannot delete book %d %q: it is currently borrowed", b.ID, b.Title)
		}
	}
	if err := s.books.Delete(ctx, b.ID); err != nil {
		return err
	}
	s.logger.Info("book removed", "book_id", b.ID)
	return nil
}

// RemoveMember deletes m by id.
func (s *Service) RemoveMember(ctx context.Context, m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removal == RemovalBlock {
		if err := s.requireLedger(); err != nil {
			return err
		}
		holds, err := s.ledger.HasOpenLoansForMember(ctx, m.ID)
		if err != nil {
			return err
		}
		if holds || len(m.Loans) > 0 {
			return stateErrorf("cannot delete member %d %q: they have borrowed books", m.ID, m.Name)
		}
	}
	if err := s.members.Delete(ctx, m.ID); err != nil {
		return err
	}
	s.logger.Info("member removed", "member_id", m.ID)
	return nil
}

// ------------------ Circulation ------------------

// BorrowBook lends b to m until due. b must be available; nothing is
// changed when it is not.
func (s *Service) BorrowBook(ctx context.Context, m *Member, b *Book, due time.Time) (*Loan, error) {
	if m == nil {
		return nil, requiredErr("member")
	}
	if b == nil {
		return nil, requiredErr("book")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLedger(); err != nil {
		return nil, err
	}
	if !b.Available {
		return nil, stateErrorf("book %d %q is not available for borrowing", b.ID, b.Title)
	}
	today := s.clock.Today()
	loan, err := NewLoan(*b, today, due)
	if err != nil {
		return nil, err
	}

	prevLoans := m.Loans
	b.Available = false
	loan.Book = *b
	if err := m.AttachLoan(loan); err != nil {
		b.Available = true
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ledger.RecordBorrow(ctx, m.ID, loan); err != nil {
			return err
		}
		if err := s.members.Save(ctx, *m); err != nil {
			return err
		}
		return s.books.Save(ctx, *b)
	})
	if err != nil {
		b.Available = true
		m.Loans = prevLoans
		loan.ID = 0
		return nil, err
	}

	s.logger.Info("book borrowed",
		"member_id", m.ID, "book_id", b.ID, "loan_id", loan.ID, "due", loan.DueDate.Format(DateLayout))
	return loan, nil
}

// CalculateFine is DailyFine per day overdue, or zero for a loan that is
// not overdue.
func (s *Service) CalculateFine(loan *Loan) decimal.Decimal {
	if loan == nil {
		return decimal.Zero
	}
	return fineFor(loan, s.clock.Today())
}

func fineFor(loan *Loan, today time.Time) decimal.Decimal {
	if !loan.IsOverdue(today) {
		return decimal.Zero
	}
	return DailyFine.Mul(decimal.NewFromInt(int64(loan.DaysOverdue(today))))
}

// UpdateMemberFines sets m's balance to the sum of unsettled fines on its
// open overdue loans. The balance is recomputed, not added to, so calling it
// repeatedly on the same day gives the same result.
func (s *Service) UpdateMemberFines(ctx context.Context, m *Member) error {
	if m == nil {
		return requiredErr("member")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateFines(ctx, m)
}

func (s *Service) updateFines(ctx context.Context, m *Member) error {
	today := s.clock.Today()
	total := decimal.Zero
	for _, l := range m.Loans {
		total = total.Add(outstandingFine(l, today))
	}
	prev := m.Balance
	m.SetBalance(total)
	if err := s.members.Save(ctx, *m); err != nil {
		m.Balance = prev
		return err
	}
	if !prev.Equal(total) {
		s.logger.Debug("fines updated", "member_id", m.ID, "balance", total.StringFixed(2))
	}
	return nil
}

// outstandingFine is the accrued fine of loan minus what was already paid
// or forgiven on it.
func outstandingFine(loan *Loan, today time.Time) decimal.Decimal {
	owed := fineFor(loan, today).Sub(loan.FinePaid)
	if owed.IsNegative() {
		return decimal.Zero
	}
	return owed
}

// ReturnLoan closes loan for m. Fines are recomputed first, and the return
// is refused while m owes anything, whether or not the debt comes from this
// loan.
func (s *Service) ReturnLoan(ctx context.Context, m *Member, loan *Loan) error {
	if m == nil {
		return requiredErr("member")
	}
	if loan == nil {
		return requiredErr("loan")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	held := heldLoan(m, loan)
	if held == nil {
		return &LoanNotHeldError{MemberID: m.ID, BookID: loan.BookID()}
	}
	return s.returnLoan(ctx, m, held)
}

// ReturnBook closes m's open loan on b. On success b is marked available.
func (s *Service) ReturnBook(ctx context.Context, m *Member, b *Book) error {
	if m == nil {
		return requiredErr("member")
	}
	if b == nil {
		return requiredErr("book")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	loan, ok := m.OpenLoanFor(b.ID)
	if !ok {
		return &LoanNotHeldError{MemberID: m.ID, BookID: b.ID}
	}
	if err := s.returnLoan(ctx, m, loan); err != nil {
		return err
	}
	b.Available = true
	return nil
}

// heldLoan finds the member's instance of loan: the same pointer, the same
// ledger row, or for an unrecorded loan the open loan on the same book.
func heldLoan(m *Member, loan *Loan) *Loan {
	for _, cur := range m.Loans {
		switch {
		case cur == loan:
			return cur
		case loan.ID != 0 && cur.ID == loan.ID:
			return cur
		case loan.ID == 0 && cur.BookID() == loan.BookID() && !cur.IsReturned():
			return cur
		}
	}
	return nil
}

func (s *Service) returnLoan(ctx context.Context, m *Member, loan *Loan) error {
	if loan.IsReturned() {
		return &LoanNotHeldError{MemberID: m.ID, BookID: loan.BookID()}
	}
	if err := s.requireLedger(); err != nil {
		return err
	}

	book, found, err := s.books.Lookup(ctx, loan.BookID())
	if err != nil {
		return err
	}
	if !found {
		book = loan.Book
	}

	today := s.clock.Today()
	prevBalance := m.Balance
	prevLoans := append([]*Loan(nil), m.Loans...)
	restore := func() {
		loan.ReturnDate = nil
		loan.Book.Available = false
		m.Balance = prevBalance
		m.Loans = prevLoans
	}

	// The recomputed balance is committed even when the return is refused.
	var refused bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.updateFines(ctx, m); err != nil {
			return err
		}
		if m.Balance.IsPositive() {
			refused = true
			return nil
		}

		if err := loan.MarkReturned(today); err != nil {
			return err
		}
		if err := m.DetachLoan(loan); err != nil {
			return err
		}
		book.Available = true
		loan.Book.Available = true

		if _, err := s.ledger.MarkReturned(ctx, book.ID, today); err != nil {
			return err
		}
		if err := s.members.Save(ctx, *m); err != nil {
			return err
		}
		if !found {
			// The book was deleted while on loan; do not recreate it.
			return nil
		}
		return s.books.Save(ctx, book)
	})
	if err != nil {
		restore()
		return err
	}
	if refused {
		s.logger.Info("return refused", "member_id", m.ID, "book_id", loan.BookID(), "balance", m.Balance.StringFixed(2))
		return &FineOutstandingError{MemberID: m.ID, Amount: m.Balance}
	}

	s.logger.Info("book returned", "member_id", m.ID, "book_id", book.ID, "loan_id", loan.ID)
	return nil
}

// ------------------ Fines ------------------

// ClearFine forgives m's whole balance. Fines accrued so far on open loans
// are settled, so the next recomputation starts from zero.
func (s *Service) ClearFine(ctx context.Context, m *Member) error {
	if m == nil {
		return requiredErr("member")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	today := s.clock.Today()
	return s.settle(ctx, m, func() error {
		for _, l := range m.Loans {
			l.FinePaid = l.FinePaid.Add(outstandingFine(l, today))
		}
		m.SetBalance(decimal.Zero)
		return nil
	})
}

// PayFine records a payment. amount must be positive; the balance never
// drops below zero. The payment settles open loans oldest first.
func (s *Service) PayFine(ctx context.Context, m *Member, amount decimal.Decimal) error {
	if m == nil {
		return requiredErr("member")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	today := s.clock.Today()
	return s.settle(ctx, m, func() error {
		credit := decimal.Min(amount, m.Balance)
		if err := m.PayFine(amount); err != nil {
			return err
		}
		for _, l := range m.Loans {
			if !credit.IsPositive() {
				break
			}
			owed := outstandingFine(l, today)
			if !owed.IsPositive() {
				continue
			}
			paid := decimal.Min(owed, credit)
			l.FinePaid = l.FinePaid.Add(paid)
			credit = credit.Sub(paid)
		}
		return nil
	})
}

// AddFine adds a manual surcharge. amount must not be negative. The
// surcharge lasts until the next recomputation of the member's fines.
func (s *Service) AddFine(ctx context.Context, m *Member, amount decimal.Decimal) error {
	if m == nil {
		return requiredErr("member")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settle(ctx, m, func() error { return m.AddFine(amount) })
}

// settle applies change to m and persists the balance together with every
// loan whose settled amount moved.
func (s *Service) settle(ctx context.Context, m *Member, change func() error) error {
	prevBalance := m.Balance
	prevPaid := make([]decimal.Decimal, len(m.Loans))
	for i, l := range m.Loans {
		prevPaid[i] = l.FinePaid
	}
	restore := func() {
		m.Balance = prevBalance
		for i, l := range m.Loans {
			l.FinePaid = prevPaid[i]
		}
	}

	if err := change(); err != nil {
		restore()
		return err
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for i, l := range m.Loans {
			if l.ID == 0 || l.FinePaid.Equal(prevPaid[i]) {
				continue
			}
			if err := s.requireLedger(); err != nil {
				return err
			}
			if err := s.ledger.SetFinePaid(ctx, l.ID, l.FinePaid); err != nil {
				return err
			}
		}
		return s.members.Save(ctx, *m)
	})
	if err != nil {
		restore()
		return err
	}
	s.logger.Info("balance changed", "member_id", m.ID, "from", prevBalance.StringFixed(2), "to", m.Balance.StringFixed(2))
	return nil
}

// SweepFines recomputes the balance of every member from the ledger and
// reports how many members owe money afterwards.
func (s *Service) SweepFines(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, err := s.members.FindAll(ctx)
	if err != nil {
		return 0, err
	}
	owing := 0
	for i := range members {
		m := &members[i]
		if err := s.hydrate(ctx, m); err != nil {
			return owing, err
		}
		if len(m.Loans) == 0 {
			continue
		}
		if err := s.updateFines(ctx, m); err != nil {
			return owing, err
		}
		if m.Balance.IsPositive() {
			owing++
		}
	}
	s.logger.Info("fine sweep finished", "members", len(members), "owing", owing)
	return owing, nil
}

// ------------------ Queries ------------------

// Books lists the catalogue in id order.
func (s *Service) Books(ctx context.Context) ([]Book, error) {
	return s.books.FindAll(ctx)
}

// Members lists members in id order, each with its open loans loaded from
// the ledger.
func (s *Service) Members(ctx context.Context) ([]Member, error) {
	members, err := s.members.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if err := s.hydrate(ctx, &members[i]); err != nil {
			return nil, err
		}
	}
	return members, nil
}

func (s *Service) FindBook(ctx context.Context, id int64) (Book, error) {
	return s.books.Get(ctx, id)
}

// FindMember loads one member with its open loans.
func (s *Service) FindMember(ctx context.Context, id int64) (Member, error) {
	m, err := s.members.Get(ctx, id)
	if err != nil {
		return m, err
	}
	return m, s.hydrate(ctx, &m)
}

// LoanHistory returns every loan, open or returned, of memberID.
func (s *Service) LoanHistory(ctx context.Context, memberID int64) ([]*Loan, error) {
	if err := s.requireLedger(); err != nil {
		return nil, err
	}
	return s.ledger.LoansForMember(ctx, memberID, s.books)
}

// CurrentBorrower returns the member holding bookID, if any.
func (s *Service) CurrentBorrower(ctx context.Context, bookID int64) (Member, bool, error) {
	if err := s.requireLedger(); err != nil {
		return Member{}, false, err
	}
	id, ok, err := s.ledger.CurrentBorrowerID(ctx, bookID)
	if err != nil || !ok {
		return Member{}, false, err
	}
	return s.members.Lookup(ctx, id)
}

// Report counts books and members. The two counts come from separate reads.
func (s *Service) Report(ctx context.Context) (Report, error) {
	books, err := s.books.FindAll(ctx)
	if err != nil {
		return Report{}, err
	}
	members, err := s.members.FindAll(ctx)
	if err != nil {
		return Report{}, err
	}
	return Report{TotalBooks: len(books), TotalMembers: len(members)}, nil
}

func (s *Service) hydrate(ctx context.Context, m *Member) error {
	if err := s.requireLedger(); err != nil {
		return err
	}
	loans, err := s.ledger.OpenLoansForMember(ctx, m.ID, s.books)
	if err != nil {
		return err
	}
	m.Loans = loans
	return nil
}

func requiredErr(field string) error {
	return &ValidationError{Fields: map[string]string{field: "must be provided"}}
}
