package library

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Error categories. Every error returned by this package matches exactly one
// of these with errors.Is, except LoanNotHeldError which matches both
// ErrNotFound and ErrState.
var (
	ErrValidation = errors.New("validation error")
	ErrState      = errors.New("state error")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage error")

	// ErrInconsistentLedger is reported in strict mode when a book has more
	// than one open loan row.
	ErrInconsistentLedger = errors.New("inconsistent ledger")
)

// ValidationError carries one message per offending field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, e.Fields[k]))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StateError reports an operation that is not allowed in the current state.
type StateError struct {
	Msg string
}

func (e *StateError) Error() string { return e.Msg }

func (e *StateError) Is(target error) bool { return target == ErrState }

func stateErrorf(format string, a ...any) error {
	return &StateError{Msg: fmt.Sprintf(format, a...)}
}

// FineOutstandingError is returned when a return is refused because the
// member still owes money.
type FineOutstandingError struct {
	MemberID int64
	Amount   decimal.Decimal
}

func (e *FineOutstandingError) Error() string {
	return fmt.Sprintf("cannot return book with outstanding fine of $%s", e.Amount.StringFixed(2))
}

func (e *FineOutstandingError) Is(target error) bool { return target == ErrState }

// NotFoundError reports a lookup by id with no match.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %d not found", e.Kind, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// LoanNotHeldError is returned when a member tries to return a book they do
// not currently hold.
type LoanNotHeldError struct {
	MemberID int64
	BookID   int64
}

func (e *LoanNotHeldError) Error() string {
	return fmt.Sprintf("member %d did not borrow book %d", e.MemberID, e.BookID)
}

func (e *LoanNotHeldError) Is(target error) bool {
	return target == ErrNotFound || target == ErrState
}

// StorageError wraps a failure coming from the database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
