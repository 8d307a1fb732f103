package library

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNewLoan(t *testing.T) {
	book := NewBook(1, "Dune", "Herbert")
	today := day("2024-03-01")

	tests := []struct {
		name    string
		book    Book
		due     time.Time
		wantErr string
	}{
		{name: "due later", book: book, due: day("2024-03-15")},
		{name: "due today", book: book, due: today},
		{name: "due in the past", book: book, due: day("2024-02-29"), wantErr: "due_date"},
		{name: "missing due", book: book, wantErr: "due_date"},
		{name: "missing book", due: day("2024-03-15"), wantErr: "book"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loan, err := NewLoan(tt.book, today, tt.due)
			if tt.wantErr != "" {
				require.ErrorIs(t, err, ErrValidation)
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Contains(t, ve.Fields, tt.wantErr)
				assert.Nil(t, loan)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, today, loan.BorrowDate)
			assert.Equal(t, DateOf(tt.due), loan.DueDate)
			assert.False(t, loan.IsReturned())
			assert.Zero(t, loan.ID)
		})
	}
}

func TestRestoreLoan_AcceptsPastDueDates(t *testing.T) {
	returned := day("2020-01-20")
	loan, err := RestoreLoan(9, NewBook(1, "Dune", "Herbert"), day("2020-01-01"), day("2020-01-14"), &returned)
	require.NoError(t, err)
	assert.Equal(t, int64(9), loan.ID)
	assert.True(t, loan.IsReturned())

	_, err = RestoreLoan(9, NewBook(1, "Dune", "Herbert"), time.Time{}, day("2020-01-14"), nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLoan_Overdue(t *testing.T) {
	loan, err := NewLoan(NewBook(1, "Dune", "Herbert"), day("2024-03-01"), day("2024-03-10"))
	require.NoError(t, err)

	assert.False(t, loan.IsOverdue(day("2024-03-10")), "due date itself is not overdue")
	assert.Equal(t, 0, loan.DaysOverdue(day("2024-03-10")))
	assert.True(t, loan.IsOverdue(day("2024-03-11")))
	assert.Equal(t, 1, loan.DaysOverdue(day("2024-03-11")))
	assert.Equal(t, 21, loan.DaysOverdue(day("2024-03-31")))

	require.NoError(t, loan.MarkReturned(day("2024-03-31")))
	assert.False(t, loan.IsOverdue(day("2024-03-31")), "returned loans are never overdue")
	assert.Equal(t, 0, loan.DaysOverdue(day("2024-04-30")))
}

func TestLoan_MarkReturnedTwice(t *testing.T) {
	loan, err := NewLoan(NewBook(1, "Dune", "Herbert"), day("2024-03-01"), day("2024-03-10"))
	require.NoError(t, err)

	require.NoError(t, loan.MarkReturned(day("2024-03-05")))
	err = loan.MarkReturned(day("2024-03-06"))
	require.ErrorIs(t, err, ErrState)
	assert.Equal(t, day("2024-03-05"), *loan.ReturnDate)
}

func TestDateOf_DropsTimeAndZone(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	got := DateOf(time.Date(2024, 3, 1, 23, 30, 0, 0, loc))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)
}
