package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"library-circulation/library"
)

// repl is the interactive front desk. It holds no rules of its own; every
// decision is made by the library service.
type repl struct {
	mgr *library.LibraryManager
	sc  *bufio.Scanner
	in  *os.File
	out io.Writer
}

func newREPL(mgr *library.LibraryManager, in *os.File, out io.Writer) *repl {
	return &repl{mgr: mgr, sc: bufio.NewScanner(in), in: in, out: out}
}

func (r *repl) printf(format string, a ...any) { fmt.Fprintf(r.out, format, a...) }

func (r *repl) Run(ctx context.Context) error {
	r.printf("Welcome to the Library Circulation Desk!\n")
	r.printHelp()

	for {
		r.printf("\n> ")
		if !r.sc.Scan() {
			return r.sc.Err()
		}
		cmd := strings.TrimSpace(r.sc.Text())

		switch cmd {
		case "add book":
			r.handleAddBook(ctx)
		case "remove book":
			r.handleRemoveBook(ctx)
		case "list books":
			r.handleListBooks(ctx)
		case "add member":
			r.handleAddMember(ctx)
		case "remove member":
			r.handleRemoveMember(ctx)
		case "list members":
			r.handleListMembers(ctx)
		case "checkout":
			r.handleCheckout(ctx)
		case "return":
			r.handleReturn(ctx)
		case "history":
			r.handleHistory(ctx)
		case "fines":
			r.handleFines(ctx)
		case "pay fine":
			r.handlePayFine(ctx)
		case "add fine":
			r.handleAddFine(ctx)
		case "clear fine":
			r.handleClearFine(ctx)
		case "report":
			r.handleReport(ctx)
		case "help":
			r.printHelp()
		case "exit":
			r.printf("Goodbye!\n")
			return nil
		case "":
		default:
			r.printf("Unknown command. Type 'help' to see the available commands.\n")
		}
	}
}

func (r *repl) printHelp() {
	r.printf("Available commands:\n")
	r.printf("  Books: add book, remove book, list books\n")
	r.printf("  Members: add member, remove member, list members\n")
	r.printf("  Circulation: checkout, return, history\n")
	r.printf("  Fines: fines, pay fine, add fine, clear fine\n")
	r.printf("  System: report, help, exit\n")
}

// ------------------ Input helpers ------------------

func (r *repl) prompt(label string) (string, bool) {
	r.printf("%s: ", label)
	if !r.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(r.sc.Text()), true
}

func (r *repl) promptID(label string) (int64, bool) {
	s, ok := r.prompt(label)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.printf("Invalid %s: %s\n", strings.ToLower(label), s)
		return 0, false
	}
	return id, true
}

func (r *repl) promptAmount(label string) (decimal.Decimal, bool) {
	s, ok := r.prompt(label)
	if !ok {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(strings.TrimPrefix(s, "$"))
	if err != nil {
		r.printf("Invalid amount: %s\n", s)
		return decimal.Zero, false
	}
	return amount, true
}

// readPassword reads a password with masking when stdin is a terminal and
// as a plain line otherwise.
func (r *repl) readPassword(prompt string) (string, error) {
	r.printf("%s", prompt)
	fd := int(r.in.Fd())
	if !term.IsTerminal(fd) {
		if !r.sc.Scan() {
			return "", io.ErrUnexpectedEOF
		}
		return strings.TrimSpace(r.sc.Text()), nil
	}
	bytePassword, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	r.printf("\n")
	return strings.TrimSpace(string(bytePassword)), nil
}

var errBadPassword = errors.New("invalid password")

// signIn loads a member with its open loans and checks the password.
func (r *repl) signIn(ctx context.Context) (*library.Member, bool) {
	memberID, ok := r.promptID("Member ID")
	if !ok {
		return nil, false
	}
	member, err := r.mgr.FindMember(ctx, memberID)
	if err != nil {
		r.printf("Error: %v\n", err)
		return nil, false
	}
	password, err := r.readPassword("Enter your password: ")
	if err != nil {
		r.printf("Failed to read password: %v\n", err)
		return nil, false
	}
	if password != member.Password {
		r.printf("Authentication failed: %v\n", errBadPassword)
		return nil, false
	}
	return &member, true
}

func (r *repl) lookupBook(ctx context.Context) (*library.Book, bool) {
	bookID, ok := r.promptID("Book ID")
	if !ok {
		return nil, false
	}
	book, err := r.mgr.FindBook(ctx, bookID)
	if err != nil {
		r.printf("Error: %v\n", err)
		return nil, false
	}
	return &book, true
}

func (r *repl) lookupMember(ctx context.Context) (*library.Member, bool) {
	memberID, ok := r.promptID("Member ID")
	if !ok {
		return nil, false
	}
	member, err := r.mgr.FindMember(ctx, memberID)
	if err != nil {
		r.printf("Error: %v\n", err)
		return nil, false
	}
	return &member, true
}

// ------------------ Books ------------------

func (r *repl) handleAddBook(ctx context.Context) {
	id, ok := r.promptID("Book ID")
	if !ok {
		return
	}
	title, ok := r.prompt("Title")
	if !ok {
		return
	}
	author, ok := r.prompt("Author")
	if !ok {
		return
	}
	cover, ok := r.prompt("Path to cover image (optional)")
	if !ok {
		return
	}

	book := library.NewBook(id, title, author)
	book.CoverPath = cover
	if err := r.mgr.AsLibrarian().AddBook(ctx, &book); err != nil {
		r.printf("Error adding book: %v\n", err)
		return
	}
	r.printf("Added book '%s' with ID %d\n", book.Title, book.ID)
}

func (r *repl) handleRemoveBook(ctx context.Context) {
	book, ok := r.lookupBook(ctx)
	if !ok {
		return
	}
	if err := r.mgr.AsLibrarian().RemoveBook(ctx, *book); err != nil {
		r.printf("Error removing book: %v\n", err)
		return
	}
	r.printf("Removed book '%s'\n", book.Title)
}

func (r *repl) handleListBooks(ctx context.Context) {
	books, err := r.mgr.Books(ctx)
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	if len(books) == 0 {
		r.printf("No books in library.\n")
		return
	}

	r.printf("%-5s %-30s %-25s %-10s %s\n", "ID", "Title", "Author", "Available", "Borrower")
	r.printf("%s\n", strings.Repeat("-", 95))

	for _, b := range books {
		borrowerInfo := "None"
		availStr := "Yes"
		if !b.Available {
			availStr = "No"
			if member, ok, err := r.mgr.CurrentBorrower(ctx, b.ID); err == nil && ok {
				borrowerInfo = fmt.Sprintf("%s (ID: %d)", member.Name, member.ID)
			}
		}
		r.printf("%-5d %-30s %-25s %-10s %s\n",
			b.ID,
			truncateString(b.Title, 30),
			truncateString(b.Author, 25),
			availStr,
			borrowerInfo)
	}
}

// ------------------ Members ------------------

func (r *repl) handleAddMember(ctx context.Context) {
	id, ok := r.promptID("Member ID")
	if !ok {
		return
	}
	name, ok := r.prompt("Name")
	if !ok {
		return
	}
	password, err := r.readPassword(fmt.Sprintf("Enter password for %s: ", name))
	if err != nil {
		r.printf("Error reading password: %v\n", err)
		return
	}

	member := library.NewMember(id, name, password)
	if err := r.mgr.AsLibrarian().RegisterMember(ctx, &member); err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	r.printf("Added member '%s' with ID %d\n", name, id)
}

func (r *repl) handleRemoveMember(ctx context.Context) {
	member, ok := r.lookupMember(ctx)
	if !ok {
		return
	}
	if err := r.mgr.AsLibrarian().RemoveMember(ctx, *member); err != nil {
		r.printf("Error removing member: %v\n", err)
		return
	}
	r.printf("Removed member '%s'\n", member.Name)
}

func (r *repl) handleListMembers(ctx context.Context) {
	members, err := r.mgr.Members(ctx)
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	if len(members) == 0 {
		r.printf("No members registered.\n")
		return
	}

	r.printf("%-5s %-30s %-10s %s\n", "ID", "Name", "Balance", "Books")
	r.printf("%s\n", strings.Repeat("-", 60))
	for _, m := range members {
		r.printf("%-5d %-30s $%-9s %d\n", m.ID, truncateString(m.Name, 30), m.Balance.StringFixed(2), len(m.Loans))
	}
}

// ------------------ Circulation ------------------

func (r *repl) handleCheckout(ctx context.Context) {
	book, ok := r.lookupBook(ctx)
	if !ok {
		return
	}
	member, ok := r.signIn(ctx)
	if !ok {
		return
	}
	dueStr, ok := r.prompt("Due date YYYY-MM-DD (Enter for default)")
	if !ok {
		return
	}
	var due time.Time
	if dueStr != "" {
		d, err := library.ParseDate(dueStr)
		if err != nil {
			r.printf("Invalid date: %s\n", dueStr)
			return
		}
		due = d
	}

	loan, err := r.mgr.AsPatron(member).Borrow(ctx, book, due)
	if err != nil {
		r.printf("Error checking out book: %v\n", err)
		return
	}
	r.printf("Book '%s' checked out to %s, due %s\n", book.Title, member.Name, loan.DueDate.Format(library.DateLayout))
}

func (r *repl) handleReturn(ctx context.Context) {
	book, ok := r.lookupBook(ctx)
	if !ok {
		return
	}
	member, ok := r.signIn(ctx)
	if !ok {
		return
	}

	if err := r.mgr.AsPatron(member).Return(ctx, book); err != nil {
		var fine *library.FineOutstandingError
		if errors.As(err, &fine) {
			r.printf("Error returning book: %v. Pay the fine first.\n", err)
			return
		}
		r.printf("Error returning book: %v\n", err)
		return
	}
	r.printf("Book '%s' returned by %s\n", book.Title, member.Name)
	r.printf("Book is now available for checkout\n")
}

func (r *repl) handleHistory(ctx context.Context) {
	member, ok := r.lookupMember(ctx)
	if !ok {
		return
	}
	loans, err := r.mgr.LoanHistory(ctx, member.ID)
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	if len(loans) == 0 {
		r.printf("%s has never borrowed a book.\n", member.Name)
		return
	}

	r.printf("%-30s %-12s %-12s %s\n", "Title", "Borrowed", "Due", "Returned")
	r.printf("%s\n", strings.Repeat("-", 70))
	for _, l := range loans {
		returned := "-"
		if l.ReturnDate != nil {
			returned = l.ReturnDate.Format(library.DateLayout)
		}
		r.printf("%-30s %-12s %-12s %s\n",
			truncateString(l.Book.Title, 30),
			l.BorrowDate.Format(library.DateLayout),
			l.DueDate.Format(library.DateLayout),
			returned)
	}
}

// ------------------ Fines ------------------

func (r *repl) handleFines(ctx context.Context) {
	member, ok := r.lookupMember(ctx)
	if !ok {
		return
	}
	if err := r.mgr.UpdateMemberFines(ctx, member); err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	r.printf("%s owes $%s\n", member.Name, member.Balance.StringFixed(2))
	today := r.mgr.Today()
	for _, l := range member.Loans {
		if l.IsOverdue(today) {
			r.printf("  '%s': %d day(s) overdue, fine $%s\n",
				l.Book.Title, l.DaysOverdue(today), r.mgr.CalculateFine(l).StringFixed(2))
		}
	}
}

func (r *repl) handlePayFine(ctx context.Context) {
	member, ok := r.signIn(ctx)
	if !ok {
		return
	}
	patron := r.mgr.AsPatron(member)
	if err := r.mgr.UpdateMemberFines(ctx, member); err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	r.printf("Outstanding balance: $%s\n", member.Balance.StringFixed(2))
	amount, ok := r.promptAmount("Amount")
	if !ok {
		return
	}
	if err := patron.PayFine(ctx, amount); err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	r.printf("Payment recorded. Remaining balance: $%s\n", member.Balance.StringFixed(2))
}

func (r *repl) handleAddFine(ctx context.Context) {
	member, ok := r.lookupMember(ctx)
	if !ok {
		return
	}
	amount, ok := r.promptAmount("Amount")
	if !ok {
		return
	}
	if err := r.mgr.AsLibrarian().AddFine(ctx, member, amount); err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	r.printf("%s now owes $%s\n", member.Name, member.Balance.StringFixed(2))
}

func (r *repl) handleClearFine(ctx context.Context) {
	member, ok := r.lookupMember(ctx)
	if !ok {
		return
	}
	if err := r.mgr.AsLibrarian().ClearFine(ctx, member); err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	r.printf("Fine cleared for %s\n", member.Name)
}

func (r *repl) handleReport(ctx context.Context) {
	report, err := r.mgr.AsLibrarian().Report(ctx)
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	r.printf("Total books: %d\nTotal members: %d\n", report.TotalBooks, report.TotalMembers)
}

func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
