package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation/library"
)

func scriptFile(t *testing.T, lines ...string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stdin.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func newTestManager(t *testing.T, dbPath string) *library.LibraryManager {
	t.Helper()
	mgr, err := library.NewLibraryManager(dbPath, library.ManagerOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestREPL_CheckoutAndReturn(t *testing.T) {
	mgr := newTestManager(t, filepath.Join(t.TempDir(), "lib.db"))
	in := scriptFile(t,
		"add book", "1", "Dune", "Frank Herbert", "",
		"add member", "1", "Alice", "s3cret",
		"checkout", "1", "1", "wrong",
		"checkout", "1", "1", "s3cret", "",
		"list books",
		"return", "1", "1", "s3cret",
		"history", "1",
		"report",
		"exit",
	)
	var out bytes.Buffer

	require.NoError(t, newREPL(mgr, in, &out).Run(context.Background()))

	got := out.String()
	assert.Contains(t, got, "Added book 'Dune' with ID 1")
	assert.Contains(t, got, "Added member 'Alice' with ID 1")
	assert.Contains(t, got, "Authentication failed: invalid password")
	assert.Contains(t, got, "Book 'Dune' checked out to Alice")
	assert.Contains(t, got, "Alice (ID: 1)")
	assert.Contains(t, got, "Book 'Dune' returned by Alice")
	assert.Contains(t, got, "Total books: 1\nTotal members: 1")
	assert.Contains(t, got, "Goodbye!")

	book, err := mgr.FindBook(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, book.Available)
}

func TestREPL_ReportsErrors(t *testing.T) {
	mgr := newTestManager(t, filepath.Join(t.TempDir(), "lib.db"))
	in := scriptFile(t,
		"add book", "x",
		"add book", "2", "", "Nobody", "",
		"remove member", "9",
		"pay fine", "9",
		"dance",
	)
	var out bytes.Buffer

	require.NoError(t, newREPL(mgr, in, &out).Run(context.Background()))

	got := out.String()
	assert.Contains(t, got, "Invalid book id: x")
	assert.Contains(t, got, "Error adding book: invalid input: title must be provided")
	assert.Contains(t, got, "Error: member 9 not found")
	assert.Contains(t, got, "Unknown command.")
}

func TestReportCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lib.db")
	mgr, err := library.NewLibraryManager(dbPath, library.ManagerOptions{})
	require.NoError(t, err)
	b := library.NewBook(1, "Dune", "Herbert")
	require.NoError(t, mgr.AddBook(context.Background(), &b))
	require.NoError(t, mgr.Close())

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"report", "--db", dbPath, "--log-level", "error"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Total books: 1\nTotal members: 0\n", out.String())
}

func TestFinesSweepCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lib.db")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"fines", "sweep", "--db", dbPath, "--log-level", "error"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Fines updated. Members owing: 0\n", out.String())
}

func TestTruncateStringKeepsRunes(t *testing.T) {
	assert.Equal(t, "Dune", truncateString("Dune", 30))
	got := truncateString("Cien años de soledad, edición conmemorativa", 12)
	assert.Equal(t, "Cien años...", got)
	assert.True(t, utf8.ValidString(truncateString("Żółć gęślą jaźń", 8)))
}
