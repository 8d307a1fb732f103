package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"library-circulation/config"
	"library-circulation/library"
)

func main() {
	fs := pflag.NewFlagSet("import_books", pflag.ExitOnError)
	csvPath := fs.String("csv", "books.csv", "CSV file with id,title,author[,cover_path] rows")
	fresh := fs.Bool("fresh", false, "delete the existing database before importing")
	dryRun := fs.Bool("dry-run", false, "validate the CSV in memory without touching the database")
	fs.String("db", config.DefaultDatabasePath, "path to the SQLite database")
	fs.String("log-level", "warn", "log level")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if *fresh && !*dryRun {
		fmt.Println("Cleaning up existing database files...")
		for _, file := range []string{cfg.Database.Path, cfg.Database.Path + "-shm", cfg.Database.Path + "-wal"} {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
			}
		}
		fmt.Println("Database cleanup complete.")
	}

	svcOpts := []library.Option{library.WithLogger(cfg.NewLogger(os.Stderr))}
	var svc *library.Service
	if *dryRun {
		fmt.Println("Dry run: nothing will be written.")
		svc = library.NewMemoryService(svcOpts...)
	} else {
		manager, err := library.NewLibraryManager(cfg.Database.Path, library.ManagerOptions{Service: svcOpts})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating database: %v\n", err)
			os.Exit(1)
		}
		defer manager.Close()
		svc = manager.Service
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading books file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	fmt.Printf("Importing books from %s...\n", *csvPath)
	res, err := importBooks(context.Background(), svc.AsLibrarian(), f, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading books file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", res.imported)
	fmt.Printf("Errors: %d\n", res.failed)

	if res.imported > 0 {
		fmt.Println("\nImported books:")
		books, err := svc.Books(context.Background())
		if err != nil {
			fmt.Printf("Error retrieving books: %v\n", err)
			return
		}
		fmt.Printf("%-5s %-50s %-30s\n", "ID", "Title", "Author")
		fmt.Println(strings.Repeat("-", 87))
		for _, book := range books {
			fmt.Printf("%-5d %-50s %-30s\n", book.ID, truncateString(book.Title, 50), truncateString(book.Author, 30))
		}
	}
}

type bookAdder interface {
	AddBook(ctx context.Context, b *library.Book) error
}

type importResult struct {
	imported, failed int
}

// importBooks adds one book per CSV record. A header row starting with "id"
// is skipped. Bad rows are reported on out and counted; only an unreadable
// file is an error.
func importBooks(ctx context.Context, lib bookAdder, r io.Reader, out io.Writer) (importResult, error) {
	var res importResult
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				fmt.Fprintf(out, "Line %d: ERROR - %v\n", line, err)
				res.failed++
				continue
			}
			return res, err
		}
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "id") {
			continue
		}
		if len(rec) < 3 {
			fmt.Fprintf(out, "Line %d: ERROR - want id,title,author[,cover_path], got %d fields\n", line, len(rec))
			res.failed++
			continue
		}

		id, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			fmt.Fprintf(out, "Line %d: ERROR - invalid id %q\n", line, rec[0])
			res.failed++
			continue
		}
		book := library.NewBook(id, strings.TrimSpace(rec[1]), strings.TrimSpace(rec[2]))
		if len(rec) > 3 {
			book.CoverPath = strings.TrimSpace(rec[3])
		}

		fmt.Fprintf(out, "Importing: %s by %s... ", book.Title, book.Author)
		if err := lib.AddBook(ctx, &book); err != nil {
			fmt.Fprintf(out, "ERROR - %v\n", err)
			res.failed++
			continue
		}
		fmt.Fprintf(out, "SUCCESS (ID: %d)\n", book.ID)
		res.imported++
	}
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
