package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"library-circulation/config"
	"library-circulation/library"
	"library-circulation/scheduler"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "library",
		Short:        "Library circulation desk",
		Long:         "Interactive circulation desk: books, members, loans and overdue fines stored in SQLite.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, mgr *library.LibraryManager, _ *config.Config) error {
				return newREPL(mgr, os.Stdin, cmd.OutOrStdout()).Run(ctx)
			})
		},
	}

	pf := root.PersistentFlags()
	pf.String("db", config.DefaultDatabasePath, "path to the SQLite database")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "text", "log format: text or json")
	pf.Int("loan-days", 14, "default loan period in days")
	pf.String("removal-policy", "block", "allow or block removal of borrowed books and members holding books")
	pf.Bool("strict-ledger", false, "reject books with more than one open loan")

	root.AddCommand(newReportCmd(), newFinesCmd())
	return root
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print catalogue and membership totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, mgr *library.LibraryManager, _ *config.Config) error {
				report, err := mgr.AsLibrarian().Report(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Total books: %d\nTotal members: %d\n", report.TotalBooks, report.TotalMembers)
				return nil
			})
		},
	}
}

func newFinesCmd() *cobra.Command {
	fines := &cobra.Command{
		Use:   "fines",
		Short: "Fine administration",
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Recompute every member's overdue fines",
		Long: "Recompute every member's overdue fines once, or keep running and sweep on a cron\n" +
			"schedule when --schedule is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, mgr *library.LibraryManager, cfg *config.Config) error {
				out := cmd.OutOrStdout()
				if !cmd.Flags().Changed("schedule") {
					owing, err := mgr.SweepFines(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Fines updated. Members owing: %d\n", owing)
					return nil
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				s := scheduler.NewFineSweepScheduler(mgr, cfg.FineSweep.Schedule, 0, slog.Default())
				if err := s.Start(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "Sweeping fines on schedule %q. Press Ctrl+C to stop.\n", cfg.FineSweep.Schedule)
				<-ctx.Done()
				s.Stop()
				return nil
			})
		},
	}
	sweep.Flags().String("schedule", config.DefaultFineSweepSchedule, "cron schedule (minute hour dom month dow)")

	fines.AddCommand(sweep)
	return fines
}

// withManager loads configuration from the command's flags and the
// environment, opens the database and hands both to fn.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, mgr *library.LibraryManager, cfg *config.Config) error) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	mgr, err := library.NewLibraryManager(cfg.Database.Path, library.ManagerOptions{
		StrictLedger: cfg.LedgerStrict,
		Service: []library.Option{
			library.WithLogger(logger),
			library.WithRemovalPolicy(library.RemovalPolicy(cfg.RemovalPolicy)),
			library.WithLoanPeriod(cfg.LoanPeriod()),
		},
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer mgr.Close()

	return fn(cmd.Context(), mgr, cfg)
}
