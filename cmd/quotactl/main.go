// Command quotactl is an operator tool for the quota ledger. It talks to
// the same database as the server, so it works whether or not the server
// is running.
//
//	quotactl reset-week              # replenish accounts for the current week
//	quotactl reset-week --week 2026-08-24
//	quotactl account <id>            # inspect an account's quota state
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/DukeRupert/tutorbook/internal"
	"github.com/DukeRupert/tutorbook/internal/domain"
	"github.com/DukeRupert/tutorbook/internal/plans"
	"github.com/DukeRupert/tutorbook/internal/repository"
	"github.com/DukeRupert/tutorbook/internal/scheduler"
)

var (
	flagWeek      string
	flagBatchSize int
	flagCatalog   string
	flagMigrate   bool
)

func main() {
	root := &cobra.Command{
		Use:           "quotactl",
		Short:         "Operate on the booking quota ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagCatalog, "plan-catalog", "", "path to a plan catalog file (defaults to the built-in catalog)")
	root.PersistentFlags().BoolVar(&flagMigrate, "migrate", false, "run pending migrations before the command")

	resetCmd := &cobra.Command{
		Use:   "reset-week",
		Short: "Replenish weekly allowances for accounts behind the current week",
		Long: "Runs one reset pass over all accounts whose recorded week start is " +
			"older than the target week. Safe to re-run: accounts already reset " +
			"for the week are skipped.",
		RunE: runResetWeek,
	}
	resetCmd.Flags().StringVar(&flagWeek, "week", "", "target week start date (YYYY-MM-DD, UTC Monday); defaults to the current week")
	resetCmd.Flags().IntVar(&flagBatchSize, "batch-size", 500, "accounts fetched per page")

	accountCmd := &cobra.Command{
		Use:   "account <id>",
		Short: "Print an account's quota state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runAccount,
	}

	root.AddCommand(resetCmd, accountCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// connect opens the database from DATABASE_URL, optionally running
// migrations first.
func connect(ctx context.Context) (*repository.Store, func(), error) {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}

	if flagMigrate {
		db, err := sql.Open("pgx", databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := internal.RunMigrations(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migration failed: %w", err)
		}
		db.Close()
	}

	pool, err := repository.Connect(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return repository.New(pool), pool.Close, nil
}

func loadCatalog() (*plans.Catalog, error) {
	if flagCatalog == "" {
		return plans.Default(), nil
	}
	return plans.Load(flagCatalog)
}

func runResetWeek(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	weekStart := domain.CurrentWeekStart(time.Now())
	if flagWeek != "" {
		t, err := time.Parse("2006-01-02", flagWeek)
		if err != nil {
			return fmt.Errorf("invalid --week %q: %w", flagWeek, err)
		}
		weekStart = domain.WeekStart(t.UTC(), domain.ResetWeekday, domain.ResetHourUTC)
	}

	store, closeFn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	catalog, err := loadCatalog()
	if err != nil {
		return err
	}

	logger := internal.NewLogger(os.Stderr, "cli", "info")
	cfg := scheduler.DefaultConfig()
	cfg.BatchSize = flagBatchSize
	sched, err := scheduler.New(store, catalog, cfg, logger)
	if err != nil {
		return err
	}

	stats, err := sched.RunOnce(ctx, weekStart)
	if err != nil {
		return err
	}

	fmt.Printf("week %s: %d updated, %d already current, %d failed\n",
		weekStart.Format("2006-01-02"), stats.Updated, stats.Skipped, stats.Failed)
	if stats.Failed > 0 {
		return fmt.Errorf("%d accounts failed to reset", stats.Failed)
	}
	return nil
}

func runAccount(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid account id %q: %w", args[0], err)
	}

	store, closeFn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	account, err := store.GetAccountByID(ctx, id)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
