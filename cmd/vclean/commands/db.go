package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/vclean/cleaner"
	"github.com/teranos/vclean/db"
	"github.com/teranos/vclean/errors"
	"github.com/teranos/vclean/pulse/schedule"
	"github.com/teranos/vclean/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the vclean job database",
	Long: sym.DB + ` db — Manage the vclean job database

The job database holds cleaner jobs and their execution history.
It is separate from the content database being cleaned.

Examples:
  vclean db migrate                  # Apply pending migrations
  vclean db status                   # Show migrations and job counts
  vclean db prune-history --days 30  # Drop execution history older than 30 days`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runDbMigrate,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied migrations and job counts",
	Args:  cobra.NoArgs,
	RunE:  runDbStatus,
}

var dbPruneHistoryCmd = &cobra.Command{
	Use:   "prune-history",
	Short: "Delete old execution history",
	Args:  cobra.NoArgs,
	RunE:  runDbPruneHistory,
}

var (
	dbPathFlag    string
	retentionDays int
)

func init() {
	DbCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "Job database path (default: database.path)")
	dbPruneHistoryCmd.Flags().IntVar(&retentionDays, "days", 90, "Keep execution history for this many days")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
	DbCmd.AddCommand(dbPruneHistoryCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// openDatabase migrates
	database, err := openDatabase(cfg, dbPathFlag)
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}
	fmt.Printf("%s Database is at migration %s\n", sym.DB, applied[len(applied)-1])
	return nil
}

func runDbStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := dbPathFlag
	if path == "" {
		path = cfg.GetDatabasePath()
	}
	database, err := openDatabase(cfg, path)
	if err != nil {
		return err
	}
	defer database.Close()

	all, err := db.Migrations()
	if err != nil {
		return err
	}
	applied, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	fmt.Printf("%s Database Status\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path: %s\n\n", path)

	fmt.Println("Migrations:")
	for _, m := range all {
		mark := "✗"
		if done[m.Version] {
			mark = "✓"
		}
		fmt.Printf("  %s %s\n", mark, m.Filename)
	}
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jobs, err := cleaner.NewStore(database).List(ctx, "")
	if err != nil {
		return errors.Wrap(err, "failed to list cleaner jobs")
	}
	counts := make(map[cleaner.Status]int)
	for _, job := range jobs {
		counts[job.Status]++
	}

	fmt.Printf("Cleaner Jobs: %d\n", len(jobs))
	for _, status := range []cleaner.Status{cleaner.StatusQueued, cleaner.StatusRunning, cleaner.StatusBroken, cleaner.StatusStopped} {
		fmt.Printf("  %-8s %d\n", status, counts[status])
	}
	return nil
}

func runDbPruneHistory(cmd *cobra.Command, args []string) error {
	if retentionDays <= 0 {
		return errors.Newf("--days must be positive, got %d", retentionDays)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg, dbPathFlag)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := schedule.NewExecutionStore(database).CleanupOldExecutions(ctx, retentionDays, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("%s Deleted %d execution records older than %d days\n", sym.DB, deleted, retentionDays)
	return nil
}
