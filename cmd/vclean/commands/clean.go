package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/vclean/cleaner"
	"github.com/teranos/vclean/errors"
	"github.com/teranos/vclean/internal/util"
	"github.com/teranos/vclean/logger"
	"github.com/teranos/vclean/pulse/schedule"
	"github.com/teranos/vclean/sym"
)

// CleanCmd represents the clean command
var CleanCmd = &cobra.Command{
	Use:   "clean",
	Short: sym.Clean + " Manage version cleanup jobs",
	Long: sym.Clean + ` clean — Manage version cleanup jobs

A cleaner job walks the records of one record type in ID order. Each
invocation prunes the version history of its target record, then re-arms
itself on the next record nobody else is cleaning. The walk ends in Stopped;
a failure leaves the job Broken until it is re-armed.

Examples:
  vclean clean seed                               # Start on the default record type
  vclean clean seed --record-type RedirectorPage  # Start on a specific record type
  vclean clean run 3                              # Run job 3 once, now
  vclean clean ls --status Broken                 # List broken jobs
  vclean clean rearm 3                            # Queue job 3 again
  vclean clean tables BlogPost                    # Show the version tables of a type`,
}

var cleanSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create a cleaner job on the first unclaimed record",
	Args:  cobra.NoArgs,
	RunE:  runCleanSeed,
}

var cleanRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run one invocation of a queued cleaner job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanRun,
}

var cleanLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cleaner jobs",
	Args:  cobra.NoArgs,
	RunE:  runCleanLs,
}

var cleanShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a cleaner job and its recent executions",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanShow,
}

var cleanRearmCmd = &cobra.Command{
	Use:   "rearm <id>",
	Short: "Queue a Broken or Stopped cleaner job again",
	Long: `Queue a Broken or Stopped cleaner job again, scheduled for now.

With --force a Running job is re-armed too, provided its row has not been
written for --stale-after. Use this for jobs left Running by an invocation
that was killed before it could record a final state.`,
	Args: cobra.ExactArgs(1),
	RunE:  runCleanRearm,
}

var cleanTablesCmd = &cobra.Command{
	Use:   "tables <record-type>",
	Short: "Show the version tables pruned for a record type",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanTables,
}

var (
	seedTypeFlag  string
	seedKeepFlag  int
	lsStatusFlag  string
	showLimitFlag int
	rearmForce    bool
	rearmStale    time.Duration
	cleanTimeout  time.Duration
)

func init() {
	cleanSeedCmd.Flags().StringVar(&seedTypeFlag, "record-type", "", "Record type to clean (default: cleaner.default_record_type)")
	cleanSeedCmd.Flags().IntVar(&seedKeepFlag, "keep", 0, "Versions to keep (default: cleaner.versions_to_keep)")
	cleanLsCmd.Flags().StringVar(&lsStatusFlag, "status", "", "Filter by status: Queued, Running, Broken, Stopped")
	cleanShowCmd.Flags().IntVar(&showLimitFlag, "limit", 10, "Number of recent executions to show")
	cleanRearmCmd.Flags().BoolVar(&rearmForce, "force", false, "Also re-arm a stale Running job")
	cleanRearmCmd.Flags().DurationVar(&rearmStale, "stale-after", 15*time.Minute, "With --force, how long a Running job must be idle")
	CleanCmd.PersistentFlags().DurationVar(&cleanTimeout, "timeout", 5*time.Minute, "Give up after this long")

	CleanCmd.AddCommand(cleanSeedCmd)
	CleanCmd.AddCommand(cleanRunCmd)
	CleanCmd.AddCommand(cleanLsCmd)
	CleanCmd.AddCommand(cleanShowCmd)
	CleanCmd.AddCommand(cleanRearmCmd)
	CleanCmd.AddCommand(cleanTablesCmd)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, cleanTimeout)
}

func parseJobID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.WithHint(
			errors.Newf("invalid cleaner job id %q", arg),
			"use the numeric ID shown by 'vclean clean ls'")
	}
	return id, nil
}

func runCleanSeed(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	seeder := cleaner.NewSeeder(a.jobs, a.runner, logger.Logger)
	job, err := seeder.Seed(ctx, cleaner.SeedOptions{
		RecordType:     seedTypeFlag,
		VersionsToKeep: seedKeepFlag,
	})
	if err != nil {
		return err
	}

	if job == nil {
		pterm.Info.Println("No records found.")
		return nil
	}

	pterm.Success.Printfln("Found Record ID %d (%s)", job.TargetRecordID, job.RecordType)
	pterm.Printfln("  Job:   %d", job.ID)
	pterm.Printfln("  Title: %s", job.Title)
	pterm.Printfln("  Keep:  %d versions", job.VersionsToKeep)
	return nil
}

func runCleanRun(cmd *cobra.Command, args []string) error {
	id, err := parseJobID(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.runner.Execute(ctx, id)
	if err != nil {
		if errors.Is(err, cleaner.ErrNotQueued) {
			return errors.WithHint(err, "only Queued jobs can run; re-arm Broken or Stopped jobs with 'vclean clean rearm'")
		}
		return err
	}

	printOutcome(outcome)
	return nil
}

func printOutcome(outcome *cleaner.Outcome) {
	if outcome.Err != nil {
		pterm.Error.Printfln("Record ID %d (%s): %v", outcome.RecordID, outcome.Job.RecordType, outcome.Err)
	} else {
		pterm.Success.Printfln("Record ID %d (%s): kept %d versions, deleted %d rows",
			outcome.RecordID, outcome.Job.RecordType, len(outcome.Retained), outcome.Deleted)
		if len(outcome.Retained) > 0 {
			pterm.Printfln("  Retained: %s", schedule.FormatVersions(outcome.Retained))
		}
		if len(outcome.Tables) > 0 {
			pterm.Printfln("  Tables:   %s", strings.Join(outcome.Tables, ", "))
		}
	}
	printJobState(outcome.Job)
}

func printJobState(job *cleaner.Job) {
	pterm.Printfln("  Status:   %s", job.Status)
	if job.Message != "" {
		pterm.Printfln("  Message:  %s", job.Message)
	}
	if next := job.NextExecution(); next != nil {
		pterm.Printfln("  Next run: %s (record %d)", next.Local().Format(time.RFC3339), job.TargetRecordID)
	}
}

func runCleanLs(cmd *cobra.Command, args []string) error {
	var status cleaner.Status
	if lsStatusFlag != "" {
		parsed, err := cleaner.ParseStatus(lsStatusFlag)
		if err != nil {
			return err
		}
		status = parsed
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	jobs, err := cleaner.NewStore(database).List(ctx, status)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		pterm.Info.Println("No cleaner jobs.")
		return nil
	}

	data := pterm.TableData{{"ID", "Type", "Target", "Previous", "Keep", "Status", "Next run", "Message"}}
	for _, job := range jobs {
		next := "-"
		if at := job.NextExecution(); at != nil {
			next = at.Local().Format("2006-01-02 15:04:05")
		}
		data = append(data, []string{
			strconv.FormatInt(job.ID, 10),
			job.RecordType,
			strconv.FormatInt(job.TargetRecordID, 10),
			strconv.FormatInt(job.PreviousRecordID, 10),
			strconv.Itoa(job.VersionsToKeep),
			string(job.Status),
			next,
			job.Message,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runCleanShow(cmd *cobra.Command, args []string) error {
	id, err := parseJobID(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	job, err := cleaner.NewStore(database).Get(ctx, id)
	if err != nil {
		return err
	}

	pterm.DefaultSection.Println(job.Title)
	pterm.Printfln("  ID:       %d", job.ID)
	pterm.Printfln("  Type:     %s", job.RecordType)
	pterm.Printfln("  Target:   %d", job.TargetRecordID)
	pterm.Printfln("  Previous: %d", job.PreviousRecordID)
	pterm.Printfln("  Keep:     %d versions", job.VersionsToKeep)
	if job.ExecuteEvery != nil {
		pterm.Printfln("  Every:    %d %s", job.ExecuteInterval, *job.ExecuteEvery)
	}
	printJobState(job)

	executions, total, err := schedule.NewExecutionStore(database).ListExecutions(ctx, id, showLimitFlag, 0, "")
	if err != nil {
		return err
	}
	if total == 0 {
		return nil
	}

	pterm.Println()
	pterm.Info.Printfln("Executions (%d of %d):", len(executions), total)
	data := pterm.TableData{{"Started", "Record", "Status", "Deleted", "Retained", "Duration", "Error"}}
	for _, exec := range executions {
		duration := "-"
		if exec.DurationMs != nil {
			duration = (time.Duration(*exec.DurationMs) * time.Millisecond).String()
		}
		data = append(data, []string{
			exec.StartedAt,
			strconv.FormatInt(exec.RecordID, 10),
			exec.Status,
			strconv.FormatInt(exec.DeletedRows, 10),
			util.Deref(exec.RetainedVersions, "-"),
			duration,
			util.Deref(exec.ErrorMessage, ""),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runCleanRearm(cmd *cobra.Command, args []string) error {
	id, err := parseJobID(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	var job *cleaner.Job
	if rearmForce {
		job, err = a.runner.ForceRearm(ctx, id, rearmStale)
	} else {
		job, err = a.runner.Rearm(ctx, id)
	}
	if err != nil {
		return err
	}

	pterm.Success.Printfln("Re-armed %s", job.Title)
	printJobState(job)
	return nil
}

func runCleanTables(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	registry, err := cfg.Schema.Registry()
	if err != nil {
		return err
	}

	recordType := args[0]
	tables, err := registry.Resolve(recordType)
	if err != nil {
		return err
	}
	base, err := registry.BaseTable(recordType)
	if err != nil {
		return err
	}
	subtypes, err := registry.Descendants(recordType)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", sym.Clean, recordType)
	fmt.Printf("  Base table:  %s (Live: %s)\n", base, base+"_Live")
	fmt.Printf("  Subtypes:    %s\n", strings.Join(subtypes, ", "))
	fmt.Printf("  Pruned:      %s\n", strings.Join(tables, ", "))
	return nil
}
