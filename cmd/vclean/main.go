package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/vclean/cmd/vclean/commands"
	"github.com/teranos/vclean/logger"
)

var rootCmd = &cobra.Command{
	Use:   "vclean",
	Short: "vclean - Version history cleanup for versioned content databases",
	Long: `vclean - Version history cleanup for versioned content databases.

vclean prunes the _Versions tables of a content database one record at a time.
Each cleaner job keeps the newest versions of its record plus whatever the
Draft and Live stages point at, then moves on to the next unclaimed record.

Available commands:
  am     - Manage vclean configuration ("I am")
  clean  - Seed, inspect and re-arm cleaner jobs
  pulse  - Run the scheduler daemon that invokes due cleaner jobs
  db     - Manage the job database

Examples:
  vclean am show              # Show current configuration
  vclean clean seed           # Start a cleaner on the default record type
  vclean clean ls             # List cleaner jobs
  vclean pulse start          # Start the scheduler daemon`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigFile, "config", "", "Config file (default: am.toml cascade)")

	// Add commands
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.CleanCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
