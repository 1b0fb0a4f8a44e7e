package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/marketsync/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query recorded sync runs",
	Long: `Query the run journal kept in the state database.

Subcommands:
  last     - Show the most recent run
  run      - Show a run by id
  history  - List recent outcomes for one entity

Examples:
  marketsync journal last
  marketsync journal run 01HZX3V8Q7KDF3ZJ5E8W4N2G6T
  marketsync journal history fx/EUR_USD`,
}

var journalLastCmd = &cobra.Command{
	Use:   "last",
	Short: "Show the most recent run",
	Args:  cobra.NoArgs,
	RunE:  runJournalLast,
}

var journalRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show a run by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalRun,
}

var journalHistoryCmd = &cobra.Command{
	Use:   "history <entity-key>",
	Short: "List recent outcomes for one entity",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalHistory,
}

var historyLimit int

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalLastCmd)
	journalCmd.AddCommand(journalRunCmd)
	journalCmd.AddCommand(journalHistoryCmd)

	journalHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
}

func openSQLite(cmd *cobra.Command) (*journal.SQLite, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	j, err := journal.NewSQLite(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalLast(cmd *cobra.Command, args []string) error {
	j, err := openSQLite(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	run, err := j.LastRun(cmd.Context())
	if err != nil {
		return fmt.Errorf("last run: %w", err)
	}
	if run == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
		return nil
	}
	return journal.WriteReport(cmd.OutOrStdout(), *run)
}

func runJournalRun(cmd *cobra.Command, args []string) error {
	j, err := openSQLite(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	run, err := j.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return journal.WriteReport(cmd.OutOrStdout(), *run)
}

func runJournalHistory(cmd *cobra.Command, args []string) error {
	j, err := openSQLite(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	outs, err := j.History(cmd.Context(), args[0], historyLimit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tFETCHED\tRECORDS\tLAST KEY\tATTEMPTS\tTOOK\tREASON")
	for _, o := range outs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\t%s\t%s\n",
			o.Status, o.Fetched, o.Records, o.LastKey, o.Attempts, o.Duration, o.Reason)
	}
	return tw.Flush()
}
