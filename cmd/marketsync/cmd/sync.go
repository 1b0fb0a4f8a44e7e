package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/marketsync/journal"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Bring every configured entity up to date",
	Long: `Fetch what is missing for each configured entity, merge it into the
stored series, recompute indicators and save.

Entities synced within the freshness window are skipped. A failing entity
is reported and never stops the others.

Examples:
  marketsync sync
  marketsync sync --only EUR_USD,AAPL --workers 2
  marketsync sync --timeout 10m --report csv`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var (
	syncWorkers   int
	syncOnly      []string
	syncTimeout   time.Duration
	syncReport    string
	syncNoJournal bool
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().IntVarP(&syncWorkers, "workers", "w", 0, "entities synced concurrently (default from config)")
	syncCmd.Flags().StringSliceVar(&syncOnly, "only", nil, "sync only these entity ids")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 0, "abort the run after this long (0 = no limit)")
	syncCmd.Flags().StringVar(&syncReport, "report", "org", "report format: org|csv|none")
	syncCmd.Flags().BoolVar(&syncNoJournal, "no-journal", false, "keep sync state in memory only")
}

func runSync(cmd *cobra.Command, args []string) error {
	switch syncReport {
	case "org", "csv", "none":
	default:
		return fmt.Errorf("unknown --report %q (want org|csv|none)", syncReport)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	entities, err := cfg.Select(syncOnly)
	if err != nil {
		return err
	}

	j, err := openJournal(cfg, syncNoJournal)
	if err != nil {
		return err
	}
	defer j.Close()

	coord, err := newCoordinator(cfg, j, syncWorkers, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if syncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, syncTimeout)
		defer cancel()
	}

	report, runErr := coord.Run(ctx, entities, time.Now().UTC())
	run := report.Journal()
	if err := j.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("recording run", "run", run.ID, "err", err)
	}

	out := cmd.OutOrStdout()
	switch syncReport {
	case "org":
		err = journal.WriteReport(out, run)
	case "csv":
		err = journal.WriteRunCSV(out, run)
	}
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if runErr != nil {
		return fmt.Errorf("sync interrupted: %w", runErr)
	}
	return nil
}
