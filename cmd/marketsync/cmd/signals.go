package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/marketsync/signals"
	"github.com/rustyeddy/marketsync/store"
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Summarise the latest indicators of every price series",
	Long: `Print the newest row of every stored price series with its close,
RSI, MACD histogram, SMA20/50 and a combined signal label.

Examples:
  marketsync signals
  marketsync signals --out data/signals.csv`,
	Args: cobra.NoArgs,
	RunE: runSignals,
}

var signalsOut string

func init() {
	rootCmd.AddCommand(signalsCmd)
	signalsCmd.Flags().StringVarP(&signalsOut, "out", "o", "", "write CSV to this file instead of printing a table")
}

func runSignals(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rows, err := signals.Latest(cmd.Context(), openStore(cfg, logger), cfg.Entities)
	if err != nil {
		return err
	}

	if signalsOut != "" {
		err := store.AtomicWriteFile(signalsOut, func(w io.Writer) error { return signals.WriteCSV(w, rows) })
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %d signals to %s\n", len(rows), signalsOut)
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "ENTITY\tTIME")
	for _, c := range signals.Columns {
		fmt.Fprintf(tw, "\t%s", c)
	}
	fmt.Fprintln(tw, "\tSIGNAL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s", r.Entity.Key(), r.Key)
		for _, c := range signals.Columns {
			v := signals.Format(r, c)
			if v == "" {
				v = "-"
			}
			fmt.Fprintf(tw, "\t%s", v)
		}
		fmt.Fprintf(tw, "\t%s\n", r.Signal)
	}
	return tw.Flush()
}
