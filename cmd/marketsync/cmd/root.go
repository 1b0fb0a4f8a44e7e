package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/marketsync/config"
	"github.com/rustyeddy/marketsync/internal/logx"
)

var rootCmd = &cobra.Command{
	Use:   "marketsync",
	Short: "Keep local daily market history up to date",
	Long: `Marketsync keeps a local copy of daily market history in step with its
providers.

Each run checks every configured entity, fetches only the days that are
missing, merges them into the stored series, recomputes the technical
indicators and writes the result back atomically.

Providers:
  - OANDA (FX candles)
  - Twelve Data (stocks, indices, crypto)
  - Dukascopy (FX and metals, public datafeed)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envFiles...); err != nil {
			return err
		}
		logger = logx.New(os.Stderr, logLevel, logFormat)
		slog.SetDefault(logger)
		return nil
	},
}

var (
	cfgFile   string
	envFiles  []string
	logLevel  string
	logFormat string

	logger = slog.Default()
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "marketsync.yaml", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", []string{".env"}, "env files with provider credentials")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "text|json (overrides config)")
}

// loadConfig reads --config. A missing default file falls back to the
// built-in defaults; a missing explicit file is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadFromFile(cfgFile)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		logger.Debug("no config file, using defaults", "path", cfgFile)
		cfg = config.Default()
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level, format := cfg.LogLevel, cfg.LogFormat
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	logger = logx.New(os.Stderr, level, format)
	slog.SetDefault(logger)
	return cfg, nil
}
