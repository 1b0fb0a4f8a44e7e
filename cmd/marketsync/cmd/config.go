package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/marketsync/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage the sync configuration.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  marketsync config init -o marketsync.yaml
  marketsync config validate -c marketsync.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "marketsync.yaml", "output config file path")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nPut provider credentials in .env and run:")
	fmt.Fprintf(out, "  marketsync sync -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if _, err := cfg.FreshnessPolicy(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if _, err := cfg.RetryPolicy(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", cfgFile)
	fmt.Fprintf(out, "  Data dir: %s\n", cfg.DataDir)
	fmt.Fprintf(out, "  State DB: %s\n", cfg.StateDB)
	fmt.Fprintf(out, "  Workers:  %d\n", cfg.Workers)
	fmt.Fprintf(out, "  Entities: %d\n", len(cfg.Entities))
	return nil
}
