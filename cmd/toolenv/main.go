package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"toolenv/internal/config"
	"toolenv/internal/logger"
)

var (
	configPath string
	toolNames  []string
	verbose    bool
	noColor    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "toolenv",
		Short:         "Tool-calling execution environment for agent rollouts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to toolenv.yaml (default: search standard locations)")
	rootCmd.PersistentFlags().StringSliceVar(&toolNames, "tools", nil, "Tools to enable, or all / none (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose output (debug mode)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newPromptCmd(), newPlayCmd(), newRolloutCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadWithDefaults()
	}
	if err != nil {
		return nil, err
	}

	if len(toolNames) > 0 {
		cfg.Tools.Names = toolNames
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if noColor {
		off := false
		cfg.Log.Color = &off
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger writes to stderr so stdout stays machine-readable.
func newLogger(cfg config.LogConfig) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	log := logger.NewLogger(os.Stderr, level)
	if cfg.Color != nil {
		log.SetColorMode(*cfg.Color)
	}
	return log, nil
}
