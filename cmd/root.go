package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/sohbench/config"
	"github.com/kilianp07/sohbench/core/dataset"
	"github.com/kilianp07/sohbench/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "sohbench",
	Short:         "Battery state-of-health model fitting and validation",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadConfig reads the configuration file. A missing default file falls back
// to the built-in defaults; an explicitly named one must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	logger.SetLevel(cfg.Logging.Level)
	return cfg, nil
}

func loadDataset(path, name, origin string) (dataset.Dataset, error) {
	opts := dataset.ReadOptions{Name: name, Derive: true}
	if origin != "" {
		t, err := time.Parse(time.RFC3339, origin)
		if err != nil {
			return dataset.Dataset{}, fmt.Errorf("origin %q: %w", origin, err)
		}
		opts.Origin = t
	}
	return dataset.Load(path, opts)
}

// output returns stdout for "" or "-", a created file otherwise.
func output(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
