package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kilianp07/sohbench/app"
	"github.com/kilianp07/sohbench/core/benchmark"
	"github.com/kilianp07/sohbench/core/dataset"
	"github.com/kilianp07/sohbench/infra/logger"
	"github.com/kilianp07/sohbench/pkg/export"
)

var benchFlags struct {
	models []string
	folds  int
	format string
	out    string
}

var writers = map[string]func(io.Writer, benchmark.Table) error{
	"json":    export.WriteJSON,
	"csv":     export.WriteCSV,
	"summary": export.WriteSummaryJSON,
}

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark [dataset.csv ...]",
	Short: "Benchmark every configured model on the given or configured datasets",
	RunE:  runBenchmark,
}

func init() {
	f := benchmarkCmd.Flags()
	f.StringSliceVarP(&benchFlags.models, "model", "m", nil, "models to run, all configured when empty")
	f.IntVar(&benchFlags.folds, "folds", -1, "walk-forward folds, 0 or 1 for a single hold-out; the configured value when negative")
	f.StringVarP(&benchFlags.format, "format", "f", "json", "output format: json, csv or summary")
	f.StringVarP(&benchFlags.out, "out", "o", "-", "output file")
	rootCmd.AddCommand(benchmarkCmd)
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	write, ok := writers[benchFlags.format]
	if !ok {
		return fmt.Errorf("unknown format %q", benchFlags.format)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if benchFlags.folds >= 0 {
		cfg.Benchmark.Folds = benchFlags.folds
	}

	var datasets []dataset.Dataset
	if len(args) > 0 {
		for _, path := range args {
			ds, err := loadDataset(path, "", "")
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			datasets = append(datasets, ds)
		}
	} else {
		for _, dc := range cfg.Benchmark.Datasets {
			ds, err := loadDataset(dc.Path, dc.Name, dc.Origin)
			if err != nil {
				return fmt.Errorf("load %s: %w", dc.Path, err)
			}
			datasets = append(datasets, ds)
		}
	}
	if len(datasets) == 0 {
		return errors.New("no dataset: pass CSV files or configure benchmark.datasets")
	}

	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	table, err := svc.Benchmark(cmd.Context(), benchFlags.models, datasets, cfg.Benchmark.FoldSpec(cfg.Split.PerUnit))
	if err != nil {
		return err
	}
	w, closeOut, err := output(cmd, benchFlags.out)
	if err != nil {
		return err
	}
	if err := write(w, table); err != nil {
		_ = closeOut()
		return err
	}
	return closeOut()
}
