package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/sohbench/app"
	"github.com/kilianp07/sohbench/core/benchmark"
	"github.com/kilianp07/sohbench/core/dataset"
	"github.com/kilianp07/sohbench/core/degradation"
	coremetrics "github.com/kilianp07/sohbench/core/metrics"
	"github.com/kilianp07/sohbench/core/timesplit"
	"github.com/kilianp07/sohbench/infra/logger"
	"github.com/kilianp07/sohbench/infra/metrics"
)

// Result is the outcome of one scenario run.
type Result struct {
	Table    benchmark.Table
	Elapsed  time.Duration
	Failures []string
	// Registry holds the metrics recorded during the run.
	Registry *prometheus.Registry
}

// Passed reports whether every expectation held.
func (r Result) Passed() bool { return len(r.Failures) == 0 }

// Run benchmarks the scenario and checks its expectations. Errors are
// reserved for scenarios that cannot run at all.
func Run(ctx context.Context, sc *Scenario) (Result, error) {
	reg := degradation.NewRegistry()
	models := make([]degradation.Model, 0, len(sc.Models))
	for _, mc := range sc.Models {
		m, err := reg.Create(mc)
		if err != nil {
			return Result{}, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		models = append(models, m)
	}
	datasets := make([]dataset.Dataset, 0, len(sc.Datasets))
	for _, d := range sc.Datasets {
		ds, err := d.Build(sc.dir)
		if err != nil {
			return Result{}, fmt.Errorf("scenario %s: dataset %s: %w", sc.Name, d.Name, err)
		}
		datasets = append(datasets, ds)
	}

	promReg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(coremetrics.Config{}, promReg)
	if err != nil {
		return Result{}, fmt.Errorf("prom sink: %w", err)
	}
	svc, err := app.NewService(models, app.Options{
		Validator: timesplit.New(sc.Split.TestRatio, sc.Split.PerUnit),
		Sink:      sink,
		Logger:    logger.NopLogger{},
	})
	if err != nil {
		return Result{}, err
	}
	defer svc.Close()

	start := time.Now()
	table, err := svc.Benchmark(ctx, nil, datasets, timesplit.FoldSpec{Folds: sc.Split.Folds, PerUnit: sc.Split.PerUnit})
	if err != nil {
		return Result{}, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	res := Result{Table: table, Elapsed: time.Since(start), Registry: promReg}
	res.Failures = Check(sc.Expected, table, res.Elapsed)
	return res, nil
}

// Check compares a table with the expectations and lists every mismatch.
func Check(exp Expected, table benchmark.Table, elapsed time.Duration) []string {
	var out []string
	if exp.Cells > 0 && len(table.Cells) != exp.Cells {
		out = append(out, fmt.Sprintf("expected %d cells, got %d", exp.Cells, len(table.Cells)))
	}
	if d := exp.MaxDuration(); d > 0 && elapsed > d {
		out = append(out, fmt.Sprintf("run took %s, budget %s", elapsed, d))
	}
	for _, o := range exp.Outcomes {
		n := 0
		for _, c := range table.Cells {
			if c.Model != o.Model || c.Dataset != o.Dataset {
				continue
			}
			n++
			where := fmt.Sprintf("%s on %s fold %d", c.Model, c.Dataset, c.Fold)
			if string(c.Status) != o.Status {
				out = append(out, fmt.Sprintf("%s: status %s (%s), expected %s", where, c.Status, c.Reason, o.Status))
				continue
			}
			if o.ErrorKind != "" && string(c.ErrorKind) != o.ErrorKind {
				out = append(out, fmt.Sprintf("%s: error kind %s, expected %s", where, c.ErrorKind, o.ErrorKind))
			}
			if o.MaxMAE > 0 && c.Report != nil && c.Report.Metrics.MAE > o.MaxMAE {
				out = append(out, fmt.Sprintf("%s: MAE %.4g above %.4g", where, c.Report.Metrics.MAE, o.MaxMAE))
			}
		}
		if n == 0 {
			out = append(out, fmt.Sprintf("no cell for %s on %s", o.Model, o.Dataset))
		}
	}
	return out
}
