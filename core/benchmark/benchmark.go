// Package benchmark runs every configured degradation model against every
// dataset and fold and collects the validation reports in a table.
package benchmark

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/sohbench/core/dataset"
	"github.com/kilianp07/sohbench/core/degradation"
	"github.com/kilianp07/sohbench/core/diagnostics"
	"github.com/kilianp07/sohbench/core/logger"
	"github.com/kilianp07/sohbench/core/metrics"
	"github.com/kilianp07/sohbench/core/model"
	"github.com/kilianp07/sohbench/core/monotonic"
	"github.com/kilianp07/sohbench/core/timesplit"
)

// DefaultFitTimeout bounds the wall-clock time of one fit.
const DefaultFitTimeout = 30 * time.Second

// Orchestrator evaluates the cross product of models, datasets and folds.
// Cells are independent: a failing cell is recorded as missing and the run
// continues, except for leakage violations which abort the run.
type Orchestrator struct {
	Models      []degradation.Model
	Validator   timesplit.Validator
	Enforcer    monotonic.Enforcer
	Diagnostics diagnostics.Options
	FitTimeout  time.Duration
	// Workers bounds the number of cells evaluated concurrently.
	Workers int
	Sink    metrics.MetricsSink
	Logger  logger.Logger
	Clock   func() time.Time
}

type job struct {
	model degradation.Model
	ds    string
	split model.Split
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

func (o *Orchestrator) setDefaults() {
	if o.FitTimeout <= 0 {
		o.FitTimeout = DefaultFitTimeout
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Sink == nil {
		o.Sink = metrics.NopSink{}
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	if o.Enforcer.Mode == "" {
		o.Enforcer = monotonic.New(o.Enforcer.Epsilon, monotonic.ModeCausal)
	}
	if o.Diagnostics.Clock == nil {
		o.Diagnostics.Clock = o.Clock
	}
}

// Run evaluates every model on every split of every dataset. spec.Folds ≤ 1
// selects a single hold-out split at the validator's test ratio; larger
// values select walk-forward folds.
func (o Orchestrator) Run(ctx context.Context, datasets []dataset.Dataset, spec timesplit.FoldSpec) (Table, error) {
	o.setDefaults()
	if len(o.Models) == 0 {
		return Table{}, fmt.Errorf("benchmark: no models configured")
	}
	table := Table{RunID: uuid.NewString(), StartedAt: o.Clock()}
	o.Logger.Infof("benchmark %s: %d models, %d datasets", table.RunID, len(o.Models), len(datasets))

	// Cells are laid out up front so workers write to their own slot.
	var jobs []job
	var cells []Cell
	for _, ds := range datasets {
		res, err := o.splits(ds, spec)
		for _, ex := range res.Excluded {
			table.Excluded = append(table.Excluded, Exclusion{Dataset: ds.Name, Exclusion: ex})
		}
		if err == nil && len(res.Splits) == 0 {
			err = noSplitError(ds.Name, res.Excluded)
		}
		if err != nil {
			if model.IsLeakage(err) {
				return Table{}, err
			}
			o.Logger.Warnf("benchmark %s: dataset %s: %v", table.RunID, ds.Name, err)
			for _, m := range o.Models {
				cells = append(cells, missingCell(m.Name(), ds.Name, ds.Name, 0, err))
				jobs = append(jobs, job{})
			}
			continue
		}
		for _, s := range res.Splits {
			for _, m := range o.Models {
				jobs = append(jobs, job{model: m, ds: ds.Name, split: s})
				cells = append(cells, Cell{})
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Workers)
	for i, j := range jobs {
		if j.model == nil {
			continue
		}
		g.Go(func() error {
			c, err := o.runCell(gctx, j)
			if err != nil {
				return fmt.Errorf("benchmark %s: %s on %s fold %d: %w", table.RunID, j.model.Name(), j.ds, j.split.Fold(), err)
			}
			cells[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Table{}, err
	}
	if err := ctx.Err(); err != nil {
		return Table{}, err
	}

	table.Cells = cells
	table.FinishedAt = o.Clock()
	for _, c := range table.Cells {
		o.record(table.RunID, c)
	}
	return table, nil
}

func (o Orchestrator) splits(ds dataset.Dataset, spec timesplit.FoldSpec) (timesplit.Result, error) {
	if spec.Folds <= 1 {
		return o.Validator.Split(ds.Observations, timesplit.Options{Scope: ds.Name, PerUnit: spec.PerUnit})
	}
	return o.Validator.WalkForward(ds.Observations, spec, ds.Name)
}

func noSplitError(name string, excluded []timesplit.Exclusion) error {
	if len(excluded) > 0 {
		return fmt.Errorf("dataset %s: every unit excluded: %w", name, excluded[0].Err)
	}
	return &model.InsufficientHistoryError{UnitID: name}
}

func missingCell(modelName, ds, scope string, fold int, err error) Cell {
	return Cell{
		Model:     modelName,
		Dataset:   ds,
		Scope:     scope,
		Fold:      fold,
		Status:    StatusMissing,
		ErrorKind: model.Kind(err),
		Reason:    err.Error(),
	}
}

// runCell returns an error only for leakage violations; every other failure
// becomes a missing cell.
func (o Orchestrator) runCell(ctx context.Context, j job) (Cell, error) {
	start := time.Now()
	name := j.model.Name()
	fail := func(err error) (Cell, error) {
		if model.IsLeakage(err) {
			return Cell{}, err
		}
		c := missingCell(name, j.ds, j.split.Scope(), j.split.Fold(), err)
		c.Duration = time.Since(start)
		return c, nil
	}

	fitCtx, cancel := context.WithTimeout(ctx, o.FitTimeout)
	params, err := j.model.Fit(fitCtx, j.split.Train())
	cancel()
	o.recordFit(name, params, err, time.Since(start))
	if err != nil {
		return fail(err)
	}

	rep, err := o.evaluate(j.model, params, j.split)
	if err != nil {
		return fail(err)
	}
	rep.Dataset = j.ds
	return Cell{
		Model:    name,
		Dataset:  j.ds,
		Scope:    j.split.Scope(),
		Fold:     j.split.Fold(),
		Status:   StatusOK,
		Params:   &params,
		Report:   &rep,
		Duration: time.Since(start),
	}, nil
}

// EvaluateSplit predicts the test partition of split with params, applies the
// monotonic constraint and computes the validation report.
func (o Orchestrator) EvaluateSplit(m degradation.Model, params model.ModelParameters, split model.Split) (model.ValidationReport, error) {
	o.setDefaults()
	return o.evaluate(m, params, split)
}

func (o Orchestrator) evaluate(m degradation.Model, params model.ModelParameters, split model.Split) (model.ValidationReport, error) {
	test := split.Test()
	preds, err := o.predict(m, params, split.Train(), test)
	if err != nil {
		return model.ValidationReport{}, err
	}
	res, err := diagnostics.Pair(test, preds)
	if err != nil {
		return model.ValidationReport{}, err
	}
	rep, err := diagnostics.Evaluate(res, o.Diagnostics)
	if err != nil {
		return model.ValidationReport{}, err
	}
	rep.ModelID = m.Name()
	return rep, nil
}

// predict evaluates the test partition unit by unit and applies the
// monotonic constraint. The causal seed of a unit is the fitted value at its
// last training cycle, which uses training information only.
func (o Orchestrator) predict(m degradation.Model, params model.ModelParameters, train []model.Observation, test model.TestPartition) ([]model.SoHPrediction, error) {
	last := make(map[string]model.Observation)
	for _, t := range train {
		if cur, ok := last[t.UnitID]; !ok || t.Cycle > cur.Cycle {
			last[t.UnitID] = t
		}
	}
	rows := test.Observations()
	out := make([]model.SoHPrediction, len(rows))
	for start := 0; start < len(rows); {
		end := start
		for end < len(rows) && rows[end].UnitID == rows[start].UnitID {
			end++
		}
		raw := make([]float64, 0, end-start)
		for i := start; i < end; i++ {
			p, err := m.Predict(rows[i], params)
			if err != nil {
				return nil, err
			}
			out[i] = p
			raw = append(raw, p.Value)
		}
		var seed *float64
		if t, ok := last[rows[start].UnitID]; ok {
			if p, err := m.Predict(t, params); err == nil {
				seed = &p.Value
			}
		}
		for k, v := range o.Enforcer.Sequence(raw, seed) {
			out[start+k] = constrain(out[start+k], v)
		}
		start = end
	}
	return out, nil
}

// constrain replaces the point value and widens the interval to contain it.
func constrain(p model.SoHPrediction, v float64) model.SoHPrediction {
	p.Value = v
	if p.CI != nil {
		ci := *p.CI
		ci.Lower = math.Min(ci.Lower, v)
		ci.Upper = math.Max(ci.Upper, v)
		p.CI = &ci
	}
	return p
}

func (o Orchestrator) recordFit(name string, params model.ModelParameters, err error, d time.Duration) {
	rec, ok := o.Sink.(metrics.FitRecorder)
	if !ok {
		return
	}
	ev := metrics.FitEvent{
		Model:         name,
		ParamsID:      params.ID,
		N:             params.N,
		LowConfidence: params.LowConfidence,
		ErrorKind:     string(model.Kind(err)),
		Duration:      d,
		Time:          o.Clock(),
	}
	if rerr := rec.RecordFit(ev); rerr != nil {
		o.Logger.Errorf("fit metrics error: %v", rerr)
	}
}

func (o Orchestrator) record(runID string, c Cell) {
	fields := map[string]any{
		"run_id":  runID,
		"model":   c.Model,
		"dataset": c.Dataset,
		"scope":   c.Scope,
		"fold":    c.Fold,
		"status":  string(c.Status),
	}
	ev := metrics.CellEvent{
		RunID:     runID,
		Model:     c.Model,
		Dataset:   c.Dataset,
		Fold:      c.Fold,
		Status:    string(c.Status),
		ErrorKind: string(c.ErrorKind),
		LjungBoxP: math.NaN(),
		Duration:  c.Duration,
		Time:      o.Clock(),
	}
	if c.Report != nil {
		ev.MAE, ev.RMSE = c.Report.Metrics.MAE, c.Report.Metrics.RMSE
		fields["mae"], fields["rmse"] = ev.MAE, ev.RMSE
		if lb, ok := c.Report.Tests[diagnostics.TestLjungBox]; ok {
			ev.LjungBoxP = lb.PValue
			fields["ljung_box_p"] = lb.PValue
		}
		o.Logger.Debugw("benchmark cell", fields)
	} else {
		fields["error_kind"] = string(c.ErrorKind)
		o.Logger.Debugw("benchmark cell", fields)
		o.Logger.Warnf("benchmark %s: %s on %s missing: %s", runID, c.Model, c.Dataset, strings.TrimSpace(c.Reason))
	}
	if err := o.Sink.RecordCell(ev); err != nil {
		o.Logger.Errorf("metrics error: %v", err)
	}
}
