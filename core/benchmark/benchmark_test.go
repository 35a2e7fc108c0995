package benchmark

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/sohbench/core/dataset"
	"github.com/kilianp07/sohbench/core/degradation"
	"github.com/kilianp07/sohbench/core/metrics"
	"github.com/kilianp07/sohbench/core/model"
	"github.com/kilianp07/sohbench/core/timesplit"
)

func synth(t *testing.T, name string, cfg dataset.SynthConfig) dataset.Dataset {
	t.Helper()
	ds, err := dataset.Synthesize(name, cfg)
	require.NoError(t, err)
	return ds
}

func powerLawData(t *testing.T, name string) dataset.Dataset {
	return synth(t, name, dataset.SynthConfig{Curve: "power_law", Units: 3, Cycles: 50, Step: 20, Noise: 0.01, Seed: 42})
}

type recordingSink struct {
	mu    sync.Mutex
	cells []metrics.CellEvent
	fits  []metrics.FitEvent
}

func (r *recordingSink) RecordCell(ev metrics.CellEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cells = append(r.cells, ev)
	return nil
}

func (r *recordingSink) RecordFit(ev metrics.FitEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fits = append(r.fits, ev)
	return nil
}

// stubModel delegates to a power law unless a hook overrides a step.
type stubModel struct {
	degradation.Model
	name    string
	fit     func(ctx context.Context) error
	predict func() error
}

func (s stubModel) Name() string { return s.name }

func (s stubModel) Fit(ctx context.Context, obs []model.Observation) (model.ModelParameters, error) {
	if s.fit != nil {
		if err := s.fit(ctx); err != nil {
			return model.ModelParameters{}, err
		}
	}
	return s.Model.Fit(ctx, obs)
}

func (s stubModel) Predict(o model.Observation, p model.ModelParameters) (model.SoHPrediction, error) {
	if s.predict != nil {
		if err := s.predict(); err != nil {
			return model.SoHPrediction{}, err
		}
	}
	return s.Model.Predict(o, p)
}

func newArrhenius(t *testing.T) degradation.Model {
	t.Helper()
	m, err := degradation.NewArrhenius("", degradation.Options{}, degradation.ArrheniusConfig{})
	require.NoError(t, err)
	return m
}

func TestRun_HoldOut(t *testing.T) {
	sink := &recordingSink{}
	o := Orchestrator{
		Models:    []degradation.Model{degradation.NewPowerLaw("", degradation.Options{}), degradation.NewLinear("", degradation.Options{})},
		Validator: timesplit.New(0.2, false),
		Workers:   3,
		Sink:      sink,
	}
	table, err := o.Run(context.Background(), []dataset.Dataset{powerLawData(t, "lab"), powerLawData(t, "field")}, timesplit.FoldSpec{})
	require.NoError(t, err)

	assert.NotEmpty(t, table.RunID)
	require.Len(t, table.Cells, 4)
	order := [][2]string{{"lab", "power_law"}, {"lab", "linear"}, {"field", "power_law"}, {"field", "linear"}}
	for i, c := range table.Cells {
		assert.Equal(t, order[i][0], c.Dataset)
		assert.Equal(t, order[i][1], c.Model)
		require.Equal(t, StatusOK, c.Status, c.Reason)
		require.NotNil(t, c.Report)
		assert.Equal(t, c.Model, c.Report.ModelID)
		assert.Equal(t, c.Params.ID, c.Report.ParamsID)
	}
	assert.Less(t, table.Cells[0].Report.Metrics.MAE, 0.02)

	assert.Len(t, sink.cells, 4)
	assert.Len(t, sink.fits, 4)
	for _, ev := range sink.cells {
		assert.Equal(t, table.RunID, ev.RunID)
	}

	sums := table.Summaries()
	require.Len(t, sums, 4)
	assert.Equal(t, "field", sums[0].Dataset)
	assert.Equal(t, "linear", sums[0].Model)
	assert.Equal(t, 1, sums[0].OK)
	require.NotNil(t, sums[0].MeanMAE)
	assert.Equal(t, *sums[0].MeanMAE, *sums[0].MedianMAE)
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	o := Orchestrator{
		Models:    []degradation.Model{newArrhenius(t), degradation.NewPowerLaw("", degradation.Options{})},
		Validator: timesplit.New(0.2, false),
	}
	table, err := o.Run(context.Background(), []dataset.Dataset{powerLawData(t, "no-temp")}, timesplit.FoldSpec{})
	require.NoError(t, err)
	require.Len(t, table.Cells, 2)

	arr := table.Cells[0]
	assert.Equal(t, "arrhenius", arr.Model)
	assert.Equal(t, StatusMissing, arr.Status)
	assert.Equal(t, model.KindMissingCovariate, arr.ErrorKind)
	assert.NotEmpty(t, arr.Reason)
	assert.Nil(t, arr.Report)

	assert.Equal(t, StatusOK, table.Cells[1].Status)
	require.Len(t, table.Missing(), 1)

	sums := table.Summaries()
	require.Len(t, sums, 2)
	assert.Equal(t, 0, sums[0].OK)
	assert.Equal(t, 1, sums[0].Missing)
	assert.Nil(t, sums[0].MeanMAE, "missing cells never count as zero error")
	assert.Equal(t, 1, sums[0].Reasons[model.KindMissingCovariate])
}

func TestRun_WalkForward(t *testing.T) {
	o := Orchestrator{
		Models:    []degradation.Model{degradation.NewPowerLaw("", degradation.Options{})},
		Validator: timesplit.New(0, false),
	}
	table, err := o.Run(context.Background(), []dataset.Dataset{powerLawData(t, "lab")}, timesplit.FoldSpec{Folds: 3, MinTrainRatio: 0.5})
	require.NoError(t, err)
	require.Len(t, table.Cells, 3)
	for i, c := range table.Cells {
		assert.Equal(t, i, c.Fold)
		assert.Equal(t, StatusOK, c.Status, c.Reason)
	}
}

func TestRun_FitTimeoutIsRecoverable(t *testing.T) {
	slow := stubModel{
		Model: degradation.NewLinear("", degradation.Options{}),
		name:  "slow",
		fit: func(ctx context.Context) error {
			<-ctx.Done()
			return &model.FitTimeoutError{Model: "slow", Budget: 10 * time.Millisecond}
		},
	}
	o := Orchestrator{
		Models:     []degradation.Model{slow, degradation.NewLinear("", degradation.Options{})},
		Validator:  timesplit.New(0.2, false),
		FitTimeout: 10 * time.Millisecond,
	}
	table, err := o.Run(context.Background(), []dataset.Dataset{powerLawData(t, "lab")}, timesplit.FoldSpec{})
	require.NoError(t, err)
	require.Len(t, table.Cells, 2)
	assert.Equal(t, model.KindFitTimeout, table.Cells[0].ErrorKind)
	assert.Equal(t, StatusOK, table.Cells[1].Status)
}

func TestRun_LeakageAbortsRun(t *testing.T) {
	leaky := stubModel{
		Model:   degradation.NewLinear("", degradation.Options{}),
		name:    "leaky",
		predict: func() error { return model.Leakage("test row inside training window") },
	}
	o := Orchestrator{
		Models:    []degradation.Model{degradation.NewPowerLaw("", degradation.Options{}), leaky},
		Validator: timesplit.New(0.2, false),
	}
	_, err := o.Run(context.Background(), []dataset.Dataset{powerLawData(t, "lab")}, timesplit.FoldSpec{})
	require.Error(t, err)
	assert.True(t, model.IsLeakage(err))
}

func TestRun_UnknownFailureIsRecorded(t *testing.T) {
	broken := stubModel{
		Model:   degradation.NewLinear("", degradation.Options{}),
		name:    "broken",
		predict: func() error { return errors.New("boom") },
	}
	o := Orchestrator{Models: []degradation.Model{broken}, Validator: timesplit.New(0.2, false)}
	table, err := o.Run(context.Background(), []dataset.Dataset{powerLawData(t, "lab")}, timesplit.FoldSpec{})
	require.NoError(t, err)
	require.Len(t, table.Cells, 1)
	assert.Equal(t, model.KindUnknown, table.Cells[0].ErrorKind)
	assert.Equal(t, "boom", table.Cells[0].Reason)
}

func TestRun_DatasetWithoutUsableHistory(t *testing.T) {
	ds := synth(t, "tiny", dataset.SynthConfig{Curve: "linear", Cycles: 2})
	o := Orchestrator{Models: []degradation.Model{degradation.NewLinear("", degradation.Options{})}, Validator: timesplit.New(0.5, false)}
	table, err := o.Run(context.Background(), []dataset.Dataset{ds}, timesplit.FoldSpec{})
	require.NoError(t, err)
	require.Len(t, table.Cells, 1)
	assert.Equal(t, StatusMissing, table.Cells[0].Status)
	assert.Equal(t, model.KindInsufficientHistory, table.Cells[0].ErrorKind)
	assert.NotEmpty(t, table.Excluded)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := Orchestrator{Models: []degradation.Model{degradation.NewLinear("", degradation.Options{})}, Validator: timesplit.New(0.2, false)}
	_, err := o.Run(ctx, []dataset.Dataset{powerLawData(t, "lab")}, timesplit.FoldSpec{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummaries_MeanAndMedian(t *testing.T) {
	cell := func(mae float64) Cell {
		return Cell{Model: "m", Dataset: "d", Status: StatusOK, Report: &model.ValidationReport{Metrics: model.PointMetrics{MAE: mae, RMSE: 2 * mae}}}
	}
	table := Table{Cells: []Cell{
		cell(0.01), cell(0.02), cell(0.06),
		{Model: "m", Dataset: "d", Status: StatusMissing, ErrorKind: model.KindFitTimeout},
	}}
	sums := table.Summaries()
	require.Len(t, sums, 1)
	s := sums[0]
	assert.Equal(t, 3, s.OK)
	assert.Equal(t, 1, s.Missing)
	assert.InDelta(t, 0.03, *s.MeanMAE, 1e-12)
	assert.InDelta(t, 0.02, *s.MedianMAE, 1e-12)
	assert.InDelta(t, 0.04, *s.MedianRMSE, 1e-12)
}
