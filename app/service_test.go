package app

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/sohbench/config"
	"github.com/kilianp07/sohbench/core/dataset"
	"github.com/kilianp07/sohbench/core/degradation"
	"github.com/kilianp07/sohbench/core/model"
	"github.com/kilianp07/sohbench/core/monotonic"
	"github.com/kilianp07/sohbench/core/timesplit"
	"github.com/kilianp07/sohbench/infra/store"
)

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	svc, err := NewService([]degradation.Model{
		degradation.NewPowerLaw("", degradation.Options{}),
		degradation.NewLinear("", degradation.Options{}),
	}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func synth(t *testing.T, cfg dataset.SynthConfig) dataset.Dataset {
	t.Helper()
	ds, err := dataset.Synthesize("lab", cfg)
	require.NoError(t, err)
	return ds
}

// online returns the observation of a unit at cycle k, with no SoH.
func online(unit string, k int) model.Observation {
	return model.Observation{
		UnitID:    unit,
		Cycle:     k,
		Timestamp: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(k) * time.Hour),
	}
}

func TestNewService_DuplicateNames(t *testing.T) {
	_, err := NewService([]degradation.Model{
		degradation.NewLinear("m", degradation.Options{}),
		degradation.NewPowerLaw("m", degradation.Options{}),
	}, Options{})
	assert.Error(t, err)
}

func TestFit_UnknownModel(t *testing.T) {
	svc := newService(t, Options{})
	_, err := svc.Fit(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownModel)
	_, err = svc.Predict("nope", model.ModelParameters{}, online("u", 1))
	assert.ErrorIs(t, err, ErrUnknownModel)
	_, err = svc.EstimateOnline("nope", model.ModelParameters{}, online("u", 1), nil)
	assert.ErrorIs(t, err, ErrUnknownModel)
	_, err = svc.Benchmark(context.Background(), []string{"nope"}, nil, timesplit.FoldSpec{})
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestFit_PersistsParameters(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "soh.db"))
	require.NoError(t, err)
	svc := newService(t, Options{Store: st})

	ds := synth(t, dataset.SynthConfig{Cycles: 50, Step: 10})
	params, err := svc.Fit(context.Background(), "power_law", ds.Observations)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, params.Values["a"], 1e-4)

	latest, err := st.LatestParams(context.Background(), "power_law")
	require.NoError(t, err)
	assert.Equal(t, params.ID, latest.ID)

	p, err := svc.Predict("power_law", params, online("lab-01", 600))
	require.NoError(t, err)
	assert.InDelta(t, 1-0.10*math.Sqrt(6)-0.05*6, p.Value, 1e-3)
}

func TestEstimateOnline(t *testing.T) {
	svc := newService(t, Options{PartialCutoff: 2 * time.Hour})
	ds := synth(t, dataset.SynthConfig{Cycles: 30, Step: 10})
	params, err := svc.Fit(context.Background(), "power_law", ds.Observations)
	require.NoError(t, err)

	estimates := svc.Estimates().Subscribe()
	rejects := svc.Rejects().Subscribe()
	h := monotonic.NewHistory()

	var last float64 = 1
	for k := 310; k <= 350; k += 10 {
		est, err := svc.EstimateOnline("power_law", params, online("lab-01", k), h)
		require.NoError(t, err)
		assert.LessOrEqual(t, est.Accepted, last+monotonic.DefaultEpsilon)
		assert.Equal(t, "causal", est.Mode)
		if k > 310 {
			require.NotNil(t, est.Previous)
			assert.Equal(t, last, *est.Previous)
		}
		last = est.Accepted
		ev := <-estimates
		assert.Equal(t, k, ev.Estimate.Cycle)
		assert.Equal(t, "power_law", ev.Model)
	}
	assert.Len(t, h.Values("lab-01"), 5)

	cases := map[string]model.Observation{
		"replayed cycle":  online("lab-01", 350),
		"inside training": online("lab-01", 300),
	}
	late := online("lab-01", 400)
	late.Features = mustFeatures(t, model.Feature{Name: "cv_time", Value: 1300, Horizon: 3 * time.Hour})
	cases["post-cutoff feature"] = late
	for name, o := range cases {
		_, err := svc.EstimateOnline("power_law", params, o, h)
		assert.True(t, model.IsLeakage(err), name)
		ev := <-rejects
		assert.Equal(t, model.KindLeakageViolation, ev.Kind, name)
	}
	assert.Len(t, h.Values("lab-01"), 5, "rejected observations are not accepted")

	// a unit absent from training starts without a cursor
	_, err = svc.EstimateOnline("power_law", params, online("lab-02", 10), nil)
	require.NoError(t, err)
	_, ok := svc.History().Last("lab-02")
	assert.True(t, ok)
}

func TestEstimateOnline_CursorsPerParameterSet(t *testing.T) {
	svc := newService(t, Options{})
	ds := synth(t, dataset.SynthConfig{Cycles: 30, Step: 10})
	pl, err := svc.Fit(context.Background(), "power_law", ds.Observations)
	require.NoError(t, err)
	lin, err := svc.Fit(context.Background(), "linear", ds.Observations)
	require.NoError(t, err)
	require.NotEqual(t, pl.ID, lin.ID)

	_, err = svc.EstimateOnline("power_law", pl, online("u1", 5), monotonic.NewHistory())
	require.NoError(t, err)
	_, err = svc.EstimateOnline("linear", lin, online("u1", 5), monotonic.NewHistory())
	require.NoError(t, err, "a second model estimates the same cycle")

	_, err = svc.EstimateOnline("power_law", pl, online("u1", 5), monotonic.NewHistory())
	assert.True(t, model.IsLeakage(err), "a parameter set cannot replay its own cycle")
	_, err = svc.EstimateOnline("linear", lin, online("u1", 6), nil)
	require.NoError(t, err)
}

func mustFeatures(t *testing.T, fs ...model.Feature) model.FeatureVector {
	t.Helper()
	fv, err := model.NewFeatureVector(fs...)
	require.NoError(t, err)
	return fv
}

func TestOnlineEstimator(t *testing.T) {
	svc := newService(t, Options{})
	ds := synth(t, dataset.SynthConfig{Cycles: 20, Step: 10})
	params, err := svc.Fit(context.Background(), "linear", ds.Observations)
	require.NoError(t, err)

	est, err := svc.Estimator("linear", params, nil)
	require.NoError(t, err)
	got, err := est.Estimate(context.Background(), online("lab-01", 210))
	require.NoError(t, err)
	assert.InDelta(t, 1-0.05*2.1, got.Accepted, 1e-3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = est.Estimate(ctx, online("lab-01", 220))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = svc.Estimator("nope", params, nil)
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestEvaluateAndBenchmark(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "soh.db"))
	require.NoError(t, err)
	svc := newService(t, Options{Store: st})
	ds := synth(t, dataset.SynthConfig{Cycles: 50, Step: 10, Noise: 0.002, Seed: 3})

	res, err := timesplit.New(0.2, false).Split(ds.Observations, timesplit.Options{Scope: ds.Name})
	require.NoError(t, err)
	require.Len(t, res.Splits, 1)
	split := res.Splits[0]
	params, err := svc.Fit(context.Background(), "power_law", split.Train())
	require.NoError(t, err)
	rep, err := svc.Evaluate(context.Background(), "power_law", params, split)
	require.NoError(t, err)
	assert.Equal(t, 10, rep.N)
	assert.Less(t, rep.Metrics.MAE, 0.02)
	assert.Equal(t, "power_law", rep.ModelID)

	table, err := svc.Benchmark(context.Background(), nil, []dataset.Dataset{ds}, timesplit.FoldSpec{})
	require.NoError(t, err)
	require.Len(t, table.Cells, 2)
	reps, err := st.Reports(context.Background(), store.ReportQuery{RunID: table.RunID})
	require.NoError(t, err)
	assert.Len(t, reps, 2)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "soh.db")
	svc, err := New(cfg)
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, []string{"power_law", "linear", "exponential", "arrhenius"}, svc.Models())
	assert.NotNil(t, svc.Store())
}
