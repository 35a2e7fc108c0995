package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/sohbench/core/events"
	coremetrics "github.com/kilianp07/sohbench/core/metrics"
	"github.com/kilianp07/sohbench/core/model"
	"github.com/kilianp07/sohbench/internal/eventbus"
)

func TestPromSink_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordCell(coremetrics.CellEvent{Model: "linear", Dataset: "lab", Status: "ok", MAE: 0.01}))
	require.NoError(t, sink.RecordCell(coremetrics.CellEvent{Model: "arrhenius", Dataset: "lab", Status: "missing", ErrorKind: "missing_covariate"}))
	require.NoError(t, sink.RecordFit(coremetrics.FitEvent{Model: "linear", Duration: 20 * time.Millisecond}))
	require.NoError(t, sink.RecordEstimate(coremetrics.EstimateEvent{UnitID: "u1", Model: "linear", Accepted: 0.93}))
	require.NoError(t, sink.RecordEstimate(coremetrics.EstimateEvent{UnitID: "u1", Model: "linear", Accepted: 1, Clipped: "upper"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.cells.WithLabelValues("linear", "lab", "ok", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.cells.WithLabelValues("arrhenius", "lab", "missing", "missing_covariate")))
	assert.Equal(t, 0.01, testutil.ToFloat64(sink.mae.WithLabelValues("linear", "lab")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.estimate.WithLabelValues("u1", "linear")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.clipped.WithLabelValues("linear", "upper")))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.fits))
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	require.NoError(t, err)
	b, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	require.NoError(t, err)
	require.NoError(t, a.RecordCell(coremetrics.CellEvent{Model: "m", Dataset: "d", Status: "ok"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.cells.WithLabelValues("m", "d", "ok", "")))
}

func TestStartEventCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	require.NoError(t, err)
	bus := eventbus.NewTyped[events.EstimateEvent]()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartEventCollector(ctx, bus, sink)

	// the subscription is registered before StartEventCollector returns
	bus.Publish(events.EstimateEvent{
		Model: "power_law",
		Estimate: model.SoHEstimate{
			UnitID:     "u9",
			Cycle:      12,
			Accepted:   0.88,
			Prediction: model.SoHPrediction{Value: 0.88, RawValue: 0.88},
		},
		Time: time.Now(),
	})
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(sink.estimate.WithLabelValues("u9", "power_law")) == 0.88
	}, time.Second, 10*time.Millisecond)
}
