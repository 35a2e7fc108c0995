package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/sohbench/core/metrics"
)

// PromSink records benchmark cells, fits and online estimates in Prometheus
// metrics.
type PromSink struct {
	cells    *prometheus.CounterVec
	mae      *prometheus.GaugeVec
	fits     *prometheus.HistogramVec
	estimate *prometheus.GaugeVec
	clipped  *prometheus.CounterVec
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cells, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "soh_benchmark_cells_total",
		Help: "Benchmark cells by model, dataset and outcome",
	}, []string{"model", "dataset", "status", "error_kind"}))
	if err != nil {
		return nil, err
	}
	mae, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "soh_benchmark_mae",
		Help: "Held-out mean absolute error of the last completed cell",
	}, []string{"model", "dataset"}))
	if err != nil {
		return nil, err
	}
	fits, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "soh_fit_duration_seconds",
		Help:    "Duration of degradation model fits",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
	}, []string{"model", "error_kind"}))
	if err != nil {
		return nil, err
	}
	estimate, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "soh_estimate",
		Help: "Last accepted online SoH estimate",
	}, []string{"unit_id", "model"}))
	if err != nil {
		return nil, err
	}
	clipped, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "soh_estimate_clipped_total",
		Help: "Online estimates clipped into [0,1]",
	}, []string{"model", "side"}))
	if err != nil {
		return nil, err
	}
	return &PromSink{cells: cells, mae: mae, fits: fits, estimate: estimate, clipped: clipped}, nil
}

// register returns the collector already registered under the same
// descriptor when there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// RecordCell counts the cell and tracks the MAE of completed cells.
func (s *PromSink) RecordCell(ev coremetrics.CellEvent) error {
	s.cells.WithLabelValues(ev.Model, ev.Dataset, ev.Status, ev.ErrorKind).Inc()
	if ev.ErrorKind == "" {
		s.mae.WithLabelValues(ev.Model, ev.Dataset).Set(ev.MAE)
	}
	return nil
}

// RecordFit observes the fit duration.
func (s *PromSink) RecordFit(ev coremetrics.FitEvent) error {
	s.fits.WithLabelValues(ev.Model, ev.ErrorKind).Observe(ev.Duration.Seconds())
	return nil
}

// RecordEstimate sets the unit gauge to the accepted value.
func (s *PromSink) RecordEstimate(ev coremetrics.EstimateEvent) error {
	s.estimate.WithLabelValues(ev.UnitID, ev.Model).Set(ev.Accepted)
	if ev.Clipped != "" {
		s.clipped.WithLabelValues(ev.Model, ev.Clipped).Inc()
	}
	return nil
}
