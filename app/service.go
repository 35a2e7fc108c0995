// Package app wires the fitting core, the benchmark orchestrator and the
// adapters behind a single service.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/sohbench/core/benchmark"
	"github.com/kilianp07/sohbench/core/dataset"
	"github.com/kilianp07/sohbench/core/degradation"
	"github.com/kilianp07/sohbench/core/diagnostics"
	"github.com/kilianp07/sohbench/core/events"
	coremetrics "github.com/kilianp07/sohbench/core/metrics"
	"github.com/kilianp07/sohbench/core/model"
	"github.com/kilianp07/sohbench/core/monotonic"
	"github.com/kilianp07/sohbench/core/timesplit"
	"github.com/kilianp07/sohbench/infra/logger"
	"github.com/kilianp07/sohbench/infra/store"
	"github.com/kilianp07/sohbench/internal/eventbus"
)

// ErrUnknownModel is returned for model identifiers that are not configured.
var ErrUnknownModel = errors.New("unknown model")

// Options configure a Service. Zero values select the package defaults.
type Options struct {
	Validator   timesplit.Validator
	Enforcer    monotonic.Enforcer
	Diagnostics diagnostics.Options
	FitTimeout  time.Duration
	Workers     int
	// PartialCutoff is the time into a cycle after which online callers
	// cannot know a feature value. Zero disables the check.
	PartialCutoff time.Duration
	Sink          coremetrics.MetricsSink
	// Store persists fitted parameters, reports and benchmark tables when set.
	Store  *store.SQLiteStore
	Logger logger.Logger
	Clock  func() time.Time
}

func (o *Options) setDefaults() {
	if o.FitTimeout <= 0 {
		o.FitTimeout = benchmark.DefaultFitTimeout
	}
	if o.Sink == nil {
		o.Sink = coremetrics.NopSink{}
	}
	if o.Logger == nil {
		o.Logger = logger.NopLogger{}
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	if o.Enforcer.Mode == "" {
		o.Enforcer = monotonic.New(o.Enforcer.Epsilon, monotonic.ModeCausal)
	}
	if o.Validator.TestRatio == 0 {
		o.Validator = timesplit.New(0, false)
	}
}

// Service exposes fitting, prediction, online estimation, evaluation and
// benchmarking over a fixed set of configured models.
type Service struct {
	models    map[string]degradation.Model
	names     []string
	opts      Options
	log       logger.Logger
	cursorMu  sync.Mutex
	cursors   map[string]*timesplit.Cursors // by parameter set ID
	history   *monotonic.History
	estimates *eventbus.TypedBus[events.EstimateEvent]
	rejects   *eventbus.TypedBus[events.RejectEvent]
}

// NewService builds a service over models. Model names must be unique.
func NewService(models []degradation.Model, opts Options) (*Service, error) {
	opts.setDefaults()
	s := &Service{
		models:    make(map[string]degradation.Model, len(models)),
		opts:      opts,
		log:       opts.Logger,
		cursors:   make(map[string]*timesplit.Cursors),
		history:   monotonic.NewHistory(),
		estimates: eventbus.NewTyped[events.EstimateEvent](),
		rejects:   eventbus.NewTyped[events.RejectEvent](),
	}
	for _, m := range models {
		if _, dup := s.models[m.Name()]; dup {
			return nil, fmt.Errorf("duplicate model name %q", m.Name())
		}
		s.models[m.Name()] = m
		s.names = append(s.names, m.Name())
	}
	return s, nil
}

// Models lists the configured model identifiers in configuration order.
func (s *Service) Models() []string { return append([]string(nil), s.names...) }

// Model returns the configured model with the given identifier.
func (s *Service) Model(id string) (degradation.Model, error) {
	m, ok := s.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return m, nil
}

// History is the accumulator used when EstimateOnline receives none.
func (s *Service) History() *monotonic.History { return s.history }

// Estimates carries every accepted online estimate.
func (s *Service) Estimates() *eventbus.TypedBus[events.EstimateEvent] { return s.estimates }

// Rejects carries every refused online observation.
func (s *Service) Rejects() *eventbus.TypedBus[events.RejectEvent] { return s.rejects }

// Store returns the configured store, nil when persistence is disabled.
func (s *Service) Store() *store.SQLiteStore { return s.opts.Store }

// Sink returns the configured metrics sink.
func (s *Service) Sink() coremetrics.MetricsSink { return s.opts.Sink }

// Fit estimates the parameters of a model under the configured time budget
// and persists them when a store is configured.
func (s *Service) Fit(ctx context.Context, modelID string, obs []model.Observation) (model.ModelParameters, error) {
	m, err := s.Model(modelID)
	if err != nil {
		return model.ModelParameters{}, err
	}
	start := time.Now()
	fitCtx, cancel := context.WithTimeout(ctx, s.opts.FitTimeout)
	params, err := m.Fit(fitCtx, obs)
	cancel()
	s.recordFit(modelID, params, err, time.Since(start))
	if err != nil {
		return model.ModelParameters{}, fmt.Errorf("fit %s: %w", modelID, err)
	}
	s.log.Infof("fitted %s: %s on %d rows, residual std %.4g", modelID, params.ID, params.N, params.ResidualStd)
	if st := s.opts.Store; st != nil {
		if err := st.SaveParams(ctx, params); err != nil {
			return params, fmt.Errorf("save params %s: %w", params.ID, err)
		}
	}
	return params, nil
}

// Predict evaluates a fitted model for one observation.
func (s *Service) Predict(modelID string, params model.ModelParameters, o model.Observation) (model.SoHPrediction, error) {
	m, err := s.Model(modelID)
	if err != nil {
		return model.SoHPrediction{}, err
	}
	return m.Predict(o, params)
}

// EstimateOnline produces the estimate of one partial observation. The
// observation must not carry features final after the partial-charge cutoff,
// must move its unit strictly forward among the estimates made with params and
// must lie beyond the training data of params. The value is constrained causally against h, or the service
// history when h is nil, and accepted into it.
func (s *Service) EstimateOnline(modelID string, params model.ModelParameters, o model.Observation, h *monotonic.History) (model.SoHEstimate, error) {
	if h == nil {
		h = s.history
	}
	est, err := s.estimate(modelID, params, o, h)
	if err != nil {
		s.rejects.Publish(events.RejectEvent{UnitID: o.UnitID, Cycle: o.Cycle, Kind: model.Kind(err), Err: err, Time: s.opts.Clock()})
		return model.SoHEstimate{}, err
	}
	s.estimates.Publish(events.EstimateEvent{Model: modelID, Estimate: est, Time: s.opts.Clock()})
	return est, nil
}

func (s *Service) estimate(modelID string, params model.ModelParameters, o model.Observation, h *monotonic.History) (model.SoHEstimate, error) {
	m, err := s.Model(modelID)
	if err != nil {
		return model.SoHEstimate{}, err
	}
	if s.opts.PartialCutoff > 0 {
		if err := timesplit.GuardPartial(o.Features, s.opts.PartialCutoff); err != nil {
			return model.SoHEstimate{}, err
		}
	}
	cursors := s.cursorsFor(params.ID)
	if cur, ok := cursors.Get(o.UnitID); ok {
		if err := timesplit.GuardOnline(o, &cur, params.Fingerprint); err != nil {
			return model.SoHEstimate{}, err
		}
	}
	pred, err := m.Predict(o, params)
	if err != nil {
		return model.SoHEstimate{}, err
	}
	// Admit re-checks under the cursor lock so concurrent callers cannot
	// both accept the same cycle.
	if err := cursors.Admit(o, params.Fingerprint); err != nil {
		return model.SoHEstimate{}, err
	}
	est := model.SoHEstimate{
		Prediction: pred,
		UnitID:     o.UnitID,
		Cycle:      o.Cycle,
		Timestamp:  o.Timestamp,
		Mode:       string(monotonic.ModeCausal),
	}
	if prev, ok := h.Last(o.UnitID); ok {
		est.Previous = &prev
	}
	est.Accepted = s.opts.Enforcer.Next(o.UnitID, pred.Value, h)
	s.log.Debugw("online estimate", map[string]any{
		"model":    modelID,
		"unit_id":  o.UnitID,
		"cycle":    o.Cycle,
		"raw":      pred.RawValue,
		"accepted": est.Accepted,
	})
	return est, nil
}

// cursorsFor returns the online positions accepted under one parameter set.
// Each fitted model advances its own cursors, so two models may estimate the
// same cycle of a unit.
func (s *Service) cursorsFor(paramsID string) *timesplit.Cursors {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	c, ok := s.cursors[paramsID]
	if !ok {
		c = timesplit.NewCursors()
		s.cursors[paramsID] = c
	}
	return c
}

// Evaluate validates params on the test partition of split.
func (s *Service) Evaluate(ctx context.Context, modelID string, params model.ModelParameters, split model.Split) (model.ValidationReport, error) {
	m, err := s.Model(modelID)
	if err != nil {
		return model.ValidationReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.ValidationReport{}, err
	}
	rep, err := s.orchestrator(nil).EvaluateSplit(m, params, split)
	if err != nil {
		return model.ValidationReport{}, fmt.Errorf("evaluate %s: %w", modelID, err)
	}
	if st := s.opts.Store; st != nil {
		if err := st.SaveReport(ctx, "", rep); err != nil {
			return rep, fmt.Errorf("save report: %w", err)
		}
	}
	return rep, nil
}

// Benchmark runs the selected models, all of them when modelIDs is empty,
// against every dataset and fold.
func (s *Service) Benchmark(ctx context.Context, modelIDs []string, datasets []dataset.Dataset, spec timesplit.FoldSpec) (benchmark.Table, error) {
	if len(modelIDs) == 0 {
		modelIDs = s.names
	}
	models := make([]degradation.Model, 0, len(modelIDs))
	for _, id := range modelIDs {
		m, err := s.Model(id)
		if err != nil {
			return benchmark.Table{}, err
		}
		models = append(models, m)
	}
	table, err := s.orchestrator(models).Run(ctx, datasets, spec)
	if err != nil {
		return benchmark.Table{}, err
	}
	if st := s.opts.Store; st != nil {
		if err := st.SaveTable(ctx, table); err != nil {
			return table, fmt.Errorf("save benchmark %s: %w", table.RunID, err)
		}
	}
	return table, nil
}

func (s *Service) orchestrator(models []degradation.Model) benchmark.Orchestrator {
	return benchmark.Orchestrator{
		Models:      models,
		Validator:   s.opts.Validator,
		Enforcer:    s.opts.Enforcer,
		Diagnostics: s.opts.Diagnostics,
		FitTimeout:  s.opts.FitTimeout,
		Workers:     s.opts.Workers,
		Sink:        s.opts.Sink,
		Logger:      s.log,
		Clock:       s.opts.Clock,
	}
}

func (s *Service) recordFit(modelID string, params model.ModelParameters, err error, d time.Duration) {
	rec, ok := s.opts.Sink.(coremetrics.FitRecorder)
	if !ok {
		return
	}
	ev := coremetrics.FitEvent{
		Model:         modelID,
		ParamsID:      params.ID,
		N:             params.N,
		LowConfidence: params.LowConfidence,
		ErrorKind:     string(model.Kind(err)),
		Duration:      d,
		Time:          s.opts.Clock(),
	}
	if rerr := rec.RecordFit(ev); rerr != nil {
		s.log.Errorf("fit metrics error: %v", rerr)
	}
}

// Close closes the event buses and the store.
func (s *Service) Close() error {
	s.estimates.Close()
	s.rejects.Close()
	if s.opts.Store != nil {
		return s.opts.Store.Close()
	}
	return nil
}
