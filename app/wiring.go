package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/sohbench/config"
	"github.com/kilianp07/sohbench/core/degradation"
	coremetrics "github.com/kilianp07/sohbench/core/metrics"
	"github.com/kilianp07/sohbench/core/model"
	"github.com/kilianp07/sohbench/core/monotonic"
	"github.com/kilianp07/sohbench/infra/logger"
	"github.com/kilianp07/sohbench/infra/metrics"
	"github.com/kilianp07/sohbench/infra/mqtt"
	"github.com/kilianp07/sohbench/infra/store"
)

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	reg := degradation.NewRegistry()
	models := make([]degradation.Model, 0, len(cfg.Models))
	for i, mc := range cfg.Models {
		m, err := reg.Create(mc)
		if err != nil {
			return nil, fmt.Errorf("models[%d]: %w", i, err)
		}
		models = append(models, m)
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	var st *store.SQLiteStore
	if cfg.Store.Path != "" {
		st, err = store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}
	svc, err := NewService(models, Options{
		Validator:     cfg.Split.Validator(),
		Enforcer:      cfg.Monotonic.Enforcer(),
		Diagnostics:   cfg.Diagnostics,
		FitTimeout:    cfg.Benchmark.FitTimeout(),
		Workers:       cfg.Benchmark.Workers,
		PartialCutoff: cfg.Online.PartialCutoff(),
		Sink:          sink,
		Store:         st,
		Logger:        logger.New("service"),
	})
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, err
	}
	svc.history.Max = cfg.Online.HistoryMax
	return svc, nil
}

// OnlineEstimator binds a model and its parameters to EstimateOnline.
type OnlineEstimator struct {
	svc     *Service
	modelID string
	params  model.ModelParameters
	history *monotonic.History
}

// Estimator returns an OnlineEstimator accumulating into h, the service
// history when h is nil.
func (s *Service) Estimator(modelID string, params model.ModelParameters, h *monotonic.History) (*OnlineEstimator, error) {
	if _, err := s.Model(modelID); err != nil {
		return nil, err
	}
	return &OnlineEstimator{svc: s, modelID: modelID, params: params, history: h}, nil
}

func (e *OnlineEstimator) Estimate(ctx context.Context, o model.Observation) (model.SoHEstimate, error) {
	if err := ctx.Err(); err != nil {
		return model.SoHEstimate{}, err
	}
	return e.svc.EstimateOnline(e.modelID, e.params, o, e.history)
}

// ServeOptions select the long-running adapters of Run.
type ServeOptions struct {
	PrometheusAddr string
	MQTT           mqtt.Config
}

// Run starts the metrics endpoint, the estimate collector and, when a broker
// is configured, the MQTT bridge, then blocks until ctx is canceled.
func (s *Service) Run(ctx context.Context, opts ServeOptions) error {
	metrics.StartEventCollector(ctx, s.estimates, s.opts.Sink)
	go s.logRejects(ctx)
	if opts.PrometheusAddr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, opts.PrometheusAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if opts.MQTT.Enabled() {
		est, err := s.onlineFromStore(ctx, opts.MQTT)
		if err != nil {
			return err
		}
		client, err := mqtt.NewPahoClient(opts.MQTT)
		if err != nil {
			return fmt.Errorf("mqtt client: %w", err)
		}
		defer client.Disconnect()
		if err := mqtt.NewBridge(client, est, opts.MQTT.TopicPrefix).Start(ctx); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

func (s *Service) onlineFromStore(ctx context.Context, cfg mqtt.Config) (*OnlineEstimator, error) {
	st := s.opts.Store
	if st == nil {
		return nil, errors.New("mqtt bridge needs store.path to load fitted parameters")
	}
	modelID := cfg.Model
	if modelID == "" && len(s.names) > 0 {
		modelID = s.names[0]
	}
	var (
		params model.ModelParameters
		err    error
	)
	if cfg.ParamsID != "" {
		params, err = st.LoadParams(ctx, cfg.ParamsID)
	} else {
		params, err = st.LatestParams(ctx, modelID)
	}
	if err != nil {
		return nil, fmt.Errorf("load parameters of %s: %w", modelID, err)
	}
	s.log.Infof("serving %s with parameters %s", modelID, params.ID)
	return s.Estimator(modelID, params, nil)
}

func (s *Service) logRejects(ctx context.Context) {
	sub := s.rejects.Subscribe()
	defer s.rejects.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			s.log.Warnf("rejected %s cycle %d (%s): %v", ev.UnitID, ev.Cycle, ev.Kind, ev.Err)
		}
	}
}
