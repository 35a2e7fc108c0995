package metrics

import "time"

// CellEvent is the outcome of one benchmark cell.
type CellEvent struct {
	RunID     string
	Model     string
	Dataset   string
	Fold      int
	Status    string
	ErrorKind string
	MAE       float64
	RMSE      float64
	// LjungBoxP is NaN when the test was skipped.
	LjungBoxP float64
	Duration  time.Duration
	Time      time.Time
}

// MetricsSink records benchmark cells for observability purposes.
type MetricsSink interface {
	RecordCell(ev CellEvent) error
}

// FitEvent describes one model fit.
type FitEvent struct {
	Model         string
	ParamsID      string
	N             int
	LowConfidence bool
	ErrorKind     string
	Duration      time.Duration
	Time          time.Time
}

// FitRecorder records model fits.
type FitRecorder interface {
	RecordFit(ev FitEvent) error
}

// EstimateEvent is one accepted online SoH estimate.
type EstimateEvent struct {
	UnitID   string
	Model    string
	Cycle    int
	Raw      float64
	Accepted float64
	Clipped  string
	Time     time.Time
}

// EstimateRecorder records online estimates.
type EstimateRecorder interface {
	RecordEstimate(ev EstimateEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordCell(CellEvent) error         { return nil }
func (NopSink) RecordFit(FitEvent) error           { return nil }
func (NopSink) RecordEstimate(EstimateEvent) error { return nil }

// MultiSink fans events out to several sinks. Optional recorders are only
// called on the sinks implementing them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordCell forwards the cell to all sinks, returning the first error encountered.
func (m *MultiSink) RecordCell(ev CellEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordCell(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordFit forwards fit events.
func (m *MultiSink) RecordFit(ev FitEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(FitRecorder); ok {
			if err := rec.RecordFit(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordEstimate forwards estimate events.
func (m *MultiSink) RecordEstimate(ev EstimateEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(EstimateRecorder); ok {
			if err := rec.RecordEstimate(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
