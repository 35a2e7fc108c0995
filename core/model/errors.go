package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is a stable label used when reporting failed computations.
type ErrorKind string

const (
	KindInsufficientData    ErrorKind = "insufficient_data"
	KindMissingCovariate    ErrorKind = "missing_covariate"
	KindInsufficientHistory ErrorKind = "insufficient_history"
	KindInsufficientSample  ErrorKind = "insufficient_sample"
	KindFitTimeout          ErrorKind = "fit_timeout"
	KindNonPhysicalFit      ErrorKind = "non_physical_fit"
	KindLeakageViolation    ErrorKind = "leakage_violation"
	KindUnknown             ErrorKind = "unknown"
)

// InsufficientDataError is returned when a fit has too few distinct cycles.
type InsufficientDataError struct {
	Model    string
	Distinct int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: %d distinct cycles, need at least %d", e.Model, e.Distinct, e.Required)
}

// MissingCovariateError is returned when a model needs a feature absent from the input.
type MissingCovariateError struct {
	Model   string
	Feature string
	UnitID  string
	Cycle   int
}

func (e *MissingCovariateError) Error() string {
	if e.UnitID == "" {
		return fmt.Sprintf("%s: missing covariate %q", e.Model, e.Feature)
	}
	return fmt.Sprintf("%s: missing covariate %q for unit %s cycle %d", e.Model, e.Feature, e.UnitID, e.Cycle)
}

// Split sides named by InsufficientHistoryError.
const (
	PartitionTrain = "train"
	PartitionTest  = "test"
)

// InsufficientHistoryError reports a unit excluded from a split because one
// side of the split holds too few of its cycles.
type InsufficientHistoryError struct {
	UnitID string
	// Partition is PartitionTrain or PartitionTest.
	Partition string
	Distinct  int
	Required  int
}

func (e *InsufficientHistoryError) Error() string {
	part, req := e.Partition, e.Required
	if part == "" {
		part = PartitionTrain
	}
	if req == 0 {
		req = 2
	}
	return fmt.Sprintf("unit %s: %d distinct %s cycles after split, need %d", e.UnitID, e.Distinct, part, req)
}

// InsufficientSampleError is returned when a residual sequence is too short
// for a statistical test.
type InsufficientSampleError struct {
	Test string
	N    int
	Min  int
}

func (e *InsufficientSampleError) Error() string {
	return fmt.Sprintf("%s: %d residuals, need at least %d", e.Test, e.N, e.Min)
}

// FitTimeoutError is returned when an optimisation exceeds its wall-clock budget.
type FitTimeoutError struct {
	Model  string
	Budget time.Duration
}

func (e *FitTimeoutError) Error() string {
	return fmt.Sprintf("%s: fit exceeded %s", e.Model, e.Budget)
}

// NonPhysicalFitError is returned when the optimum violates a sign constraint.
type NonPhysicalFitError struct {
	Model     string
	Parameter string
	Value     float64
}

func (e *NonPhysicalFitError) Error() string {
	return fmt.Sprintf("%s: parameter %s=%g violates non-negativity", e.Model, e.Parameter, e.Value)
}

// LeakageViolationError signals a breach of temporal ordering. It is a logic
// defect and must abort the computation.
type LeakageViolationError struct {
	Reason string
}

func (e *LeakageViolationError) Error() string { return "leakage violation: " + e.Reason }

// Leakage builds a LeakageViolationError.
func Leakage(format string, args ...any) error {
	return &LeakageViolationError{Reason: fmt.Sprintf(format, args...)}
}

// Kind classifies err.
func Kind(err error) ErrorKind {
	var (
		insData *InsufficientDataError
		missCov *MissingCovariateError
		insHist *InsufficientHistoryError
		insSamp *InsufficientSampleError
		timeout *FitTimeoutError
		nonPhys *NonPhysicalFitError
		leakage *LeakageViolationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &leakage):
		return KindLeakageViolation
	case errors.As(err, &insData):
		return KindInsufficientData
	case errors.As(err, &missCov):
		return KindMissingCovariate
	case errors.As(err, &insHist):
		return KindInsufficientHistory
	case errors.As(err, &insSamp):
		return KindInsufficientSample
	case errors.As(err, &timeout):
		return KindFitTimeout
	case errors.As(err, &nonPhys):
		return KindNonPhysicalFit
	}
	return KindUnknown
}

// IsLeakage reports whether err is a leakage violation.
func IsLeakage(err error) bool {
	var l *LeakageViolationError
	return errors.As(err, &l)
}

// IsRecoverable reports whether err is a data-quality or data-availability
// failure that may be recorded and skipped.
func IsRecoverable(err error) bool {
	switch Kind(err) {
	case KindInsufficientData, KindMissingCovariate, KindInsufficientHistory,
		KindInsufficientSample, KindFitTimeout, KindNonPhysicalFit:
		return true
	}
	return false
}
