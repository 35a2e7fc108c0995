package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyPartition is returned by NewSplit when either side has no rows.
var ErrEmptyPartition = errors.New("empty partition")

// Split is a pair of disjoint, time-ordered observation subsets. It can only
// be built through NewSplit, which enforces max(train.ts) < min(test.ts).
type Split struct {
	scope  string
	fold   int
	cutoff time.Time
	train  []Observation
	test   []Observation
}

// TestPartition is the held-out side of a Split. It is the only input the
// residual diagnostics accept, so statistics cannot be computed on training
// residuals by construction.
type TestPartition struct {
	scope string
	fold  int
	obs   []Observation
}

// NewSplit validates the temporal ordering of train and test and returns the
// split. Both sides must be non-empty. A tie or overlap at the boundary
// yields a LeakageViolationError.
func NewSplit(scope string, fold int, train, test []Observation) (Split, error) {
	if len(train) == 0 || len(test) == 0 {
		return Split{}, fmt.Errorf("scope %s fold %d: %d train and %d test rows: %w",
			scope, fold, len(train), len(test), ErrEmptyPartition)
	}
	var maxTrain, minTest time.Time
	for i, o := range train {
		if i == 0 || o.Timestamp.After(maxTrain) {
			maxTrain = o.Timestamp
		}
	}
	for i, o := range test {
		if i == 0 || o.Timestamp.Before(minTest) {
			minTest = o.Timestamp
		}
	}
	if !maxTrain.Before(minTest) {
		return Split{}, Leakage("scope %s fold %d: max train timestamp %s is not before min test timestamp %s",
			scope, fold, maxTrain.Format(time.RFC3339Nano), minTest.Format(time.RFC3339Nano))
	}
	tr := make([]Observation, len(train))
	copy(tr, train)
	te := make([]Observation, len(test))
	copy(te, test)
	SortObservations(tr)
	SortObservations(te)
	return Split{scope: scope, fold: fold, cutoff: maxTrain, train: tr, test: te}, nil
}

// Scope names the unit or dataset the split covers.
func (s Split) Scope() string { return s.scope }

// Fold is the walk-forward fold index, 0 for single splits.
func (s Split) Fold() int { return s.fold }

// Cutoff is the latest training timestamp.
func (s Split) Cutoff() time.Time { return s.cutoff }

// Train returns a copy of the training observations.
func (s Split) Train() []Observation {
	out := make([]Observation, len(s.train))
	copy(out, s.train)
	return out
}

// Test returns the held-out partition.
func (s Split) Test() TestPartition {
	out := make([]Observation, len(s.test))
	copy(out, s.test)
	return TestPartition{scope: s.scope, fold: s.fold, obs: out}
}

// Scope names the unit or dataset of the partition.
func (t TestPartition) Scope() string { return t.scope }

// Fold is the fold index of the partition.
func (t TestPartition) Fold() int { return t.fold }

// Len returns the number of held-out observations.
func (t TestPartition) Len() int { return len(t.obs) }

// Observations returns a copy of the held-out observations ordered by unit and cycle.
func (t TestPartition) Observations() []Observation {
	out := make([]Observation, len(t.obs))
	copy(out, t.obs)
	return out
}
