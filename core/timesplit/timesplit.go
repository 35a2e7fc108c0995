// Package timesplit partitions observation histories into time-ordered train
// and test sets and guards online calls against future information.
package timesplit

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kilianp07/sohbench/core/model"
)

const (
	DefaultTestRatio     = 0.2
	DefaultMinCycles     = 2
	DefaultFolds         = 3
	DefaultMinTrainRatio = 0.5
	// GlobalScope names splits computed over every unit at once.
	GlobalScope = "all"
)

// Options override the validator defaults for one call.
type Options struct {
	TestRatio float64
	// Cutoff, when set, replaces the quantile rule.
	Cutoff  *time.Time
	PerUnit bool
	// Scope labels global splits, typically the dataset name.
	Scope string
}

// FoldSpec describes a walk-forward cross-validation.
type FoldSpec struct {
	Folds int `json:"folds"`
	// MinTrainRatio is the quantile of the first fold cutoff.
	MinTrainRatio float64 `json:"min_train_ratio"`
	PerUnit       bool    `json:"per_unit"`
}

func (f *FoldSpec) SetDefaults() {
	if f.Folds <= 0 {
		f.Folds = DefaultFolds
	}
	if f.MinTrainRatio <= 0 || f.MinTrainRatio >= 1 {
		f.MinTrainRatio = DefaultMinTrainRatio
	}
}

// Exclusion records a unit dropped from one split.
type Exclusion struct {
	UnitID string                          `json:"unit_id"`
	Scope  string                          `json:"scope"`
	Fold   int                             `json:"fold"`
	Err    *model.InsufficientHistoryError `json:"-"`
	Reason string                          `json:"reason"`
}

// Result is the outcome of a single split call.
type Result struct {
	Splits   []model.Split
	Excluded []Exclusion
}

// Validator holds the defaults of every split.
type Validator struct {
	TestRatio float64
	PerUnit   bool
	// MinCycles is the minimum number of distinct training cycles a unit
	// needs to stay in a split.
	MinCycles int
}

// New returns a validator with defaults applied.
func New(testRatio float64, perUnit bool) Validator {
	v := Validator{TestRatio: testRatio, PerUnit: perUnit}
	v.setDefaults()
	return v
}

func (v *Validator) setDefaults() {
	if v.TestRatio <= 0 || v.TestRatio >= 1 {
		v.TestRatio = DefaultTestRatio
	}
	if v.MinCycles <= 0 {
		v.MinCycles = DefaultMinCycles
	}
}

// Split assigns observations at or before the cutoff to train and later ones
// to test. The cutoff is the empirical (1 − TestRatio) quantile of the
// distinct timestamps, per unit or over the whole set.
func (v Validator) Split(obs []model.Observation, opts Options) (Result, error) {
	v.setDefaults()
	if opts.TestRatio <= 0 || opts.TestRatio >= 1 {
		opts.TestRatio = v.TestRatio
	}
	opts.PerUnit = opts.PerUnit || v.PerUnit
	if err := model.ValidateOrdering(obs); err != nil {
		return Result{}, fmt.Errorf("split: %w", err)
	}
	var res Result
	for scope, group := range v.scopes(obs, opts.PerUnit, opts.Scope) {
		cutoff, ok := quantileTime(group, 1-opts.TestRatio)
		if opts.Cutoff != nil {
			cutoff, ok = *opts.Cutoff, true
		}
		if !ok {
			continue
		}
		s, ex, err := v.partition(scope, 0, group, cutoff, nil)
		if err != nil {
			return Result{}, err
		}
		res.Excluded = append(res.Excluded, ex...)
		if s != nil {
			res.Splits = append(res.Splits, *s)
		}
	}
	sortResult(&res)
	return res, nil
}

// WalkForward builds expanding-window folds: fold i trains on ts ≤ c_i and
// tests on c_i < ts ≤ c_{i+1}, with cutoffs at evenly spaced quantiles from
// MinTrainRatio. Folds never shuffle time.
func (v Validator) WalkForward(obs []model.Observation, spec FoldSpec, scope string) (Result, error) {
	v.setDefaults()
	spec.SetDefaults()
	if err := model.ValidateOrdering(obs); err != nil {
		return Result{}, fmt.Errorf("walk-forward: %w", err)
	}
	var res Result
	for sc, group := range v.scopes(obs, spec.PerUnit || v.PerUnit, scope) {
		cutoffs := make([]time.Time, 0, spec.Folds+1)
		for i := 0; i <= spec.Folds; i++ {
			q := spec.MinTrainRatio + float64(i)*(1-spec.MinTrainRatio)/float64(spec.Folds)
			c, ok := quantileTime(group, q)
			if !ok {
				break
			}
			cutoffs = append(cutoffs, c)
		}
		for i := 0; i+1 < len(cutoffs); i++ {
			if !cutoffs[i].Before(cutoffs[i+1]) {
				continue
			}
			hi := cutoffs[i+1]
			s, ex, err := v.partition(sc, i, group, cutoffs[i], &hi)
			if err != nil {
				return Result{}, err
			}
			res.Excluded = append(res.Excluded, ex...)
			if s != nil {
				res.Splits = append(res.Splits, *s)
			}
		}
	}
	sortResult(&res)
	return res, nil
}

func (v Validator) scopes(obs []model.Observation, perUnit bool, scope string) map[string][]model.Observation {
	if !perUnit {
		if scope == "" {
			scope = GlobalScope
		}
		return map[string][]model.Observation{scope: obs}
	}
	return model.GroupByUnit(obs)
}

// partition splits group at cutoff, bounding the test side by hi when set.
// Units with too little training history are dropped, and a scope left with
// an empty test side drops all of its units; every drop is reported.
func (v Validator) partition(scope string, fold int, group []model.Observation, cutoff time.Time, hi *time.Time) (*model.Split, []Exclusion, error) {
	var train, test []model.Observation
	for _, o := range group {
		switch {
		case !o.Timestamp.After(cutoff):
			train = append(train, o)
		case hi == nil || !o.Timestamp.After(*hi):
			test = append(test, o)
		}
	}
	history := make(map[string]map[int]struct{})
	for _, o := range train {
		if _, ok := o.Observed(); !ok {
			continue
		}
		if history[o.UnitID] == nil {
			history[o.UnitID] = make(map[int]struct{})
		}
		history[o.UnitID][o.Cycle] = struct{}{}
	}
	var excluded []Exclusion
	exclude := func(err *model.InsufficientHistoryError) {
		excluded = append(excluded, Exclusion{UnitID: err.UnitID, Scope: scope, Fold: fold, Err: err, Reason: err.Error()})
	}
	drop := make(map[string]bool)
	for _, id := range model.UnitIDs(append(append([]model.Observation{}, train...), test...)) {
		if n := len(history[id]); n < v.MinCycles {
			exclude(&model.InsufficientHistoryError{UnitID: id, Partition: model.PartitionTrain, Distinct: n, Required: v.MinCycles})
			drop[id] = true
		}
	}
	train, test = without(train, drop), without(test, drop)
	if len(train) == 0 {
		return nil, excluded, nil
	}
	if len(test) == 0 {
		// nothing held out: every remaining unit of the scope drops out
		for _, id := range model.UnitIDs(train) {
			exclude(&model.InsufficientHistoryError{UnitID: id, Partition: model.PartitionTest, Required: 1})
		}
		return nil, excluded, nil
	}
	s, err := model.NewSplit(scope, fold, train, test)
	if err != nil {
		return nil, nil, err
	}
	return &s, excluded, nil
}

func without(obs []model.Observation, drop map[string]bool) []model.Observation {
	if len(drop) == 0 {
		return obs
	}
	out := obs[:0:0]
	for _, o := range obs {
		if !drop[o.UnitID] {
			out = append(out, o)
		}
	}
	return out
}

// quantileTime returns the empirical q-quantile of the distinct timestamps.
func quantileTime(obs []model.Observation, q float64) (time.Time, bool) {
	seen := make(map[int64]time.Time, len(obs))
	for _, o := range obs {
		seen[o.Timestamp.UnixNano()] = o.Timestamp
	}
	if len(seen) == 0 {
		return time.Time{}, false
	}
	ts := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	idx := int(math.Ceil(q*float64(len(ts))-1e-9)) - 1
	idx = max(0, min(idx, len(ts)-1))
	return ts[idx], true
}

func sortResult(r *Result) {
	sort.SliceStable(r.Splits, func(i, j int) bool {
		if r.Splits[i].Scope() != r.Splits[j].Scope() {
			return r.Splits[i].Scope() < r.Splits[j].Scope()
		}
		return r.Splits[i].Fold() < r.Splits[j].Fold()
	})
	sort.SliceStable(r.Excluded, func(i, j int) bool {
		a, b := r.Excluded[i], r.Excluded[j]
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if a.Fold != b.Fold {
			return a.Fold < b.Fold
		}
		return a.UnitID < b.UnitID
	})
}
