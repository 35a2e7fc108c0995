package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/sohbench/core/benchmark"
	"github.com/kilianp07/sohbench/core/monotonic"
	"github.com/kilianp07/sohbench/core/timesplit"
)

// SplitConfig holds the time-split defaults.
type SplitConfig struct {
	TestRatio float64 `json:"test_ratio"`
	PerUnit   bool    `json:"per_unit"`
	MinCycles int     `json:"min_cycles"`
}

func (c *SplitConfig) SetDefaults() {
	if c.TestRatio == 0 {
		c.TestRatio = timesplit.DefaultTestRatio
	}
	if c.MinCycles == 0 {
		c.MinCycles = timesplit.DefaultMinCycles
	}
}

func (c SplitConfig) Validate() error {
	if c.TestRatio <= 0 || c.TestRatio >= 1 {
		return fmt.Errorf("test_ratio must be in (0,1), got %g", c.TestRatio)
	}
	if c.MinCycles < 2 {
		return fmt.Errorf("min_cycles must be at least 2, got %d", c.MinCycles)
	}
	return nil
}

// Validator builds the configured validator.
func (c SplitConfig) Validator() timesplit.Validator {
	v := timesplit.New(c.TestRatio, c.PerUnit)
	v.MinCycles = c.MinCycles
	return v
}

// DatasetConfig points at one CSV dataset.
type DatasetConfig struct {
	Name string `json:"name"`
	Path string `json:"path"`
	// Origin anchors hh:mm:SS.sss timestamps, RFC3339.
	Origin string `json:"origin"`
}

// BenchmarkConfig controls the benchmark matrix.
type BenchmarkConfig struct {
	// Folds ≤ 1 runs a single hold-out split.
	Folds             int             `json:"folds"`
	MinTrainRatio     float64         `json:"min_train_ratio"`
	Workers           int             `json:"workers"`
	FitTimeoutSeconds int             `json:"fit_timeout_seconds"`
	Datasets          []DatasetConfig `json:"datasets"`
}

func (c *BenchmarkConfig) SetDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.FitTimeoutSeconds == 0 {
		c.FitTimeoutSeconds = int(benchmark.DefaultFitTimeout / time.Second)
	}
	if c.MinTrainRatio == 0 {
		c.MinTrainRatio = timesplit.DefaultMinTrainRatio
	}
}

func (c BenchmarkConfig) Validate() error {
	if c.Folds < 0 {
		return fmt.Errorf("folds must not be negative")
	}
	if c.MinTrainRatio <= 0 || c.MinTrainRatio >= 1 {
		return fmt.Errorf("min_train_ratio must be in (0,1), got %g", c.MinTrainRatio)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}
	if c.FitTimeoutSeconds < 1 {
		return fmt.Errorf("fit_timeout_seconds must be positive")
	}
	for i, d := range c.Datasets {
		if d.Path == "" {
			return fmt.Errorf("datasets[%d]: path is required", i)
		}
		if d.Origin != "" {
			if _, err := time.Parse(time.RFC3339, d.Origin); err != nil {
				return fmt.Errorf("datasets[%d]: origin: %w", i, err)
			}
		}
	}
	return nil
}

// FitTimeout is the wall-clock budget of one fit.
func (c BenchmarkConfig) FitTimeout() time.Duration {
	return time.Duration(c.FitTimeoutSeconds) * time.Second
}

// FoldSpec returns the fold layout of a run.
func (c BenchmarkConfig) FoldSpec(perUnit bool) timesplit.FoldSpec {
	return timesplit.FoldSpec{Folds: c.Folds, MinTrainRatio: c.MinTrainRatio, PerUnit: perUnit}
}

// MonotonicConfig selects how predictions are constrained.
type MonotonicConfig struct {
	Mode    string  `json:"mode"`
	Epsilon float64 `json:"epsilon"`
}

func (c *MonotonicConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = string(monotonic.ModeCausal)
	}
	if c.Epsilon == 0 {
		c.Epsilon = monotonic.DefaultEpsilon
	}
}

func (c MonotonicConfig) Validate() error {
	if _, err := monotonic.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.Epsilon < 0 {
		return fmt.Errorf("epsilon must not be negative")
	}
	return nil
}

// Enforcer builds the configured enforcer. Call Validate first.
func (c MonotonicConfig) Enforcer() monotonic.Enforcer {
	mode, _ := monotonic.ParseMode(c.Mode)
	return monotonic.New(c.Epsilon, mode)
}

// OnlineConfig bounds online estimation.
type OnlineConfig struct {
	// PartialCutoffMinutes is the time into a cycle after which feature
	// values are not yet known to an online caller. Unset selects
	// DefaultPartialCutoff, 0 disables the check.
	PartialCutoffMinutes *int `json:"partial_cutoff_minutes"`
	// HistoryMax bounds the accepted estimates kept per unit, 0 keeps all.
	HistoryMax int `json:"history_max"`
}

// DefaultPartialCutoff covers the CC–CV features of a partial charge.
const DefaultPartialCutoff = 2 * time.Hour

func (c *OnlineConfig) SetDefaults() {
	if c.PartialCutoffMinutes == nil {
		m := int(DefaultPartialCutoff / time.Minute)
		c.PartialCutoffMinutes = &m
	}
}

func (c OnlineConfig) Validate() error {
	if c.PartialCutoffMinutes != nil && *c.PartialCutoffMinutes < 0 {
		return fmt.Errorf("partial_cutoff_minutes must not be negative")
	}
	if c.HistoryMax < 0 {
		return fmt.Errorf("history_max must not be negative")
	}
	return nil
}

// PartialCutoff returns the online cutoff, zero when the check is disabled.
func (c OnlineConfig) PartialCutoff() time.Duration {
	if c.PartialCutoffMinutes == nil {
		return DefaultPartialCutoff
	}
	return time.Duration(*c.PartialCutoffMinutes) * time.Minute
}

// StoreConfig locates the SQLite parameter and report store. An empty path
// disables persistence.
type StoreConfig struct {
	Path string `json:"path"`
}
