// Package dataset loads and synthesizes per-cycle observation tables and
// derives the calendar and cumulative-throughput features of each unit.
package dataset

import (
	"errors"
	"fmt"

	"github.com/kilianp07/sohbench/core/model"
)

// ErrNoSensorData is returned for a source without data rows.
var ErrNoSensorData = errors.New("dataset: no sensor data")

// Dataset is a named set of observations over one or more units.
type Dataset struct {
	Name         string              `json:"name"`
	Observations []model.Observation `json:"observations"`
}

// Units returns the sorted unit identifiers.
func (d Dataset) Units() []string { return model.UnitIDs(d.Observations) }

// HasFeature reports whether every observation carries the feature.
func (d Dataset) HasFeature(name string) bool {
	if len(d.Observations) == 0 {
		return false
	}
	for _, o := range d.Observations {
		if _, ok := o.Features.Get(name); !ok {
			return false
		}
	}
	return true
}

// Validate checks the ordering contract of the observations.
func (d Dataset) Validate() error {
	if len(d.Observations) == 0 {
		return fmt.Errorf("%s: %w", d.Name, ErrNoSensorData)
	}
	if err := model.ValidateOrdering(d.Observations); err != nil {
		return fmt.Errorf("%s: %w", d.Name, err)
	}
	return nil
}

// Derive adds calendar_days and, for units reporting fec, cum_fec to every
// observation. calendar_days counts days since the unit's first timestamp;
// cum_fec sums the fec of the unit's earlier cycles, so both are known at
// cycle start. Existing values are kept. The result is sorted by unit and
// cycle.
func Derive(obs []model.Observation) ([]model.Observation, error) {
	out := make([]model.Observation, len(obs))
	copy(out, obs)
	model.SortObservations(out)

	for start := 0; start < len(out); {
		end := start
		for end < len(out) && out[end].UnitID == out[start].UnitID {
			end++
		}
		if err := deriveUnit(out[start:end]); err != nil {
			return nil, err
		}
		start = end
	}
	return out, nil
}

func deriveUnit(rows []model.Observation) error {
	origin := rows[0].Timestamp
	hasFEC := false
	for _, o := range rows {
		if o.Timestamp.Before(origin) {
			origin = o.Timestamp
		}
		if _, ok := o.Features.Get(model.FeatureFEC); ok {
			hasFEC = true
		}
	}
	var cum float64
	for i := range rows {
		fv := rows[i].Features
		var err error
		if _, ok := fv.Get(model.FeatureCalendarDays); !ok {
			days := rows[i].Timestamp.Sub(origin).Hours() / 24
			if fv, err = fv.With(model.Feature{Name: model.FeatureCalendarDays, Value: days}); err != nil {
				return err
			}
		}
		if hasFEC {
			if _, ok := fv.Get(model.FeatureCumFEC); !ok {
				if fv, err = fv.With(model.Feature{Name: model.FeatureCumFEC, Value: cum}); err != nil {
					return err
				}
			}
			if v, ok := fv.Get(model.FeatureFEC); ok {
				cum += v
			}
		}
		rows[i].Features = fv
	}
	return nil
}
