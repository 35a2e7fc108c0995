package degradation

import (
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/sohbench/core/model"
)

// point is one averaged training row in model coordinates.
type point struct {
	unit    string
	cycle   int
	x       float64
	soh     float64
	temp    float64
	dod     float64
	calDays float64
}

// extractor fills the covariates of a point from an observation.
type extractor func(o model.Observation, p *point) error

func cycleOnly(model.Observation, *point) error { return nil }

type pointKey struct {
	unit  string
	cycle int
}

// collect turns the observed rows of obs into points. Rows sharing a key are
// averaged so duplicates do not act as independent observations. Covariate
// models key by unit and cycle, cycle-only models by cycle.
func collect(obs []model.Observation, scale float64, byUnit bool, ext extractor) ([]point, []model.Observation, error) {
	type acc struct {
		p point
		n float64
	}
	groups := make(map[pointKey]*acc)
	var used []model.Observation
	for _, o := range obs {
		soh, ok := o.Observed()
		if !ok {
			continue
		}
		p := point{unit: o.UnitID, cycle: o.Cycle, x: float64(o.Cycle) / scale, soh: soh}
		if err := ext(o, &p); err != nil {
			return nil, nil, err
		}
		used = append(used, o)
		key := pointKey{cycle: o.Cycle}
		if byUnit {
			key.unit = o.UnitID
		}
		g, ok := groups[key]
		if !ok {
			g = &acc{p: point{unit: key.unit, cycle: o.Cycle, x: p.x}}
			groups[key] = g
		}
		g.p.soh += p.soh
		g.p.temp += p.temp
		g.p.dod += p.dod
		g.p.calDays += p.calDays
		g.n++
	}
	keys := make([]pointKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].unit != keys[j].unit {
			return keys[i].unit < keys[j].unit
		}
		return keys[i].cycle < keys[j].cycle
	})
	pts := make([]point, len(keys))
	for i, k := range keys {
		g := groups[k]
		p := g.p
		p.soh /= g.n
		p.temp /= g.n
		p.dod /= g.n
		p.calDays /= g.n
		pts[i] = p
	}
	return pts, used, nil
}

func distinctCycles(pts []point) int {
	seen := make(map[int]struct{}, len(pts))
	for _, p := range pts {
		seen[p.cycle] = struct{}{}
	}
	return len(seen)
}

// origins returns the earliest timestamp of each unit.
func origins(obs []model.Observation) map[string]time.Time {
	out := make(map[string]time.Time)
	for _, o := range obs {
		if cur, ok := out[o.UnitID]; !ok || o.Timestamp.Before(cur) {
			out[o.UnitID] = o.Timestamp
		}
	}
	return out
}

// covariate reads a required feature.
func covariate(name string, o model.Observation, feature string) (float64, error) {
	v, ok := o.Features.Get(feature)
	if !ok {
		return 0, &model.MissingCovariateError{Model: name, Feature: feature, UnitID: o.UnitID, Cycle: o.Cycle}
	}
	return v, nil
}

// calendarDays resolves calendar time from the feature or from the unit origin.
func calendarDays(name string, o model.Observation, orig map[string]time.Time) (float64, error) {
	if v, ok := o.Features.Get(model.FeatureCalendarDays); ok {
		if v < 0 {
			return 0, fmt.Errorf("%s: negative %s for unit %s", name, model.FeatureCalendarDays, o.UnitID)
		}
		return v, nil
	}
	start, ok := orig[o.UnitID]
	if !ok {
		return 0, &model.MissingCovariateError{Model: name, Feature: model.FeatureCalendarDays, UnitID: o.UnitID, Cycle: o.Cycle}
	}
	d := o.Timestamp.Sub(start).Hours() / 24
	if d < 0 {
		d = 0
	}
	return d, nil
}
