package model

import (
	"fmt"
	"sort"
	"time"
)

// Observation is one measured cycle of one unit as produced by the feature
// extraction stage. It is consumed read-only.
type Observation struct {
	UnitID    string        `json:"unit_id"`
	Cycle     int           `json:"cycle_index"`
	Timestamp time.Time     `json:"timestamp"`
	Features  FeatureVector `json:"features"`
	// SoH is nil when the capacity was not measured for this cycle.
	SoH *float64 `json:"soh,omitempty"`
}

// Observed returns the measured SoH if present.
func (o Observation) Observed() (float64, bool) {
	if o.SoH == nil {
		return 0, false
	}
	return *o.SoH, true
}

// SoHValue returns a pointer suitable for Observation.SoH.
func SoHValue(v float64) *float64 { return &v }

// SortObservations orders observations by unit then cycle index, in place.
func SortObservations(obs []Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		if obs[i].UnitID != obs[j].UnitID {
			return obs[i].UnitID < obs[j].UnitID
		}
		return obs[i].Cycle < obs[j].Cycle
	})
}

// ValidateOrdering checks that timestamps strictly increase with the cycle
// index within every unit.
func ValidateOrdering(obs []Observation) error {
	cp := make([]Observation, len(obs))
	copy(cp, obs)
	SortObservations(cp)
	for i := 1; i < len(cp); i++ {
		prev, cur := cp[i-1], cp[i]
		if prev.UnitID != cur.UnitID {
			continue
		}
		if cur.Cycle == prev.Cycle {
			continue
		}
		if !cur.Timestamp.After(prev.Timestamp) {
			return fmt.Errorf("unit %s: cycle %d at %s is not after cycle %d at %s",
				cur.UnitID, cur.Cycle, cur.Timestamp.Format(time.RFC3339), prev.Cycle, prev.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// GroupByUnit returns the observations of each unit ordered by cycle index.
func GroupByUnit(obs []Observation) map[string][]Observation {
	groups := make(map[string][]Observation)
	for _, o := range obs {
		groups[o.UnitID] = append(groups[o.UnitID], o)
	}
	for _, g := range groups {
		SortObservations(g)
	}
	return groups
}

// UnitIDs returns the sorted set of unit identifiers.
func UnitIDs(obs []Observation) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, o := range obs {
		if _, ok := seen[o.UnitID]; !ok {
			seen[o.UnitID] = struct{}{}
			ids = append(ids, o.UnitID)
		}
	}
	sort.Strings(ids)
	return ids
}

// DistinctCycles counts the distinct cycle indices in obs.
func DistinctCycles(obs []Observation) int {
	seen := make(map[int]struct{}, len(obs))
	for _, o := range obs {
		seen[o.Cycle] = struct{}{}
	}
	return len(seen)
}
