package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// UnitMaxCycle records the highest cycle index of a unit seen during training.
type UnitMaxCycle struct {
	UnitID   string `json:"unit_id"`
	MaxCycle int    `json:"max_cycle"`
}

// Fingerprint identifies the training data of a fit.
type Fingerprint struct {
	Units []UnitMaxCycle `json:"units"`
	Hash  uint64         `json:"hash"`
}

// NewFingerprint computes the training-data fingerprint of obs.
func NewFingerprint(obs []Observation) Fingerprint {
	maxes := make(map[string]int)
	for _, o := range obs {
		if cur, ok := maxes[o.UnitID]; !ok || o.Cycle > cur {
			maxes[o.UnitID] = o.Cycle
		}
	}
	units := make([]UnitMaxCycle, 0, len(maxes))
	for id, c := range maxes {
		units = append(units, UnitMaxCycle{UnitID: id, MaxCycle: c})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].UnitID < units[j].UnitID })
	var sb strings.Builder
	for _, u := range units {
		fmt.Fprintf(&sb, "%s:%d;", u.UnitID, u.MaxCycle)
	}
	return Fingerprint{Units: units, Hash: xxhash.Sum64String(sb.String())}
}

// MaxCycle returns the maximum training cycle of the unit.
func (f Fingerprint) MaxCycle(unitID string) (int, bool) {
	for _, u := range f.Units {
		if u.UnitID == unitID {
			return u.MaxCycle, true
		}
	}
	return 0, false
}

// ModelParameters is the immutable result of fitting one model variant to one
// training partition.
type ModelParameters struct {
	ID     string             `json:"id"`
	Model  string             `json:"model"`
	Order  []string           `json:"order"`
	Values map[string]float64 `json:"values"`
	// Covariance follows Order. Nil when the fit has no residual degrees of freedom.
	Covariance  [][]float64 `json:"covariance,omitempty"`
	ResidualStd float64     `json:"residual_std"`
	DOF         int         `json:"dof"`
	N           int         `json:"n"`
	// LowConfidence is set when the fit used exactly the minimum number of
	// distinct cycles.
	LowConfidence bool        `json:"low_confidence"`
	FittedAt      time.Time   `json:"fitted_at"`
	Fingerprint   Fingerprint `json:"fingerprint"`
	// Origins holds the earliest training timestamp per unit, used to derive
	// calendar time at prediction.
	Origins map[string]time.Time `json:"origins,omitempty"`
	// Settings holds fixed model constants used by the fit.
	Settings map[string]float64 `json:"settings,omitempty"`
}

// ParamsID builds the deterministic identifier of a parameter set.
func ParamsID(model string, fp Fingerprint) string {
	return fmt.Sprintf("%s-%016x", model, fp.Hash)
}

// Vector returns the parameter values following Order.
func (p ModelParameters) Vector() []float64 {
	out := make([]float64, len(p.Order))
	for i, name := range p.Order {
		out[i] = p.Values[name]
	}
	return out
}

// Value returns a named parameter.
func (p ModelParameters) Value(name string) (float64, bool) {
	v, ok := p.Values[name]
	return v, ok
}

// Setting returns a fixed constant, or def when absent.
func (p ModelParameters) Setting(name string, def float64) float64 {
	if v, ok := p.Settings[name]; ok {
		return v
	}
	return def
}
