package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Well-known feature names consumed by the covariate-aware models.
const (
	FeatureTemperature  = "temperature"   // cell temperature in Kelvin
	FeatureDoD          = "dod"           // depth of discharge in [0,1]
	FeatureCalendarDays = "calendar_days" // days since the unit's first measurement
	FeatureFEC          = "fec"           // full equivalent cycles during the measurement
	FeatureCumFEC       = "cum_fec"       // full equivalent cycles before the measurement
)

// Feature is a named scalar extracted from one charge cycle.
type Feature struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	// Horizon is the offset from cycle start after which the value is final.
	// Zero means the value is known when the cycle starts.
	Horizon time.Duration `json:"horizon,omitempty"`
}

// FeatureVector is an immutable, name-ordered set of features for one
// (unit, cycle, timestamp) triple.
type FeatureVector struct {
	feats []Feature
}

// NewFeatureVector validates and orders the provided features.
func NewFeatureVector(feats ...Feature) (FeatureVector, error) {
	cp := make([]Feature, len(feats))
	copy(cp, feats)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Name < cp[j].Name })
	for i, f := range cp {
		if f.Name == "" {
			return FeatureVector{}, fmt.Errorf("feature name is required")
		}
		if math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
			return FeatureVector{}, fmt.Errorf("feature %s is not finite", f.Name)
		}
		if f.Horizon < 0 {
			return FeatureVector{}, fmt.Errorf("feature %s has negative horizon", f.Name)
		}
		if i > 0 && cp[i-1].Name == f.Name {
			return FeatureVector{}, fmt.Errorf("duplicate feature %s", f.Name)
		}
	}
	return FeatureVector{feats: cp}, nil
}

// FeaturesFromMap builds a FeatureVector whose values are all known at cycle start.
func FeaturesFromMap(values map[string]float64) (FeatureVector, error) {
	feats := make([]Feature, 0, len(values))
	for k, v := range values {
		feats = append(feats, Feature{Name: k, Value: v})
	}
	return NewFeatureVector(feats...)
}

// MustFeatures is like FeaturesFromMap but panics on invalid input. Intended
// for tests and static fixtures.
func MustFeatures(values map[string]float64) FeatureVector {
	fv, err := FeaturesFromMap(values)
	if err != nil {
		panic(err)
	}
	return fv
}

func (fv FeatureVector) index(name string) int {
	i := sort.Search(len(fv.feats), func(i int) bool { return fv.feats[i].Name >= name })
	if i < len(fv.feats) && fv.feats[i].Name == name {
		return i
	}
	return -1
}

// Get returns the value of the named feature.
func (fv FeatureVector) Get(name string) (float64, bool) {
	if i := fv.index(name); i >= 0 {
		return fv.feats[i].Value, true
	}
	return 0, false
}

// Horizon returns the intra-cycle horizon of the named feature.
func (fv FeatureVector) Horizon(name string) (time.Duration, bool) {
	if i := fv.index(name); i >= 0 {
		return fv.feats[i].Horizon, true
	}
	return 0, false
}

// Len returns the number of features.
func (fv FeatureVector) Len() int { return len(fv.feats) }

// Names returns the ordered feature names.
func (fv FeatureVector) Names() []string {
	out := make([]string, len(fv.feats))
	for i, f := range fv.feats {
		out[i] = f.Name
	}
	return out
}

// Features returns a copy of the ordered features.
func (fv FeatureVector) Features() []Feature {
	out := make([]Feature, len(fv.feats))
	copy(out, fv.feats)
	return out
}

// With returns a new vector with the feature added or replaced.
func (fv FeatureVector) With(f Feature) (FeatureVector, error) {
	feats := make([]Feature, 0, len(fv.feats)+1)
	for _, cur := range fv.feats {
		if cur.Name != f.Name {
			feats = append(feats, cur)
		}
	}
	feats = append(feats, f)
	return NewFeatureVector(feats...)
}

func (fv FeatureVector) MarshalJSON() ([]byte, error) {
	if fv.feats == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(fv.feats)
}

func (fv *FeatureVector) UnmarshalJSON(b []byte) error {
	var feats []Feature
	if err := json.Unmarshal(b, &feats); err != nil {
		return err
	}
	v, err := NewFeatureVector(feats...)
	if err != nil {
		return err
	}
	*fv = v
	return nil
}
