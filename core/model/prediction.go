package model

import "time"

// ClipSide records whether a raw prediction was clipped into [0,1].
type ClipSide string

const (
	ClipNone  ClipSide = ""
	ClipLower ClipSide = "lower"
	ClipUpper ClipSide = "upper"
)

// Interval is a two-sided confidence interval.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// Contains reports whether v lies inside the interval.
func (i Interval) Contains(v float64) bool { return v >= i.Lower && v <= i.Upper }

// SoHPrediction is a model output in [0,1].
type SoHPrediction struct {
	Value    float64   `json:"value"`
	RawValue float64   `json:"raw_value"`
	CI       *Interval `json:"ci,omitempty"`
	Clipped  ClipSide  `json:"clipped,omitempty"`
	ParamsID string    `json:"params_id"`
}

// ClipUnit clips v into [0,1] and reports the side that was hit.
func ClipUnit(v float64) (float64, ClipSide) {
	switch {
	case v < 0:
		return 0, ClipLower
	case v > 1:
		return 1, ClipUpper
	}
	return v, ClipNone
}

// SoHEstimate is an online prediction constrained against the previously
// accepted estimate of the same unit.
type SoHEstimate struct {
	Prediction SoHPrediction `json:"prediction"`
	UnitID     string        `json:"unit_id"`
	Cycle      int           `json:"cycle_index"`
	Timestamp  time.Time     `json:"timestamp"`
	// Previous is the accepted value the estimate was constrained against.
	Previous *float64 `json:"previous,omitempty"`
	// Accepted is the value after monotonic enforcement.
	Accepted float64 `json:"accepted"`
	Mode     string  `json:"mode"`
}
