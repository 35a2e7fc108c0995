package events

import (
	"time"

	"github.com/kilianp07/sohbench/core/model"
)

// EstimateEvent is published for each accepted online estimate.
type EstimateEvent struct {
	Model    string
	Estimate model.SoHEstimate
	Time     time.Time
}

// RejectEvent is published when an online observation is refused.
type RejectEvent struct {
	UnitID string
	Cycle  int
	Kind   model.ErrorKind
	Err    error
	Time   time.Time
}
