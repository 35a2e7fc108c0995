package timesplit

import (
	"sync"
	"time"

	"github.com/kilianp07/sohbench/core/model"
)

// GuardPartial rejects feature vectors holding values that are only final
// after the partial-charge cutoff of the cycle.
func GuardPartial(fv model.FeatureVector, cutoff time.Duration) error {
	for _, f := range fv.Features() {
		if f.Horizon > cutoff {
			return model.Leakage("feature %s is final %s into the cycle, after the %s partial-charge cutoff",
				f.Name, f.Horizon, cutoff)
		}
	}
	return nil
}

// Cursor is the last accepted online position of a unit.
type Cursor struct {
	Cycle     int       `json:"cycle_index"`
	Timestamp time.Time `json:"timestamp"`
}

// GuardOnline rejects an online observation that does not move strictly
// forward from last, or whose unit was already trained at or beyond its cycle.
func GuardOnline(o model.Observation, last *Cursor, fp model.Fingerprint) error {
	if last != nil {
		if o.Cycle <= last.Cycle {
			return model.Leakage("unit %s: cycle %d is not after accepted cycle %d", o.UnitID, o.Cycle, last.Cycle)
		}
		if !o.Timestamp.After(last.Timestamp) {
			return model.Leakage("unit %s: timestamp %s is not after accepted %s",
				o.UnitID, o.Timestamp.Format(time.RFC3339Nano), last.Timestamp.Format(time.RFC3339Nano))
		}
	}
	if maxCycle, ok := fp.MaxCycle(o.UnitID); ok && maxCycle >= o.Cycle {
		return model.Leakage("unit %s: parameters were trained up to cycle %d, estimate requested for cycle %d",
			o.UnitID, maxCycle, o.Cycle)
	}
	return nil
}

// Cursors tracks the online position of every unit. It is safe for
// concurrent use.
type Cursors struct {
	mu    sync.Mutex
	units map[string]Cursor
}

func NewCursors() *Cursors {
	return &Cursors{units: make(map[string]Cursor)}
}

// Get returns the cursor of a unit.
func (c *Cursors) Get(unitID string) (Cursor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.units[unitID]
	return cur, ok
}

// Admit guards o against the unit cursor and fp, then advances the cursor.
func (c *Cursors) Admit(o model.Observation, fp model.Fingerprint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var last *Cursor
	if cur, ok := c.units[o.UnitID]; ok {
		last = &cur
	}
	if err := GuardOnline(o, last, fp); err != nil {
		return err
	}
	if c.units == nil {
		c.units = make(map[string]Cursor)
	}
	c.units[o.UnitID] = Cursor{Cycle: o.Cycle, Timestamp: o.Timestamp}
	return nil
}
