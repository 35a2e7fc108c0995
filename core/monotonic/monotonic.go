// Package monotonic projects raw SoH predictions onto non-increasing
// sequences. Causal is the one-sided projection used online; Batch is the
// global isotonic projection reserved for fixed offline sequences.
package monotonic

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// DefaultEpsilon absorbs measurement noise without permitting real increases.
const DefaultEpsilon = 0.005

// Mode labels how a value was constrained.
type Mode string

const (
	ModeCausal Mode = "causal"
	ModeBatch  Mode = "batch"
	ModeNone   Mode = "none"
)

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeCausal, ModeBatch, ModeNone:
		return m, nil
	case "":
		return ModeCausal, nil
	}
	return "", fmt.Errorf("unknown monotonic mode %q", s)
}

func clip(v float64) float64 { return math.Min(1, math.Max(0, v)) }

// Causal constrains raw against the accepted history of one unit, most
// recent first. The result is clipped into [0,1]. When raw exceeds the last
// accepted value minus eps the last accepted value is emitted unchanged.
func Causal(raw float64, history []float64, eps float64) float64 {
	v := clip(raw)
	if len(history) == 0 {
		return v
	}
	prev := history[0]
	if v > prev-eps {
		return prev
	}
	return v
}

// Batch returns the weighted least-squares non-increasing projection of seq
// using pool-adjacent-violators. Nil weights are uniform. Values are clipped
// into [0,1] first.
func Batch(seq, weights []float64) []float64 {
	n := len(seq)
	if n == 0 {
		return nil
	}
	type block struct {
		sum, w float64
		n      int
	}
	blocks := make([]block, 0, n)
	for i, v := range seq {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		blocks = append(blocks, block{sum: clip(v) * w, w: w, n: 1})
		// a later block above its predecessor violates the order
		for len(blocks) > 1 {
			last, prev := blocks[len(blocks)-1], blocks[len(blocks)-2]
			if last.sum/last.w <= prev.sum/prev.w {
				break
			}
			blocks = blocks[:len(blocks)-2]
			blocks = append(blocks, block{sum: prev.sum + last.sum, w: prev.w + last.w, n: prev.n + last.n})
		}
	}
	out := make([]float64, 0, n)
	for _, b := range blocks {
		mean := b.sum / b.w
		for j := 0; j < b.n; j++ {
			out = append(out, mean)
		}
	}
	return out
}

// History is the externally owned record of accepted estimates per unit.
// It is safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	units map[string][]float64
	// Max bounds the retained values per unit; 0 keeps everything.
	Max int
}

// NewHistory returns an empty accumulator.
func NewHistory() *History {
	return &History{units: make(map[string][]float64)}
}

// Last returns the most recently accepted value of the unit.
func (h *History) Last(unitID string) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	vals := h.units[unitID]
	if len(vals) == 0 {
		return 0, false
	}
	return vals[len(vals)-1], true
}

// Values returns the accepted values of the unit, most recent first.
func (h *History) Values(unitID string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	vals := h.units[unitID]
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[len(vals)-1-i] = v
	}
	return out
}

// Accept appends v to the unit's history.
func (h *History) Accept(unitID string, v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.units == nil {
		h.units = make(map[string][]float64)
	}
	vals := append(h.units[unitID], v)
	if h.Max > 0 && len(vals) > h.Max {
		vals = vals[len(vals)-h.Max:]
	}
	h.units[unitID] = vals
}

// Units lists the units with accepted values.
func (h *History) Units() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.units))
	for id := range h.units {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Enforcer applies a constraint mode to per-unit sequences.
type Enforcer struct {
	Epsilon float64
	Mode    Mode
}

// New returns an enforcer, defaulting eps and mode.
func New(eps float64, mode Mode) Enforcer {
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	if mode == "" {
		mode = ModeCausal
	}
	return Enforcer{Epsilon: eps, Mode: mode}
}

// Next constrains one online value against the unit history and records it.
func (e Enforcer) Next(unitID string, raw float64, h *History) float64 {
	v := Causal(raw, h.Values(unitID), e.eps())
	h.Accept(unitID, v)
	return v
}

// Sequence constrains a cycle-ordered sequence of one unit. seed, when
// non-nil, is the last accepted value before the sequence. ModeBatch ignores
// seed and projects the whole sequence; ModeNone only clips.
func (e Enforcer) Sequence(raw []float64, seed *float64) []float64 {
	switch e.Mode {
	case ModeBatch:
		return Batch(raw, nil)
	case ModeNone:
		out := make([]float64, len(raw))
		for i, v := range raw {
			out[i] = clip(v)
		}
		return out
	}
	out := make([]float64, len(raw))
	var hist []float64
	if seed != nil {
		hist = []float64{*seed}
	}
	for i, v := range raw {
		out[i] = Causal(v, hist, e.eps())
		hist = []float64{out[i]}
	}
	return out
}

func (e Enforcer) eps() float64 {
	if e.Epsilon <= 0 {
		return DefaultEpsilon
	}
	return e.Epsilon
}
