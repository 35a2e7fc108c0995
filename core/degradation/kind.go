package degradation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/sohbench/core/model"
)

// Kind identifies a degradation model variant. The set is closed.
type Kind int

const (
	// KindPowerLaw is SoH = 1 − a·√x − b·x.
	KindPowerLaw Kind = iota
	// KindLinear is SoH = SoH0 − c·x.
	KindLinear
	// KindExponential is SoH = SoH0·exp(−d·x).
	KindExponential
	// KindArrhenius scales a base fade term with temperature and DoD
	// acceleration factors and adds a calendar term.
	KindArrhenius
)

var kindNames = map[Kind]string{
	KindPowerLaw:    "power_law",
	KindLinear:      "linear",
	KindExponential: "exponential",
	KindArrhenius:   "arrhenius",
}

// String returns the registry name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a registry name to its Kind.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for k, v := range kindNames {
		if v == n {
			return k, nil
		}
	}
	return -1, fmt.Errorf("unknown degradation model %q", name)
}

// Kinds lists every variant in declaration order.
func Kinds() []Kind {
	return []Kind{KindPowerLaw, KindLinear, KindExponential, KindArrhenius}
}

// Model fits parameters to observations and predicts SoH.
type Model interface {
	Kind() Kind
	// Name identifies the configured model in reports.
	Name() string
	Equation() string
	// Fit estimates parameters from the observed rows of obs. A context
	// deadline bounds the optimisation.
	Fit(ctx context.Context, obs []model.Observation) (model.ModelParameters, error)
	// Predict evaluates the fitted model for one observation. The result is
	// clipped into [0,1] and the clip is recorded.
	Predict(obs model.Observation, params model.ModelParameters) (model.SoHPrediction, error)
}

// Options are shared by every variant.
type Options struct {
	// CycleScale normalises the cycle index: x = k / CycleScale.
	CycleScale float64
	// IntervalLevel is the nominal coverage of prediction intervals.
	IntervalLevel float64
	// MaxIterations caps the Nelder–Mead major iterations.
	MaxIterations int
	// Clock stamps ModelParameters.FittedAt.
	Clock func() time.Time
}

const (
	DefaultCycleScale    = 100.0
	DefaultIntervalLevel = 0.95
	DefaultMaxIterations = 20000
)

// SetDefaults fills unset options.
func (o *Options) SetDefaults() {
	if o.CycleScale <= 0 {
		o.CycleScale = DefaultCycleScale
	}
	if o.IntervalLevel <= 0 || o.IntervalLevel >= 1 {
		o.IntervalLevel = DefaultIntervalLevel
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
}

func checkParams(p model.ModelParameters, name string) error {
	if p.Model != name {
		return fmt.Errorf("parameters %s belong to model %s, not %s", p.ID, p.Model, name)
	}
	for _, n := range p.Order {
		if _, ok := p.Values[n]; !ok {
			return fmt.Errorf("parameters %s: missing value for %s", p.ID, n)
		}
	}
	return nil
}
