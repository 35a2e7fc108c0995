package degradation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/sohbench/core/model"
)

// base carries the identity and options shared by every variant.
type base struct {
	kind Kind
	name string
	opts Options
}

func newBase(kind Kind, name string, opts Options) base {
	opts.SetDefaults()
	if name == "" {
		name = kind.String()
	}
	return base{kind: kind, name: name, opts: opts}
}

func (b base) Kind() Kind   { return b.kind }
func (b base) Name() string { return b.name }

// cycleModel is a variant whose only input is the cycle index.
type cycleModel struct {
	base
	equation string
	pr       problem
}

func (m *cycleModel) Equation() string { return m.equation }

func (m *cycleModel) Fit(ctx context.Context, obs []model.Observation) (model.ModelParameters, error) {
	pts, used, err := collect(obs, m.opts.CycleScale, false, cycleOnly)
	if err != nil {
		return model.ModelParameters{}, err
	}
	return fitProblem(ctx, m.opts, m.pr, pts, used, used, nil)
}

func (m *cycleModel) Predict(o model.Observation, params model.ModelParameters) (model.SoHPrediction, error) {
	if err := checkParams(params, m.name); err != nil {
		return model.SoHPrediction{}, err
	}
	p := point{unit: o.UnitID, cycle: o.Cycle, x: cycleX(o, params, m.opts)}
	return predict(m.pr.eval, params, p, m.opts.IntervalLevel), nil
}

// NewPowerLaw returns SoH = 1 − a·√x − b·x with a, b ≥ 0.
func NewPowerLaw(name string, opts Options) Model {
	b := newBase(KindPowerLaw, name, opts)
	return &cycleModel{
		base:     b,
		equation: fmt.Sprintf("SoH(k) = 1 - a*sqrt(k/%g) - b*(k/%g)", b.opts.CycleScale, b.opts.CycleScale),
		pr: problem{
			model:  b.name,
			names:  []string{"a", "b"},
			nonneg: []bool{true, true},
			eval: func(th []float64, p point) float64 {
				return 1 - th[0]*math.Sqrt(p.x) - th[1]*p.x
			},
			design: func(p point) (float64, []float64) {
				return 1, []float64{-math.Sqrt(p.x), -p.x}
			},
		},
	}
}

// NewLinear returns SoH = SoH0 − c·x with c ≥ 0.
func NewLinear(name string, opts Options) Model {
	b := newBase(KindLinear, name, opts)
	return &cycleModel{
		base:     b,
		equation: fmt.Sprintf("SoH(k) = soh0 - c*(k/%g)", b.opts.CycleScale),
		pr: problem{
			model:  b.name,
			names:  []string{"soh0", "c"},
			nonneg: []bool{false, true},
			eval: func(th []float64, p point) float64 {
				return th[0] - th[1]*p.x
			},
			design: func(p point) (float64, []float64) {
				return 0, []float64{1, -p.x}
			},
		},
	}
}

// NewExponential returns SoH = SoH0·exp(−d·x) with d ≥ 0.
func NewExponential(name string, opts Options) Model {
	b := newBase(KindExponential, name, opts)
	return &cycleModel{
		base:     b,
		equation: fmt.Sprintf("SoH(k) = soh0 * exp(-d*(k/%g))", b.opts.CycleScale),
		pr: problem{
			model:  b.name,
			names:  []string{"soh0", "d"},
			nonneg: []bool{false, true},
			eval: func(th []float64, p point) float64 {
				return th[0] * math.Exp(-th[1]*p.x)
			},
			start: logLinearStart,
		},
	}
}

var errNoPositiveSoH = errors.New("no positive SoH values to seed the exponential fit")

// logLinearStart regresses log SoH on x and returns [soh0, d].
func logLinearStart(pts []point) ([]float64, error) {
	xs := make([]float64, 0, len(pts))
	ys := make([]float64, 0, len(pts))
	for _, p := range pts {
		if p.soh > 0 {
			xs = append(xs, p.x)
			ys = append(ys, math.Log(p.soh))
		}
	}
	if len(xs) < 2 {
		return nil, errNoPositiveSoH
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	return []float64{math.Exp(alpha), -beta}, nil
}
