package degradation

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/sohbench/core/model"
)

// GasConstant is R in J/(mol·K).
const GasConstant = 8.314462618

const (
	DefaultActivationEnergy = 31500.0
	DefaultReferenceTemp    = 298.15
	DefaultReferenceDoD     = 1.0
	DefaultDoDExponent      = 1.0
	// MinActivationSpan is the temperature range in Kelvin required before
	// Ea is treated as identifiable.
	MinActivationSpan = 5.0
)

// Settings keys recorded on Arrhenius parameters.
const (
	settingBase     = "base_kind"
	settingEa       = "ea"
	settingTRef     = "t_ref"
	settingDoDRef   = "dod_ref"
	settingBeta     = "dod_exponent"
	settingCalendar = "calendar"
)

// ArrheniusConfig fixes the constants of the acceleration factors.
type ArrheniusConfig struct {
	Base                Kind
	ActivationEnergy    float64
	ReferenceTemp       float64
	ReferenceDoD        float64
	DoDExponent         float64
	FitActivationEnergy bool
}

func (c *ArrheniusConfig) SetDefaults() {
	if c.ActivationEnergy <= 0 {
		c.ActivationEnergy = DefaultActivationEnergy
	}
	if c.ReferenceTemp <= 0 {
		c.ReferenceTemp = DefaultReferenceTemp
	}
	if c.ReferenceDoD <= 0 {
		c.ReferenceDoD = DefaultReferenceDoD
	}
	if c.DoDExponent == 0 {
		c.DoDExponent = DefaultDoDExponent
	}
}

func (c ArrheniusConfig) Validate() error {
	if c.Base == KindArrhenius {
		return fmt.Errorf("arrhenius base must be a cycle model")
	}
	if _, ok := kindNames[c.Base]; !ok {
		return fmt.Errorf("unknown arrhenius base %d", c.Base)
	}
	return nil
}

type arrhenius struct {
	base
	cfg ArrheniusConfig
}

// NewArrhenius returns the calendar and cycle model
//
//	SoH = base0 − AF_T·(AF_DoD·fade(x) + c_cal·√t_days)
//	AF_T = exp(−Ea/R·(1/T − 1/T_ref)), AF_DoD = (DoD/DoD_ref)^β
//
// where fade is the loss term of the configured base model.
func NewArrhenius(name string, opts Options, cfg ArrheniusConfig) (Model, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &arrhenius{base: newBase(KindArrhenius, name, opts), cfg: cfg}, nil
}

func (m *arrhenius) Equation() string {
	var fade string
	switch m.cfg.Base {
	case KindLinear:
		fade = "c*x"
	case KindExponential:
		fade = "soh0*(1-exp(-d*x))"
	default:
		fade = "a*sqrt(x)+b*x"
	}
	return fmt.Sprintf("SoH = base0 - exp(-Ea/R*(1/T-1/%g))*((dod/%g)^%g*(%s) + c_cal*sqrt(t_days)), x = k/%g",
		m.cfg.ReferenceTemp, m.cfg.ReferenceDoD, m.cfg.DoDExponent, fade, m.opts.CycleScale)
}

// layout describes where each term lives in the parameter vector.
type layout struct {
	base   Kind
	calIdx int
	eaIdx  int
	ea     float64
	tRef   float64
	dodRef float64
	beta   float64
}

func (l layout) factors(th []float64, p point) (afT, afD float64) {
	ea := l.ea
	if l.eaIdx >= 0 {
		ea = th[l.eaIdx]
	}
	afT = math.Exp(-ea / GasConstant * (1/p.temp - 1/l.tRef))
	afD = math.Pow(p.dod/l.dodRef, l.beta)
	return afT, afD
}

func (l layout) eval(th []float64, p point) float64 {
	afT, afD := l.factors(th, p)
	var cal float64
	if l.calIdx >= 0 {
		cal = th[l.calIdx] * math.Sqrt(p.calDays)
	}
	switch l.base {
	case KindLinear:
		return th[0] - afT*(afD*th[1]*p.x+cal)
	case KindExponential:
		return th[0] - afT*(afD*th[0]*(1-math.Exp(-th[1]*p.x))+cal)
	}
	return 1 - afT*(afD*(th[0]*math.Sqrt(p.x)+th[1]*p.x)+cal)
}

// design is available when Ea is fixed and the base is linear in its parameters.
func (l layout) design() func(point) (float64, []float64) {
	if l.eaIdx >= 0 || l.base == KindExponential {
		return nil
	}
	return func(p point) (float64, []float64) {
		afT, afD := l.factors(nil, p)
		var cols []float64
		off := 0.0
		switch l.base {
		case KindLinear:
			cols = []float64{1, -afT * afD * p.x}
		default:
			off = 1
			cols = []float64{-afT * afD * math.Sqrt(p.x), -afT * afD * p.x}
		}
		if l.calIdx >= 0 {
			cols = append(cols, -afT*math.Sqrt(p.calDays))
		}
		return off, cols
	}
}

func baseNames(k Kind) []string {
	switch k {
	case KindLinear:
		return []string{"soh0", "c"}
	case KindExponential:
		return []string{"soh0", "d"}
	}
	return []string{"a", "b"}
}

func (m *arrhenius) Fit(ctx context.Context, obs []model.Observation) (model.ModelParameters, error) {
	orig := origins(obs)
	ext := func(o model.Observation, p *point) error {
		return m.covariates(o, p, orig, true)
	}
	pts, used, err := collect(obs, m.opts.CycleScale, true, ext)
	if err != nil {
		return model.ModelParameters{}, err
	}
	l := layout{base: m.cfg.Base, calIdx: -1, eaIdx: -1, ea: m.cfg.ActivationEnergy,
		tRef: m.cfg.ReferenceTemp, dodRef: m.cfg.ReferenceDoD, beta: m.cfg.DoDExponent}
	names := baseNames(m.cfg.Base)
	nonneg := []bool{m.cfg.Base == KindPowerLaw, true}
	if calendarIdentifiable(pts) {
		l.calIdx = len(names)
		names = append(names, "c_cal")
		nonneg = append(nonneg, true)
	}
	if m.cfg.FitActivationEnergy && tempSpan(pts) >= MinActivationSpan {
		l.eaIdx = len(names)
		names = append(names, "ea")
		nonneg = append(nonneg, true)
	}
	pr := problem{
		model:  m.name,
		names:  names,
		nonneg: nonneg,
		eval:   l.eval,
		design: l.design(),
		start:  m.start(l, len(names)),
	}
	settings := map[string]float64{
		settingBase:     float64(m.cfg.Base),
		settingTRef:     l.tRef,
		settingDoDRef:   l.dodRef,
		settingBeta:     l.beta,
		settingCalendar: 0,
	}
	if l.calIdx >= 0 {
		settings[settingCalendar] = 1
	}
	if l.eaIdx < 0 {
		settings[settingEa] = l.ea
	}
	return fitProblem(ctx, m.opts, pr, pts, used, obs, settings)
}

// start seeds the nonlinear path: the fixed-Ea linear solution when the base
// allows it, the log-linear exponential seed otherwise.
func (m *arrhenius) start(l layout, k int) func([]point) ([]float64, error) {
	return func(pts []point) ([]float64, error) {
		theta := make([]float64, k)
		fixed := l
		fixed.eaIdx = -1
		if d := fixed.design(); d != nil {
			sub := problem{model: m.name, names: baseNames(l.base), design: d}
			if fixed.calIdx >= 0 {
				sub.names = append(sub.names, "c_cal")
			}
			seed, err := solveLinear(sub, pts)
			if err != nil {
				return nil, err
			}
			copy(theta, seed)
		} else {
			seed, err := logLinearStart(pts)
			if err != nil {
				return nil, err
			}
			copy(theta, seed)
		}
		for i := range theta {
			if i != l.eaIdx && i != l.calIdx && theta[i] == 0 {
				theta[i] = 1e-3
			}
		}
		if l.calIdx >= 0 && theta[l.calIdx] <= 0 {
			theta[l.calIdx] = 1e-3
		}
		if l.eaIdx >= 0 {
			theta[l.eaIdx] = l.ea
		}
		return theta, nil
	}
}

func (m *arrhenius) covariates(o model.Observation, p *point, orig map[string]time.Time, calendar bool) error {
	temp, err := covariate(m.name, o, model.FeatureTemperature)
	if err != nil {
		return err
	}
	if temp <= 0 {
		return fmt.Errorf("%s: temperature %g K for unit %s cycle %d is not positive", m.name, temp, o.UnitID, o.Cycle)
	}
	dod, err := covariate(m.name, o, model.FeatureDoD)
	if err != nil {
		return err
	}
	if dod < 0 {
		return fmt.Errorf("%s: negative dod %g for unit %s cycle %d", m.name, dod, o.UnitID, o.Cycle)
	}
	p.temp, p.dod = temp, dod
	if calendar {
		if p.calDays, err = calendarDays(m.name, o, orig); err != nil {
			return err
		}
	}
	return nil
}

func (m *arrhenius) Predict(o model.Observation, params model.ModelParameters) (model.SoHPrediction, error) {
	if err := checkParams(params, m.name); err != nil {
		return model.SoHPrediction{}, err
	}
	l := layout{
		base:   Kind(int(params.Setting(settingBase, float64(m.cfg.Base)))),
		calIdx: indexOf(params.Order, "c_cal"),
		eaIdx:  indexOf(params.Order, "ea"),
		ea:     params.Setting(settingEa, m.cfg.ActivationEnergy),
		tRef:   params.Setting(settingTRef, m.cfg.ReferenceTemp),
		dodRef: params.Setting(settingDoDRef, m.cfg.ReferenceDoD),
		beta:   params.Setting(settingBeta, m.cfg.DoDExponent),
	}
	p := point{unit: o.UnitID, cycle: o.Cycle, x: cycleX(o, params, m.opts)}
	if err := m.covariates(o, &p, params.Origins, l.calIdx >= 0); err != nil {
		return model.SoHPrediction{}, err
	}
	return predict(l.eval, params, p, m.opts.IntervalLevel), nil
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// calendarIdentifiable reports whether √t_days varies and is not confounded
// with the cycle terms, as happens when units cycle on a fixed schedule.
func calendarIdentifiable(pts []point) bool {
	rt := make([]float64, len(pts))
	rx := make([]float64, len(pts))
	xs := make([]float64, len(pts))
	for i, p := range pts {
		rt[i] = math.Sqrt(p.calDays)
		rx[i] = math.Sqrt(p.x)
		xs[i] = p.x
	}
	if len(pts) < 3 || floats.Max(rt)-floats.Min(rt) < 1e-9 {
		return false
	}
	for _, other := range [][]float64{rx, xs} {
		if r := stat.Correlation(rt, other, nil); math.IsNaN(r) || math.Abs(r) > calendarCollinearity {
			return false
		}
	}
	return true
}

const calendarCollinearity = 0.995

func tempSpan(pts []point) float64 {
	if len(pts) == 0 {
		return 0
	}
	ts := make([]float64, len(pts))
	for i, p := range pts {
		ts[i] = p.temp
	}
	return floats.Max(ts) - floats.Min(ts)
}
