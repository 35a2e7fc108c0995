package degradation

import (
	"fmt"

	"github.com/kilianp07/sohbench/core/factory"
)

// Conf is the raw configuration accepted by every registered variant.
type Conf struct {
	Name          string  `json:"name"`
	CycleScale    float64 `json:"cycle_scale"`
	IntervalLevel float64 `json:"interval_level"`
	MaxIterations int     `json:"max_iterations"`

	// Arrhenius only.
	Base                string  `json:"base"`
	ActivationEnergy    float64 `json:"activation_energy"`
	ReferenceTemp       float64 `json:"reference_temp"`
	ReferenceDoD        float64 `json:"reference_dod"`
	DoDExponent         float64 `json:"dod_exponent"`
	FitActivationEnergy bool    `json:"fit_activation_energy"`
}

func (c Conf) options() Options {
	return Options{CycleScale: c.CycleScale, IntervalLevel: c.IntervalLevel, MaxIterations: c.MaxIterations}
}

// New builds the variant of the given kind from conf.
func New(kind Kind, conf Conf) (Model, error) {
	switch kind {
	case KindPowerLaw:
		return NewPowerLaw(conf.Name, conf.options()), nil
	case KindLinear:
		return NewLinear(conf.Name, conf.options()), nil
	case KindExponential:
		return NewExponential(conf.Name, conf.options()), nil
	case KindArrhenius:
		base := KindPowerLaw
		if conf.Base != "" {
			k, err := ParseKind(conf.Base)
			if err != nil {
				return nil, err
			}
			base = k
		}
		return NewArrhenius(conf.Name, conf.options(), ArrheniusConfig{
			Base:                base,
			ActivationEnergy:    conf.ActivationEnergy,
			ReferenceTemp:       conf.ReferenceTemp,
			ReferenceDoD:        conf.ReferenceDoD,
			DoDExponent:         conf.DoDExponent,
			FitActivationEnergy: conf.FitActivationEnergy,
		})
	}
	return nil, fmt.Errorf("unknown degradation model kind %d", kind)
}

// NewRegistry returns a factory registry with every variant registered under
// its kind name. It panics if two kinds share a name.
func NewRegistry() *factory.Registry[Model] {
	reg := factory.NewRegistry[Model]()
	if err := Register(reg, Kinds()...); err != nil {
		panic(err)
	}
	return reg
}

// Register adds the factories of kinds to reg.
func Register(reg *factory.Registry[Model], kinds ...Kind) error {
	for _, k := range kinds {
		kind := k
		err := reg.Register(kind.String(), func(raw map[string]any) (Model, error) {
			var c Conf
			if err := factory.Decode(raw, &c); err != nil {
				return nil, fmt.Errorf("decode %s config: %w", kind, err)
			}
			return New(kind, c)
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", kind, err)
		}
	}
	return nil
}
