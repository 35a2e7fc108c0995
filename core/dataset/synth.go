package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/kilianp07/sohbench/core/degradation"
	"github.com/kilianp07/sohbench/core/model"
)

// Partial-charge features emitted by Synthesize when PartialFeatures is set.
const (
	FeatureCVTime = "cv_time"
	FeatureVMean  = "v_mean"
)

// SynthConfig describes a synthetic degradation experiment.
type SynthConfig struct {
	// Curve is a degradation kind name: power_law, linear, exponential or
	// arrhenius (power-law base).
	Curve  string             `json:"curve" yaml:"curve"`
	Params map[string]float64 `json:"params" yaml:"params"`
	Units  int                `json:"units" yaml:"units"`
	Cycles int                `json:"cycles" yaml:"cycles"`
	// Step is the cycle spacing between checkpoints.
	Step     int           `json:"step" yaml:"step"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Start    time.Time     `json:"start" yaml:"start"`
	Noise    float64       `json:"noise" yaml:"noise"`
	Seed     uint64        `json:"seed" yaml:"seed"`
	// Temperatures in Kelvin, assigned to units round-robin.
	Temperatures []float64 `json:"temperatures" yaml:"temperatures"`
	DoD          float64   `json:"dod" yaml:"dod"`
	CycleScale   float64   `json:"cycle_scale" yaml:"cycle_scale"`
	// MissingEvery leaves every n-th checkpoint without a SoH measurement.
	MissingEvery    int  `json:"missing_every" yaml:"missing_every"`
	PartialFeatures bool `json:"partial_features" yaml:"partial_features"`
}

var defaultParams = map[degradation.Kind]map[string]float64{
	degradation.KindPowerLaw:    {"a": 0.10, "b": 0.05},
	degradation.KindLinear:      {"soh0": 1, "c": 0.05},
	degradation.KindExponential: {"soh0": 1, "d": 0.05},
	degradation.KindArrhenius:   {"a": 0.10, "b": 0.05, "c_cal": 0.002},
}

func (c *SynthConfig) SetDefaults() {
	if c.Curve == "" {
		c.Curve = degradation.KindPowerLaw.String()
	}
	if c.Units <= 0 {
		c.Units = 1
	}
	if c.Cycles <= 0 {
		c.Cycles = 100
	}
	if c.Step <= 0 {
		c.Step = 1
	}
	if c.Interval <= 0 {
		c.Interval = 12 * time.Hour
	}
	if c.Start.IsZero() {
		c.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if c.CycleScale <= 0 {
		c.CycleScale = degradation.DefaultCycleScale
	}
}

func (c SynthConfig) Validate() error {
	k, err := degradation.ParseKind(c.Curve)
	if err != nil {
		return err
	}
	if c.Noise < 0 {
		return fmt.Errorf("synth: noise must not be negative")
	}
	if k == degradation.KindArrhenius {
		for _, t := range c.Temperatures {
			if t <= 0 {
				return fmt.Errorf("synth: temperature %g K must be positive", t)
			}
		}
		if c.DoD < 0 {
			return fmt.Errorf("synth: dod must not be negative")
		}
	}
	return nil
}

// Synthesize generates a dataset following the configured curve with
// Gaussian measurement noise. The same config always yields the same data.
func Synthesize(name string, cfg SynthConfig) (Dataset, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return Dataset{}, err
	}
	kind, _ := degradation.ParseKind(cfg.Curve)
	params := make(map[string]float64)
	for k, v := range defaultParams[kind] {
		params[k] = v
	}
	for k, v := range cfg.Params {
		params[k] = v
	}
	arrhenius := kind == degradation.KindArrhenius
	temps := cfg.Temperatures
	if arrhenius && len(temps) == 0 {
		temps = []float64{degradation.DefaultReferenceTemp}
	}
	dod := cfg.DoD
	if arrhenius && dod == 0 {
		dod = degradation.DefaultReferenceDoD
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, 0x50b))
	var obs []model.Observation
	for u := 0; u < cfg.Units; u++ {
		unit := fmt.Sprintf("%s-%02d", name, u+1)
		offset := time.Duration(u) * cfg.Interval / time.Duration(cfg.Units)
		var temp float64
		if len(temps) > 0 {
			temp = temps[u%len(temps)]
		}
		for i := 0; i < cfg.Cycles; i++ {
			k := (i + 1) * cfg.Step
			ts := cfg.Start.Add(offset + time.Duration(i)*cfg.Interval)
			x := float64(k) / cfg.CycleScale
			days := (time.Duration(i) * cfg.Interval).Hours() / 24
			truth := curve(kind, params, x, temp, dod, days)

			var fs []model.Feature
			if temp > 0 {
				fs = append(fs, model.Feature{Name: model.FeatureTemperature, Value: temp})
			}
			if dod > 0 {
				fs = append(fs,
					model.Feature{Name: model.FeatureDoD, Value: dod},
					model.Feature{Name: model.FeatureFEC, Value: dod * float64(cfg.Step), Horizon: cfg.Interval})
			}
			if cfg.PartialFeatures {
				fs = append(fs,
					model.Feature{Name: FeatureVMean, Value: 3.6 + 0.2*truth + 0.002*rng.NormFloat64(), Horizon: 10 * time.Minute},
					model.Feature{Name: FeatureCVTime, Value: 1200 * (1 + 5*(1-truth)) * (1 + 0.01*rng.NormFloat64()), Horizon: 90 * time.Minute})
			}
			fv, err := model.NewFeatureVector(fs...)
			if err != nil {
				return Dataset{}, err
			}
			o := model.Observation{UnitID: unit, Cycle: k, Timestamp: ts, Features: fv}
			noise := cfg.Noise * rng.NormFloat64()
			if cfg.MissingEvery <= 0 || (i+1)%cfg.MissingEvery != 0 {
				o.SoH = model.SoHValue(truth + noise)
			}
			obs = append(obs, o)
		}
	}
	obs, err := Derive(obs)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{Name: name, Observations: obs}, nil
}

func curve(kind degradation.Kind, p map[string]float64, x, temp, dod, days float64) float64 {
	switch kind {
	case degradation.KindLinear:
		return p["soh0"] - p["c"]*x
	case degradation.KindExponential:
		return p["soh0"] * math.Exp(-p["d"]*x)
	case degradation.KindArrhenius:
		ea := degradation.DefaultActivationEnergy
		if v, ok := p["ea"]; ok {
			ea = v
		}
		afT := math.Exp(-ea / degradation.GasConstant * (1/temp - 1/degradation.DefaultReferenceTemp))
		afD := math.Pow(dod/degradation.DefaultReferenceDoD, degradation.DefaultDoDExponent)
		return 1 - afT*(afD*(p["a"]*math.Sqrt(x)+p["b"]*x)+p["c_cal"]*math.Sqrt(days))
	}
	return 1 - p["a"]*math.Sqrt(x) - p["b"]*x
}
