package diagnostics

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/sohbench/core/model"
)

const (
	TestIndependence = "independence"
	TestCalibration  = "calibration"
	// FeatureCycleIndex is the pseudo-feature tested for independence
	// alongside the observation features.
	FeatureCycleIndex = "cycle_index"
)

// Options configure Evaluate.
type Options struct {
	// Lags adds one Ljung–Box result per explicit lag next to the default
	// min(MaxLag, n/5) rule.
	Lags       []int `json:"lags"`
	MaxLag     int   `json:"max_lag"`
	MinSamples int   `json:"min_samples"`
	// FittedDF is subtracted from the Ljung–Box degrees of freedom.
	FittedDF int     `json:"fitted_df"`
	Alpha    float64 `json:"alpha"`
	// StrictWhiteness turns a too-short residual sequence into an error
	// instead of a skipped test.
	StrictWhiteness     bool    `json:"strict_whiteness"`
	SaturationThreshold float64 `json:"saturation_threshold"`
	// MAPEFloor is the observed magnitude below which MAPE is undefined.
	MAPEFloor float64          `json:"mape_floor"`
	Clock     func() time.Time `json:"-"`
}

const (
	DefaultMaxLag              = 10
	DefaultMinSamples          = 20
	DefaultAlpha               = 0.05
	DefaultSaturationThreshold = 0.1
	DefaultMAPEFloor           = 1e-9
)

func (o *Options) SetDefaults() {
	if o.MaxLag <= 0 {
		o.MaxLag = DefaultMaxLag
	}
	if o.MinSamples <= 0 {
		o.MinSamples = DefaultMinSamples
	}
	if o.Alpha <= 0 || o.Alpha >= 1 {
		o.Alpha = DefaultAlpha
	}
	if o.SaturationThreshold <= 0 {
		o.SaturationThreshold = DefaultSaturationThreshold
	}
	if o.MAPEFloor <= 0 {
		o.MAPEFloor = DefaultMAPEFloor
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
}

func (o Options) Validate() error {
	for _, l := range o.Lags {
		if l <= 0 {
			return fmt.Errorf("diagnostics: lag %d must be positive", l)
		}
	}
	if o.FittedDF < 0 {
		return fmt.Errorf("diagnostics: fitted_df must not be negative")
	}
	return nil
}

// Evaluate computes point metrics and residual tests. Tests that cannot run
// on the available sample are listed in ValidationReport.Skipped.
func Evaluate(res Residuals, opts Options) (model.ValidationReport, error) {
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return model.ValidationReport{}, err
	}
	if res.Len() == 0 {
		return model.ValidationReport{}, &model.InsufficientSampleError{Test: "metrics", N: 0, Min: 1}
	}
	rep := model.ValidationReport{
		ParamsID:  res.paramsID,
		Scope:     res.scope,
		Fold:      res.fold,
		N:         res.Len(),
		Metrics:   pointMetrics(res, opts.MAPEFloor),
		Tests:     make(map[string]model.TestResult),
		Skipped:   make(map[string]string),
		Residuals: res.records(),
		CreatedAt: opts.Clock(),
	}

	ids, units := res.byUnit()
	lb, err := combinedLjungBox(ids, units, 0, opts)
	if err != nil {
		var ise *model.InsufficientSampleError
		if opts.StrictWhiteness || !errors.As(err, &ise) {
			return model.ValidationReport{}, err
		}
		// no unit long enough: report the metrics, note the missing test
		rep.Skipped[TestLjungBox] = err.Error()
	} else {
		rep.Tests[TestLjungBox] = lb
	}
	for _, lag := range opts.Lags {
		name := fmt.Sprintf("%s_lag%d", TestLjungBox, lag)
		r, err := combinedLjungBox(ids, units, lag, opts)
		if err != nil {
			rep.Skipped[name] = err.Error()
			continue
		}
		rep.Tests[name] = r
	}

	if ind, err := independence(res, opts.Alpha); err != nil {
		rep.Skipped[TestIndependence] = err.Error()
	} else {
		rep.Independence = ind
		rep.Tests[TestIndependence] = model.TestResult{Statistic: ind.MaxAbsCorr, PValue: ind.PValue}
	}

	if cal := calibration(res); cal != nil {
		rep.Calibration = cal
		rep.Tests[TestCalibration] = model.TestResult{Statistic: cal.Deviation, PValue: cal.PValue}
	} else {
		rep.Skipped[TestCalibration] = "predictions carry no confidence interval"
	}

	rep.Saturation = saturation(res, opts.SaturationThreshold)
	if len(rep.Skipped) == 0 {
		rep.Skipped = nil
	}
	return rep, nil
}

func pointMetrics(res Residuals, floor float64) model.PointMetrics {
	var abs, sq, pct float64
	defined := true
	for _, x := range res.rows {
		e := x.pred.Value - x.observed
		abs += math.Abs(e)
		sq += e * e
		if math.Abs(x.observed) < floor {
			defined = false
			continue
		}
		pct += math.Abs(e / x.observed)
	}
	n := float64(res.Len())
	m := model.PointMetrics{MAE: abs / n, RMSE: math.Sqrt(sq / n), MAPE: math.NaN(), MAPEDefined: defined}
	if defined {
		m.MAPE = 100 * pct / n
	}
	return m
}

// independence tests every feature present on all rows, plus the cycle
// index, with Spearman correlation against the residuals. Significance is
// Bonferroni-corrected over the features tested.
func independence(res Residuals, alpha float64) (*model.Independence, error) {
	n := res.Len()
	if n < 3 {
		return nil, &model.InsufficientSampleError{Test: TestIndependence, N: n, Min: 3}
	}
	resid := res.Values()
	columns := map[string][]float64{FeatureCycleIndex: make([]float64, n)}
	names := []string{FeatureCycleIndex}
	for _, name := range res.rows[0].obs.Features.Names() {
		col := make([]float64, n)
		complete := true
		for i, x := range res.rows {
			v, ok := x.obs.Features.Get(name)
			if !ok {
				complete = false
				break
			}
			col[i] = v
		}
		if complete {
			columns[name] = col
			names = append(names, name)
		}
	}
	for i, x := range res.rows {
		columns[FeatureCycleIndex][i] = float64(x.obs.Cycle)
	}

	out := &model.Independence{FeaturesTested: len(names), Threshold: alpha / float64(len(names)), PValue: 1}
	for _, name := range names {
		r, p := spearman(columns[name], resid)
		if math.Abs(r) > out.MaxAbsCorr || out.Feature == "" {
			out.Feature, out.MaxAbsCorr, out.PValue = name, math.Abs(r), p
		}
	}
	out.Significant = out.PValue < out.Threshold
	return out, nil
}

// calibration is nil unless every prediction carries an interval.
func calibration(res Residuals) *model.Calibration {
	var hits int
	var nominal float64
	for _, x := range res.rows {
		if x.pred.CI == nil {
			return nil
		}
		nominal = x.pred.CI.Level
		if x.pred.CI.Contains(x.observed) {
			hits++
		}
	}
	cov, p := coverageTest(hits, res.Len(), nominal)
	return &model.Calibration{Nominal: nominal, Coverage: cov, Deviation: cov - nominal, PValue: p}
}

func saturation(res Residuals, threshold float64) model.Saturation {
	var s model.Saturation
	for _, x := range res.rows {
		switch x.pred.Clipped {
		case model.ClipLower:
			s.Lower++
		case model.ClipUpper:
			s.Upper++
		}
	}
	s.Fraction = float64(s.Lower+s.Upper) / float64(res.Len())
	s.Flagged = s.Fraction > threshold
	return s
}
