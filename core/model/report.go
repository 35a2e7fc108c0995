package model

import (
	"encoding/json"
	"math"
	"time"
)

// TestResult holds a test statistic and its p-value.
type TestResult struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
	DF        int     `json:"df,omitempty"`
	Lag       int     `json:"lag,omitempty"`
	// Units is the number of per-unit sequences combined into the statistic.
	Units int `json:"units,omitempty"`
}

// PointMetrics are the error metrics on the held-out partition.
type PointMetrics struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	// MAPE is NaN when MAPEDefined is false (an observed value is close to zero).
	MAPE        float64 `json:"mape"`
	MAPEDefined bool    `json:"mape_defined"`
}

type pointMetricsJSON struct {
	MAE         float64  `json:"mae"`
	RMSE        float64  `json:"rmse"`
	MAPE        *float64 `json:"mape"`
	MAPEDefined bool     `json:"mape_defined"`
}

// MarshalJSON encodes an undefined MAPE as null.
func (m PointMetrics) MarshalJSON() ([]byte, error) {
	out := pointMetricsJSON{MAE: m.MAE, RMSE: m.RMSE, MAPEDefined: m.MAPEDefined}
	if m.MAPEDefined && !math.IsNaN(m.MAPE) {
		v := m.MAPE
		out.MAPE = &v
	}
	return json.Marshal(out)
}

func (m *PointMetrics) UnmarshalJSON(b []byte) error {
	var in pointMetricsJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	m.MAE, m.RMSE, m.MAPEDefined = in.MAE, in.RMSE, in.MAPEDefined
	m.MAPE = math.NaN()
	if in.MAPE != nil {
		m.MAPE = *in.MAPE
	}
	return nil
}

// Independence summarises the correlation between inputs and residuals.
type Independence struct {
	Feature        string  `json:"feature"`
	MaxAbsCorr     float64 `json:"max_abs_corr"`
	PValue         float64 `json:"p_value"`
	Threshold      float64 `json:"threshold"`
	Significant    bool    `json:"significant"`
	FeaturesTested int     `json:"features_tested"`
}

// Calibration compares empirical interval coverage to the nominal level.
type Calibration struct {
	Nominal   float64 `json:"nominal"`
	Coverage  float64 `json:"coverage"`
	Deviation float64 `json:"deviation"`
	PValue    float64 `json:"p_value"`
}

// Saturation reports how often predictions were clipped at the [0,1] bounds.
type Saturation struct {
	Lower    int     `json:"lower"`
	Upper    int     `json:"upper"`
	Fraction float64 `json:"fraction"`
	Flagged  bool    `json:"flagged"`
}

// Residual is one prediction error on the held-out partition.
type Residual struct {
	UnitID    string    `json:"unit_id"`
	Cycle     int       `json:"cycle_index"`
	Timestamp time.Time `json:"timestamp"`
	Predicted float64   `json:"predicted"`
	Observed  float64   `json:"observed"`
	Value     float64   `json:"value"`
}

// ValidationReport is created once per (model, dataset, split) evaluation.
type ValidationReport struct {
	ModelID  string                `json:"model_id"`
	ParamsID string                `json:"params_id"`
	Dataset  string                `json:"dataset,omitempty"`
	Scope    string                `json:"scope"`
	Fold     int                   `json:"fold"`
	N        int                   `json:"n"`
	Metrics  PointMetrics          `json:"metrics"`
	Tests    map[string]TestResult `json:"tests"`
	// Skipped maps a test name to the reason it was not computed.
	Skipped      map[string]string `json:"skipped,omitempty"`
	Independence *Independence     `json:"independence,omitempty"`
	Calibration  *Calibration      `json:"calibration,omitempty"`
	Saturation   Saturation        `json:"saturation"`
	Residuals    []Residual        `json:"residuals"`
	CreatedAt    time.Time         `json:"created_at"`
}
