// Package diagnostics computes error metrics and statistical tests on the
// held-out residuals of a fitted model.
package diagnostics

import (
	"fmt"

	"github.com/kilianp07/sohbench/core/model"
)

type row struct {
	obs      model.Observation
	pred     model.SoHPrediction
	observed float64
}

// Residuals is the prediction error sequence of one test partition, ordered
// by unit and cycle. It can only be built by Pair.
type Residuals struct {
	scope    string
	fold     int
	paramsID string
	rows     []row
}

// Pair aligns preds with the observations of test. preds[i] must be the
// prediction for the i-th observation of test.Observations(). Rows without
// an observed SoH are dropped.
func Pair(test model.TestPartition, preds []model.SoHPrediction) (Residuals, error) {
	obs := test.Observations()
	if len(obs) != len(preds) {
		return Residuals{}, fmt.Errorf("pair: %d predictions for %d test observations", len(preds), len(obs))
	}
	res := Residuals{scope: test.Scope(), fold: test.Fold()}
	for i, o := range obs {
		if res.paramsID == "" {
			res.paramsID = preds[i].ParamsID
		} else if preds[i].ParamsID != res.paramsID {
			return Residuals{}, fmt.Errorf("pair: predictions come from %s and %s", res.paramsID, preds[i].ParamsID)
		}
		v, ok := o.Observed()
		if !ok {
			continue
		}
		res.rows = append(res.rows, row{obs: o, pred: preds[i], observed: v})
	}
	return res, nil
}

// Len returns the number of residuals.
func (r Residuals) Len() int { return len(r.rows) }

// Scope is the scope of the originating split.
func (r Residuals) Scope() string { return r.scope }

// Values returns predicted minus observed, in order.
func (r Residuals) Values() []float64 {
	out := make([]float64, len(r.rows))
	for i, x := range r.rows {
		out[i] = x.pred.Value - x.observed
	}
	return out
}

// byUnit returns the residual values of each unit in cycle order.
func (r Residuals) byUnit() ([]string, map[string][]float64) {
	var ids []string
	out := make(map[string][]float64)
	for _, x := range r.rows {
		if _, ok := out[x.obs.UnitID]; !ok {
			ids = append(ids, x.obs.UnitID)
		}
		out[x.obs.UnitID] = append(out[x.obs.UnitID], x.pred.Value-x.observed)
	}
	return ids, out
}

func (r Residuals) records() []model.Residual {
	out := make([]model.Residual, len(r.rows))
	for i, x := range r.rows {
		out[i] = model.Residual{
			UnitID:    x.obs.UnitID,
			Cycle:     x.obs.Cycle,
			Timestamp: x.obs.Timestamp,
			Predicted: x.pred.Value,
			Observed:  x.observed,
			Value:     x.pred.Value - x.observed,
		}
	}
	return out
}
