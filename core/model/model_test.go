package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func obsAt(unit string, cycle int, soh float64) Observation {
	return Observation{
		UnitID:    unit,
		Cycle:     cycle,
		Timestamp: t0.Add(time.Duration(cycle) * time.Hour),
		SoH:       SoHValue(soh),
	}
}

func TestFeatureVector_OrderedAndImmutable(t *testing.T) {
	fv, err := NewFeatureVector(
		Feature{Name: "v_mean", Value: 3.7},
		Feature{Name: "charge_time", Value: 1800, Horizon: 30 * time.Minute},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"charge_time", "v_mean"}, fv.Names())

	feats := fv.Features()
	feats[0].Value = 0
	v, ok := fv.Get("charge_time")
	require.True(t, ok)
	assert.Equal(t, 1800.0, v)

	h, ok := fv.Horizon("charge_time")
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, h)
}

func TestFeatureVector_Rejects(t *testing.T) {
	_, err := NewFeatureVector(Feature{Name: "a", Value: math.NaN()})
	assert.Error(t, err)
	_, err = NewFeatureVector(Feature{Name: "a"}, Feature{Name: "a"})
	assert.Error(t, err)
	_, err = NewFeatureVector(Feature{Value: 1})
	assert.Error(t, err)
}

func TestFeatureVector_JSON(t *testing.T) {
	fv := MustFeatures(map[string]float64{"temperature": 298.15, "dod": 0.8})
	b, err := json.Marshal(fv)
	require.NoError(t, err)
	var back FeatureVector
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, fv.Features(), back.Features())
}

func TestValidateOrdering(t *testing.T) {
	ok := []Observation{obsAt("u1", 2, 0.9), obsAt("u1", 1, 0.95), obsAt("u2", 1, 0.99)}
	assert.NoError(t, ValidateOrdering(ok))

	bad := []Observation{obsAt("u1", 1, 0.95), obsAt("u1", 2, 0.9)}
	bad[1].Timestamp = bad[0].Timestamp
	assert.Error(t, ValidateOrdering(bad))
}

func TestNewSplit_LeakageGuard(t *testing.T) {
	train := []Observation{obsAt("u1", 1, 1), obsAt("u1", 2, 0.99)}
	test := []Observation{obsAt("u1", 3, 0.98)}
	s, err := NewSplit("u1", 0, train, test)
	require.NoError(t, err)
	assert.Len(t, s.Train(), 2)
	assert.Equal(t, 1, s.Test().Len())
	assert.Equal(t, train[1].Timestamp, s.Cutoff())

	// tie at the boundary cycle
	tie := []Observation{obsAt("u2", 2, 0.97)}
	_, err = NewSplit("u1", 0, train, tie)
	var lv *LeakageViolationError
	require.True(t, errors.As(err, &lv))
	assert.Equal(t, KindLeakageViolation, Kind(err))
	assert.False(t, IsRecoverable(err))

	// a held-out partition only exists next to a training partition
	all := append(append([]Observation{}, train...), test...)
	_, err = NewSplit("u1", 0, nil, all)
	assert.ErrorIs(t, err, ErrEmptyPartition)
	_, err = NewSplit("u1", 0, train, nil)
	assert.ErrorIs(t, err, ErrEmptyPartition)
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := []Observation{obsAt("u1", 1, 1), obsAt("u1", 5, 0.9), obsAt("u2", 3, 0.95)}
	b := []Observation{obsAt("u2", 3, 0.95), obsAt("u1", 5, 0.9), obsAt("u1", 1, 1)}
	fa, fb := NewFingerprint(a), NewFingerprint(b)
	assert.Equal(t, fa, fb)
	mc, ok := fa.MaxCycle("u1")
	require.True(t, ok)
	assert.Equal(t, 5, mc)
	assert.Equal(t, ParamsID("power_law", fa), ParamsID("power_law", fb))
}

func TestPointMetrics_UndefinedMAPEIsNull(t *testing.T) {
	m := PointMetrics{MAE: 0.01, RMSE: 0.02, MAPE: math.NaN()}
	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"mape":null`)
	var back PointMetrics
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, math.IsNaN(back.MAPE))
	assert.False(t, back.MAPEDefined)
}

func TestErrorKinds(t *testing.T) {
	cases := map[ErrorKind]error{
		KindInsufficientData:    &InsufficientDataError{Model: "m", Distinct: 1, Required: 3},
		KindMissingCovariate:    &MissingCovariateError{Model: "m", Feature: FeatureTemperature},
		KindInsufficientHistory: &InsufficientHistoryError{UnitID: "u"},
		KindInsufficientSample:  &InsufficientSampleError{Test: "ljung_box", N: 3, Min: 20},
		KindFitTimeout:          &FitTimeoutError{Model: "m", Budget: time.Second},
		KindNonPhysicalFit:      &NonPhysicalFitError{Model: "m", Parameter: "a", Value: -1},
	}
	for kind, err := range cases {
		wrapped := errors.Join(errors.New("cell"), err)
		assert.Equal(t, kind, Kind(wrapped), kind)
		assert.True(t, IsRecoverable(wrapped), kind)
	}
	assert.Equal(t, KindUnknown, Kind(errors.New("boom")))
	assert.False(t, IsRecoverable(errors.New("boom")))
}
