package degradation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kilianp07/sohbench/core/model"
)

// problem describes one least-squares fit in model coordinates.
type problem struct {
	model  string
	names  []string
	nonneg []bool
	eval   func(theta []float64, p point) float64
	// design is set for models linear in their parameters:
	// SoH = offset + cols·theta.
	design func(p point) (offset float64, cols []float64)
	// start seeds the nonlinear search.
	start func(pts []point) ([]float64, error)
}

type solution struct {
	theta []float64
	cov   [][]float64
	sigma float64
	dof   int
}

func timeoutErr(name string, budget time.Duration) error {
	return &model.FitTimeoutError{Model: name, Budget: budget}
}

// budgetOf returns the remaining wall-clock budget of ctx, or 0 when unbounded.
func budgetOf(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return 0
}

func solve(ctx context.Context, pr problem, pts []point, maxIter int) (solution, error) {
	budget := budgetOf(ctx)
	if ctx.Err() != nil {
		return solution{}, timeoutErr(pr.model, budget)
	}
	var theta []float64
	var err error
	if pr.design != nil {
		theta, err = solveLinear(pr, pts)
	} else {
		theta, err = solveNonlinear(ctx, pr, pts, maxIter)
	}
	if err != nil {
		return solution{}, err
	}
	for i, v := range theta {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return solution{}, fmt.Errorf("%s: parameter %s did not converge", pr.model, pr.names[i])
		}
		if pr.nonneg[i] && v < 0 {
			return solution{}, &model.NonPhysicalFitError{Model: pr.model, Parameter: pr.names[i], Value: v}
		}
	}
	if ctx.Err() != nil {
		return solution{}, timeoutErr(pr.model, budget)
	}

	sol := solution{theta: theta, dof: len(pts) - len(theta)}
	if sol.dof <= 0 {
		return sol, nil
	}
	var sse float64
	for _, p := range pts {
		r := p.soh - pr.eval(theta, p)
		sse += r * r
	}
	sol.sigma = math.Sqrt(sse / float64(sol.dof))
	sol.cov = covariance(pr, pts, theta, sol.sigma)
	return sol, nil
}

// solveLinear solves the least-squares problem by QR decomposition.
func solveLinear(pr problem, pts []point) ([]float64, error) {
	n, k := len(pts), len(pr.names)
	x := mat.NewDense(n, k, nil)
	y := mat.NewVecDense(n, nil)
	for i, p := range pts {
		off, cols := pr.design(p)
		x.SetRow(i, cols)
		y.SetVec(i, p.soh-off)
	}
	var qr mat.QR
	qr.Factorize(x)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, y); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("%s: least squares: %w", pr.model, err)
		}
		if math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("%s: design matrix is singular", pr.model)
		}
	}
	out := make([]float64, k)
	for i := range out {
		out[i] = beta.AtVec(i)
	}
	return out, nil
}

// solveNonlinear minimises the sum of squared residuals with Nelder–Mead in
// a space scaled by the magnitude of the starting point, then restarts once
// from the optimum.
func solveNonlinear(ctx context.Context, pr problem, pts []point, maxIter int) ([]float64, error) {
	theta, err := pr.start(pts)
	if err != nil {
		return nil, err
	}
	for pass := 0; pass < 2; pass++ {
		scale := make([]float64, len(theta))
		u0 := make([]float64, len(theta))
		for i, v := range theta {
			scale[i] = math.Max(math.Abs(v), 1e-3)
			u0[i] = v / scale[i]
		}
		th := make([]float64, len(theta))
		obj := func(u []float64) float64 {
			for i := range u {
				th[i] = u[i] * scale[i]
			}
			var sse float64
			for _, p := range pts {
				r := p.soh - pr.eval(th, p)
				sse += r * r
			}
			if math.IsNaN(sse) {
				return math.Inf(1)
			}
			return sse
		}
		settings := &optimize.Settings{
			MajorIterations: maxIter,
			Converger:       &optimize.FunctionConverge{Absolute: 1e-16, Relative: 1e-12, Iterations: 400},
		}
		if budget := budgetOf(ctx); budget != 0 {
			if budget <= 0 {
				return nil, timeoutErr(pr.model, budget)
			}
			settings.Runtime = budget
		}
		res, err := optimize.Minimize(optimize.Problem{Func: obj}, u0, settings, &optimize.NelderMead{})
		if res != nil && res.Status == optimize.RuntimeLimit {
			return nil, timeoutErr(pr.model, settings.Runtime)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: optimisation: %w", pr.model, err)
		}
		for i, u := range res.X {
			theta[i] = u * scale[i]
		}
	}
	return theta, nil
}

// covariance returns sigma²·(JᵀJ)⁻¹ with a central-difference Jacobian, or
// nil when JᵀJ is singular.
func covariance(pr problem, pts []point, theta []float64, sigma float64) [][]float64 {
	n, k := len(pts), len(theta)
	jac := mat.NewDense(n, k, nil)
	fd.Jacobian(jac, func(y, x []float64) {
		for i, p := range pts {
			y[i] = pr.eval(x, p)
		}
	}, theta, &fd.JacobianSettings{Formula: fd.Central})
	var jtj mat.Dense
	jtj.Mul(jac.T(), jac)
	var inv mat.Dense
	if err := inv.Inverse(&jtj); err != nil {
		return nil
	}
	out := make([][]float64, k)
	for i := range out {
		out[i] = make([]float64, k)
		for j := range out[i] {
			out[i][j] = sigma * sigma * inv.At(i, j)
		}
	}
	return out
}

// predict evaluates the model at p, clips the value into [0,1], and attaches
// a prediction interval when the parameter covariance is known.
func predict(eval func([]float64, point) float64, params model.ModelParameters, p point, level float64) model.SoHPrediction {
	theta := params.Vector()
	raw := eval(theta, p)
	val, side := model.ClipUnit(raw)
	out := model.SoHPrediction{Value: val, RawValue: raw, Clipped: side, ParamsID: params.ID}
	if params.Covariance == nil || params.DOF <= 0 {
		return out
	}
	g := fd.Gradient(nil, func(x []float64) float64 { return eval(x, p) }, theta, &fd.Settings{Formula: fd.Central})
	variance := params.ResidualStd * params.ResidualStd
	for i := range g {
		for j := range g {
			variance += g[i] * params.Covariance[i][j] * g[j]
		}
	}
	if variance < 0 || math.IsNaN(variance) {
		return out
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(params.DOF)}.Quantile(0.5 + level/2)
	half := t * math.Sqrt(variance)
	lo, _ := model.ClipUnit(raw - half)
	hi, _ := model.ClipUnit(raw + half)
	out.CI = &model.Interval{Lower: math.Min(lo, val), Upper: math.Max(hi, val), Level: level}
	return out
}

// fitProblem runs the shared fit contract for pr on pts.
func fitProblem(ctx context.Context, opts Options, pr problem, pts []point, used, train []model.Observation, settings map[string]float64) (model.ModelParameters, error) {
	required := len(pr.names) + 1
	distinct := distinctCycles(pts)
	if distinct < required {
		return model.ModelParameters{}, &model.InsufficientDataError{Model: pr.model, Distinct: distinct, Required: required}
	}
	sol, err := solve(ctx, pr, pts, opts.MaxIterations)
	if err != nil {
		return model.ModelParameters{}, err
	}
	fp := model.NewFingerprint(used)
	values := make(map[string]float64, len(pr.names))
	for i, n := range pr.names {
		values[n] = sol.theta[i]
	}
	names := make([]string, len(pr.names))
	copy(names, pr.names)
	if settings == nil {
		settings = make(map[string]float64)
	}
	settings[settingCycleScale] = opts.CycleScale
	return model.ModelParameters{
		ID:            model.ParamsID(pr.model, fp),
		Model:         pr.model,
		Order:         names,
		Values:        values,
		Covariance:    sol.cov,
		ResidualStd:   sol.sigma,
		DOF:           sol.dof,
		N:             len(pts),
		LowConfidence: distinct == required,
		FittedAt:      opts.Clock(),
		Fingerprint:   fp,
		Origins:       origins(train),
		Settings:      settings,
	}, nil
}

const settingCycleScale = "cycle_scale"

func cycleX(o model.Observation, params model.ModelParameters, opts Options) float64 {
	return float64(o.Cycle) / params.Setting(settingCycleScale, opts.CycleScale)
}
