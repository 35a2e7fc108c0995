package diagnostics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kilianp07/sohbench/core/model"
)

const TestLjungBox = "ljung_box"

// LjungBox tests seq for autocorrelation up to lag:
//
//	Q = n(n+2) Σ_{k=1..lag} ρ_k² / (n−k)
//
// compared against χ² with lag − fittedDF degrees of freedom. The sequence
// is demeaned first. Sequences shorter than minSamples are rejected.
func LjungBox(seq []float64, lag, fittedDF, minSamples int) (model.TestResult, error) {
	n := len(seq)
	if n < minSamples || n < 2 {
		return model.TestResult{}, &model.InsufficientSampleError{Test: TestLjungBox, N: n, Min: max(minSamples, 2)}
	}
	lag = max(1, min(lag, n-1))
	q := ljungBoxQ(seq, lag)
	df := max(1, lag-fittedDF)
	return model.TestResult{
		Statistic: q,
		PValue:    distuv.ChiSquared{K: float64(df)}.Survival(q),
		DF:        df,
		Lag:       lag,
		Units:     1,
	}, nil
}

func ljungBoxQ(seq []float64, lag int) float64 {
	n := len(seq)
	mean := stat.Mean(seq, nil)
	e := make([]float64, n)
	var denom float64
	for i, v := range seq {
		e[i] = v - mean
		denom += e[i] * e[i]
	}
	if denom == 0 {
		return 0
	}
	var q float64
	for k := 1; k <= lag; k++ {
		var num float64
		for t := k; t < n; t++ {
			num += e[t] * e[t-k]
		}
		rho := num / denom
		q += rho * rho / float64(n-k)
	}
	return float64(n) * float64(n+2) * q
}

// defaultLag is min(maxLag, n/5), at least 1.
func defaultLag(n, maxLag int) int {
	return max(1, min(maxLag, n/5))
}

// combinedLjungBox runs the test per unit and sums statistics and degrees of
// freedom over the units long enough to qualify. lag ≤ 0 selects the
// default rule per unit.
func combinedLjungBox(ids []string, units map[string][]float64, lag int, opts Options) (model.TestResult, error) {
	var (
		qualified, longest, dfSum, maxLen int
		total                             float64
	)
	for _, id := range ids {
		seq := units[id]
		maxLen = max(maxLen, len(seq))
		l := lag
		if l <= 0 {
			l = defaultLag(len(seq), opts.MaxLag)
		}
		r, err := LjungBox(seq, l, opts.FittedDF, opts.MinSamples)
		if err != nil {
			continue
		}
		qualified++
		total += r.Statistic
		dfSum += r.DF
		longest = max(longest, r.Lag)
	}
	if qualified == 0 {
		return model.TestResult{}, &model.InsufficientSampleError{Test: TestLjungBox, N: maxLen, Min: opts.MinSamples}
	}
	return model.TestResult{
		Statistic: total,
		PValue:    distuv.ChiSquared{K: float64(dfSum)}.Survival(total),
		DF:        dfSum,
		Lag:       longest,
		Units:     qualified,
	}, nil
}

// ranks returns average ranks, ties sharing the mean of their positions.
func ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	out := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		r := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = r
		}
		i = j + 1
	}
	return out
}

// spearman returns the rank correlation of x and y and its two-sided
// p-value from the t approximation.
func spearman(x, y []float64) (float64, float64) {
	n := len(x)
	r := stat.Correlation(ranks(x), ranks(y), nil)
	if math.IsNaN(r) {
		return 0, 1
	}
	if math.Abs(r) >= 1 {
		return r, 0
	}
	t := r * math.Sqrt(float64(n-2)/(1-r*r))
	p := 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}.Survival(math.Abs(t))
	return r, math.Min(1, p)
}

// coverageTest compares hits out of n against the nominal level with a
// normal approximation to the binomial.
func coverageTest(hits, n int, nominal float64) (coverage, pValue float64) {
	coverage = float64(hits) / float64(n)
	sd := math.Sqrt(float64(n) * nominal * (1 - nominal))
	if sd == 0 {
		if coverage == nominal {
			return coverage, 1
		}
		return coverage, 0
	}
	z := (float64(hits) - float64(n)*nominal) / sd
	return coverage, math.Min(1, 2*distuv.UnitNormal.Survival(math.Abs(z)))
}
