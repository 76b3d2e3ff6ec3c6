// Package posterior turns a weighted nested-sampling result into point
// estimates, credible intervals and run diagnostics.
package posterior

import (
	"fmt"
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/exowatch/transit-cli/internal/model"
	"github.com/exowatch/transit-cli/internal/nested"
	"github.com/exowatch/transit-cli/internal/space"
)

// Interval bounds reported as Lower/Median/Upper.
const (
	pLower  = 0.16
	pMedian = 0.5
	pUpper  = 0.84
)

// DeriveFunc computes quantities that are functions of the parameters, such
// as transit depth. It is called once per sample.
type DeriveFunc func(p model.Parameters) map[string]float64

// GoodnessFunc scores a parameter set against the data: chi-square and
// residual RMS.
type GoodnessFunc func(p model.Parameters) (chi2, rms float64, err error)

// Options configures Summarize. Only Quantiles and MinESS are required.
type Options struct {
	Quantiles []float64
	MinESS    float64

	Derive       DeriveFunc
	DerivedUnits map[string]string
	Goodness     GoodnessFunc
	NumData      int // observation length, for reduced chi-square and BIC
}

// Summarize builds the report for res. Incomplete results are summarised
// from whatever samples exist and flagged in the report.
func Summarize(res *nested.Result, sp *space.Space, opts Options) (*model.PosteriorReport, error) {
	if len(res.Samples) == 0 {
		return nil, eris.New("posterior: result has no samples")
	}
	if math.IsInf(res.LogZ, -1) || math.IsNaN(res.LogZ) {
		return nil, eris.New("posterior: evidence is zero; every sample was rejected")
	}

	weights := res.Weights()
	ess := EffectiveSampleSize(weights)

	params := make([]model.Parameters, len(res.Samples))
	for i, s := range res.Samples {
		p, err := sp.ToPhysical(s.U)
		if err != nil {
			return nil, eris.Wrapf(err, "posterior: sample %d", i)
		}
		params[i] = p
	}

	report := &model.PosteriorReport{
		Status:      res.Status,
		Complete:    res.Complete(),
		Converged:   res.Status == model.TerminationConverged && ess >= opts.MinESS,
		LogZ:        res.LogZ,
		LogZErr:     res.LogZErr,
		Information: res.Information,
		ESS:         ess,
		Iterations:  res.Iterations,
		Evaluations: res.Evaluations,
		LivePoints:  res.LivePoints,
		NumSamples:  len(res.Samples),
		Seed:        res.Seed,
		ElapsedSecs: res.Elapsed.Seconds(),
	}
	if fixed := sp.Fixed(); len(fixed) > 0 {
		report.Fixed = fixed
	}

	for _, name := range sp.Names() {
		x := column(params, name)
		report.Parameters = append(report.Parameters, summarize(name, sp.Unit(name), x, weights, opts.Quantiles))
	}

	if opts.Derive != nil {
		derived := make([]map[string]float64, len(params))
		names := map[string]bool{}
		for i, p := range params {
			derived[i] = opts.Derive(p)
			for k := range derived[i] {
				names[k] = true
			}
		}
		for _, name := range sortedKeys(names) {
			x, w := make([]float64, 0, len(derived)), make([]float64, 0, len(derived))
			for i, d := range derived {
				if v, ok := d[name]; ok && !math.IsNaN(v) {
					x = append(x, v)
					w = append(w, weights[i])
				}
			}
			if len(x) == 0 || sum(w) <= 0 {
				continue
			}
			report.Derived = append(report.Derived, summarize(name, opts.DerivedUnits[name], x, w, opts.Quantiles))
		}
	}

	best, err := bestFit(res, params, sp.Dim(), opts)
	if err != nil {
		return nil, err
	}
	report.BestFit = best

	report.Warnings = warnings(res, ess, opts.MinESS)
	return report, nil
}

// EffectiveSampleSize is 1/sum(w^2) for normalised weights.
func EffectiveSampleSize(weights []float64) float64 {
	var s float64
	for _, w := range weights {
		s += w * w
	}
	if s == 0 {
		return 0
	}
	return 1 / s
}

// WeightedQuantile returns the p-quantile of x under weights using the
// empirical CDF. x and weights are not modified.
func WeightedQuantile(p float64, x, weights []float64) float64 {
	xs, ws := slices.Clone(x), slices.Clone(weights)
	stat.SortWeighted(xs, ws)
	return stat.Quantile(p, stat.Empirical, xs, ws)
}

// Samples converts res into persisted samples with normalised weights.
func Samples(res *nested.Result, sp *space.Space) ([]model.Sample, error) {
	weights := res.Weights()
	out := make([]model.Sample, len(res.Samples))
	for i, s := range res.Samples {
		p, err := sp.ToPhysical(s.U)
		if err != nil {
			return nil, eris.Wrapf(err, "posterior: sample %d", i)
		}
		out[i] = model.Sample{Index: i, LogL: s.LogL, Weight: weights[i], Params: p}
	}
	return out, nil
}

func summarize(name, unit string, x, w, quantiles []float64) model.ParamSummary {
	mean, std := meanStd(x, w)

	xs, ws := slices.Clone(x), slices.Clone(w)
	stat.SortWeighted(xs, ws)
	q := func(p float64) float64 { return stat.Quantile(p, stat.Empirical, xs, ws) }

	s := model.ParamSummary{
		Name:   name,
		Unit:   unit,
		Mean:   mean,
		Std:    std,
		Lower:  q(pLower),
		Median: q(pMedian),
		Upper:  q(pUpper),
	}
	for _, p := range quantiles {
		s.Quantiles = append(s.Quantiles, model.QuantileValue{P: p, Value: q(p)})
	}
	return s
}

// meanStd is the weighted population mean and standard deviation. The
// variance is clamped at zero so a collapsed column reports Std 0.
func meanStd(x, w []float64) (mean, std float64) {
	var sw float64
	for i, v := range x {
		sw += w[i]
		mean += w[i] * v
	}
	if sw <= 0 {
		return 0, 0
	}
	mean /= sw
	var ss float64
	for i, v := range x {
		d := v - mean
		ss += w[i] * d * d
	}
	return mean, math.Sqrt(max(0, ss/sw))
}

func bestFit(res *nested.Result, params []model.Parameters, k int, opts Options) (*model.BestFit, error) {
	idx := 0
	for i, s := range res.Samples {
		if s.LogL > res.Samples[idx].LogL {
			idx = i
		}
	}
	best := &model.BestFit{
		LogL:   res.Samples[idx].LogL,
		Params: params[idx].Clone(),
	}
	if opts.NumData > 0 {
		n := float64(opts.NumData)
		best.BIC = float64(k)*math.Log(n) - 2*best.LogL
	}
	if opts.Goodness != nil {
		chi2, rms, err := opts.Goodness(best.Params)
		if err != nil {
			return nil, eris.Wrap(err, "posterior: score best fit")
		}
		best.ResidualRMS = rms
		if dof := opts.NumData - k; dof > 0 {
			best.ReducedChi2 = chi2 / float64(dof)
		}
	}
	return best, nil
}

func warnings(res *nested.Result, ess, minESS float64) []string {
	var out []string
	switch res.Status {
	case model.TerminationStalled:
		msg := "sampling stalled before convergence; posterior is incomplete"
		if res.Stall != nil {
			msg += ": " + res.Stall.Error()
		}
		out = append(out, msg)
	case model.TerminationCancelled:
		out = append(out, "run cancelled before convergence; posterior is incomplete")
	case model.TerminationMaxIterations:
		out = append(out, fmt.Sprintf("iteration cap of %d reached before the evidence tolerance was met", res.Iterations))
	}
	if ess < minESS {
		out = append(out, fmt.Sprintf("effective sample size %.1f is below the minimum of %g", ess, minESS))
	}
	return out
}

func column(params []model.Parameters, name string) []float64 {
	x := make([]float64, len(params))
	for i, p := range params {
		x[i] = p[name]
	}
	return x
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func sum(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v
	}
	return s
}
