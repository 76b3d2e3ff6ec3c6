package fit

import (
	"math/rand/v2"

	"github.com/rotisserie/eris"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
	"github.com/exowatch/transit-cli/internal/transit"
)

// SimulateOptions controls synthetic light-curve generation.
type SimulateOptions struct {
	Law      string
	Baseline string
	Annuli   int
	Sigma    float64   // white-noise level, also written as flux_err
	Seed     uint64    // noise stream seed
	Airmass  []float64 // required by the airmass baseline
}

// Simulate evaluates the transit model for params at times and adds Gaussian
// noise of width opts.Sigma. The same seed always yields the same light curve.
func Simulate(params model.Parameters, times []float64, opts SimulateOptions) (*model.Observation, error) {
	if !(opts.Sigma > 0) {
		return nil, fiterr.NewConfigError("sigma", "noise level must be positive")
	}
	if opts.Annuli == 0 {
		opts.Annuli = model.DefaultFitSettings().Annuli
	}
	m, err := transit.New(opts.Law, opts.Baseline, opts.Annuli)
	if err != nil {
		return nil, err
	}
	tp, err := m.Resolve(params)
	if err != nil {
		return nil, err
	}
	flux, err := m.Evaluate(tp, times, opts.Airmass)
	if err != nil {
		if fiterr.IsDomain(err) {
			return nil, fiterr.NewConfigError("", err.Error())
		}
		return nil, eris.Wrap(err, "fit: evaluate model")
	}

	rng := rand.New(rand.NewPCG(opts.Seed, 0x5851f42d4c957f2d))
	fluxErr := make([]float64, len(flux))
	for i := range flux {
		flux[i] += opts.Sigma * rng.NormFloat64()
		fluxErr[i] = opts.Sigma
	}
	return model.NewObservation(times, flux, fluxErr, opts.Airmass)
}

// UniformTimes returns n evenly spaced timestamps covering [start, end].
func UniformTimes(start, end float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = end
	return out
}
