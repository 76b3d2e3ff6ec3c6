// Package likelihood scores transit-model parameters against an observed
// light curve under a Gaussian or Student-t noise model.
package likelihood

import (
	"math"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
	"github.com/exowatch/transit-cli/internal/transit"
)

// Noise parameter names.
const (
	NameJitter = "jitter" // multiplicative scale on the supplied flux_err
	NameNu     = "nu"     // Student-t degrees of freedom
)

var log2Pi = math.Log(2 * math.Pi)

// Likelihood evaluates log p(data | params). It is safe for concurrent use.
type Likelihood struct {
	model *transit.Model
	obs   *model.Observation
	noise string
	dof   float64

	scratch sync.Pool
}

// New binds an evaluator to an observation. dof is the Student-t degrees of
// freedom used when nu is not a fit parameter.
func New(m *transit.Model, obs *model.Observation, noise string, dof float64) (*Likelihood, error) {
	switch noise {
	case model.NoiseGaussian:
	case model.NoiseStudentT:
		if !(dof > 0) || math.IsInf(dof, 0) {
			return nil, fiterr.NewConfigError("student_dof", "must be a positive finite number")
		}
	default:
		return nil, fiterr.NewConfigError("noise", "unknown noise model "+noise)
	}
	if m.Baseline().NeedsAirmass() && !obs.HasAirmass() {
		return nil, fiterr.NewConfigError("airmass", "airmass baseline needs an airmass column in the observation")
	}

	n := obs.Len()
	l := &Likelihood{model: m, obs: obs, noise: noise, dof: dof}
	l.scratch.New = func() any {
		buf := make([]float64, n)
		return &buf
	}
	return l, nil
}

// Observation returns the bound observation.
func (l *Likelihood) Observation() *model.Observation { return l.obs }

// Model returns the bound transit evaluator.
func (l *Likelihood) Model() *transit.Model { return l.model }

// Noise returns the noise model name.
func (l *Likelihood) Noise() string { return l.noise }

// KnownParams reports whether name is consumed by the noise model.
func KnownParams(noise, name string) bool {
	switch name {
	case NameJitter:
		return true
	case NameNu:
		return noise == model.NoiseStudentT
	}
	return false
}

// LogLikelihood returns the log-likelihood of p. Physically invalid parameter
// combinations return -Inf with a nil error; a non-nil error means the
// parameter set itself is malformed (missing names, wrong coefficient count).
func (l *Likelihood) LogLikelihood(p model.Parameters) (float64, error) {
	tp, err := l.model.Resolve(p)
	if err != nil {
		if fiterr.IsDomain(err) {
			return math.Inf(-1), nil
		}
		return 0, err
	}

	jitter := valueOr(p, NameJitter, 1)
	if !(jitter > 0) || math.IsInf(jitter, 0) {
		return math.Inf(-1), nil
	}
	nu := l.dof
	if l.noise == model.NoiseStudentT {
		nu = valueOr(p, NameNu, l.dof)
		if !(nu > 0) || math.IsInf(nu, 0) {
			return math.Inf(-1), nil
		}
	}

	bufp := l.scratch.Get().(*[]float64)
	defer l.scratch.Put(bufp)
	pred := *bufp

	if err := l.model.EvaluateInto(pred, tp, l.obs.Times(), l.obs.Airmass()); err != nil {
		if fiterr.IsDomain(err) {
			return math.Inf(-1), nil
		}
		return 0, eris.Wrap(err, "likelihood: evaluate model")
	}

	if l.noise == model.NoiseStudentT {
		return studentT(l.obs.Flux(), pred, l.obs.FluxErr(), jitter, nu), nil
	}
	return gaussian(l.obs.Flux(), pred, l.obs.FluxErr(), jitter), nil
}

// Predict returns the model flux for p, or the DomainError that made p
// invalid.
func (l *Likelihood) Predict(p model.Parameters) ([]float64, error) {
	tp, err := l.model.Resolve(p)
	if err != nil {
		return nil, err
	}
	return l.model.Evaluate(tp, l.obs.Times(), l.obs.Airmass())
}

// ChiSquare returns sum((r/sigma')^2) and the residual RMS of p.
func (l *Likelihood) ChiSquare(p model.Parameters) (chi2, rms float64, err error) {
	pred, err := l.Predict(p)
	if err != nil {
		return 0, 0, err
	}
	jitter := valueOr(p, NameJitter, 1)
	flux, sigma := l.obs.Flux(), l.obs.FluxErr()
	var ss float64
	for i := range flux {
		r := flux[i] - pred[i]
		s := sigma[i] * jitter
		chi2 += r * r / (s * s)
		ss += r * r
	}
	return chi2, math.Sqrt(ss / float64(len(flux))), nil
}

// gaussian is -1/2 sum[(r/s)^2 + ln(2 pi s^2)].
func gaussian(flux, pred, sigma []float64, jitter float64) float64 {
	var ll float64
	for i := range flux {
		s := sigma[i] * jitter
		z := (flux[i] - pred[i]) / s
		ll += z*z + log2Pi + 2*math.Log(s)
	}
	return -0.5 * ll
}

// studentT is the log density of a location-scale t distribution with nu
// degrees of freedom, summed over points.
func studentT(flux, pred, sigma []float64, jitter, nu float64) float64 {
	lgA, _ := math.Lgamma((nu + 1) / 2)
	lgB, _ := math.Lgamma(nu / 2)
	norm := lgA - lgB - 0.5*math.Log(nu*math.Pi)
	half := (nu + 1) / 2

	var ll float64
	for i := range flux {
		s := sigma[i] * jitter
		z := (flux[i] - pred[i]) / s
		ll += norm - math.Log(s) - half*math.Log1p(z*z/nu)
	}
	return ll
}

func valueOr(p model.Parameters, name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}
