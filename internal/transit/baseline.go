package transit

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/exowatch/transit-cli/internal/model"
)

// Baseline is the out-of-transit systematics model multiplied onto the
// transit shape.
type Baseline interface {
	Name() string
	// Coeffs lists the coefficient parameter names in order.
	Coeffs() []string
	// Defaults gives each coefficient's value when it is not in the fit.
	Defaults() []float64
	// NeedsAirmass reports whether the observation must carry airmass.
	NeedsAirmass() bool
	// Apply writes baseline(t_i) into dst.
	Apply(dst, times, airmass, coeffs []float64)
}

// BaselineByName returns the baseline registered under name.
func BaselineByName(name string) (Baseline, error) {
	switch name {
	case model.BaselinePolynomial:
		return polynomialBaseline{}, nil
	case model.BaselineAirmass:
		return airmassBaseline{}, nil
	default:
		return nil, eris.Errorf("unknown baseline %q", name)
	}
}

// polynomialBaseline is c0 + c1*dt + c2*dt^2 with dt measured from the first
// timestamp of the evaluated series.
type polynomialBaseline struct{}

func (polynomialBaseline) Name() string        { return model.BaselinePolynomial }
func (polynomialBaseline) Coeffs() []string    { return []string{"c0", "c1", "c2"} }
func (polynomialBaseline) Defaults() []float64 { return []float64{1, 0, 0} }
func (polynomialBaseline) NeedsAirmass() bool  { return false }

func (polynomialBaseline) Apply(dst, times, _, c []float64) {
	if len(times) == 0 {
		return
	}
	t0 := times[0]
	for i, t := range times {
		dt := t - t0
		dst[i] = c[0] + dt*(c[1]+dt*c[2])
	}
}

// airmassBaseline is a1 * exp(a2 * airmass), the extinction model used for
// ground-based photometry.
type airmassBaseline struct{}

func (airmassBaseline) Name() string        { return model.BaselineAirmass }
func (airmassBaseline) Coeffs() []string    { return []string{"a1", "a2"} }
func (airmassBaseline) Defaults() []float64 { return []float64{1, 0} }
func (airmassBaseline) NeedsAirmass() bool  { return true }

func (airmassBaseline) Apply(dst, _, airmass, c []float64) {
	for i, x := range airmass {
		dst[i] = c[0] * math.Exp(c[1]*x)
	}
}
