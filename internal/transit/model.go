// Package transit evaluates the light curve of a planet transiting a
// limb-darkened star, multiplied by a baseline systematics trend.
package transit

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/exowatch/transit-cli/internal/fiterr"
)

const (
	contactSteps      = 2000
	contactBisections = 64
)

// Model is an immutable transit light-curve evaluator. It is safe for
// concurrent use.
type Model struct {
	law      Law
	baseline Baseline
	annuli   int
}

// New builds a Model for the named limb-darkening law and baseline. annuli is
// the number of radial integration steps for limb-darkened laws.
func New(law, baseline string, annuli int) (*Model, error) {
	l, err := LawByName(law)
	if err != nil {
		return nil, fiterr.NewConfigError("law", err.Error())
	}
	b, err := BaselineByName(baseline)
	if err != nil {
		return nil, fiterr.NewConfigError("baseline", err.Error())
	}
	if annuli < 4 {
		return nil, fiterr.NewConfigError("annuli", "must be >= 4")
	}
	return &Model{law: l, baseline: b, annuli: annuli}, nil
}

// Law returns the model's limb-darkening law.
func (m *Model) Law() Law { return m.law }

// Baseline returns the model's baseline trend.
func (m *Model) Baseline() Baseline { return m.baseline }

// RequiredParams lists the parameter names that must be supplied. Exactly one
// of inc or b is also required.
func (m *Model) RequiredParams() []string {
	names := []string{NameRpRs, NamePeriod, NameTmid, NameARs}
	return append(names, m.law.Coeffs()...)
}

// OptionalParams lists parameter names with defaults.
func (m *Model) OptionalParams() []string {
	names := []string{NameEcc, NameOmega}
	return append(names, m.baseline.Coeffs()...)
}

// KnownParams reports whether name is understood by this model.
func (m *Model) KnownParams(name string) bool {
	if name == NameInc || name == NameImpact {
		return true
	}
	for _, n := range m.RequiredParams() {
		if n == name {
			return true
		}
	}
	for _, n := range m.OptionalParams() {
		if n == name {
			return true
		}
	}
	return false
}

// Resolve builds Params from a name→value mapping, applying defaults for
// optional parameters and converting an impact parameter into an inclination.
// Missing required names produce a ConfigError; an impossible impact
// parameter produces a DomainError.
func (m *Model) Resolve(values map[string]float64) (Params, error) {
	get := func(name string) (float64, error) {
		v, ok := values[name]
		if !ok {
			return 0, fiterr.NewConfigError(name, "required parameter missing")
		}
		return v, nil
	}

	var p Params
	var err error
	if p.RpRs, err = get(NameRpRs); err != nil {
		return Params{}, err
	}
	if p.Period, err = get(NamePeriod); err != nil {
		return Params{}, err
	}
	if p.Tmid, err = get(NameTmid); err != nil {
		return Params{}, err
	}
	if p.ARs, err = get(NameARs); err != nil {
		return Params{}, err
	}
	p.Ecc = valueOr(values, NameEcc, 0)
	p.Omega = valueOr(values, NameOmega, 90)

	inc, hasInc := values[NameInc]
	b, hasB := values[NameImpact]
	switch {
	case hasInc && hasB:
		return Params{}, fiterr.NewConfigError(NameImpact, "specify either inc or b, not both")
	case hasInc:
		p.Inc = inc
	case hasB:
		if p.Inc, err = InclinationFromImpact(b, p.ARs, p.Ecc, p.Omega); err != nil {
			return Params{}, err
		}
	default:
		return Params{}, fiterr.NewConfigError(NameInc, "one of inc or b is required")
	}

	coeffs := m.law.Coeffs()
	p.LD = make([]float64, len(coeffs))
	for i, name := range coeffs {
		if p.LD[i], err = get(name); err != nil {
			return Params{}, err
		}
	}

	trend := m.baseline.Coeffs()
	defaults := m.baseline.Defaults()
	p.Trend = make([]float64, len(trend))
	for i, name := range trend {
		p.Trend[i] = valueOr(values, name, defaults[i])
	}
	return p, nil
}

// Evaluate returns the predicted relative flux at each time. airmass may be
// nil unless the baseline needs it.
func (m *Model) Evaluate(p Params, times, airmass []float64) ([]float64, error) {
	dst := make([]float64, len(times))
	if err := m.EvaluateInto(dst, p, times, airmass); err != nil {
		return nil, err
	}
	return dst, nil
}

// EvaluateInto writes the predicted flux into dst, which must have the same
// length as times. It returns a DomainError for invalid geometry or limb
// darkening.
func (m *Model) EvaluateInto(dst []float64, p Params, times, airmass []float64) error {
	if len(dst) != len(times) {
		return eris.Errorf("transit: dst length %d != times length %d", len(dst), len(times))
	}
	if len(p.LD) != len(m.law.Coeffs()) {
		return eris.Errorf("transit: %s law needs %d coefficients, got %d", m.law.Name(), len(m.law.Coeffs()), len(p.LD))
	}
	if len(p.Trend) != len(m.baseline.Coeffs()) {
		return eris.Errorf("transit: %s baseline needs %d coefficients, got %d", m.baseline.Name(), len(m.baseline.Coeffs()), len(p.Trend))
	}
	if m.baseline.NeedsAirmass() && len(airmass) != len(times) {
		return eris.New("transit: airmass baseline needs an airmass value per timestamp")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := m.law.Validate(p.LD); err != nil {
		return err
	}

	m.baseline.Apply(dst, times, airmass, p.Trend)

	o := newOrbit(p)
	for i, t := range times {
		z, front := o.separation(t)
		if !front || z >= 1+p.RpRs {
			continue
		}
		dst[i] *= 1 - blockedFraction(m.law, p.LD, p.RpRs, z, m.annuli)
	}
	return nil
}

// Duration returns the total transit duration T14 in days, first to fourth
// contact, or 0 if the planet never crosses the stellar disk.
func Duration(p Params) float64 {
	t1, t4, ok := Contacts(p)
	if !ok {
		return 0
	}
	return t4 - t1
}

// HalfDuration returns the larger of the ingress and egress offsets from
// tmid. Flux outside tmid ± HalfDuration equals the baseline. For circular
// orbits it is Duration/2.
func HalfDuration(p Params) float64 {
	t1, t4, ok := Contacts(p)
	if !ok {
		return 0
	}
	return max(p.Tmid-t1, t4-p.Tmid)
}

// Contacts returns the times of first and fourth contact around tmid. ok is
// false when the planet misses the disk or the geometry is invalid.
func Contacts(p Params) (t1, t4 float64, ok bool) {
	if p.Validate() != nil {
		return 0, 0, false
	}
	k := 1 + p.RpRs
	if math.Abs(p.Impact()) >= k {
		return 0, 0, false
	}
	if p.Ecc == 0 {
		b := p.Impact()
		arg := math.Min(math.Sqrt(k*k-b*b)/(p.ARs*math.Sin(p.Inc*math.Pi/180)), 1)
		half := p.Period / (2 * math.Pi) * math.Asin(arg)
		return p.Tmid - half, p.Tmid + half, true
	}

	o := newOrbit(p)
	outside := func(t float64) bool {
		z, front := o.separation(t)
		return !front || z >= k
	}
	return p.Tmid - contactOffset(outside, p.Tmid, -1, p.Period),
		p.Tmid + contactOffset(outside, p.Tmid, 1, p.Period), true
}

// contactOffset walks from tmid in direction dir until the planet is off the
// disk, then bisects to the boundary. The returned offset lands on the
// outside side.
func contactOffset(outside func(float64) bool, tmid, dir, period float64) float64 {
	step := period / contactSteps
	lo, hi := 0.0, step
	for hi < period/2 && !outside(tmid+dir*hi) {
		lo, hi = hi, hi+step
	}
	for i := 0; i < contactBisections; i++ {
		mid := (lo + hi) / 2
		if outside(tmid + dir*mid) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi
}

func valueOr(values map[string]float64, name string, def float64) float64 {
	if v, ok := values[name]; ok {
		return v
	}
	return def
}
