package transit

import (
	"math"

	"github.com/exowatch/transit-cli/internal/fiterr"
)

// Parameter names understood by the evaluator.
const (
	NameRpRs   = "rprs"  // planet-to-star radius ratio
	NamePeriod = "per"   // orbital period, days
	NameTmid   = "tmid"  // mid-transit time, days
	NameARs    = "ars"   // semi-major axis in stellar radii
	NameInc    = "inc"   // inclination, degrees
	NameImpact = "b"     // impact parameter, stellar radii
	NameEcc    = "ecc"   // eccentricity
	NameOmega  = "omega" // argument of periastron, degrees
)

// Params is the resolved parameter set of one model evaluation.
type Params struct {
	RpRs   float64
	Period float64
	Tmid   float64
	ARs    float64
	Inc    float64 // degrees
	Ecc    float64
	Omega  float64 // degrees
	LD     []float64
	Trend  []float64 // baseline coefficients, interpreted by the Baseline
}

// Depth returns the geometric transit depth (rp/rs)^2.
func (p Params) Depth() float64 { return p.RpRs * p.RpRs }

// Impact returns the impact parameter at conjunction.
func (p Params) Impact() float64 {
	w := p.Omega * math.Pi / 180
	cosI := math.Cos(p.Inc * math.Pi / 180)
	return p.ARs * cosI * (1 - p.Ecc*p.Ecc) / (1 + p.Ecc*math.Sin(w))
}

// InclinationFromImpact converts an impact parameter into an inclination in
// degrees for the given orbit.
func InclinationFromImpact(b, ars, ecc, omegaDeg float64) (float64, error) {
	if b < 0 {
		return 0, fiterr.NewDomainError(NameImpact, b, "impact parameter must be >= 0")
	}
	w := omegaDeg * math.Pi / 180
	cosI := b / ars * (1 + ecc*math.Sin(w)) / (1 - ecc*ecc)
	if cosI > 1 {
		return 0, fiterr.NewDomainError(NameImpact, b, "impact parameter exceeds orbit size")
	}
	return math.Acos(cosI) * 180 / math.Pi, nil
}

// Validate checks the orbital geometry. It returns a DomainError for
// physically impossible combinations.
func (p Params) Validate() error {
	switch {
	case !(p.RpRs > 0 && p.RpRs < 1):
		return fiterr.NewDomainError(NameRpRs, p.RpRs, "radius ratio must be in (0,1)")
	case !(p.Period > 0):
		return fiterr.NewDomainError(NamePeriod, p.Period, "period must be positive")
	case !(p.ARs > 1):
		return fiterr.NewDomainError(NameARs, p.ARs, "semi-major axis must exceed the stellar radius")
	case !(p.Ecc >= 0 && p.Ecc < 1):
		return fiterr.NewDomainError(NameEcc, p.Ecc, "eccentricity must be in [0,1)")
	case !(p.Inc >= 0 && p.Inc <= 180):
		return fiterr.NewDomainError(NameInc, p.Inc, "inclination must be in [0,180] degrees")
	case math.IsNaN(p.Tmid) || math.IsInf(p.Tmid, 0):
		return fiterr.NewDomainError(NameTmid, p.Tmid, "mid-transit time must be finite")
	case math.IsNaN(p.Omega) || math.IsInf(p.Omega, 0):
		return fiterr.NewDomainError(NameOmega, p.Omega, "argument of periastron must be finite")
	}
	if peri := p.ARs * (1 - p.Ecc); peri <= 1+p.RpRs {
		return fiterr.NewDomainError(NameEcc, p.Ecc, "periastron lies inside the star")
	}
	return nil
}
