package model

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"

	"github.com/exowatch/transit-cli/internal/fiterr"
)

// PriorKind tags the prior variant of a fit parameter.
type PriorKind string

const (
	PriorUniform    PriorKind = "uniform"
	PriorLogUniform PriorKind = "loguniform"
	PriorGaussian   PriorKind = "gaussian"
	PriorFixed      PriorKind = "fixed"
)

// Prior is a tagged variant. Only the fields of its Kind are meaningful:
// Lo/Hi for uniform and loguniform, Mu/Sigma for gaussian, Value for fixed.
type Prior struct {
	Kind  PriorKind `json:"kind"`
	Lo    float64   `json:"lo,omitempty"`
	Hi    float64   `json:"hi,omitempty"`
	Mu    float64   `json:"mu,omitempty"`
	Sigma float64   `json:"sigma,omitempty"`
	Value float64   `json:"value,omitempty"`
}

// Uniform returns a bounded uniform prior on [lo, hi].
func Uniform(lo, hi float64) Prior { return Prior{Kind: PriorUniform, Lo: lo, Hi: hi} }

// LogUniform returns a prior uniform in log(x) on [lo, hi], lo > 0.
func LogUniform(lo, hi float64) Prior { return Prior{Kind: PriorLogUniform, Lo: lo, Hi: hi} }

// Gaussian returns a normal prior.
func Gaussian(mu, sigma float64) Prior { return Prior{Kind: PriorGaussian, Mu: mu, Sigma: sigma} }

// Fixed pins a parameter to value; it is excluded from the search space.
func Fixed(value float64) Prior { return Prior{Kind: PriorFixed, Value: value} }

// IsFixed reports whether the prior pins the parameter.
func (p Prior) IsFixed() bool { return p.Kind == PriorFixed }

// Validate checks the prior's own consistency.
func (p Prior) Validate() error {
	switch p.Kind {
	case PriorUniform:
		if !finite(p.Lo) || !finite(p.Hi) {
			return eris.New("uniform bounds must be finite")
		}
		if p.Lo >= p.Hi {
			return eris.Errorf("uniform prior needs lo < hi (lo=%g hi=%g)", p.Lo, p.Hi)
		}
	case PriorLogUniform:
		if !finite(p.Lo) || !finite(p.Hi) {
			return eris.New("loguniform bounds must be finite")
		}
		if p.Lo <= 0 {
			return eris.Errorf("loguniform prior needs lo > 0 (lo=%g)", p.Lo)
		}
		if p.Lo >= p.Hi {
			return eris.Errorf("loguniform prior needs lo < hi (lo=%g hi=%g)", p.Lo, p.Hi)
		}
	case PriorGaussian:
		if !finite(p.Mu) || !finite(p.Sigma) {
			return eris.New("gaussian mu and sigma must be finite")
		}
		if p.Sigma <= 0 {
			return eris.Errorf("gaussian prior needs sigma > 0 (sigma=%g)", p.Sigma)
		}
	case PriorFixed:
		if !finite(p.Value) {
			return eris.New("fixed value must be finite")
		}
	default:
		return eris.Errorf("unknown prior kind %q", p.Kind)
	}
	return nil
}

// Contains reports whether x lies inside the prior's support.
func (p Prior) Contains(x float64) bool {
	switch p.Kind {
	case PriorUniform, PriorLogUniform:
		return x >= p.Lo && x <= p.Hi
	case PriorGaussian:
		return finite(x)
	case PriorFixed:
		return x == p.Value
	default:
		return false
	}
}

// String renders the prior compactly, e.g. "uniform(0.05, 0.2)".
func (p Prior) String() string {
	switch p.Kind {
	case PriorUniform, PriorLogUniform:
		return fmt.Sprintf("%s(%g, %g)", p.Kind, p.Lo, p.Hi)
	case PriorGaussian:
		return fmt.Sprintf("gaussian(%g, %g)", p.Mu, p.Sigma)
	case PriorFixed:
		return fmt.Sprintf("fixed(%g)", p.Value)
	default:
		return string(p.Kind)
	}
}

// ParameterSpec names one model parameter and its prior.
type ParameterSpec struct {
	Name  string `json:"name"`
	Prior Prior  `json:"prior"`
	Unit  string `json:"unit,omitempty"`
}

// ValidateSpecs checks a spec list for duplicate names, invalid priors and at
// least one free parameter.
func ValidateSpecs(specs []ParameterSpec) error {
	if len(specs) == 0 {
		return fiterr.NewConfigError("", "no parameters specified")
	}
	seen := make(map[string]bool, len(specs))
	free := 0
	for _, s := range specs {
		if s.Name == "" {
			return fiterr.NewConfigError("", "parameter with empty name")
		}
		if seen[s.Name] {
			return fiterr.NewConfigError(s.Name, "duplicate parameter")
		}
		seen[s.Name] = true
		if err := s.Prior.Validate(); err != nil {
			return fiterr.NewConfigError(s.Name, err.Error())
		}
		if !s.Prior.IsFixed() {
			free++
		}
	}
	if free == 0 {
		return fiterr.NewConfigError("", "all parameters are fixed; nothing to sample")
	}
	return nil
}

// logUniformNorm is ln(hi/lo), the normaliser of a loguniform density.
func (p Prior) logUniformNorm() float64 {
	return math.Log(p.Hi / p.Lo)
}

// LogDensity returns the log prior density at x, or -Inf outside the support.
// Uniform priors contribute a constant zero inside their bounds; fixed priors
// contribute zero.
func (p Prior) LogDensity(x float64) float64 {
	switch p.Kind {
	case PriorUniform:
		if x < p.Lo || x > p.Hi {
			return math.Inf(-1)
		}
		return 0
	case PriorLogUniform:
		if x < p.Lo || x > p.Hi {
			return math.Inf(-1)
		}
		return -math.Log(x * p.logUniformNorm())
	case PriorGaussian:
		z := (x - p.Mu) / p.Sigma
		return -0.5*z*z - math.Log(p.Sigma) - 0.5*math.Log(2*math.Pi)
	case PriorFixed:
		return 0
	default:
		return math.Inf(-1)
	}
}
