package transit

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
)

// Law is a stellar limb-darkening law: the specific intensity I(mu) relative
// to disk centre, with mu = sqrt(1 - r^2).
type Law interface {
	Name() string
	// Coeffs lists the parameter names of the law's coefficients in order.
	Coeffs() []string
	Intensity(mu float64, c []float64) float64
	// TotalFlux is the disk-integrated intensity, the integral of I 2*pi*r dr
	// over the unit disk.
	TotalFlux(c []float64) float64
	Validate(c []float64) error
}

// LawByName returns the law registered under name.
func LawByName(name string) (Law, error) {
	switch name {
	case model.LawUniform:
		return uniformLaw{}, nil
	case model.LawQuadratic:
		return quadraticLaw{}, nil
	case model.LawNonlinear:
		return nonlinearLaw{}, nil
	default:
		return nil, eris.Errorf("unknown limb-darkening law %q", name)
	}
}

type uniformLaw struct{}

func (uniformLaw) Name() string                         { return model.LawUniform }
func (uniformLaw) Coeffs() []string                     { return nil }
func (uniformLaw) Intensity(float64, []float64) float64 { return 1 }
func (uniformLaw) TotalFlux([]float64) float64          { return math.Pi }
func (uniformLaw) Validate([]float64) error             { return nil }

// quadraticLaw is I(mu) = 1 - u1(1-mu) - u2(1-mu)^2.
type quadraticLaw struct{}

func (quadraticLaw) Name() string     { return model.LawQuadratic }
func (quadraticLaw) Coeffs() []string { return []string{"u1", "u2"} }

func (quadraticLaw) Intensity(mu float64, c []float64) float64 {
	m := 1 - mu
	return 1 - c[0]*m - c[1]*m*m
}

func (quadraticLaw) TotalFlux(c []float64) float64 {
	return math.Pi * (1 - c[0]/3 - c[1]/6)
}

// Validate applies the Kipping (2013) conditions for a positive, monotonically
// decreasing intensity profile.
func (quadraticLaw) Validate(c []float64) error {
	u1, u2 := c[0], c[1]
	if u1+u2 >= 1 {
		return fiterr.NewDomainError("u1+u2", u1+u2, "quadratic limb darkening needs u1+u2 < 1")
	}
	if u1 < 0 {
		return fiterr.NewDomainError("u1", u1, "quadratic limb darkening needs u1 >= 0")
	}
	if u1+2*u2 < 0 {
		return fiterr.NewDomainError("u1+2u2", u1+2*u2, "quadratic limb darkening needs u1+2*u2 >= 0")
	}
	return nil
}

// nonlinearLaw is the Claret (2000) four-parameter law
// I(mu) = 1 - sum_k a_k (1 - mu^(k/2)).
type nonlinearLaw struct{}

func (nonlinearLaw) Name() string     { return model.LawNonlinear }
func (nonlinearLaw) Coeffs() []string { return []string{"u1", "u2", "u3", "u4"} }

func (nonlinearLaw) Intensity(mu float64, c []float64) float64 {
	s := math.Sqrt(mu)
	return 1 - c[0]*(1-s) - c[1]*(1-mu) - c[2]*(1-mu*s) - c[3]*(1-mu*mu)
}

// TotalFlux uses the closed form: each term integrates to a_k * k/(k+4).
func (nonlinearLaw) TotalFlux(c []float64) float64 {
	return math.Pi * (1 - c[0]/5 - c[1]/3 - 3*c[2]/7 - c[3]/2)
}

// nonlinearGrid is the number of mu samples checked for non-negative intensity.
const nonlinearGrid = 32

func (l nonlinearLaw) Validate(c []float64) error {
	for i := 0; i <= nonlinearGrid; i++ {
		mu := float64(i) / nonlinearGrid
		if v := l.Intensity(mu, c); v < 0 {
			return fiterr.NewDomainError("intensity", v, fmt.Sprintf("nonlinear limb darkening negative at mu=%.3f", mu))
		}
	}
	if l.TotalFlux(c) <= 0 {
		return fiterr.NewDomainError("total_flux", l.TotalFlux(c), "nonlinear limb darkening has no flux")
	}
	return nil
}
