// Package space maps points of the sampler's unit hypercube onto physical
// parameter values and back. Each free parameter owns one cube coordinate;
// fixed parameters are carried along but never sampled.
package space

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
)

// Epsilon keeps coordinates of unbounded priors away from the cube faces,
// where the inverse CDF diverges.
const Epsilon = 1e-12

// Space is the search space of one fit. It is immutable and safe for
// concurrent use.
type Space struct {
	free  []model.ParameterSpec
	fixed []model.ParameterSpec
	index map[string]int
	units map[string]string
}

// New validates specs and builds the space. Free parameters keep the order in
// which they appear in specs.
func New(specs []model.ParameterSpec) (*Space, error) {
	if err := model.ValidateSpecs(specs); err != nil {
		return nil, err
	}
	s := &Space{
		index: make(map[string]int, len(specs)),
		units: make(map[string]string, len(specs)),
	}
	for _, spec := range specs {
		s.units[spec.Name] = spec.Unit
		if spec.Prior.IsFixed() {
			s.fixed = append(s.fixed, spec)
			continue
		}
		s.index[spec.Name] = len(s.free)
		s.free = append(s.free, spec)
	}
	return s, nil
}

// Dim is the number of free parameters.
func (s *Space) Dim() int { return len(s.free) }

// Names returns the free parameter names in cube-coordinate order.
func (s *Space) Names() []string {
	names := make([]string, len(s.free))
	for i, spec := range s.free {
		names[i] = spec.Name
	}
	return names
}

// AllNames returns free then fixed parameter names.
func (s *Space) AllNames() []string {
	names := s.Names()
	for _, spec := range s.fixed {
		names = append(names, spec.Name)
	}
	return names
}

// Fixed returns the pinned parameter values.
func (s *Space) Fixed() model.Parameters {
	out := make(model.Parameters, len(s.fixed))
	for _, spec := range s.fixed {
		out[spec.Name] = spec.Prior.Value
	}
	return out
}

// Has reports whether name is a parameter of the space, free or fixed.
func (s *Space) Has(name string) bool {
	_, ok := s.units[name]
	return ok
}

// IsFree reports whether name is sampled.
func (s *Space) IsFree(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Unit returns the physical unit recorded for name.
func (s *Space) Unit(name string) string { return s.units[name] }

// Prior returns the prior of the free parameter at coordinate i.
func (s *Space) Prior(i int) model.Prior { return s.free[i].Prior }

// ToPhysical maps a cube point to parameter values, including fixed ones.
func (s *Space) ToPhysical(u []float64) (model.Parameters, error) {
	out := make(model.Parameters, len(s.free)+len(s.fixed))
	if err := s.ToPhysicalInto(out, u); err != nil {
		return nil, err
	}
	return out, nil
}

// ToPhysicalInto writes the parameter values for u into dst, reusing its
// storage.
func (s *Space) ToPhysicalInto(dst model.Parameters, u []float64) error {
	if len(u) != len(s.free) {
		return eris.Errorf("space: point has %d coordinates, want %d", len(u), len(s.free))
	}
	for i, spec := range s.free {
		if !(u[i] >= 0 && u[i] <= 1) {
			return fiterr.NewDomainError(spec.Name, u[i], "cube coordinate outside [0,1]")
		}
		dst[spec.Name] = fromUnit(spec.Prior, u[i])
	}
	for _, spec := range s.fixed {
		dst[spec.Name] = spec.Prior.Value
	}
	return nil
}

// ToUnitCube is the inverse of ToPhysical. Fixed parameters in p are ignored;
// every free parameter must be present and inside its prior's support.
func (s *Space) ToUnitCube(p model.Parameters) ([]float64, error) {
	u := make([]float64, len(s.free))
	for i, spec := range s.free {
		x, ok := p[spec.Name]
		if !ok {
			return nil, eris.Errorf("space: parameter %q missing", spec.Name)
		}
		if !spec.Prior.Contains(x) {
			return nil, fiterr.NewDomainError(spec.Name, x, fmt.Sprintf("outside prior %s", spec.Prior))
		}
		u[i] = toUnit(spec.Prior, x)
	}
	return u, nil
}

// LogPrior returns the log prior density at the physical image of u, or -Inf
// when u lies outside the cube.
func (s *Space) LogPrior(u []float64) float64 {
	if len(u) != len(s.free) {
		return math.Inf(-1)
	}
	var lp float64
	for i, spec := range s.free {
		if !(u[i] >= 0 && u[i] <= 1) {
			return math.Inf(-1)
		}
		lp += spec.Prior.LogDensity(fromUnit(spec.Prior, u[i]))
	}
	return lp
}

func fromUnit(p model.Prior, u float64) float64 {
	switch p.Kind {
	case model.PriorUniform:
		return p.Lo + u*(p.Hi-p.Lo)
	case model.PriorLogUniform:
		x := p.Lo * math.Exp(u*math.Log(p.Hi/p.Lo))
		// exp rounding can step past the bounds by an ulp.
		return math.Min(math.Max(x, p.Lo), p.Hi)
	case model.PriorGaussian:
		return normal(p).Quantile(clampUnit(u))
	case model.PriorFixed:
		return p.Value
	default:
		panic(fmt.Sprintf("space: unhandled prior kind %q", p.Kind))
	}
}

func toUnit(p model.Prior, x float64) float64 {
	switch p.Kind {
	case model.PriorUniform:
		return (x - p.Lo) / (p.Hi - p.Lo)
	case model.PriorLogUniform:
		return math.Log(x/p.Lo) / math.Log(p.Hi/p.Lo)
	case model.PriorGaussian:
		return clampUnit(normal(p).CDF(x))
	case model.PriorFixed:
		return 0
	default:
		panic(fmt.Sprintf("space: unhandled prior kind %q", p.Kind))
	}
}

func normal(p model.Prior) distuv.Normal {
	return distuv.Normal{Mu: p.Mu, Sigma: p.Sigma}
}

func clampUnit(u float64) float64 {
	return math.Min(math.Max(u, Epsilon), 1-Epsilon)
}
