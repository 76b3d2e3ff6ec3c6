package model

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"
)

// Limb-darkening laws.
const (
	LawUniform   = "uniform"
	LawQuadratic = "quadratic"
	LawNonlinear = "nonlinear"
)

// Baseline trend models.
const (
	BaselinePolynomial = "polynomial"
	BaselineAirmass    = "airmass"
)

// Noise models.
const (
	NoiseGaussian = "gaussian"
	NoiseStudentT = "student-t"
)

// Bounding strategies for constrained sampling.
const (
	BoundNone   = "none"
	BoundSingle = "single"
	BoundMulti  = "multi"
)

// FitSettings holds every knob of a fit run. It is persisted with each run so
// results can be reproduced.
type FitSettings struct {
	Law            string    `json:"law" mapstructure:"law"`
	Baseline       string    `json:"baseline" mapstructure:"baseline"`
	Annuli         int       `json:"annuli" mapstructure:"annuli"`
	Noise          string    `json:"noise" mapstructure:"noise"`
	StudentDOF     float64   `json:"student_dof" mapstructure:"student_dof"`
	LivePoints     int       `json:"live_points" mapstructure:"live_points"`
	Tolerance      float64   `json:"tolerance" mapstructure:"tolerance"`
	MaxIterations  int       `json:"max_iterations" mapstructure:"max_iterations"`
	Seed           uint64    `json:"seed" mapstructure:"seed"`
	Bound          string    `json:"bound" mapstructure:"bound"`
	Enlarge        float64   `json:"enlarge" mapstructure:"enlarge"`
	UpdateInterval int       `json:"update_interval" mapstructure:"update_interval"`
	MaxAttempts    int       `json:"max_attempts" mapstructure:"max_attempts"`
	BatchSize      int       `json:"batch_size" mapstructure:"batch_size"`
	Workers        int       `json:"workers" mapstructure:"workers"`
	MinESS         float64   `json:"min_ess" mapstructure:"min_ess"`
	Quantiles      []float64 `json:"quantiles" mapstructure:"quantiles"`
}

// DefaultFitSettings returns the settings used when nothing is configured.
func DefaultFitSettings() FitSettings {
	return FitSettings{
		Law:            LawQuadratic,
		Baseline:       BaselinePolynomial,
		Annuli:         64,
		Noise:          NoiseGaussian,
		StudentDOF:     4,
		LivePoints:     100,
		Tolerance:      1e-3,
		MaxIterations:  50000,
		Seed:           1,
		Bound:          BoundSingle,
		Enlarge:        1.25,
		UpdateInterval: 0, // derived from LivePoints
		MaxAttempts:    10000,
		BatchSize:      8,
		Workers:        4,
		MinESS:         100,
		Quantiles:      []float64{0.025, 0.16, 0.5, 0.84, 0.975},
	}
}

// Validate checks ranges and enum values. Errors are untyped; callers wrap them
// into a ConfigError naming the setting.
func (s FitSettings) Validate() error {
	switch {
	case !slices.Contains([]string{LawUniform, LawQuadratic, LawNonlinear}, s.Law):
		return eris.Errorf("law: unknown limb-darkening law %q", s.Law)
	case !slices.Contains([]string{BaselinePolynomial, BaselineAirmass}, s.Baseline):
		return eris.Errorf("baseline: unknown baseline %q", s.Baseline)
	case !slices.Contains([]string{NoiseGaussian, NoiseStudentT}, s.Noise):
		return eris.Errorf("noise: unknown noise model %q", s.Noise)
	case !slices.Contains([]string{BoundNone, BoundSingle, BoundMulti}, s.Bound):
		return eris.Errorf("bound: unknown bound %q", s.Bound)
	case s.Annuli < 4:
		return eris.Errorf("annuli: must be >= 4 (got %d)", s.Annuli)
	case s.Noise == NoiseStudentT && !(s.StudentDOF > 0):
		return eris.Errorf("student_dof: must be > 0 (got %g)", s.StudentDOF)
	case s.LivePoints < 2:
		return eris.Errorf("live_points: must be >= 2 (got %d)", s.LivePoints)
	case !(s.Tolerance > 0 && s.Tolerance < 1):
		return eris.Errorf("tolerance: must be in (0,1) (got %g)", s.Tolerance)
	case s.MaxIterations <= 0:
		return eris.Errorf("max_iterations: must be positive (got %d)", s.MaxIterations)
	case !(s.Enlarge >= 1) || math.IsInf(s.Enlarge, 0):
		return eris.Errorf("enlarge: must be >= 1 (got %g)", s.Enlarge)
	case s.UpdateInterval < 0:
		return eris.Errorf("update_interval: must be >= 0 (got %d)", s.UpdateInterval)
	case s.MaxAttempts <= 0:
		return eris.Errorf("max_attempts: must be positive (got %d)", s.MaxAttempts)
	case s.BatchSize <= 0:
		return eris.Errorf("batch_size: must be positive (got %d)", s.BatchSize)
	case s.Workers <= 0:
		return eris.Errorf("workers: must be positive (got %d)", s.Workers)
	case s.MinESS < 0:
		return eris.Errorf("min_ess: must be >= 0 (got %g)", s.MinESS)
	}
	for _, q := range s.Quantiles {
		if !(q > 0 && q < 1) {
			return eris.Errorf("quantiles: %g outside (0,1)", q)
		}
	}
	return nil
}
