package nested

import (
	"math"
	"time"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
)

// Config controls one sampler run.
type Config struct {
	LivePoints     int
	Tolerance      float64 // stop once the live set can add less than this fraction of Z
	MaxIterations  int
	Seed           uint64
	Bound          string // none | single | multi
	Enlarge        float64
	UpdateInterval int // iterations between bound rebuilds; 0 derives one from LivePoints
	MaxAttempts    int // likelihood evaluations allowed per replacement
	BatchSize      int // candidates drawn per parallel batch
	Workers        int

	// ProgressInterval throttles progress logging. Zero disables it.
	ProgressInterval time.Duration
}

// ConfigFromSettings extracts the sampler knobs from fit settings.
func ConfigFromSettings(s model.FitSettings) Config {
	return Config{
		LivePoints:       s.LivePoints,
		Tolerance:        s.Tolerance,
		MaxIterations:    s.MaxIterations,
		Seed:             s.Seed,
		Bound:            s.Bound,
		Enlarge:          s.Enlarge,
		UpdateInterval:   s.UpdateInterval,
		MaxAttempts:      s.MaxAttempts,
		BatchSize:        s.BatchSize,
		Workers:          s.Workers,
		ProgressInterval: 5 * time.Second,
	}
}

func (c Config) validate() error {
	switch {
	case c.LivePoints < 2:
		return fiterr.NewConfigError("live_points", "must be >= 2")
	case !(c.Tolerance > 0 && c.Tolerance < 1):
		return fiterr.NewConfigError("tolerance", "must be in (0,1)")
	case c.MaxIterations <= 0:
		return fiterr.NewConfigError("max_iterations", "must be positive")
	case c.Bound != model.BoundNone && c.Bound != model.BoundSingle && c.Bound != model.BoundMulti:
		return fiterr.NewConfigError("bound", "unknown bound "+c.Bound)
	case !(c.Enlarge >= 1) || math.IsInf(c.Enlarge, 0):
		return fiterr.NewConfigError("enlarge", "must be >= 1")
	case c.UpdateInterval < 0:
		return fiterr.NewConfigError("update_interval", "must be >= 0")
	case c.MaxAttempts <= 0:
		return fiterr.NewConfigError("max_attempts", "must be positive")
	case c.BatchSize <= 0:
		return fiterr.NewConfigError("batch_size", "must be positive")
	case c.Workers <= 0:
		return fiterr.NewConfigError("workers", "must be positive")
	}
	return nil
}

func (c Config) updateInterval() int {
	if c.UpdateInterval > 0 {
		return c.UpdateInterval
	}
	return max(1, c.LivePoints/5)
}
