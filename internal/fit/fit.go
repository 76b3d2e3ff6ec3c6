// Package fit runs a complete transit fit: it checks the inputs, builds the
// search space, forward model and likelihood, runs nested sampling and
// summarises the posterior.
package fit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/likelihood"
	"github.com/exowatch/transit-cli/internal/model"
	"github.com/exowatch/transit-cli/internal/nested"
	"github.com/exowatch/transit-cli/internal/posterior"
	"github.com/exowatch/transit-cli/internal/space"
	"github.com/exowatch/transit-cli/internal/transit"
)

// Derived quantity names.
const (
	DerivedDepth    = "depth"
	DerivedDuration = "t14"
)

// Result is the outcome of a fit: the report plus the weighted samples it was
// computed from.
type Result struct {
	Report  *model.PosteriorReport
	Samples []model.Sample
}

// Fitter runs fits with fixed settings. It is safe to reuse across runs.
type Fitter struct {
	settings         model.FitSettings
	progressInterval time.Duration

	// evalHook is invoked before each likelihood evaluation when set.
	evalHook func()
}

// New validates settings and returns a Fitter.
func New(settings model.FitSettings) (*Fitter, error) {
	if err := settings.Validate(); err != nil {
		return nil, fiterr.NewConfigError("settings", err.Error())
	}
	return &Fitter{settings: settings, progressInterval: 5 * time.Second}, nil
}

// Settings returns the fitter's settings.
func (f *Fitter) Settings() model.FitSettings { return f.settings }

// SetProgressInterval sets how often the engine logs progress. Zero disables
// progress logging.
func (f *Fitter) SetProgressInterval(d time.Duration) {
	f.progressInterval = d
}

// Run fits obs with the given parameter specs. Configuration problems are
// reported as *fiterr.ConfigError, either before sampling or, when no prior
// draw is physically valid, after the initial live set. Stalled and cancelled
// runs return a report flagged incomplete rather than an error.
func (f *Fitter) Run(ctx context.Context, obs *model.Observation, specs []model.ParameterSpec) (*Result, error) {
	sp, m, lk, err := f.prepare(obs, specs)
	if err != nil {
		return nil, err
	}

	fn := func(u []float64) (float64, error) {
		if f.evalHook != nil {
			f.evalHook()
		}
		p, err := sp.ToPhysical(u)
		if err != nil {
			if fiterr.IsDomain(err) {
				return math.Inf(-1), nil
			}
			return 0, err
		}
		return lk.LogLikelihood(p)
	}

	cfg := nested.ConfigFromSettings(f.settings)
	cfg.ProgressInterval = f.progressInterval
	engine, err := nested.New(sp.Dim(), fn, cfg)
	if err != nil {
		return nil, err
	}

	zap.L().Info("fit: starting",
		zap.Strings("free", sp.Names()),
		zap.Int("points", obs.Len()),
		zap.String("law", f.settings.Law),
		zap.String("baseline", f.settings.Baseline),
		zap.String("noise", f.settings.Noise),
		zap.Int("live_points", f.settings.LivePoints),
	)

	res, err := engine.Run(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "fit: sample posterior")
	}

	report, err := posterior.Summarize(res, sp, posterior.Options{
		Quantiles:    f.settings.Quantiles,
		MinESS:       f.settings.MinESS,
		Derive:       derive(m, sp),
		DerivedUnits: map[string]string{DerivedDuration: "d", transit.NameInc: "deg"},
		Goodness:     lk.ChiSquare,
		NumData:      obs.Len(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "fit: summarise posterior")
	}
	samples, err := posterior.Samples(res, sp)
	if err != nil {
		return nil, eris.Wrap(err, "fit: collect samples")
	}

	zap.L().Info("fit: finished",
		zap.String("status", string(report.Status)),
		zap.Bool("converged", report.Converged),
		zap.Float64("log_z", report.LogZ),
		zap.Float64("ess", report.ESS),
		zap.Int("warnings", len(report.Warnings)),
	)
	return &Result{Report: report, Samples: samples}, nil
}

// Check validates obs and specs against the fitter's settings without
// sampling.
func (f *Fitter) Check(obs *model.Observation, specs []model.ParameterSpec) error {
	_, _, _, err := f.prepare(obs, specs)
	return err
}

func (f *Fitter) prepare(obs *model.Observation, specs []model.ParameterSpec) (*space.Space, *transit.Model, *likelihood.Likelihood, error) {
	if obs == nil {
		return nil, nil, nil, fiterr.NewConfigError("observation", "no observation supplied")
	}
	sp, err := space.New(specs)
	if err != nil {
		return nil, nil, nil, err
	}
	m, err := transit.New(f.settings.Law, f.settings.Baseline, f.settings.Annuli)
	if err != nil {
		return nil, nil, nil, err
	}

	for _, name := range sp.AllNames() {
		if !m.KnownParams(name) && !likelihood.KnownParams(f.settings.Noise, name) {
			return nil, nil, nil, fiterr.NewConfigError(name,
				fmt.Sprintf("not a parameter of the %s law, %s baseline or %s noise model",
					f.settings.Law, f.settings.Baseline, f.settings.Noise))
		}
	}
	for _, name := range m.RequiredParams() {
		if !sp.Has(name) {
			return nil, nil, nil, fiterr.NewConfigError(name, "required parameter missing")
		}
	}
	switch hasInc, hasB := sp.Has(transit.NameInc), sp.Has(transit.NameImpact); {
	case hasInc && hasB:
		return nil, nil, nil, fiterr.NewConfigError(transit.NameImpact, "specify either inc or b, not both")
	case !hasInc && !hasB:
		return nil, nil, nil, fiterr.NewConfigError(transit.NameInc, "one of inc or b is required")
	}

	if obs.Len() < sp.Dim() {
		return nil, nil, nil, fiterr.NewConfigError("observation",
			fmt.Sprintf("%d data points cannot constrain %d free parameters", obs.Len(), sp.Dim()))
	}

	lk, err := likelihood.New(m, obs, f.settings.Noise, f.settings.StudentDOF)
	if err != nil {
		return nil, nil, nil, err
	}

	// Probe the prior centre so malformed parameter sets fail here rather
	// than inside a worker.
	centre := make([]float64, sp.Dim())
	for i := range centre {
		centre[i] = 0.5
	}
	p, err := sp.ToPhysical(centre)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "fit: map prior centre")
	}
	if _, err := lk.LogLikelihood(p); err != nil {
		return nil, nil, nil, fiterr.NewConfigError("", err.Error())
	}
	return sp, m, lk, nil
}

// derive computes depth, duration and whichever of inc/b was not sampled.
func derive(m *transit.Model, sp *space.Space) posterior.DeriveFunc {
	return func(p model.Parameters) map[string]float64 {
		tp, err := m.Resolve(p)
		if err != nil {
			return nil
		}
		out := map[string]float64{
			DerivedDepth:    tp.Depth(),
			DerivedDuration: transit.Duration(tp),
		}
		if sp.Has(transit.NameInc) {
			out[transit.NameImpact] = math.Abs(tp.Impact())
		} else {
			out[transit.NameInc] = tp.Inc
		}
		return out
	}
}
