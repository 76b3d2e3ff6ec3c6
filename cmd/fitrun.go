package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/exowatch/transit-cli/internal/fit"
	"github.com/exowatch/transit-cli/internal/model"
	"github.com/exowatch/transit-cli/internal/store"
)

// fitJob is a single fit run and, when st is set, the run record it updates.
type fitJob struct {
	fitter *fit.Fitter
	obs    *model.Observation
	specs  []model.ParameterSpec
	st     store.Store
	runID  string
}

// execute runs the fit. Cancelling ctx stops sampling early; the partial
// report is still persisted because store writes use a context that outlives
// the cancellation.
func (j fitJob) execute(ctx context.Context) (*fit.Result, error) {
	persist := context.WithoutCancel(ctx)
	log := zap.L().With(zap.String("run_id", j.runID))
	start := time.Now()

	if j.st != nil {
		if err := j.st.UpdateRunStatus(persist, j.runID, model.RunStatusRunning); err != nil {
			return nil, eris.Wrap(err, "fit: mark running")
		}
	}

	fail := func(err error) {
		if j.st == nil {
			return
		}
		if ferr := j.st.FailRun(persist, j.runID, err.Error()); ferr != nil {
			log.Error("fit: record failure", zap.Error(ferr))
		}
	}

	res, err := j.fitter.Run(ctx, j.obs, j.specs)
	if err != nil {
		fail(err)
		return nil, err
	}

	if j.st != nil {
		if err := j.st.SaveReport(persist, j.runID, res.Report); err != nil {
			err = eris.Wrap(err, "fit: save report")
			fail(err)
			return res, err
		}
		n, err := j.st.SaveSamples(persist, j.runID, res.Samples)
		if err != nil {
			err = eris.Wrap(err, "fit: save samples")
			fail(err)
			return res, err
		}
		log.Info("fit: run saved",
			zap.String("status", string(res.Report.Status)),
			zap.Int64("samples", n),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return res, nil
}

// newRequest describes a fit for the run history.
func newRequest(target, source string, obs *model.Observation, specs []model.ParameterSpec, settings model.FitSettings) model.FitRequest {
	return model.FitRequest{
		Target:    target,
		Source:    source,
		NumPoints: obs.Len(),
		Priors:    specs,
		Settings:  settings,
	}
}
