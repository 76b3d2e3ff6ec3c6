package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/exowatch/transit-cli/internal/config"
	"github.com/exowatch/transit-cli/internal/fit"
	"github.com/exowatch/transit-cli/internal/ingest"
	"github.com/exowatch/transit-cli/internal/model"
)

// fitOptions collects everything a fit invocation needs besides the sampler
// settings.
type fitOptions struct {
	Data      string
	Priors    string
	Target    string
	Charset   string
	Normalize bool
	Save      bool
	CheckOnly bool
	Timeout   time.Duration
	Progress  time.Duration
	Store     config.StoreConfig
}

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a transit model to a light curve",
	Long: "Reads a light curve CSV and a prior file, runs nested sampling and prints the posterior report as JSON.\n" +
		"Interrupting a running fit stops sampling and prints the partial report.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(config.ModeFit); err != nil {
			return err
		}
		f := cmd.Flags()
		settings := applyFitFlags(f, cfg.FitSettings())
		opts := fitOptions{Progress: cfg.Fit.ProgressInterval, Store: cfg.Store, Timeout: cfg.Fit.Timeout}
		opts.Data, _ = f.GetString("data")
		opts.Priors, _ = f.GetString("priors")
		opts.Target, _ = f.GetString("target")
		opts.Charset, _ = f.GetString("charset")
		opts.Normalize, _ = f.GetBool("normalize")
		opts.Save, _ = f.GetBool("save")
		opts.CheckOnly, _ = f.GetBool("check")
		if f.Changed("timeout") {
			opts.Timeout, _ = f.GetDuration("timeout")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runFit(ctx, opts, settings, cmd.OutOrStdout())
	},
}

func init() {
	f := fitCmd.Flags()
	f.String("data", "", "light curve CSV (time, flux, flux_err[, airmass])")
	f.String("priors", "", "prior file (.yaml, .yml or .toml)")
	f.String("target", "", "target name recorded with the run (default: data file name)")
	f.String("charset", "", "character set of the CSV file (default UTF-8)")
	f.Bool("normalize", false, "divide flux and flux_err by the median flux")
	f.Bool("save", false, "record the run, report and samples in the run history")
	f.Bool("check", false, "validate inputs and exit without sampling")
	f.Duration("timeout", 0, "stop sampling after this long and report partial results (0 = no limit)")
	addSamplerFlags(f)

	_ = fitCmd.MarkFlagRequired("data")
	_ = fitCmd.MarkFlagRequired("priors")
	rootCmd.AddCommand(fitCmd)
}

// addSamplerFlags registers the flags applyFitFlags reads.
func addSamplerFlags(f *pflag.FlagSet) {
	d := model.DefaultFitSettings()
	f.Uint64("seed", d.Seed, "random seed")
	f.Int("live-points", d.LivePoints, "number of live points")
	f.Int("workers", d.Workers, "parallel likelihood workers")
	f.Int("max-iterations", d.MaxIterations, "iteration cap")
	f.Float64("tolerance", d.Tolerance, "evidence tolerance")
	f.String("bound", d.Bound, "bounding strategy (none, single, multi)")
	f.String("noise", d.Noise, "noise model (gaussian, student-t)")
	f.String("law", d.Law, "limb-darkening law (uniform, quadratic, nonlinear)")
	f.String("baseline", d.Baseline, "baseline model (polynomial, airmass)")
}

// applyFitFlags overrides s with the sampler flags the user set explicitly,
// so config file and environment values survive untouched flags.
func applyFitFlags(f *pflag.FlagSet, s model.FitSettings) model.FitSettings {
	if f.Changed("seed") {
		s.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("live-points") {
		s.LivePoints, _ = f.GetInt("live-points")
	}
	if f.Changed("workers") {
		s.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("max-iterations") {
		s.MaxIterations, _ = f.GetInt("max-iterations")
	}
	if f.Changed("tolerance") {
		s.Tolerance, _ = f.GetFloat64("tolerance")
	}
	if f.Changed("bound") {
		s.Bound, _ = f.GetString("bound")
	}
	if f.Changed("noise") {
		s.Noise, _ = f.GetString("noise")
	}
	if f.Changed("law") {
		s.Law, _ = f.GetString("law")
	}
	if f.Changed("baseline") {
		s.Baseline, _ = f.GetString("baseline")
	}
	return s
}

// runFit loads the inputs, runs the fit and writes the report JSON to out.
func runFit(ctx context.Context, opts fitOptions, settings model.FitSettings, out io.Writer) error {
	log := zap.L()

	obs, err := ingest.ReadObservationFile(ctx, opts.Data, ingest.CSVOptions{
		Charset:   opts.Charset,
		Normalize: opts.Normalize,
	})
	if err != nil {
		return err
	}
	specs, err := ingest.LoadPriors(opts.Priors)
	if err != nil {
		return err
	}

	fitter, err := fit.New(settings)
	if err != nil {
		return err
	}
	fitter.SetProgressInterval(opts.Progress)
	if err := fitter.Check(obs, specs); err != nil {
		return err
	}
	if opts.CheckOnly {
		_, err := fmt.Fprintf(out, "ok: %d points, %d parameters\n", obs.Len(), len(specs))
		return err
	}

	job := fitJob{fitter: fitter, obs: obs, specs: specs}
	if opts.Save {
		st, err := initStore(ctx, opts.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		target := opts.Target
		if target == "" {
			target = strings.TrimSuffix(filepath.Base(opts.Data), filepath.Ext(opts.Data))
		}
		run, err := st.CreateRun(ctx, newRequest(target, opts.Data, obs, specs, settings))
		if err != nil {
			return err
		}
		job.st, job.runID = st, run.ID
		log.Info("fit: run created", zap.String("run_id", run.ID), zap.String("target", target))
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	res, err := job.execute(ctx)
	if res == nil {
		return err
	}
	if !res.Report.Complete {
		log.Warn("fit: incomplete result", zap.String("status", string(res.Report.Status)))
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(res.Report); encErr != nil {
		return eris.Wrap(encErr, "fit: write report")
	}
	return err
}
