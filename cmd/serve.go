package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/exowatch/transit-cli/internal/config"
	"github.com/exowatch/transit-cli/internal/fit"
	"github.com/exowatch/transit-cli/internal/model"
	"github.com/exowatch/transit-cli/internal/monitoring"
	"github.com/exowatch/transit-cli/internal/store"
)

const maxSubmissionBytes = 32 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for submitting and inspecting fits",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate(config.ModeServe); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		fs := newFitServer(ctx, st, cfg.Server, cfg.FitSettings())
		fs.progress = cfg.Fit.ProgressInterval
		fs.timeout = cfg.Fit.Timeout
		if cfg.Monitoring.LookbackWindow > 0 {
			fs.lookback = cfg.Monitoring.LookbackWindow
		}

		if cfg.Monitoring.Enabled {
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			go monitoring.NewChecker(fs.health, alerter, cfg.Monitoring).Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           fs.routes(cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		err = srv.ListenAndServe()
		// Running fits see the cancelled context and save partial reports.
		fs.wait()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// fitServer accepts fit submissions over HTTP and runs them in the
// background, at most MaxConcurrent at a time.
type fitServer struct {
	ctx      context.Context
	st       store.Store
	base     model.FitSettings
	progress time.Duration
	timeout  time.Duration
	limiter  *rate.Limiter
	jobs     *errgroup.Group
	health   *monitoring.Collector
	lookback time.Duration
}

func newFitServer(ctx context.Context, st store.Store, sc config.ServerConfig, base model.FitSettings) *fitServer {
	jobs := &errgroup.Group{}
	jobs.SetLimit(sc.MaxConcurrent)
	return &fitServer{
		ctx:      ctx,
		st:       st,
		base:     base,
		limiter:  rate.NewLimiter(rate.Limit(sc.RatePerSecond), sc.RateBurst),
		jobs:     jobs,
		health:   monitoring.NewCollector(st),
		lookback: 24 * time.Hour,
	}
}

// wait blocks until every accepted fit has finished.
func (s *fitServer) wait() {
	_ = s.jobs.Wait()
}

func (s *fitServer) routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Location"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.With(s.rateLimit).Post("/fits", s.handleSubmit)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/runs/{id}/samples", s.handleGetSamples)
	return r
}

// rateLimit rejects submissions beyond the configured rate with 429.
func (s *fitServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *fitServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics reports run health over the monitoring lookback window.
func (s *fitServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.health.Collect(r.Context(), s.lookback)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// fitSubmission is the body of POST /fits. Settings, when present, is merged
// over the server's configured settings.
type fitSubmission struct {
	Target   string                `json:"target"`
	Time     []float64             `json:"time"`
	Flux     []float64             `json:"flux"`
	FluxErr  []float64             `json:"flux_err"`
	Airmass  []float64             `json:"airmass,omitempty"`
	Priors   []model.ParameterSpec `json:"priors"`
	Settings json.RawMessage       `json:"settings,omitempty"`
}

func (s *fitServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	log := zap.L().With(zap.String("request_id", middleware.GetReqID(r.Context())))

	var sub fitSubmission
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	settings := s.base
	settings.Quantiles = append([]float64(nil), s.base.Quantiles...)
	if len(sub.Settings) > 0 {
		if err := json.Unmarshal(sub.Settings, &settings); err != nil {
			writeError(w, http.StatusBadRequest, "invalid settings: "+err.Error())
			return
		}
	}

	obs, err := model.NewObservation(sub.Time, sub.Flux, sub.FluxErr, sub.Airmass)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fitter, err := fit.New(settings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fitter.SetProgressInterval(s.progress)
	if err := fitter.Check(obs, sub.Priors); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Reserve a worker slot before recording the run so a busy server
	// rejects the submission without leaving a queued run behind.
	start := make(chan fitJob, 1)
	if !s.jobs.TryGo(func() error {
		job, ok := <-start
		if ok {
			s.runJob(job)
		}
		return nil
	}) {
		writeError(w, http.StatusServiceUnavailable, "too many fits in progress")
		return
	}

	run, err := s.st.CreateRun(r.Context(), newRequest(sub.Target, "api", obs, sub.Priors, settings))
	if err != nil {
		close(start)
		log.Error("serve: create run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not record run")
		return
	}
	start <- fitJob{fitter: fitter, obs: obs, specs: sub.Priors, st: s.st, runID: run.ID}

	log.Info("serve: fit accepted", zap.String("run_id", run.ID), zap.String("target", sub.Target))
	w.Header().Set("Location", "/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID,
		"status": string(run.Status),
	})
}

func (s *fitServer) runJob(job fitJob) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := job.execute(ctx); err != nil {
		zap.L().Error("serve: fit failed", zap.String("run_id", job.runID), zap.Error(err))
	}
}

func (s *fitServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Target: q.Get("target"),
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil || filter.Offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
	}

	runs, err := s.st.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("serve: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *fitServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.st.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *fitServer) handleGetSamples(w http.ResponseWriter, r *http.Request) {
	samples, err := s.st.GetSamples(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if samples == nil {
		samples = []model.Sample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	zap.L().Error("serve: store", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
