// Package nested implements nested sampling over the unit hypercube.
//
// The engine keeps a fixed-size set of live points, repeatedly discards the
// least likely one into the dead archive while shrinking the prior-volume
// estimate by N/(N+1), and replaces it with a fresh point drawn from the
// region above the discarded likelihood. Evidence and information are
// accumulated in log space.
//
// All random draws happen on the goroutine that calls Run, in fixed-size
// batches, so a run is reproducible for a given seed regardless of how many
// workers evaluate the likelihood.
package nested

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
)

// seedStream is the second PCG word; the user seed selects the first.
const seedStream = 0x9e3779b97f4a7c15

// LogLikelihoodFunc scores a unit-cube point. It is called from several
// goroutines at once and must not retain or modify u. Rejected points return
// -Inf with a nil error; a non-nil error aborts the run.
type LogLikelihoodFunc func(u []float64) (float64, error)

// Engine runs nested sampling for one likelihood.
type Engine struct {
	dim int
	fn  LogLikelihoodFunc
	cfg Config

	// initOrder permutes the initial live set when non-nil.
	initOrder func(n int) []int
}

// New creates an Engine over a dim-dimensional unit cube.
func New(dim int, fn LogLikelihoodFunc, cfg Config) (*Engine, error) {
	if dim <= 0 {
		return nil, fiterr.NewConfigError("", "search space has no free dimensions")
	}
	if fn == nil {
		return nil, eris.New("nested: nil likelihood")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{dim: dim, fn: fn, cfg: cfg}, nil
}

// runState is owned by the goroutine executing Run.
type runState struct {
	liveU [][]float64
	liveL []float64
	dead  []Sample

	logX  float64
	logZ  float64
	h     float64
	iter  int
	evals int

	cands [][]float64
	ll    []float64
}

// Run samples until convergence, the iteration cap, a stall, or ctx is
// cancelled. Stalls and cancellation still return a Result, flagged by its
// Status. Numerical failures return a *fiterr.NumericalError and no result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "nested: run cancelled before start")
	}
	start := time.Now()
	rng := rand.New(rand.NewPCG(e.cfg.Seed, seedStream))
	log := zap.L().With(zap.Uint64("seed", e.cfg.Seed))

	st, err := e.initialize(rng)
	if err != nil {
		return nil, err
	}
	log.Info("nested: live points initialised",
		zap.Int("live_points", e.cfg.LivePoints),
		zap.Int("dim", e.dim),
		zap.String("bound", e.cfg.Bound),
		zap.Int("workers", e.cfg.Workers),
	)

	var (
		n         = float64(e.cfg.LivePoints)
		logShrink = math.Log(n / (n + 1))
		logTol    = math.Log(e.cfg.Tolerance)
		interval  = e.cfg.updateInterval()
		progress  = rate.Sometimes{Interval: e.cfg.ProgressInterval}
		b         bound
		status    = model.TerminationMaxIterations
		stall     error
	)

	for st.iter < e.cfg.MaxIterations {
		if ctx.Err() != nil {
			status = model.TerminationCancelled
			break
		}
		worst, best := st.extremes()
		if !math.IsInf(st.logZ, -1) && st.liveL[best]+st.logX < st.logZ+logTol {
			status = model.TerminationConverged
			break
		}
		if b == nil || st.iter%interval == 0 {
			b = buildBound(e.cfg.Bound, st.liveU, e.cfg.Enlarge)
		}

		lmin := st.liveL[worst]
		u, ll, err := e.replace(ctx, rng, b, lmin, st)
		if err != nil {
			var se *fiterr.StallError
			switch {
			case errors.As(err, &se):
				status = model.TerminationStalled
				stall = err
				log.Warn("nested: sampling stalled",
					zap.Int("iteration", st.iter),
					zap.Int("attempts", se.Attempts),
					zap.Float64("log_l_min", lmin),
				)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				status = model.TerminationCancelled
			default:
				return nil, err
			}
			break
		}

		// Archive the worst point with the shell between the old and new
		// prior volume: log(X_{i-1} - X_i) = log X_{i-1} - log(N+1).
		logWt := lmin + st.logX - math.Log(n+1)
		st.logX += logShrink
		if err := st.accumulate(lmin, logWt); err != nil {
			return nil, err
		}
		st.dead = append(st.dead, Sample{
			U:         st.liveU[worst],
			LogL:      lmin,
			LogX:      st.logX,
			LogWeight: logWt,
			Iteration: st.iter,
		})
		st.liveU[worst] = u
		st.liveL[worst] = ll
		st.iter++

		if e.cfg.ProgressInterval > 0 {
			progress.Do(func() {
				log.Info("nested: progress",
					zap.Int("iteration", st.iter),
					zap.Float64("log_z", st.logZ),
					zap.Float64("log_x", st.logX),
					zap.Float64("log_l_min", lmin),
					zap.Int("evaluations", st.evals),
					zap.Int("ellipsoids", b.count()),
					zap.Float64("efficiency", float64(st.iter)/float64(max(1, st.evals-e.cfg.LivePoints))),
				)
			})
		}
	}

	res, err := st.finish(status, n)
	if err != nil {
		return nil, err
	}
	res.LivePoints = e.cfg.LivePoints
	res.Seed = e.cfg.Seed
	res.Stall = stall
	res.Elapsed = time.Since(start)

	log.Info("nested: run finished",
		zap.String("status", string(status)),
		zap.Int("iterations", res.Iterations),
		zap.Int("evaluations", res.Evaluations),
		zap.Float64("log_z", res.LogZ),
		zap.Float64("log_z_err", res.LogZErr),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// initialize draws the live set from the whole cube. Points with zero
// likelihood are kept: they are the first to die and carry no weight. A live
// set with no point of nonzero likelihood is a ConfigError.
func (e *Engine) initialize(rng *rand.Rand) (*runState, error) {
	n := e.cfg.LivePoints
	st := &runState{
		liveU: make([][]float64, n),
		liveL: make([]float64, n),
		logZ:  math.Inf(-1),
		cands: make([][]float64, e.cfg.BatchSize),
		ll:    make([]float64, e.cfg.BatchSize),
	}
	for i := range st.cands {
		st.cands[i] = make([]float64, e.dim)
	}
	for i := range st.liveU {
		st.liveU[i] = make([]float64, e.dim)
		cubeBound{}.sample(rng, st.liveU[i])
	}
	if err := e.evaluate(st.liveU, st.liveL); err != nil {
		return nil, eris.Wrap(err, "nested: initialise live points")
	}
	st.evals = n
	alive := false
	for i, ll := range st.liveL {
		if math.IsNaN(ll) || math.IsInf(ll, 1) {
			return nil, &fiterr.NumericalError{
				Iteration: 0,
				Quantity:  "log_likelihood",
				Value:     ll,
				Point:     slices.Clone(st.liveU[i]),
				State:     map[string]float64{"live_index": float64(i)},
			}
		}
		if !math.IsInf(ll, -1) {
			alive = true
		}
	}
	if !alive {
		return nil, fiterr.NewConfigError("priors",
			fmt.Sprintf("all %d initial live points have zero likelihood; the prior region excludes every valid parameter set", n))
	}

	if e.initOrder != nil {
		perm := e.initOrder(n)
		u := make([][]float64, n)
		l := make([]float64, n)
		for i, j := range perm {
			u[i], l[i] = st.liveU[j], st.liveL[j]
		}
		st.liveU, st.liveL = u, l
	}
	return st, nil
}

// replace draws candidates in batches until one beats lmin. Within a batch
// the first acceptable candidate in draw order wins.
func (e *Engine) replace(ctx context.Context, rng *rand.Rand, b bound, lmin float64, st *runState) ([]float64, float64, error) {
	attempts := 0
	for attempts < e.cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		m := min(e.cfg.BatchSize, e.cfg.MaxAttempts-attempts)
		cands, ll := st.cands[:m], st.ll[:m]
		for _, c := range cands {
			drawCandidate(rng, b, c)
		}
		if err := e.evaluate(cands, ll); err != nil {
			return nil, 0, err
		}
		attempts += m
		st.evals += m

		for j, v := range ll {
			if math.IsNaN(v) || math.IsInf(v, 1) {
				return nil, 0, st.numericalError("log_likelihood", v, cands[j])
			}
		}
		for j, v := range ll {
			if v > lmin {
				return slices.Clone(cands[j]), v, nil
			}
		}
	}
	return nil, 0, &fiterr.StallError{Iteration: st.iter, Attempts: attempts, LogLMin: lmin}
}

// evaluate scores points in parallel. Each goroutine writes only its own
// slot of out.
func (e *Engine) evaluate(points [][]float64, out []float64) error {
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, u := range points {
		g.Go(func() error {
			ll, err := e.fn(u)
			if err != nil {
				return eris.Wrapf(err, "nested: evaluate point %d", i)
			}
			out[i] = ll
			return nil
		})
	}
	return g.Wait()
}

func drawCandidate(rng *rand.Rand, b bound, dst []float64) {
	for i := 0; i < maxBoundTries; i++ {
		if b.sample(rng, dst) {
			return
		}
	}
	cubeBound{}.sample(rng, dst)
}

// extremes returns the indices of the lowest and highest live likelihoods.
// Ties resolve to the lowest index.
func (st *runState) extremes() (worst, best int) {
	for i, l := range st.liveL {
		if l < st.liveL[worst] {
			worst = i
		}
		if l > st.liveL[best] {
			best = i
		}
	}
	return worst, best
}

// accumulate adds one weighted point to the evidence and information
// (Skilling 2006, section 9).
func (st *runState) accumulate(logL, logWt float64) error {
	if math.IsInf(logWt, -1) {
		return nil
	}
	logZ := logAddExp(st.logZ, logWt)
	h := math.Exp(logWt-logZ)*logL - logZ
	if !math.IsInf(st.logZ, -1) {
		h += math.Exp(st.logZ-logZ) * (st.h + st.logZ)
	}
	if math.IsNaN(logZ) || math.IsInf(logZ, 1) {
		return st.numericalError("log_z", logZ, nil)
	}
	st.logZ, st.h = logZ, h
	return nil
}

// finish appends the live points, each holding an equal share of the
// remaining prior volume, and builds the Result.
func (st *runState) finish(status model.Termination, n float64) (*Result, error) {
	order := make([]int, len(st.liveL))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case st.liveL[a] < st.liveL[b]:
			return -1
		case st.liveL[a] > st.liveL[b]:
			return 1
		}
		return 0
	})

	samples := make([]Sample, 0, len(st.dead)+len(order))
	samples = append(samples, st.dead...)
	logWidth := st.logX - math.Log(n)
	for k, i := range order {
		logWt := st.liveL[i] + logWidth
		if err := st.accumulate(st.liveL[i], logWt); err != nil {
			return nil, err
		}
		samples = append(samples, Sample{
			U:         st.liveU[i],
			LogL:      st.liveL[i],
			LogX:      st.logX + math.Log((n-float64(k)-1)/n),
			LogWeight: logWt,
			Iteration: st.iter,
			Live:      true,
		})
	}

	h := math.Max(st.h, 0)
	return &Result{
		Status:      status,
		Samples:     samples,
		LogZ:        st.logZ,
		LogZErr:     math.Sqrt(h / n),
		Information: h,
		Iterations:  st.iter,
		Evaluations: st.evals,
	}, nil
}

func (st *runState) numericalError(quantity string, v float64, point []float64) *fiterr.NumericalError {
	return &fiterr.NumericalError{
		Iteration: st.iter,
		Quantity:  quantity,
		Value:     v,
		Point:     slices.Clone(point),
		State: map[string]float64{
			"log_z":       st.logZ,
			"log_x":       st.logX,
			"information": st.h,
			"evaluations": float64(st.evals),
		},
	}
}
