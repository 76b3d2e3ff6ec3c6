package nested

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	return Config{
		LivePoints:    100,
		Tolerance:     1e-3,
		MaxIterations: 20000,
		Seed:          42,
		Bound:         model.BoundSingle,
		Enlarge:       1.25,
		MaxAttempts:   5000,
		BatchSize:     8,
		Workers:       4,
	}
}

// cubeFriendly relaxes the stopping tolerance when proposals come from the
// whole cube, whose acceptance rate collapses as the constrained region
// shrinks.
func cubeFriendly(kind string) Config {
	cfg := testConfig()
	cfg.Bound = kind
	if kind == model.BoundNone {
		cfg.Tolerance = 0.05
		cfg.MaxAttempts = 100000
	}
	return cfg
}

func logNormal(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return -0.5*z*z - math.Log(sigma*math.Sqrt(2*math.Pi))
}

// gaussian2D is a normalised 2-D Gaussian well inside the unit square, so
// the evidence is 1 (logZ = 0).
func gaussian2D(u []float64) (float64, error) {
	return logNormal(u[0], 0.5, 0.1) + logNormal(u[1], 0.5, 0.1), nil
}

// bimodal2D is an equal mixture of two narrow Gaussians; it also integrates
// to 1 over the square.
func bimodal2D(u []float64) (float64, error) {
	a := logNormal(u[0], 0.25, 0.05) + logNormal(u[1], 0.25, 0.05)
	b := logNormal(u[0], 0.75, 0.05) + logNormal(u[1], 0.75, 0.05)
	return math.Log(0.5) + logAddExp(a, b), nil
}

func run(t *testing.T, fn LogLikelihoodFunc, cfg Config) *Result {
	t.Helper()
	e, err := New(2, fn, cfg)
	require.NoError(t, err)
	res, err := e.Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestRun_GaussianEvidence(t *testing.T) {
	for _, kind := range []string{model.BoundNone, model.BoundSingle, model.BoundMulti} {
		t.Run(kind, func(t *testing.T) {
			cfg := cubeFriendly(kind)
			res := run(t, gaussian2D, cfg)

			assert.Equal(t, model.TerminationConverged, res.Status)
			assert.True(t, res.Complete())
			assert.InDelta(t, 0, res.LogZ, 0.5)
			assert.Greater(t, res.LogZErr, 0.0)
			assert.InDelta(t, math.Sqrt(res.Information/100), res.LogZErr, 1e-12)
			assert.Len(t, res.Samples, res.Iterations+100)
			assert.Equal(t, res.Iterations, res.DeadCount())

			// Weighted mean of the posterior sits on the peak.
			w := res.Weights()
			var sum, mean float64
			for i, s := range res.Samples {
				sum += w[i]
				mean += w[i] * s.U[0]
			}
			assert.InDelta(t, 1, sum, 1e-9)
			assert.InDelta(t, 0.5, mean, 0.03)
		})
	}
}

func TestRun_BimodalEvidence(t *testing.T) {
	cfg := testConfig()
	cfg.Bound = model.BoundMulti
	cfg.LivePoints = 200
	res := run(t, bimodal2D, cfg)

	assert.Equal(t, model.TerminationConverged, res.Status)
	assert.InDelta(t, 0, res.LogZ, 0.5)

	// Both modes keep posterior mass.
	w := res.Weights()
	var low, high float64
	for i, s := range res.Samples {
		if s.U[0] < 0.5 {
			low += w[i]
		} else {
			high += w[i]
		}
	}
	assert.Greater(t, low, 0.2)
	assert.Greater(t, high, 0.2)
}

func TestRun_DeadLikelihoodsNonDecreasing(t *testing.T) {
	res := run(t, gaussian2D, testConfig())

	prevL := math.Inf(-1)
	prevX := 0.0
	for _, s := range res.Samples {
		if s.Live {
			break
		}
		assert.GreaterOrEqual(t, s.LogL, prevL)
		assert.Less(t, s.LogX, prevX)
		prevL, prevX = s.LogL, s.LogX
	}
	// Live points follow in ascending order and are no worse than the last
	// dead point.
	for _, s := range res.Samples[res.DeadCount():] {
		assert.True(t, s.Live)
		assert.GreaterOrEqual(t, s.LogL, prevL)
		prevL = s.LogL
	}
}

func TestRun_DeterministicAcrossWorkers(t *testing.T) {
	var results []*Result
	for _, workers := range []int{1, 3, 8} {
		cfg := testConfig()
		cfg.Workers = workers
		results = append(results, run(t, gaussian2D, cfg))
	}
	opt := cmpopts.IgnoreFields(Result{}, "Elapsed")
	for _, r := range results[1:] {
		if diff := cmp.Diff(results[0], r, opt); diff != "" {
			t.Errorf("results differ across worker counts (-want +got):\n%s", diff)
		}
	}
}

func TestRun_SeedChangesResult(t *testing.T) {
	a := run(t, gaussian2D, testConfig())
	cfg := testConfig()
	cfg.Seed = 43
	b := run(t, gaussian2D, cfg)
	assert.NotEqual(t, a.Samples[0].U, b.Samples[0].U)
	assert.InDelta(t, a.LogZ, b.LogZ, 0.5)
}

func TestRun_EvidenceInvariantToInitialOrder(t *testing.T) {
	reverse := func(n int) []int {
		p := make([]int, n)
		for i := range p {
			p[i] = n - 1 - i
		}
		return p
	}
	interleave := func(n int) []int {
		var p []int
		for i := 0; i < n; i += 2 {
			p = append(p, i)
		}
		for i := 1; i < n; i += 2 {
			p = append(p, i)
		}
		return p
	}

	for _, kind := range []string{model.BoundNone, model.BoundSingle} {
		t.Run(kind, func(t *testing.T) {
			cfg := cubeFriendly(kind)
			base := run(t, gaussian2D, cfg)

			for _, perm := range []func(int) []int{reverse, interleave} {
				e, err := New(2, gaussian2D, cfg)
				require.NoError(t, err)
				e.initOrder = perm
				res, err := e.Run(context.Background())
				require.NoError(t, err)

				if kind == model.BoundNone {
					// The unit-cube proposal ignores live-set order entirely.
					assert.InDelta(t, base.LogZ, res.LogZ, 1e-12)
				} else {
					assert.InDelta(t, base.LogZ, res.LogZ, 3*base.LogZErr)
				}
			}
		})
	}
}

func TestRun_Stall(t *testing.T) {
	// A flat likelihood can never be beaten.
	flat := func([]float64) (float64, error) { return 0, nil }
	cfg := testConfig()
	cfg.LivePoints = 20
	cfg.MaxAttempts = 64

	e, err := New(2, flat, cfg)
	require.NoError(t, err)
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.TerminationStalled, res.Status)
	assert.False(t, res.Complete())
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, 20+64, res.Evaluations)
	require.Error(t, res.Stall)
	assert.True(t, fiterr.IsStall(res.Stall))
	// The live set still carries the whole prior volume.
	assert.InDelta(t, 0, res.LogZ, 1e-12)
	assert.Len(t, res.Samples, 20)
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	fn := func(u []float64) (float64, error) {
		if calls.Add(1) == 600 {
			cancel()
		}
		return gaussian2D(u)
	}
	e, err := New(2, fn, testConfig())
	require.NoError(t, err)
	res, err := e.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, model.TerminationCancelled, res.Status)
	assert.False(t, res.Complete())
	assert.Positive(t, res.Iterations)
	assert.Len(t, res.Samples, res.Iterations+100)
	assert.False(t, math.IsNaN(res.LogZ))
	assert.False(t, math.IsInf(res.LogZ, 0))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, err := New(2, gaussian2D, testConfig())
	require.NoError(t, err)
	_, err = e.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRun_MaxIterations(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 50
	res := run(t, gaussian2D, cfg)

	assert.Equal(t, model.TerminationMaxIterations, res.Status)
	assert.True(t, res.Complete())
	assert.Equal(t, 50, res.Iterations)
	assert.Len(t, res.Samples, 150)
}

func TestRun_NumericalError(t *testing.T) {
	fn := func(u []float64) (float64, error) {
		if u[0] > 0.8 {
			return math.NaN(), nil
		}
		return gaussian2D(u)
	}
	e, err := New(2, fn, testConfig())
	require.NoError(t, err)
	res, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)

	var ne *fiterr.NumericalError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "log_likelihood", ne.Quantity)
	assert.Greater(t, ne.Point[0], 0.8)
}

func TestRun_NumericalErrorDuringIteration(t *testing.T) {
	var calls atomic.Int64
	fn := func(u []float64) (float64, error) {
		if calls.Add(1) > 300 {
			return math.Inf(1), nil
		}
		return gaussian2D(u)
	}
	cfg := testConfig()
	cfg.Workers = 1
	e, err := New(2, fn, cfg)
	require.NoError(t, err)
	_, err = e.Run(context.Background())

	var ne *fiterr.NumericalError
	require.ErrorAs(t, err, &ne)
	assert.Positive(t, ne.Iteration)
	assert.Contains(t, ne.State, "log_z")
	assert.Contains(t, err.Error(), "state={")
}

func TestRun_LikelihoodError(t *testing.T) {
	boom := errors.New("boom")
	fn := func([]float64) (float64, error) { return 0, boom }
	e, err := New(2, fn, testConfig())
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRun_ZeroLikelihoodRegions(t *testing.T) {
	// Half of the prior is excluded; the evidence halves accordingly.
	fn := func(u []float64) (float64, error) {
		if u[0] < 0.5 {
			return math.Inf(-1), nil
		}
		return 0, nil
	}
	cfg := testConfig()
	cfg.MaxAttempts = 100
	res := run(t, fn, cfg)

	// The surviving plateau cannot be improved on, so the run stalls once the
	// excluded points are gone. Every excluded point removed shrinks the
	// volume carried by the plateau.
	assert.Equal(t, model.TerminationStalled, res.Status)
	assert.Less(t, res.LogZ, -0.2)
	assert.Greater(t, res.LogZ, math.Log(0.5)-0.3)
}

func TestRun_NoValidInitialPoint(t *testing.T) {
	excluded := func([]float64) (float64, error) { return math.Inf(-1), nil }
	cfg := testConfig()
	cfg.LivePoints = 20

	e, err := New(2, excluded, cfg)
	require.NoError(t, err)
	res, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, fiterr.IsConfig(err), "got %v", err)
	assert.Contains(t, err.Error(), "zero likelihood")
}

func TestNew_ConfigErrors(t *testing.T) {
	_, err := New(0, gaussian2D, testConfig())
	assert.True(t, fiterr.IsConfig(err))

	mutations := map[string]func(c *Config){
		"live points": func(c *Config) { c.LivePoints = 1 },
		"tolerance":   func(c *Config) { c.Tolerance = 0 },
		"iterations":  func(c *Config) { c.MaxIterations = 0 },
		"bound":       func(c *Config) { c.Bound = "sphere" },
		"enlarge":     func(c *Config) { c.Enlarge = 0.5 },
		"attempts":    func(c *Config) { c.MaxAttempts = 0 },
		"batch":       func(c *Config) { c.BatchSize = 0 },
		"workers":     func(c *Config) { c.Workers = 0 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			_, err := New(2, gaussian2D, cfg)
			require.Error(t, err)
			assert.True(t, fiterr.IsConfig(err))
		})
	}
}

func TestConfigFromSettings(t *testing.T) {
	s := model.DefaultFitSettings()
	s.Seed = 9
	cfg := ConfigFromSettings(s)
	assert.Equal(t, uint64(9), cfg.Seed)
	assert.Equal(t, s.LivePoints, cfg.LivePoints)
	assert.Equal(t, 20, cfg.updateInterval())
	require.NoError(t, cfg.validate())
}

func TestExtremes_TiesPickLowestIndex(t *testing.T) {
	st := &runState{liveL: []float64{3, 1, 5, 1, 5}}
	worst, best := st.extremes()
	assert.Equal(t, 1, worst)
	assert.Equal(t, 2, best)
}

func TestResultBest(t *testing.T) {
	r := &Result{Samples: []Sample{{LogL: 1}, {LogL: 3}, {LogL: 2}}}
	best, ok := r.Best()
	require.True(t, ok)
	assert.Equal(t, 3.0, best.LogL)

	_, ok = (&Result{}).Best()
	assert.False(t, ok)
	assert.True(t, slices.Equal([]float64{}, (&Result{}).Weights()))
}
