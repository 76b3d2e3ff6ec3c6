package likelihood

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
	"github.com/exowatch/transit-cli/internal/transit"
)

func truth() model.Parameters {
	return model.Parameters{
		"rprs": 0.1, "per": 3.5, "tmid": 0, "ars": 10, "inc": 89,
		"u1": 0.4, "u2": 0.25,
	}
}

// fixture builds an observation whose flux is the model at truth() plus a
// fixed wiggle, so residuals are known.
func fixture(t *testing.T, noise string) (*Likelihood, []float64) {
	t.Helper()
	m, err := transit.New(model.LawQuadratic, model.BaselinePolynomial, 64)
	require.NoError(t, err)

	n := 120
	times := make([]float64, n)
	sigma := make([]float64, n)
	for i := range times {
		times[i] = -0.15 + 0.3*float64(i)/float64(n-1)
		sigma[i] = 0.001 * (1 + 0.5*math.Sin(float64(i)))
	}
	tp, err := m.Resolve(truth())
	require.NoError(t, err)
	pred, err := m.Evaluate(tp, times, nil)
	require.NoError(t, err)

	resid := make([]float64, n)
	flux := make([]float64, n)
	for i := range flux {
		resid[i] = 0.0015 * math.Cos(3*float64(i))
		flux[i] = pred[i] + resid[i]
	}
	obs, err := model.NewObservation(times, flux, sigma, nil)
	require.NoError(t, err)

	l, err := New(m, obs, noise, 4)
	require.NoError(t, err)
	return l, resid
}

func TestGaussian_MatchesReferenceDensity(t *testing.T) {
	l, resid := fixture(t, model.NoiseGaussian)

	got, err := l.LogLikelihood(truth())
	require.NoError(t, err)

	var want float64
	for i, r := range resid {
		want += distuv.Normal{Mu: 0, Sigma: l.Observation().FluxErr()[i]}.LogProb(r)
	}
	assert.InDelta(t, want, got, 1e-6)
}

func TestGaussian_JitterScalesSigma(t *testing.T) {
	l, resid := fixture(t, model.NoiseGaussian)

	p := truth()
	p[NameJitter] = 2
	got, err := l.LogLikelihood(p)
	require.NoError(t, err)

	var want float64
	for i, r := range resid {
		want += distuv.Normal{Mu: 0, Sigma: 2 * l.Observation().FluxErr()[i]}.LogProb(r)
	}
	assert.InDelta(t, want, got, 1e-6)

	for _, bad := range []float64{0, -1, math.Inf(1)} {
		p[NameJitter] = bad
		ll, err := l.LogLikelihood(p)
		require.NoError(t, err)
		assert.True(t, math.IsInf(ll, -1), "jitter=%g", bad)
	}
}

func TestStudentT_MatchesReferenceDensity(t *testing.T) {
	l, resid := fixture(t, model.NoiseStudentT)

	got, err := l.LogLikelihood(truth())
	require.NoError(t, err)
	var want float64
	for i, r := range resid {
		want += distuv.StudentsT{Mu: 0, Sigma: l.Observation().FluxErr()[i], Nu: 4}.LogProb(r)
	}
	assert.InDelta(t, want, got, 1e-6)

	p := truth()
	p[NameNu] = 2.5
	got, err = l.LogLikelihood(p)
	require.NoError(t, err)
	want = 0
	for i, r := range resid {
		want += distuv.StudentsT{Mu: 0, Sigma: l.Observation().FluxErr()[i], Nu: 2.5}.LogProb(r)
	}
	assert.InDelta(t, want, got, 1e-6)
}

func TestStudentT_RobustToOutlier(t *testing.T) {
	m, err := transit.New(model.LawUniform, model.BaselinePolynomial, 64)
	require.NoError(t, err)

	times := []float64{1, 2, 3, 4, 5}
	flux := []float64{1, 1, 1.05, 1, 1}
	sigma := []float64{0.001, 0.001, 0.001, 0.001, 0.001}
	obs, err := model.NewObservation(times, flux, sigma, nil)
	require.NoError(t, err)

	// Transit far from the data: prediction is the flat baseline.
	p := model.Parameters{"rprs": 0.1, "per": 100, "tmid": 50, "ars": 30, "inc": 90}

	g, err := New(m, obs, model.NoiseGaussian, 4)
	require.NoError(t, err)
	st, err := New(m, obs, model.NoiseStudentT, 4)
	require.NoError(t, err)

	lg, err := g.LogLikelihood(p)
	require.NoError(t, err)
	ls, err := st.LogLikelihood(p)
	require.NoError(t, err)
	assert.Less(t, lg, -1000.0)
	assert.Greater(t, ls, lg)
}

func TestLogLikelihood_PeaksAtTruth(t *testing.T) {
	l, _ := fixture(t, model.NoiseGaussian)

	best, err := l.LogLikelihood(truth())
	require.NoError(t, err)
	for _, delta := range []float64{-0.01, 0.01} {
		p := truth()
		p["rprs"] += delta
		ll, err := l.LogLikelihood(p)
		require.NoError(t, err)
		assert.Less(t, ll, best)
	}
}

func TestLogLikelihood_DomainIsNegInf(t *testing.T) {
	l, _ := fixture(t, model.NoiseGaussian)

	cases := map[string]func(p model.Parameters){
		"rprs above one":  func(p model.Parameters) { p["rprs"] = 1.5 },
		"ars inside star": func(p model.Parameters) { p["ars"] = 0.5 },
		"invalid ld":      func(p model.Parameters) { p["u1"] = 0.9; p["u2"] = 0.5 },
		"impact too big": func(p model.Parameters) {
			delete(p, "inc")
			p["b"] = 20
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := truth()
			mutate(p)
			ll, err := l.LogLikelihood(p)
			require.NoError(t, err)
			assert.True(t, math.IsInf(ll, -1))
		})
	}
}

func TestLogLikelihood_MalformedParams(t *testing.T) {
	l, _ := fixture(t, model.NoiseGaussian)

	p := truth()
	delete(p, "per")
	_, err := l.LogLikelihood(p)
	require.Error(t, err)
	assert.True(t, fiterr.IsConfig(err))
}

func TestNew_ConfigErrors(t *testing.T) {
	obs, err := model.NewObservation([]float64{0, 1}, []float64{1, 1}, []float64{0.1, 0.1}, nil)
	require.NoError(t, err)

	quad, err := transit.New(model.LawQuadratic, model.BaselinePolynomial, 64)
	require.NoError(t, err)
	_, err = New(quad, obs, "cauchy", 4)
	assert.True(t, fiterr.IsConfig(err))
	_, err = New(quad, obs, model.NoiseStudentT, 0)
	assert.True(t, fiterr.IsConfig(err))

	air, err := transit.New(model.LawQuadratic, model.BaselineAirmass, 64)
	require.NoError(t, err)
	_, err = New(air, obs, model.NoiseGaussian, 4)
	assert.True(t, fiterr.IsConfig(err))
}

func TestChiSquare(t *testing.T) {
	l, resid := fixture(t, model.NoiseGaussian)

	chi2, rms, err := l.ChiSquare(truth())
	require.NoError(t, err)

	var wantChi, ss float64
	for i, r := range resid {
		s := l.Observation().FluxErr()[i]
		wantChi += r * r / (s * s)
		ss += r * r
	}
	assert.InDelta(t, wantChi, chi2, 1e-6)
	assert.InDelta(t, math.Sqrt(ss/float64(len(resid))), rms, 1e-12)
}

func TestKnownParams(t *testing.T) {
	assert.True(t, KnownParams(model.NoiseGaussian, NameJitter))
	assert.False(t, KnownParams(model.NoiseGaussian, NameNu))
	assert.True(t, KnownParams(model.NoiseStudentT, NameNu))
	assert.False(t, KnownParams(model.NoiseStudentT, "rprs"))
}

func TestLogLikelihood_Concurrent(t *testing.T) {
	l, _ := fixture(t, model.NoiseStudentT)
	want, err := l.LogLikelihood(truth())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			p := truth()
			if g%2 == 1 {
				p["rprs"] = 0.2
			}
			got, err := l.LogLikelihood(p)
			assert.NoError(t, err)
			if g%2 == 0 {
				assert.Equal(t, want, got)
			}
		}(g)
	}
	wg.Wait()
}
