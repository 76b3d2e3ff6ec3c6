package space

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
)

func testSpecs() []model.ParameterSpec {
	return []model.ParameterSpec{
		{Name: "rprs", Prior: model.Uniform(0.01, 0.3)},
		{Name: "per", Prior: model.Fixed(3.5), Unit: "d"},
		{Name: "tmid", Prior: model.Gaussian(0, 0.01), Unit: "d"},
		{Name: "ars", Prior: model.LogUniform(2, 50)},
		{Name: "inc", Prior: model.Uniform(80, 90), Unit: "deg"},
	}
}

func TestNew(t *testing.T) {
	s, err := New(testSpecs())
	require.NoError(t, err)

	assert.Equal(t, 4, s.Dim())
	assert.Equal(t, []string{"rprs", "tmid", "ars", "inc"}, s.Names())
	assert.Equal(t, []string{"rprs", "tmid", "ars", "inc", "per"}, s.AllNames())
	assert.Equal(t, model.Parameters{"per": 3.5}, s.Fixed())
	assert.True(t, s.Has("per"))
	assert.False(t, s.IsFree("per"))
	assert.True(t, s.IsFree("ars"))
	assert.Equal(t, "deg", s.Unit("inc"))
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		specs []model.ParameterSpec
	}{
		{"empty", nil},
		{"all fixed", []model.ParameterSpec{{Name: "a", Prior: model.Fixed(1)}, {Name: "b", Prior: model.Fixed(2)}}},
		{"inverted bounds", []model.ParameterSpec{{Name: "a", Prior: model.Uniform(1, 1)}}},
		{"zero sigma", []model.ParameterSpec{{Name: "a", Prior: model.Gaussian(0, 0)}}},
		{"loguniform at zero", []model.ParameterSpec{{Name: "a", Prior: model.LogUniform(0, 1)}}},
		{"duplicate", []model.ParameterSpec{{Name: "a", Prior: model.Uniform(0, 1)}, {Name: "a", Prior: model.Uniform(0, 1)}}},
		{"non-finite", []model.ParameterSpec{{Name: "a", Prior: model.Uniform(0, math.Inf(1))}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.specs)
			require.Error(t, err)
			assert.True(t, fiterr.IsConfig(err))
		})
	}
}

func TestToPhysical(t *testing.T) {
	s, err := New(testSpecs())
	require.NoError(t, err)

	p, err := s.ToPhysical([]float64{0.5, 0.5, 0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.155, p["rprs"], 1e-12)
	assert.InDelta(t, 0, p["tmid"], 1e-12)
	assert.InDelta(t, 2, p["ars"], 1e-12)
	assert.InDelta(t, 90, p["inc"], 1e-12)
	assert.Equal(t, 3.5, p["per"])
}

func TestToPhysical_GaussianEdgesFinite(t *testing.T) {
	s, err := New([]model.ParameterSpec{{Name: "tmid", Prior: model.Gaussian(0, 1)}})
	require.NoError(t, err)

	for _, u := range []float64{0, 1} {
		p, err := s.ToPhysical([]float64{u})
		require.NoError(t, err)
		assert.False(t, math.IsInf(p["tmid"], 0))
		assert.False(t, math.IsNaN(p["tmid"]))
	}
}

func TestToPhysical_Monotonic(t *testing.T) {
	s, err := New(testSpecs())
	require.NoError(t, err)

	prev := make([]float64, s.Dim())
	for i := range prev {
		prev[i] = math.Inf(-1)
	}
	for k := 0; k <= 100; k++ {
		u := float64(k) / 100
		p, err := s.ToPhysical([]float64{u, u, u, u})
		require.NoError(t, err)
		for i, name := range s.Names() {
			assert.GreaterOrEqual(t, p[name], prev[i], name)
			prev[i] = p[name]
		}
	}
}

func TestToPhysical_Rejects(t *testing.T) {
	s, err := New(testSpecs())
	require.NoError(t, err)

	_, err = s.ToPhysical([]float64{0.5})
	require.Error(t, err)

	_, err = s.ToPhysical([]float64{0.5, 1.2, 0.5, 0.5})
	require.Error(t, err)
	assert.True(t, fiterr.IsDomain(err))
}

func TestRoundTrip(t *testing.T) {
	s, err := New(testSpecs())
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 500; i++ {
		want := model.Parameters{
			"rprs": 0.01 + rng.Float64()*0.29,
			"tmid": math.Max(-0.04, math.Min(0.04, rng.NormFloat64()*0.01)),
			"ars":  2 * math.Exp(rng.Float64()*math.Log(25)),
			"inc":  80 + rng.Float64()*10,
			"per":  3.5,
		}
		u, err := s.ToUnitCube(want)
		require.NoError(t, err)
		got, err := s.ToPhysical(u)
		require.NoError(t, err)
		for name, v := range want {
			assert.InDelta(t, v, got[name], 1e-9*math.Max(1, math.Abs(v)), name)
		}
	}
}

func TestToUnitCube_Errors(t *testing.T) {
	s, err := New(testSpecs())
	require.NoError(t, err)

	_, err = s.ToUnitCube(model.Parameters{"rprs": 0.1})
	require.Error(t, err)

	_, err = s.ToUnitCube(model.Parameters{"rprs": 0.5, "tmid": 0, "ars": 10, "inc": 85})
	require.Error(t, err)
	assert.True(t, fiterr.IsDomain(err))
}

func TestLogPrior(t *testing.T) {
	s, err := New([]model.ParameterSpec{
		{Name: "a", Prior: model.Uniform(0, 10)},
		{Name: "b", Prior: model.Gaussian(1, 2)},
		{Name: "c", Prior: model.LogUniform(1, math.E)},
	})
	require.NoError(t, err)

	// u=0.5 maps b onto its mean and c onto sqrt(e).
	lp := s.LogPrior([]float64{0.5, 0.5, 0.5})
	want := -math.Log(2) - 0.5*math.Log(2*math.Pi) - math.Log(math.Sqrt(math.E))
	assert.InDelta(t, want, lp, 1e-9)

	assert.True(t, math.IsInf(s.LogPrior([]float64{-0.1, 0.5, 0.5}), -1))
	assert.True(t, math.IsInf(s.LogPrior([]float64{0.5, 0.5, 1.0001}), -1))
	assert.True(t, math.IsInf(s.LogPrior([]float64{0.5, math.NaN(), 0.5}), -1))
	assert.True(t, math.IsInf(s.LogPrior([]float64{0.5}), -1))
}
