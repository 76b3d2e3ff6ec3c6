package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exowatch/transit-cli/internal/fiterr"
)

func TestNewObservation_Valid(t *testing.T) {
	t.Parallel()

	times := []float64{0.0, 0.1, 0.2}
	flux := []float64{1.0, 0.99, 1.0}
	errs := []float64{0.001, 0.001, 0.001}

	obs, err := NewObservation(times, flux, errs, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, obs.Len())
	assert.False(t, obs.HasAirmass())

	lo, hi := obs.Span()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 0.2, hi)

	// Input slices are copied.
	times[0] = -5
	assert.Equal(t, 0.0, obs.Times()[0])
}

func TestNewObservation_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		time    []float64
		flux    []float64
		errs    []float64
		airmass []float64
		want    string
	}{
		{"empty", nil, nil, nil, nil, "no data points"},
		{"length mismatch", []float64{0, 1}, []float64{1}, []float64{0.1, 0.1}, nil, "length mismatch"},
		{"airmass mismatch", []float64{0, 1}, []float64{1, 1}, []float64{0.1, 0.1}, []float64{1}, "airmass=1"},
		{"not increasing", []float64{0, 0}, []float64{1, 1}, []float64{0.1, 0.1}, nil, "strictly increasing"},
		{"zero error", []float64{0, 1}, []float64{1, 1}, []float64{0.1, 0}, nil, "flux_err must be positive"},
		{"nan flux", []float64{0, 1}, []float64{1, math.NaN()}, []float64{0.1, 0.1}, nil, "non-finite"},
		{"bad airmass", []float64{0, 1}, []float64{1, 1}, []float64{0.1, 0.1}, []float64{1, -1}, "airmass must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewObservation(tt.time, tt.flux, tt.errs, tt.airmass)
			require.Error(t, err)
			assert.True(t, fiterr.IsConfig(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewObservation_Airmass(t *testing.T) {
	t.Parallel()

	obs, err := NewObservation([]float64{0, 1}, []float64{1, 1}, []float64{0.1, 0.1}, []float64{1.2, 1.3})
	require.NoError(t, err)
	assert.True(t, obs.HasAirmass())
	assert.Equal(t, []float64{1.2, 1.3}, obs.Airmass())
}
