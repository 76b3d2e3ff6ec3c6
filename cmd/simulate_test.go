package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/ingest"
)

func TestRunSimulate_WritesReadableCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runSimulate(simOptions(), &buf))

	obs, err := ingest.ReadObservationCSV(context.Background(), &buf, ingest.CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, 120, obs.Len())

	lo, hi := obs.Span()
	assert.InDelta(t, -0.12, lo, 1e-12)
	assert.InDelta(t, 0.12, hi, 1e-12)

	// The deepest point sits about one transit depth (~1.2%) below baseline.
	minFlux := obs.Flux()[0]
	for _, f := range obs.Flux() {
		minFlux = min(minFlux, f)
	}
	assert.Greater(t, minFlux, 0.98)
	assert.Less(t, minFlux, 0.993)
}

func TestRunSimulate_Deterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, runSimulate(simOptions(), &a))
	require.NoError(t, runSimulate(simOptions(), &b))
	assert.Equal(t, a.String(), b.String())

	other := simOptions()
	other.Seed = 6
	var c bytes.Buffer
	require.NoError(t, runSimulate(other, &c))
	assert.NotEqual(t, a.String(), c.String())
}

func TestRunSimulate_ParamOverrides(t *testing.T) {
	opts := simOptions()
	opts.Params = map[string]string{"b": "0.2"}

	var buf bytes.Buffer
	require.NoError(t, runSimulate(opts, &buf), "b should replace the default inclination")
}

func TestRunSimulate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*simulateOptions)
	}{
		{"not a number", func(o *simulateOptions) { o.Params = map[string]string{"rprs": "big"} }},
		{"too few points", func(o *simulateOptions) { o.Points = 1 }},
		{"zero noise", func(o *simulateOptions) { o.Sigma = 0 }},
		{"inc and b", func(o *simulateOptions) { o.Params = map[string]string{"b": "0.2", "inc": "88"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := simOptions()
			tt.mutate(&opts)
			var buf bytes.Buffer
			err := runSimulate(opts, &buf)
			require.Error(t, err)
			assert.True(t, fiterr.IsConfig(err), "want ConfigError, got %v", err)
			assert.Zero(t, buf.Len())
		})
	}
}
