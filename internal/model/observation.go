package model

import (
	"fmt"
	"math"

	"github.com/exowatch/transit-cli/internal/fiterr"
)

// Observation is a light curve: strictly increasing timestamps with relative
// flux, flux uncertainty and optional airmass. It is immutable once built;
// the slice accessors return read-only views shared with the observation.
type Observation struct {
	time    []float64
	flux    []float64
	fluxErr []float64
	airmass []float64
}

// NewObservation validates and copies the input columns. airmass may be nil.
func NewObservation(time, flux, fluxErr, airmass []float64) (*Observation, error) {
	n := len(time)
	if n == 0 {
		return nil, fiterr.NewConfigError("observation", "no data points")
	}
	if len(flux) != n || len(fluxErr) != n {
		return nil, fiterr.NewConfigError("observation",
			fmt.Sprintf("column length mismatch: time=%d flux=%d flux_err=%d", n, len(flux), len(fluxErr)))
	}
	if airmass != nil && len(airmass) != n {
		return nil, fiterr.NewConfigError("observation",
			fmt.Sprintf("column length mismatch: time=%d airmass=%d", n, len(airmass)))
	}

	for i := 0; i < n; i++ {
		if !finite(time[i]) || !finite(flux[i]) || !finite(fluxErr[i]) {
			return nil, fiterr.NewConfigError("observation", fmt.Sprintf("non-finite value at row %d", i))
		}
		if fluxErr[i] <= 0 {
			return nil, fiterr.NewConfigError("observation", fmt.Sprintf("flux_err must be positive at row %d", i))
		}
		if i > 0 && time[i] <= time[i-1] {
			return nil, fiterr.NewConfigError("observation", fmt.Sprintf("time not strictly increasing at row %d", i))
		}
		if airmass != nil && (!finite(airmass[i]) || airmass[i] <= 0) {
			return nil, fiterr.NewConfigError("observation", fmt.Sprintf("airmass must be positive at row %d", i))
		}
	}

	obs := &Observation{
		time:    append([]float64(nil), time...),
		flux:    append([]float64(nil), flux...),
		fluxErr: append([]float64(nil), fluxErr...),
	}
	if airmass != nil {
		obs.airmass = append([]float64(nil), airmass...)
	}
	return obs, nil
}

// Len returns the number of data points.
func (o *Observation) Len() int { return len(o.time) }

// Times returns the timestamps. Callers must not modify the slice.
func (o *Observation) Times() []float64 { return o.time }

// Flux returns the relative flux. Callers must not modify the slice.
func (o *Observation) Flux() []float64 { return o.flux }

// FluxErr returns the flux uncertainties. Callers must not modify the slice.
func (o *Observation) FluxErr() []float64 { return o.fluxErr }

// Airmass returns the airmass column, or nil if the observation has none.
// Callers must not modify the slice.
func (o *Observation) Airmass() []float64 { return o.airmass }

// HasAirmass reports whether an airmass column is present.
func (o *Observation) HasAirmass() bool { return o.airmass != nil }

// Span returns the first and last timestamps.
func (o *Observation) Span() (float64, float64) {
	return o.time[0], o.time[len(o.time)-1]
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
