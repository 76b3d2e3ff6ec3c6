package model

import (
	"maps"
	"slices"
)

// Parameters maps parameter names to physical values, covering both free and
// fixed parameters of a fit.
type Parameters map[string]float64

// Clone returns an independent copy.
func (p Parameters) Clone() Parameters {
	return maps.Clone(p)
}

// Names returns the parameter names in sorted order.
func (p Parameters) Names() []string {
	return slices.Sorted(maps.Keys(p))
}
