// Package fiterr defines the error taxonomy shared by the fitting engine.
//
// DomainError is internal control flow (mapped to a -Inf likelihood) and never
// reaches callers. StallError ends a run early with a partial result.
// ConfigError and NumericalError are fatal.
package fiterr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DomainError reports a physically invalid parameter combination.
type DomainError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *DomainError) Error() string {
	if e.Param == "" {
		return "domain: " + e.Reason
	}
	return fmt.Sprintf("domain: %s=%g: %s", e.Param, e.Value, e.Reason)
}

// NewDomainError creates a DomainError for the named parameter.
func NewDomainError(param string, value float64, reason string) *DomainError {
	return &DomainError{Param: param, Value: value, Reason: reason}
}

// StallError reports that constrained sampling could not find a replacement
// point above the likelihood threshold within its attempt budget.
type StallError struct {
	Iteration int
	Attempts  int
	LogLMin   float64
}

func (e *StallError) Error() string {
	return fmt.Sprintf("sampling stalled at iteration %d: no point above logL=%.6g after %d attempts",
		e.Iteration, e.LogLMin, e.Attempts)
}

// ConfigError reports an inconsistent parameter list or run
// configuration. It is raised before any iteration runs.
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Param == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Param, e.Reason)
}

// NewConfigError creates a ConfigError. param may be empty for run-level
// problems.
func NewConfigError(param, reason string) *ConfigError {
	return &ConfigError{Param: param, Reason: reason}
}

// NumericalError reports a NaN or infinite value outside the expected
// rejection paths. State carries a dump of the engine state when it fired.
type NumericalError struct {
	Iteration int
	Quantity  string
	Value     float64
	Point     []float64
	State     map[string]float64
}

func (e *NumericalError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "numerical instability at iteration %d: %s=%v", e.Iteration, e.Quantity, e.Value)
	if len(e.Point) > 0 {
		fmt.Fprintf(&b, " point=%v", e.Point)
	}
	if len(e.State) > 0 {
		keys := make([]string, 0, len(e.State))
		for k := range e.State {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" state={")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%g", k, e.State[k])
		}
		b.WriteString("}")
	}
	return b.String()
}

// IsDomain reports whether err (or any error in its chain) is a DomainError.
func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// IsConfig reports whether err (or any error in its chain) is a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsStall reports whether err (or any error in its chain) is a StallError.
func IsStall(err error) bool {
	var se *StallError
	return errors.As(err, &se)
}

// IsNumerical reports whether err (or any error in its chain) is a
// NumericalError.
func IsNumerical(err error) bool {
	var ne *NumericalError
	return errors.As(err, &ne)
}
