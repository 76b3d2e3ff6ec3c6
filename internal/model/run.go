package model

import (
	"time"
)

// RunStatus represents the current state of a fit run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusRunning    RunStatus = "running"
	RunStatusComplete   RunStatus = "complete"
	RunStatusIncomplete RunStatus = "incomplete" // stalled or cancelled; partial report saved
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusComplete, RunStatusIncomplete, RunStatusFailed:
		return true
	default:
		return false
	}
}

// FitRequest describes the inputs of a fit run. The observation itself is not
// persisted, only where it came from and its size.
type FitRequest struct {
	Target    string          `json:"target"`
	Source    string          `json:"source"`
	NumPoints int             `json:"num_points"`
	Priors    []ParameterSpec `json:"priors"`
	Settings  FitSettings     `json:"settings"`
}

// Run represents a single fit run.
type Run struct {
	ID        string           `json:"id"`
	Request   FitRequest       `json:"request"`
	Status    RunStatus        `json:"status"`
	Report    *PosteriorReport `json:"report,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Sample is one weighted posterior sample as persisted by the store.
type Sample struct {
	Index  int                `json:"index"`
	LogL   float64            `json:"log_l"`
	Weight float64            `json:"weight"`
	Params map[string]float64 `json:"params"`
}
