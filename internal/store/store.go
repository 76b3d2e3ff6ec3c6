// Package store persists fit runs, their posterior reports and weighted
// samples in SQLite or Postgres.
package store

import (
	"context"
	"errors"

	"github.com/exowatch/transit-cli/internal/model"
	"github.com/exowatch/transit-cli/internal/resilience"
)

// ErrNotFound is returned (wrapped) when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Target string          `json:"target,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for fit runs.
type Store interface {
	CreateRun(ctx context.Context, req model.FitRequest) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	// SaveReport stores the report and moves the run to complete or
	// incomplete depending on report.Complete.
	SaveReport(ctx context.Context, runID string, report *model.PosteriorReport) error
	FailRun(ctx context.Context, runID string, msg string) error
	SaveSamples(ctx context.Context, runID string, samples []model.Sample) (int64, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	GetSamples(ctx context.Context, runID string) ([]model.Sample, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// reportStatus maps a report to the run status it implies.
func reportStatus(report *model.PosteriorReport) model.RunStatus {
	if report.Complete {
		return model.RunStatusComplete
	}
	return model.RunStatusIncomplete
}

func retryConfig(operation string) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("store", operation)
	return cfg
}
