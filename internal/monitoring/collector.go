package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/exowatch/transit-cli/internal/model"
	"github.com/exowatch/transit-cli/internal/store"
)

const collectPageSize = 500

// MetricsSnapshot holds a point-in-time view of fit run health.
type MetricsSnapshot struct {
	Total      int `json:"total"`
	Complete   int `json:"complete"`
	Incomplete int `json:"incomplete"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`

	// Rates are over finished runs (complete, incomplete or failed).
	FailRate       float64 `json:"fail_rate"`
	IncompleteRate float64 `json:"incomplete_rate"`

	AvgDurationSecs float64 `json:"avg_duration_secs"`
	AvgESS          float64 `json:"avg_ess"`

	LookbackHours float64   `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished is the number of runs in a terminal state.
func (s *MetricsSnapshot) Finished() int {
	return s.Complete + s.Incomplete + s.Failed
}

// RunLister is the part of store.Store the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run metrics from the store.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect pages through runs newest first and summarises those created
// within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookback time.Duration) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookback.Hours(),
		CollectedAt:   now,
	}
	cutoff := now.Add(-lookback)

	var totalDur, totalESS float64
	for offset := 0; ; offset += collectPageSize {
		page, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: collectPageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list runs")
		}

		for _, r := range page {
			if r.CreatedAt.Before(cutoff) {
				continue
			}
			snap.Total++
			switch r.Status {
			case model.RunStatusComplete:
				snap.Complete++
				totalDur += r.UpdatedAt.Sub(r.CreatedAt).Seconds()
				if r.Report != nil {
					totalESS += r.Report.ESS
				}
			case model.RunStatusIncomplete:
				snap.Incomplete++
			case model.RunStatusFailed:
				snap.Failed++
			default:
				snap.Pending++
			}
		}

		// Pages are newest first, so a short page or one ending before the
		// cutoff is the last one worth reading.
		if len(page) < collectPageSize || page[len(page)-1].CreatedAt.Before(cutoff) {
			break
		}
	}

	if finished := snap.Finished(); finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
		snap.IncompleteRate = float64(snap.Incomplete) / float64(finished)
	}
	if snap.Complete > 0 {
		snap.AvgDurationSecs = totalDur / float64(snap.Complete)
		snap.AvgESS = totalESS / float64(snap.Complete)
	}
	return snap, nil
}
