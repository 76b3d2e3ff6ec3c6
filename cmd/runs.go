package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/exowatch/transit-cli/internal/config"
	"github.com/exowatch/transit-cli/internal/model"
	"github.com/exowatch/transit-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect fit run history",
	Long:  "Commands for listing and viewing saved fit runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List fit runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(config.ModeStore); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		target, _ := cmd.Flags().GetString("target")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Target: target,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs get --

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(config.ModeStore); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs get")
		}

		var out any = run
		if withSamples, _ := cmd.Flags().GetBool("samples"); withSamples {
			samples, err := st.GetSamples(ctx, run.ID)
			if err != nil {
				return eris.Wrap(err, "runs get samples")
			}
			out = runWithSamples{Run: run, Samples: samples}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(config.ModeStore); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		target, _ := cmd.Flags().GetString("target")
		runs, err := st.ListRuns(ctx, store.RunFilter{Target: target, Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(cmd.OutOrStdout(), computeRunStats(runs))
		return nil
	},
}

// runWithSamples is the JSON shape of `runs get --samples`.
type runWithSamples struct {
	*model.Run
	Samples []model.Sample `json:"samples"`
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (queued, running, complete, incomplete, failed)")
	runsListCmd.Flags().String("target", "", "filter by target name")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsGetCmd.Flags().Bool("samples", false, "include the weighted posterior samples")

	runsStatsCmd.Flags().String("target", "", "restrict stats to one target")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Complete   int
	Incomplete int
	Failed     int
	Pending    int
	AvgDurSecs float64
	AvgESS     float64
}

// computeRunStats computes aggregate statistics from a list of runs. Duration
// and ESS averages cover complete runs only.
func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var totalESS float64
	var done int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			if r.Report != nil {
				totalESS += r.Report.ESS
			}
			done++
		case model.RunStatusIncomplete:
			s.Incomplete++
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}

	if done > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(done)
		s.AvgESS = totalESS / float64(done)
	}
	return s
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Incomplete:\t%d\n", s.Incomplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Queued/running:\t%d\n", s.Pending)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
		_, _ = fmt.Fprintf(w, "Avg ESS:\t%.0f\n", s.AvgESS)
	}
	_ = w.Flush()
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTARGET\tSTATUS\tLOG_Z\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t-----\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		logZ := "-"
		if r.Report != nil {
			logZ = fmt.Sprintf("%.2f ± %.2f", r.Report.LogZ, r.Report.LogZErr)
		}

		target := r.Request.Target
		if len(target) > 30 {
			target = target[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			target,
			r.Status,
			logZ,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
