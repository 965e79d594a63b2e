package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/csvwtest/internal/results"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Processor string
	Database  string
}

// RunHistory lists recorded runs.
type RunHistory struct {
	Runs []RunEntry `json:"runs"`
}

// RunEntry is one recorded run.
type RunEntry struct {
	RunID     string    `json:"run_id"`
	Processor string    `json:"processor"`
	Started   time.Time `json:"started"`
	Total     int       `json:"total"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
	Errored   int       `json:"errored"`
}

func (h RunHistory) String() string {
	if len(h.Runs) == 0 {
		return "No runs recorded."
	}
	var b strings.Builder
	for i, r := range h.Runs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  %s  %s  %d/%d passed, %d failed, %d errors",
			r.RunID, r.Started.Format(time.RFC3339), r.Processor, r.Passed, r.Total, r.Failed, r.Errored)
	}
	return b.String()
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Long: `List the runs recorded in the results database, newest first per
processor.

Examples:
  csvwtest runs --db results.db
  csvwtest runs --processor rdf-tabular --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Processor, "processor", "", "only list runs against this processor")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite results database (overrides config)")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	e, err := loadEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if opts.Database != "" {
		e.cfg.ResultsDB = opts.Database
	}
	if e.cfg.ResultsDB == "" {
		return NewExitError(ExitCommandError, "no results database: set results_db or pass --db")
	}
	ctx := cmd.Context()

	rs, err := e.results()
	if err != nil {
		return err
	}
	defer e.closeResults(rs)

	procs := []string{opts.Processor}
	if opts.Processor == "" {
		if procs, err = rs.Processors(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to read results", err)
		}
	} else if reg, err := e.registry(); err != nil {
		return err
	} else if reg != nil {
		procs[0] = reg.Resolve(opts.Processor)
	}

	history := RunHistory{Runs: []RunEntry{}}
	for _, p := range procs {
		summaries, err := rs.Runs(ctx, p)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read results", err)
		}
		for _, s := range summaries {
			history.Runs = append(history.Runs, runEntry(s))
		}
	}
	return newFormatter(opts.RootOptions, cmd).Success(history)
}

func runEntry(s results.RunSummary) RunEntry {
	return RunEntry{
		RunID:     s.RunID,
		Processor: s.Processor,
		Started:   s.Started,
		Total:     s.Total,
		Passed:    s.Pass,
		Failed:    s.Fail,
		Errored:   s.Error,
	}
}
