package cli

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/roach88/csvwtest/internal/manifest"
	"github.com/roach88/csvwtest/internal/results"
	"github.com/roach88/csvwtest/internal/runner"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Parallel int
	Filter   string // glob over test names
	Database string
}

// TestOutcome is one line of a run report.
type TestOutcome struct {
	ID         string `json:"id"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	Location   string `json:"location,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// RunReport summarizes a run.
type RunReport struct {
	Processor string        `json:"processor"`
	Tests     []TestOutcome `json:"tests"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Errored   int           `json:"errored"`
	Total     int           `json:"total"`

	verbose bool
}

func (r RunReport) String() string {
	var b strings.Builder
	for _, t := range r.Tests {
		fmt.Fprintf(&b, "%-6s %s", describeStatus(manifest.Status(t.Outcome)), t.ID)
		if r.verbose {
			fmt.Fprintf(&b, " (%s)", time.Duration(t.DurationMS)*time.Millisecond)
		}
		b.WriteByte('\n')
		if t.Error != "" {
			fmt.Fprintf(&b, "       %s\n", t.Error)
		}
	}
	fmt.Fprintf(&b, "\n%d tests against %s: %d passed, %d failed, %d errors",
		r.Total, r.Processor, r.Passed, r.Failed, r.Errored)
	return b.String()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <processor> [test...]",
		Short: "Run manifest entries against a processor",
		Long: `Run manifest entries against a processor endpoint and print a verdict
for each.

<processor> is an endpoint URL (the action URL is appended to it), a
processor name from the registry, or the reflector endpoint
"http://example.org/reflector?uri=". Tests are named by id or by the
fragment after '#'; with none given every entry runs.

Exit codes:
  0 - All tests passed
  1 - One or more tests failed or errored
  2 - Command error (bad config, unreachable manifest, etc.)

Examples:
  csvwtest run http://localhost:8080/csvw?uri=
  csvwtest run rdf-tabular test001 test005
  csvwtest run rdf-tabular --filter "test1*" --parallel 8 --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 4, "maximum concurrent tests")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run tests whose name matches this glob")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record verdicts in this SQLite database (overrides config)")

	return cmd
}

func runTests(opts *RunOptions, processor string, names []string, cmd *cobra.Command) error {
	if opts.Parallel < 1 {
		return NewExitError(ExitCommandError, "--parallel must be at least 1")
	}
	if opts.Filter != "" {
		if _, err := path.Match(opts.Filter, ""); err != nil {
			return WrapExitError(ExitCommandError, "invalid --filter", err)
		}
	}

	e, err := loadEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if opts.Database != "" {
		e.cfg.ResultsDB = opts.Database
	}
	if err := e.revalidate(); err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd, e.logger)
	defer cancel()

	endpoint := processor
	reg, err := e.registry()
	if err != nil {
		return err
	}
	if reg != nil {
		endpoint = reg.Resolve(processor)
	}
	if err := checkEndpoint(endpoint); err != nil {
		return WrapExitError(ExitCommandError, "invalid processor", err)
	}

	store, err := e.manifestStore()
	if err != nil {
		return err
	}
	m, err := store.Load(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load manifest", err)
	}
	entries, err := selectEntries(m, names, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to select tests", err)
	}

	f := newFormatter(opts.RootOptions, cmd)
	f.VerboseLog("Loaded %d entries from %s; running %d", m.Len(), store.Location(), len(entries))

	run, err := e.runner()
	if err != nil {
		return err
	}
	rs, err := e.results()
	if err != nil {
		return err
	}
	defer e.closeResults(rs)

	e.logger.Info("running tests", "processor", endpoint, "tests", len(entries), "parallel", opts.Parallel)
	verdicts := make([]runner.Verdict, len(entries))
	p := pool.New().WithMaxGoroutines(opts.Parallel)
	for i := range entries {
		p.Go(func() {
			verdicts[i] = run.Run(ctx, &entries[i], endpoint)
		})
	}
	p.Wait()

	var runID string
	if rs != nil {
		runID = rs.NewRunID()
		for _, v := range verdicts {
			if err := rs.Write(ctx, results.FromVerdict(runID, endpoint, v)); err != nil {
				return WrapExitError(ExitCommandError, "failed to record verdict", err)
			}
		}
	}

	report := summarize(endpoint, verdicts)
	report.verbose = opts.Verbose
	if err := f.SuccessRun(runID, report); err != nil {
		return err
	}
	if report.Failed+report.Errored > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d tests did not pass", report.Failed+report.Errored, report.Total))
	}
	return nil
}

// checkEndpoint accepts absolute http(s) endpoints, percent-encoded or not.
func checkEndpoint(endpoint string) error {
	if unescaped, err := url.PathUnescape(endpoint); err == nil {
		endpoint = unescaped
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q is neither a registered processor nor an http(s) endpoint", endpoint)
	}
	return nil
}

// selectEntries returns the named entries, or every entry when names is
// empty, narrowed by the glob filter over entry fragments.
func selectEntries(m *manifest.Manifest, names []string, filter string) ([]manifest.Entry, error) {
	var entries []manifest.Entry
	if len(names) == 0 {
		entries = m.Entries()
	} else {
		for _, name := range names {
			entry, ok := m.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("no test entry %q", name)
			}
			entries = append(entries, entry)
		}
	}

	if filter == "" {
		return entries, nil
	}
	kept := entries[:0]
	for _, entry := range entries {
		if ok, _ := path.Match(filter, entry.Fragment()); ok {
			kept = append(kept, entry)
		}
	}
	return kept, nil
}

func summarize(processor string, verdicts []runner.Verdict) RunReport {
	r := RunReport{
		Processor: processor,
		Tests:     make([]TestOutcome, 0, len(verdicts)),
		Total:     len(verdicts),
	}
	for _, v := range verdicts {
		switch v.Outcome {
		case manifest.StatusPass:
			r.Passed++
		case manifest.StatusFail:
			r.Failed++
		default:
			r.Errored++
		}
		r.Tests = append(r.Tests, TestOutcome{
			ID:         v.TestID,
			Outcome:    string(v.Outcome),
			Error:      v.Diagnostic(),
			Location:   v.Location,
			DurationMS: v.Duration.Milliseconds(),
		})
	}
	return r
}
