package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/csvwtest/internal/earl"
	"github.com/roach88/csvwtest/internal/results"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Processor string
	RunID     string
	Subject   string
	Assertor  string
	Output    string
	Database  string
}

// ReportInfo is the JSON result of the report command.
type ReportInfo struct {
	Processor  string `json:"processor"`
	Assertions int    `json:"assertions"`
	Output     string `json:"output,omitempty"`
	Report     string `json:"report,omitempty"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write an EARL report for a processor",
		Long: `Write an EARL report in Turtle from recorded verdicts.

The report opens with the processor's DOAP description from the registry
and asserts the latest verdict of every test run against the processor,
or the verdicts of a single run with --run.

Examples:
  csvwtest report --processor rdf-tabular --db results.db
  csvwtest report --processor http://localhost:8080/csvw?uri= --run 0190... -o earl.ttl`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Processor, "processor", "", "processor name or endpoint (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "report a single run instead of the latest verdicts")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "subject IRI when the DOAP names no doap:Project")
	cmd.Flags().StringVar(&opts.Assertor, "assertor", "", "IRI of the assertor (default: the report itself)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite results database (overrides config)")
	_ = cmd.MarkFlagRequired("processor")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
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
	ctx, cancel := signalContext(cmd, e.logger)
	defer cancel()

	reg, err := e.registry()
	if err != nil {
		return err
	}
	endpoint := opts.Processor
	var doap *earl.DOAP
	if reg != nil {
		endpoint = reg.Resolve(opts.Processor)
		p, err := reg.ByEndpoint(endpoint)
		if err != nil {
			return WrapExitError(ExitCommandError, "no processor", err)
		}
		if ref := p.DOAPRef(); ref != "" {
			e.logger.Info("loading DOAP", "processor", p.Name, "doap", ref)
			if doap, err = e.doapLoader().Load(ctx, ref); err != nil {
				return WrapExitError(ExitCommandError, "failed to load DOAP", err)
			}
		}
	}

	rs, err := e.results()
	if err != nil {
		return err
	}
	defer e.closeResults(rs)

	var recs []results.Record
	if opts.RunID != "" {
		recs, err = rs.Run(ctx, opts.RunID)
	} else {
		recs, err = rs.Latest(ctx, endpoint)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read results", err)
	}
	if len(recs) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no recorded results for %s", endpoint))
	}

	var buf bytes.Buffer
	err = earl.Build(&buf, earl.Report{
		DOAP:     doap,
		Subject:  opts.Subject,
		Assertor: opts.Assertor,
		TestBase: e.cfg.Manifest.Base,
		Results:  recs,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build report", err)
	}

	info := ReportInfo{Processor: endpoint, Assertions: len(recs)}
	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, buf.Bytes(), 0o644); err != nil {
			return WrapExitError(ExitCommandError, "failed to write report", err)
		}
		info.Output = opts.Output
	} else {
		info.Report = buf.String()
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(info)
	}
	if info.Output != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d assertions to %s\n", info.Assertions, info.Output)
		return nil
	}
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}
