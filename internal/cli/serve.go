package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/csvwtest/internal/manifest"
	"github.com/roach88/csvwtest/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
	Watch  bool
	Record string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the test manifest and run tests over HTTP",
		Long: `Serve the CSVW test manifest as JSON-LD or Turtle and run entries
against processors on POST /tests/{id}.

The manifest is loaded once at startup so a broken manifest fails fast.
With --watch, edits to a local manifest are picked up without a restart.

Example:
  csvwtest serve --listen :9393
  csvwtest serve --config csvwtest.yaml --watch --db results.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "address to listen on (overrides config)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "reload a local manifest when it changes")
	cmd.Flags().StringVar(&opts.Record, "db", "", "record verdicts in this SQLite database (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	e, err := loadEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		e.cfg.Listen = opts.Listen
	}
	if opts.Watch {
		e.cfg.Manifest.Watch = true
	}
	if opts.Record != "" {
		e.cfg.ResultsDB = opts.Record
	}
	if err := e.revalidate(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd, e.logger)
	defer cancel()

	store, err := e.manifestStore()
	if err != nil {
		return err
	}
	m, err := store.Load(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load manifest", err)
	}
	e.logger.Info("manifest loaded", "source", store.Location(), "entries", m.Len())

	run, err := e.runner()
	if err != nil {
		return err
	}
	reg, err := e.registry()
	if err != nil {
		return err
	}
	rs, err := e.results()
	if err != nil {
		return err
	}
	defer e.closeResults(rs)

	srvOpts := []server.Option{
		server.WithLogger(e.logger),
		server.WithMaxAge(e.cfg.MaxAge),
		server.WithDOAPLoader(e.doapLoader()),
	}
	if reg != nil {
		srvOpts = append(srvOpts, server.WithProcessors(reg))
	}
	if rs != nil {
		srvOpts = append(srvOpts, server.WithResults(rs))
	}
	srv := server.New(store, run, srvOpts...)

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d tests on http://%s/tests\n", m.Len(), e.cfg.Listen)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, e.cfg.Listen)
	})
	if e.cfg.Manifest.Watch {
		g.Go(func() error {
			return manifest.Watch(gctx, e.cfg.Manifest.Source, store, e.logger)
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "server error", err)
	}

	e.logger.Info("server stopped gracefully")
	return nil
}
