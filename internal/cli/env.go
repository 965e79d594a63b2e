package cli

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/csvwtest/internal/config"
	"github.com/roach88/csvwtest/internal/earl"
	"github.com/roach88/csvwtest/internal/logging"
	"github.com/roach88/csvwtest/internal/manifest"
	"github.com/roach88/csvwtest/internal/processors"
	"github.com/roach88/csvwtest/internal/resource"
	"github.com/roach88/csvwtest/internal/results"
	"github.com/roach88/csvwtest/internal/runner"
)

// env holds what the commands share once the configuration is loaded.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	client *http.Client
}

// loadEnv reads the config file named by --config (defaults otherwise) and
// builds the logger. --verbose forces debug logging.
func loadEnv(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Level:  level,
		Format: cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid log settings", err)
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.FetchTimeout},
	}, nil
}

// revalidate re-checks the configuration after flags have been applied.
func (e *env) revalidate() error {
	if err := e.cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return nil
}

func (e *env) cacheBackend() *manifest.DirBackend {
	return manifest.NewDirBackend(e.cfg.Manifest.Cache)
}

// manifestStore opens the manifest store described by the configuration.
func (e *env) manifestStore() (*manifest.Store, error) {
	var src manifest.Source
	if e.cfg.ManifestIsRemote() {
		src = manifest.NewHTTPSource(e.cfg.Manifest.Source, e.client, manifest.SystemClock)
	} else {
		src = manifest.NewFileSource(e.cfg.Manifest.Source)
	}

	opts := []manifest.StoreOption{
		manifest.WithBase(e.cfg.Manifest.Base),
		manifest.WithLogger(e.logger),
	}
	if e.cfg.Manifest.Frame != "" {
		frame, err := os.ReadFile(e.cfg.Manifest.Frame)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read frame", err)
		}
		project, err := manifest.NewFramer(frame)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid frame", err)
		}
		opts = append(opts, manifest.WithProjector(project))
	}
	return manifest.NewStore(src, e.cacheBackend(), opts...), nil
}

// suite resolves entry resources from tests_dir, or from tests_base over
// HTTP when no directory is configured.
func (e *env) suite() (resource.Suite, error) {
	if e.cfg.TestsDir != "" {
		s, err := resource.NewDirSuite(e.cfg.TestsBase, os.DirFS(e.cfg.TestsDir))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid test suite", err)
		}
		return s, nil
	}
	s, err := resource.NewHTTPSuite(e.cfg.TestsBase, e.client)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid test suite", err)
	}
	return s, nil
}

func (e *env) runner() (*runner.Runner, error) {
	suite, err := e.suite()
	if err != nil {
		return nil, err
	}
	return runner.New(suite,
		runner.WithHTTPClient(e.client),
		runner.WithLogger(e.logger),
	), nil
}

// registry loads the processor registry. A missing file yields nil.
func (e *env) registry() (*processors.Registry, error) {
	reg, err := processors.Load(e.cfg.Processors)
	if errors.Is(err, fs.ErrNotExist) {
		e.logger.Debug("no processor registry", "path", e.cfg.Processors)
		return nil, nil
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load processors", err)
	}
	return reg, nil
}

// doapLoader reads local DOAP references relative to the registry file.
func (e *env) doapLoader() *earl.Loader {
	return &earl.Loader{
		FS:     os.DirFS(filepath.Dir(e.cfg.Processors)),
		Client: e.client,
	}
}

// results opens the verdict log. An empty path yields nil.
func (e *env) results() (*results.Store, error) {
	if e.cfg.ResultsDB == "" {
		return nil, nil
	}
	st, err := results.Open(e.cfg.ResultsDB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open results database", err)
	}
	return st, nil
}

func (e *env) closeResults(st *results.Store) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		e.logger.Error("error closing results database", "error", err)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, or when
// the command's own context is done.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func describeStatus(s manifest.Status) string {
	switch s {
	case manifest.StatusPass:
		return "PASS"
	case manifest.StatusFail:
		return "FAIL"
	case manifest.StatusError:
		return "ERROR"
	}
	return strings.ToUpper(string(s))
}
