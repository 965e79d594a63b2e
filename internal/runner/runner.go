package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/csvwtest/internal/compare"
	"github.com/roach88/csvwtest/internal/manifest"
	"github.com/roach88/csvwtest/internal/resource"
)

// ReflectorEndpoint is the sentinel endpoint that short-circuits the
// processor call.
const ReflectorEndpoint = "http://example.org/reflector?uri="

const (
	acceptJSON = "application/json, application/csvm+json;q=0.9, application/ld+json;q=0.8, */*;q=0.1"
	acceptRDF  = "text/turtle, application/n-triples;q=0.9, application/ld+json;q=0.8, application/rdf+xml;q=0.7, application/n-quads;q=0.6, */*;q=0.1"
)

// IsReflector reports whether endpoint designates the reflector.
func IsReflector(endpoint string) bool {
	if unescaped, err := url.PathUnescape(endpoint); err == nil {
		endpoint = unescaped
	}
	return strings.HasPrefix(endpoint, strings.TrimSuffix(ReflectorEndpoint, "?uri="))
}

// InvocationURL concatenates the decoded endpoint and the absolute action URI.
func InvocationURL(endpoint, action string) (string, error) {
	unescaped, err := url.PathUnescape(endpoint)
	if err != nil {
		return "", fmt.Errorf("decode processor endpoint %q: %w", endpoint, err)
	}
	u := unescaped + action
	if _, err := url.Parse(u); err != nil {
		return "", fmt.Errorf("invocation URL %q: %w", u, err)
	}
	return u, nil
}

// TransportError is a failed processor call.
type TransportError struct {
	URL string
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("GET %s: processor responded %d %s", e.URL, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is a failed processor call.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Verdict is the outcome of one run.
type Verdict struct {
	TestID  string
	Outcome manifest.Status

	// Artifact is the raw body the processor returned (or the reflected
	// expected result). Empty when the fetch failed.
	Artifact    []byte
	ContentType string

	// Location is the URL the artifact was fetched from.
	Location string

	Reflected bool
	Err       error
	Duration  time.Duration
}

// Diagnostic returns the error text, or "" for Pass and Fail.
func (v Verdict) Diagnostic() string {
	if v.Err == nil {
		return ""
	}
	return v.Err.Error()
}

// Runner runs entries of one suite.
type Runner struct {
	suite  resource.Suite
	client *http.Client
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithHTTPClient sets the client used to call processors.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) { r.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a runner resolving entry resources through suite.
func New(suite resource.Suite, opts ...Option) *Runner {
	r := &Runner{
		suite:  suite,
		client: http.DefaultClient,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type runConfig struct {
	progress func(manifest.Entry)
}

// RunOption configures a single run.
type RunOption func(*runConfig)

// OnProgress registers fn to receive a copy of the entry each time its
// status changes.
func OnProgress(fn func(manifest.Entry)) RunOption {
	return func(c *runConfig) { c.progress = fn }
}

// Run executes entry against endpoint and sets entry.Status to the
// outcome. It never returns a verdict with a non-terminal outcome.
func (r *Runner) Run(ctx context.Context, entry *manifest.Entry, endpoint string, opts ...RunOption) Verdict {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	start := time.Now()

	cls := entry.Classification()
	if cls.Ambiguous {
		r.logger.Warn("entry tagged with conflicting comparison markers",
			"test", entry.ID,
			"types", entry.Types,
			"using", cls.Comparison.String(),
		)
	}
	r.logger.Debug("classified entry",
		"test", entry.ID,
		"comparison", cls.Comparison.String(),
		"positive", cls.Positive,
	)

	r.transition(entry, manifest.StatusRunning, cfg)

	v := Verdict{TestID: entry.ID}
	var err error
	if IsReflector(endpoint) {
		v.Reflected = true
		err = r.reflect(ctx, entry, &v)
	} else {
		err = r.fetch(ctx, entry, cls.Comparison, endpoint, &v)
	}
	if err == nil {
		v.Outcome, err = r.judge(ctx, entry, cls, v)
	}
	if err != nil {
		v.Outcome = manifest.StatusError
		v.Err = err
	}
	v.Duration = time.Since(start)

	r.transition(entry, v.Outcome, cfg)
	r.logger.Info("test finished",
		"test", entry.ID,
		"outcome", string(v.Outcome),
		"location", v.Location,
		"duration", v.Duration,
		"error", v.Diagnostic(),
	)
	return v
}

func (r *Runner) transition(entry *manifest.Entry, s manifest.Status, cfg runConfig) {
	entry.Status = s
	if cfg.progress != nil {
		cfg.progress(*entry)
	}
}

// reflect substitutes the expected result for the processor output. Entries
// without a result reflect their action.
func (r *Runner) reflect(ctx context.Context, entry *manifest.Entry, v *Verdict) error {
	ref := entry.Result
	if ref == "" {
		ref = entry.Action
	}
	res, err := r.suite.Locate(ref).Open(ctx)
	if err != nil {
		return fmt.Errorf("reflect %s: %w", ref, err)
	}
	v.Artifact = res.Body
	v.ContentType = res.ContentType
	v.Location = res.Location
	return nil
}

// Invocation returns the URL used to call endpoint for entry.
func (r *Runner) Invocation(entry *manifest.Entry, endpoint string) (string, error) {
	return InvocationURL(endpoint, r.suite.Resolve(entry.Action))
}

func (r *Runner) fetch(ctx context.Context, entry *manifest.Entry, kind manifest.Comparison, endpoint string, v *Verdict) error {
	invocation, err := r.Invocation(entry, endpoint)
	if err != nil {
		return &TransportError{URL: endpoint, Err: err}
	}
	v.Location = invocation
	r.logger.Debug("invoking processor", "test", entry.ID, "url", invocation)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, invocation, nil)
	if err != nil {
		return &TransportError{URL: invocation, Err: err}
	}
	if kind == manifest.CompareJSON {
		req.Header.Set("Accept", acceptJSON)
	} else {
		req.Header.Set("Accept", acceptRDF)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return &TransportError{URL: invocation, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return &TransportError{URL: invocation, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{URL: invocation, Err: fmt.Errorf("read body: %w", err)}
	}

	v.Artifact = body
	v.ContentType = resp.Header.Get("Content-Type")
	return nil
}

// judge compares the artifact and applies the entry's polarity.
func (r *Runner) judge(ctx context.Context, entry *manifest.Entry, cls manifest.Classification, v Verdict) (manifest.Status, error) {
	matched := true
	if entry.Result != "" {
		c := compare.Select(cls.Comparison, r.logger)
		var err error
		matched, err = c.Compare(ctx, v.Artifact, v.ContentType, r.suite.Locate(entry.Result))
		if err != nil {
			return manifest.StatusError, err
		}
	}
	if !cls.Positive {
		matched = !matched
	}
	if matched {
		return manifest.StatusPass, nil
	}
	return manifest.StatusFail, nil
}
