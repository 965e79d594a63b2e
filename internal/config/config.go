// Package config loads csvwtest.yaml.
//
// Unknown keys are rejected so typos surface at startup. Fields left out
// take the values of Default; command-line flags are applied on top by
// the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSuiteBase is the published location of the CSVW test suite.
const DefaultSuiteBase = "http://www.w3.org/2013/csvw/tests/"

// Config is the harness configuration.
type Config struct {
	Listen   string   `yaml:"listen"`
	Manifest Manifest `yaml:"manifest"`

	// TestsDir holds a local copy of the suite. When empty, resources are
	// fetched from TestsBase, which defaults to Manifest.Base.
	TestsDir  string `yaml:"tests_dir"`
	TestsBase string `yaml:"tests_base"`

	Processors string `yaml:"processors"`

	// ResultsDB is the SQLite verdict log. Empty disables recording.
	ResultsDB string `yaml:"results_db"`

	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	MaxAge       time.Duration `yaml:"max_age"`

	Log Log `yaml:"log"`
}

// Manifest locates the upstream manifest and its cache.
type Manifest struct {
	// Source is a file path or an http(s) URL of the Turtle manifest.
	Source string `yaml:"source"`
	// Cache is where the framed JSON-LD projection is written.
	Cache string `yaml:"cache"`
	// Base is stripped from framed identifiers.
	Base string `yaml:"base"`
	// Frame replaces the built-in JSON-LD frame.
	Frame string `yaml:"frame"`
	// Watch reloads a file Source when it changes.
	Watch bool `yaml:"watch"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given. Validate
// fills in the derived fields.
func Default() Config {
	return Config{
		Listen: "localhost:9393",
		Manifest: Manifest{
			Source: "tests/manifest.ttl",
			Cache:  "tests/manifest.jsonld",
			Base:   DefaultSuiteBase,
		},
		TestsDir:     "tests",
		Processors:   "processors.json",
		FetchTimeout: time.Minute,
		MaxAge:       5 * time.Minute,
		Log:          Log{Level: "info", Format: "text"},
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks field values and fills derived defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.Manifest.Source == "" {
		errs = append(errs, errors.New("manifest.source is required"))
	}
	if c.Manifest.Cache == "" {
		errs = append(errs, errors.New("manifest.cache is required"))
	}
	if c.Manifest.Base == "" {
		c.Manifest.Base = DefaultSuiteBase
	}
	if err := absoluteURL("manifest.base", c.Manifest.Base); err != nil {
		errs = append(errs, err)
	}
	if c.TestsBase == "" {
		c.TestsBase = c.Manifest.Base
	}
	if err := absoluteURL("tests_base", c.TestsBase); err != nil {
		errs = append(errs, err)
	}
	if c.Manifest.Watch && c.ManifestIsRemote() {
		errs = append(errs, errors.New("manifest.watch requires a file source"))
	}
	if c.FetchTimeout < 0 {
		errs = append(errs, errors.New("fetch_timeout must not be negative"))
	}
	if c.MaxAge < 0 {
		errs = append(errs, errors.New("max_age must not be negative"))
	}

	return errors.Join(errs...)
}

// ManifestIsRemote reports whether the manifest source is a URL.
func (c *Config) ManifestIsRemote() bool {
	return strings.HasPrefix(c.Manifest.Source, "http://") || strings.HasPrefix(c.Manifest.Source, "https://")
}

func absoluteURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("%s: %q is not an absolute URL", field, raw)
	}
	return nil
}
