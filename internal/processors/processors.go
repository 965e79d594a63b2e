// Package processors holds the registry of known CSVW processors: where to
// invoke them and where their DOAP description lives.
//
// Registry files are JSON (processors.json) or YAML lists:
//
//	- name: Example processor
//	  endpoint: http://proc.example/convert?uri=
//	  doap: /doap/example.ttl
//
// Every file is checked against an embedded CUE schema before use.
package processors

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Processor is one registry entry.
type Processor struct {
	Name     string `json:"name" yaml:"name"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	DOAP     string `json:"doap,omitempty" yaml:"doap,omitempty"`
	DOAPURL  string `json:"doap_url,omitempty" yaml:"doap_url,omitempty"`
}

// DOAPRef returns where the processor's DOAP description is, preferring
// DOAPURL. A leading "/" means a file beside the registry.
func (p Processor) DOAPRef() string {
	if p.DOAPURL != "" {
		return p.DOAPURL
	}
	return p.DOAP
}

// Format is a registry file syntax.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatOf picks the syntax from a file name.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// SchemaError lists the schema violations of a registry file.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "processor registry: " + strings.Join(e.Problems, "; ")
}

// Registry is an ordered list of processors.
type Registry struct {
	processors []Processor
}

// Load reads a registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read processor registry: %w", err)
	}
	r, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse decodes and validates a registry document.
func Parse(data []byte, format Format) (*Registry, error) {
	var raw any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode processor registry: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode processor registry: %w", err)
		}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("processors.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile registry schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Registry")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, schemaError(err)
	}

	var procs []Processor
	if err := v.Decode(&procs); err != nil {
		return nil, fmt.Errorf("decode processor registry: %w", err)
	}
	return New(procs)
}

func schemaError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &SchemaError{Problems: []string{err.Error()}}
	}
	se := &SchemaError{}
	for _, e := range errs {
		se.Problems = append(se.Problems, e.Error())
	}
	return se
}

// New builds a registry, rejecting duplicate names and endpoints.
func New(procs []Processor) (*Registry, error) {
	names := make(map[string]bool, len(procs))
	endpoints := make(map[string]bool, len(procs))
	for _, p := range procs {
		if p.Name == "" || p.Endpoint == "" {
			return nil, fmt.Errorf("processor %q: name and endpoint are required", p.Name)
		}
		if names[p.Name] {
			return nil, fmt.Errorf("duplicate processor name %q", p.Name)
		}
		if endpoints[p.Endpoint] {
			return nil, fmt.Errorf("duplicate processor endpoint %q", p.Endpoint)
		}
		names[p.Name] = true
		endpoints[p.Endpoint] = true
	}
	return &Registry{processors: append([]Processor(nil), procs...)}, nil
}

// All returns the processors in file order.
func (r *Registry) All() []Processor {
	return append([]Processor(nil), r.processors...)
}

// Len returns the number of processors.
func (r *Registry) Len() int { return len(r.processors) }

// Find returns the processor with exactly this endpoint.
func (r *Registry) Find(endpoint string) (Processor, bool) {
	for _, p := range r.processors {
		if p.Endpoint == endpoint {
			return p, true
		}
	}
	return Processor{}, false
}

// ByName returns the processor called name.
func (r *Registry) ByName(name string) (Processor, bool) {
	for _, p := range r.processors {
		if p.Name == name {
			return p, true
		}
	}
	return Processor{}, false
}

// ByEndpoint returns the processor for endpoint, or the last registered
// processor when none matches.
func (r *Registry) ByEndpoint(endpoint string) (Processor, error) {
	if p, ok := r.Find(endpoint); ok {
		return p, nil
	}
	if len(r.processors) == 0 {
		return Processor{}, fmt.Errorf("no processors registered")
	}
	return r.processors[len(r.processors)-1], nil
}

// Resolve accepts a processor name or endpoint and returns the endpoint.
// Unknown values are returned unchanged so ad-hoc endpoints work.
func (r *Registry) Resolve(nameOrEndpoint string) string {
	if p, ok := r.ByName(nameOrEndpoint); ok {
		return p.Endpoint
	}
	return nameOrEndpoint
}
