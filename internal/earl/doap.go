package earl

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/roach88/csvwtest/internal/graph"
	"github.com/roach88/csvwtest/internal/resource"
)

const (
	rdfType     = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	doapProject = "http://usefulinc.com/ns/doap#Project"
)

// prefixes every report relies on, in the order they are added.
var prefixes = []struct{ name, iri string }{
	{"foaf", "http://xmlns.com/foaf/0.1/"},
	{"dc", "http://purl.org/dc/terms/"},
	{"earl", "http://www.w3.org/ns/earl#"},
	{"xsd", "http://www.w3.org/2001/XMLSchema#"},
}

// DOAP is a processor description ready to open an EARL report.
type DOAP struct {
	// Turtle is the description with the report prefixes declared.
	Turtle string
	// Subject is the doap:Project the description is about, or "" when it
	// names none.
	Subject string
}

// Loader fetches DOAP descriptions. References starting with "/" are read
// from FS; anything else is fetched over HTTP.
type Loader struct {
	FS     fs.FS
	Client *http.Client
}

// Load fetches and prepares the description at ref.
func (l *Loader) Load(ctx context.Context, ref string) (*DOAP, error) {
	var res *resource.Resource
	if name, local := strings.CutPrefix(ref, "/"); local {
		if l.FS == nil {
			return nil, fmt.Errorf("load DOAP %s: no local files configured", ref)
		}
		data, err := fs.ReadFile(l.FS, name)
		if err != nil {
			return nil, fmt.Errorf("load DOAP %s: %w", ref, err)
		}
		res = &resource.Resource{Body: data, ContentType: resource.ContentTypeOf(name), Location: ref}
	} else {
		var err error
		if res, err = resource.Remote(ref, l.Client).Open(ctx); err != nil {
			return nil, fmt.Errorf("load DOAP: %w", err)
		}
	}
	return Prepare(res.Body, res.ContentType, res.Location)
}

// Prepare converts a description in any supported RDF syntax to Turtle and
// declares the prefixes used by assertions. Turtle input is kept verbatim.
func Prepare(data []byte, contentType, location string) (*DOAP, error) {
	f, err := graph.Detect(contentType, location, data)
	if err != nil {
		return nil, fmt.Errorf("DOAP %s: %w", location, err)
	}
	g, err := graph.Parse(bytes.NewReader(data), f, baseOf(location))
	if err != nil {
		return nil, fmt.Errorf("DOAP %s: %w", location, err)
	}

	text := string(data)
	if f != graph.FormatTurtle {
		var buf bytes.Buffer
		if err := g.WriteNTriples(&buf); err != nil {
			return nil, err
		}
		text = buf.String()
	}
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	return &DOAP{Turtle: withPrefixes(text), Subject: projectOf(g)}, nil
}

// withPrefixes declares the report prefixes text does not already declare.
func withPrefixes(text string) string {
	var header strings.Builder
	for _, p := range prefixes {
		if !strings.Contains(text, "@prefix "+p.name+":") {
			fmt.Fprintf(&header, "@prefix %s: <%s> .\n", p.name, p.iri)
		}
	}
	return header.String() + text
}

// baseOf returns location when it is an absolute IRI.
func baseOf(location string) string {
	if strings.Contains(location, "://") {
		return location
	}
	return ""
}

func projectOf(g *graph.Graph) string {
	for _, t := range g.Triples() {
		if t.P.Value == rdfType && t.O.Kind == graph.KindIRI && t.O.Value == doapProject && t.S.Kind == graph.KindIRI {
			return t.S.Value
		}
	}
	return ""
}
