package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/knakk/rdf"
	"github.com/piprate/json-gold/ld"
)

// ErrUnrecognizedSyntax is returned when no reader matches a document.
var ErrUnrecognizedSyntax = errors.New("unrecognized RDF syntax")

// Format identifies an RDF serialization.
type Format int

const (
	FormatUnknown Format = iota
	FormatTurtle
	FormatNTriples
	FormatNQuads
	FormatRDFXML
	FormatJSONLD
)

func (f Format) String() string {
	switch f {
	case FormatTurtle:
		return "turtle"
	case FormatNTriples:
		return "n-triples"
	case FormatNQuads:
		return "n-quads"
	case FormatRDFXML:
		return "rdf/xml"
	case FormatJSONLD:
		return "json-ld"
	}
	return "unknown"
}

var mediaTypes = map[string]Format{
	"text/turtle":           FormatTurtle,
	"application/x-turtle":  FormatTurtle,
	"application/turtle":    FormatTurtle,
	"application/n-triples": FormatNTriples,
	"text/n-triples":        FormatNTriples,
	"application/n-quads":   FormatNQuads,
	"text/x-nquads":         FormatNQuads,
	"application/rdf+xml":   FormatRDFXML,
	"application/ld+json":   FormatJSONLD,
}

var extensions = map[string]Format{
	".ttl":    FormatTurtle,
	".nt":     FormatNTriples,
	".nq":     FormatNQuads,
	".rdf":    FormatRDFXML,
	".owl":    FormatRDFXML,
	".xml":    FormatRDFXML,
	".jsonld": FormatJSONLD,
}

// FormatFor selects a reader by media type, then by the extension of uri.
// Parameters such as charset are ignored.
func FormatFor(contentType, uri string) (Format, error) {
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if f, ok := mediaTypes[strings.ToLower(mt)]; ok {
				return f, nil
			}
		}
	}
	if uri != "" {
		p := uri
		if u, err := url.Parse(uri); err == nil {
			p = u.Path
		}
		if f, ok := extensions[strings.ToLower(path.Ext(p))]; ok {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("%w: content type %q, location %q", ErrUnrecognizedSyntax, contentType, uri)
}

// Sniff guesses the format of a document from its first bytes.
func Sniff(sample []byte) (Format, bool) {
	s := bytes.TrimSpace(sample)
	if len(s) == 0 {
		return FormatUnknown, false
	}
	switch {
	case s[0] == '{' || s[0] == '[':
		return FormatJSONLD, true
	case bytes.HasPrefix(s, []byte("<?xml")) || bytes.Contains(s[:min(len(s), 512)], []byte("<rdf:RDF")):
		return FormatRDFXML, true
	case bytes.Contains(s, []byte("@prefix")) || bytes.Contains(s, []byte("@base")) ||
		bytes.Contains(bytes.ToUpper(s[:min(len(s), 512)]), []byte("PREFIX ")):
		return FormatTurtle, true
	case s[0] == '<' || bytes.HasPrefix(s, []byte("_:")):
		// Turtle is a superset of N-Triples.
		return FormatTurtle, true
	}
	return FormatUnknown, false
}

// Detect combines FormatFor and Sniff: the media type and location win,
// the content is inspected only when neither is recognized.
func Detect(contentType, uri string, data []byte) (Format, error) {
	f, err := FormatFor(contentType, uri)
	if err == nil {
		return f, nil
	}
	if f, ok := Sniff(data); ok {
		return f, nil
	}
	return FormatUnknown, err
}

// Parse reads a document into a graph. base resolves relative IRIs in
// Turtle and JSON-LD documents and may be empty.
func Parse(r io.Reader, f Format, base string) (*Graph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f, err)
	}

	switch f {
	case FormatTurtle:
		if base != "" && !declaresBase(data) {
			data = append([]byte("@base <"+base+"> .\n"), data...)
		}
		return decodeTriples(data, rdf.Turtle)
	case FormatNTriples:
		return decodeTriples(data, rdf.NTriples)
	case FormatRDFXML:
		return decodeTriples(data, rdf.RDFXML)
	case FormatNQuads:
		return decodeQuads(data)
	case FormatJSONLD:
		return decodeJSONLD(data, base)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnrecognizedSyntax, f)
}

func declaresBase(data []byte) bool {
	return bytes.Contains(data, []byte("@base")) || bytes.Contains(bytes.ToUpper(data), []byte("BASE <"))
}

func decodeTriples(data []byte, f rdf.Format) (*Graph, error) {
	dec := rdf.NewTripleDecoder(bytes.NewReader(data), f)
	triples, err := dec.DecodeAll()
	if err != nil {
		return nil, fmt.Errorf("decode triples: %w", err)
	}
	g := New()
	for _, t := range triples {
		if err := g.addRDF(t); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func decodeQuads(data []byte) (*Graph, error) {
	dec := rdf.NewQuadDecoder(bytes.NewReader(data), rdf.NQuads)
	quads, err := dec.DecodeAll()
	if err != nil {
		return nil, fmt.Errorf("decode quads: %w", err)
	}
	g := New()
	for _, q := range quads {
		if err := g.addRDF(q.Triple); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func decodeJSONLD(data []byte, base string) (*Graph, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode json-ld: %w", err)
	}

	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions(base)
	opts.Format = "application/n-quads"

	out, err := proc.ToRDF(doc, opts)
	if err != nil {
		return nil, fmt.Errorf("json-ld to rdf: %w", err)
	}
	nquads, ok := out.(string)
	if !ok {
		return nil, fmt.Errorf("json-ld to rdf: unexpected result %T", out)
	}
	if strings.TrimSpace(nquads) == "" {
		return New(), nil
	}
	return decodeQuads([]byte(nquads))
}

func (g *Graph) addRDF(t rdf.Triple) error {
	s, err := fromRDF(t.Subj)
	if err != nil {
		return err
	}
	p, err := fromRDF(t.Pred)
	if err != nil {
		return err
	}
	o, err := fromRDF(t.Obj)
	if err != nil {
		return err
	}
	g.Add(Triple{S: s, P: p, O: o})
	return nil
}

func fromRDF(t rdf.Term) (Term, error) {
	switch t.Type() {
	case rdf.TermIRI:
		return IRI(t.String()), nil
	case rdf.TermBlank:
		return Blank(strings.TrimPrefix(t.String(), "_:")), nil
	case rdf.TermLiteral:
		l, ok := t.(rdf.Literal)
		if !ok {
			return Term{}, fmt.Errorf("unexpected literal type %T", t)
		}
		return Literal(l.String(), l.DataType.String(), l.Lang()), nil
	}
	return Term{}, fmt.Errorf("unexpected term type %v", t.Type())
}
