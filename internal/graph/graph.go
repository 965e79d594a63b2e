package graph

import (
	"fmt"
	"io"
	"strings"
)

// Well-known datatype IRIs.
const (
	XSDString     = "http://www.w3.org/2001/XMLSchema#string"
	RDFLangString = "http://www.w3.org/1999/02/22-rdf-syntax-ns#langString"
)

// Kind discriminates RDF terms.
type Kind uint8

const (
	KindIRI Kind = iota + 1
	KindBlank
	KindLiteral
)

// Term is an RDF term. Terms are comparable and usable as map keys.
type Term struct {
	Kind     Kind
	Value    string
	Datatype string
	Lang     string
}

// IRI returns an IRI term.
func IRI(v string) Term { return Term{Kind: KindIRI, Value: v} }

// Blank returns a blank node term with the given label (without "_:").
func Blank(label string) Term { return Term{Kind: KindBlank, Value: label} }

// Literal returns a literal. An empty datatype means xsd:string, or
// rdf:langString when lang is set.
func Literal(lexical, datatype, lang string) Term {
	lang = strings.ToLower(lang)
	switch {
	case lang != "":
		datatype = RDFLangString
	case datatype == "":
		datatype = XSDString
	}
	return Term{Kind: KindLiteral, Value: lexical, Datatype: datatype, Lang: lang}
}

// IsBlank reports whether t is a blank node.
func (t Term) IsBlank() bool { return t.Kind == KindBlank }

// String returns the N-Triples form of t.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		s := `"` + escapeLiteral(t.Value) + `"`
		if t.Lang != "" {
			return s + "@" + t.Lang
		}
		if t.Datatype != XSDString {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	}
	return ""
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func escapeLiteral(s string) string { return literalEscaper.Replace(s) }

// Triple is a subject/predicate/object statement.
type Triple struct {
	S, P, O Term
}

func (t Triple) hasBlank() bool { return t.S.IsBlank() || t.O.IsBlank() }

// String returns the N-Triples statement for t, without a line terminator.
func (t Triple) String() string {
	return t.S.String() + " " + t.P.String() + " " + t.O.String() + " ."
}

// Graph is a set of triples. The zero value is not usable; call New.
type Graph struct {
	triples []Triple
	index   map[Triple]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{index: make(map[Triple]struct{})}
}

// Add inserts t and reports whether it was not already present.
func (g *Graph) Add(t Triple) bool {
	if _, ok := g.index[t]; ok {
		return false
	}
	g.index[t] = struct{}{}
	g.triples = append(g.triples, t)
	return true
}

// Has reports whether the graph contains t.
func (g *Graph) Has(t Triple) bool {
	_, ok := g.index[t]
	return ok
}

// Len returns the number of distinct triples.
func (g *Graph) Len() int { return len(g.triples) }

// Triples returns the triples in insertion order. The slice must not be
// modified.
func (g *Graph) Triples() []Triple { return g.triples }

// WriteNTriples writes the graph as N-Triples, which is also valid Turtle.
func (g *Graph) WriteNTriples(w io.Writer) error {
	for _, t := range g.triples {
		if _, err := fmt.Fprintln(w, t.String()); err != nil {
			return err
		}
	}
	return nil
}
