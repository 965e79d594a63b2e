// Package graph holds the small RDF model the comparison strategies need.
//
// Documents are read with github.com/knakk/rdf (Turtle, N-Triples, N-Quads,
// RDF/XML) and github.com/piprate/json-gold (JSON-LD, converted to N-Quads
// first). On top of the parsed triples the package offers two operations:
//
//   - Isomorphic: graph equality up to blank node relabeling
//   - Ask: SPARQL ASK queries restricted to basic graph patterns
//
// Named graphs are merged into a single graph when reading quads.
package graph
