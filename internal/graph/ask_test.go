package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const people = `
@prefix ex: <http://example.org/> .
ex:alice ex:name "Alice" ; ex:knows ex:bob .
ex:bob ex:name "Bob" .
`

func TestAsk(t *testing.T) {
	g := mustParse(t, people, FormatTurtle)

	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"ground triple", `PREFIX ex: <http://example.org/> ASK { ex:alice ex:knows ex:bob }`, true},
		{"missing triple", `PREFIX ex: <http://example.org/> ASK { ex:bob ex:knows ex:alice }`, false},
		{"join", `PREFIX ex: <http://example.org/>
ASK WHERE {
  ?a ex:knows ?b .
  ?b ex:name "Bob" .
}`, true},
		{"join fails", `PREFIX ex: <http://example.org/>
ASK WHERE { ?a ex:knows ?b . ?b ex:name "Alice" }`, false},
		{"variable predicate", `ASK { <http://example.org/bob> ?p "Bob" }`, true},
		{"dollar variable", `PREFIX ex: <http://example.org/> ASK { $x ex:name "Alice" }`, true},
		{"blank node as variable", `PREFIX ex: <http://example.org/> ASK { _:x ex:knows ex:bob }`, true},
		{"repeated variable", `PREFIX ex: <http://example.org/> ASK { ?x ex:knows ?x }`, false},
		{"comments", `# leading comment
PREFIX ex: <http://example.org/> # prefix
ASK { ex:alice ex:name "Alice" # trailing
}`, true},
		{"hash inside literal", `PREFIX ex: <http://example.org/> ASK { ?x ex:name "#Alice" }`, false},
		{"question mark inside iri", `ASK { ?s <http://example.org/name?x=1> ?o }`, false},
		{"empty pattern", `ASK {}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Ask(g, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAskUnsupported(t *testing.T) {
	g := mustParse(t, people, FormatTurtle)

	for _, query := range []string{
		`SELECT * WHERE { ?s ?p ?o }`,
		`ASK { ?s ?p ?o FILTER(?o = "Bob") }`,
		`ASK { { ?s ?p ?o } UNION { ?o ?p ?s } }`,
		`ASK { ?s ?p ?o OPTIONAL { ?s ?q ?z } }`,
	} {
		_, err := Ask(g, query)
		require.Error(t, err, query)
		assert.True(t, errors.Is(err, ErrUnsupportedQuery), query)
	}
}
