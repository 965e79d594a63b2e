package graph

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsupportedQuery is returned for SPARQL constructs Ask does not
// evaluate.
var ErrUnsupportedQuery = errors.New("unsupported SPARQL query")

// variables are carried through the Turtle parser as IRIs in this namespace.
const varNamespace = "urn:x-csvwtest:var:"

var (
	prologueRe = regexp.MustCompile(`(?is)^\s*(?:PREFIX\s+([A-Za-z][\w.-]*)?:\s*<([^>]*)>|BASE\s*<([^>]*)>)`)
	askRe      = regexp.MustCompile(`(?is)^\s*ASK\s*(?:WHERE\s*)?\{(.*)\}\s*$`)
	keywordRe  = regexp.MustCompile(`(?i)\b(FILTER|OPTIONAL|UNION|GRAPH|MINUS|BIND|VALUES|SERVICE|SELECT|CONSTRUCT)\b`)
)

// Ask evaluates a SPARQL ASK query against g. Only basic graph patterns are
// supported; variables are written ?name or $name and blank nodes in the
// pattern act as variables.
func Ask(g *Graph, query string) (bool, error) {
	patterns, err := parseAsk(query)
	if err != nil {
		return false, err
	}
	byPredicate := make(map[Term][]Triple)
	for _, t := range g.triples {
		byPredicate[t.P] = append(byPredicate[t.P], t)
	}
	return match(g, byPredicate, patterns, map[string]Term{}), nil
}

func parseAsk(query string) ([]Triple, error) {
	q := stripComments(query)

	var prologue strings.Builder
	for {
		sub := prologueRe.FindStringSubmatch(q)
		if sub == nil {
			break
		}
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sub[0])), "BASE") {
			fmt.Fprintf(&prologue, "@base <%s> .\n", sub[3])
		} else {
			fmt.Fprintf(&prologue, "@prefix %s: <%s> .\n", sub[1], sub[2])
		}
		q = q[len(sub[0]):]
	}

	m := askRe.FindStringSubmatch(q)
	if m == nil {
		return nil, fmt.Errorf("%w: expected ASK { ... }", ErrUnsupportedQuery)
	}

	body, skeleton := rewriteVariables(m[1])
	if strings.ContainsAny(skeleton, "{}") {
		return nil, fmt.Errorf("%w: nested group patterns", ErrUnsupportedQuery)
	}
	if kw := keywordRe.FindString(skeleton); kw != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedQuery, strings.ToUpper(kw))
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	if !strings.HasSuffix(body, ".") {
		body += " ."
	}

	pg, err := Parse(strings.NewReader(prologue.String()+body), FormatTurtle, "")
	if err != nil {
		return nil, fmt.Errorf("parse graph pattern: %w", err)
	}
	return pg.Triples(), nil
}

// stripComments removes # comments outside IRIs and string literals.
func stripComments(s string) string {
	var out strings.Builder
	sc := scanner{src: s}
	for sc.next() {
		if sc.state != inComment {
			out.WriteByte(sc.ch)
		}
	}
	return out.String()
}

// rewriteVariables turns ?x and $x into IRIs in varNamespace. The skeleton
// is the text outside IRIs and literals, used to reject unsupported syntax.
func rewriteVariables(s string) (string, string) {
	var out, skeleton strings.Builder
	sc := scanner{src: s}
	for sc.next() {
		if sc.state != outside {
			out.WriteByte(sc.ch)
			continue
		}
		if (sc.ch == '?' || sc.ch == '$') && sc.pos < len(s) && isNameChar(s[sc.pos]) {
			start := sc.pos
			for sc.pos < len(s) && isNameChar(s[sc.pos]) {
				sc.pos++
			}
			fmt.Fprintf(&out, "<%s%s>", varNamespace, s[start:sc.pos])
			skeleton.WriteString(" ")
			continue
		}
		out.WriteByte(sc.ch)
		skeleton.WriteByte(sc.ch)
	}
	return out.String(), skeleton.String()
}

func isNameChar(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

type scanState int

const (
	outside scanState = iota
	inIRI
	inString
	inComment
)

// scanner walks a query byte by byte, tracking whether the current byte is
// inside an IRI, a string literal or a comment. Delimiters are reported in
// the enclosed state.
type scanner struct {
	src     string
	pos     int
	ch      byte
	state   scanState
	quote   byte
	escaped bool
	closing bool
}

func (s *scanner) next() bool {
	if s.pos >= len(s.src) {
		return false
	}
	if s.closing {
		s.state = outside
		s.closing = false
	}
	s.ch = s.src[s.pos]
	s.pos++

	switch s.state {
	case outside:
		switch s.ch {
		case '<':
			s.state = inIRI
		case '"', '\'':
			s.state = inString
			s.quote = s.ch
		case '#':
			s.state = inComment
		}
	case inIRI:
		if s.ch == '>' {
			s.closing = true
		}
	case inString:
		switch {
		case s.escaped:
			s.escaped = false
		case s.ch == '\\':
			s.escaped = true
		case s.ch == s.quote:
			s.closing = true
		}
	case inComment:
		if s.ch == '\n' {
			s.state = outside
		}
	}
	return true
}

func variable(t Term) (string, bool) {
	switch {
	case t.Kind == KindIRI && strings.HasPrefix(t.Value, varNamespace):
		return strings.TrimPrefix(t.Value, varNamespace), true
	case t.Kind == KindBlank:
		return "_:" + t.Value, true
	}
	return "", false
}

// match finds a solution for patterns by backtracking over the triples
// sharing each pattern's predicate (or all triples for a variable
// predicate).
func match(g *Graph, byPredicate map[Term][]Triple, patterns []Triple, binding map[string]Term) bool {
	if len(patterns) == 0 {
		return true
	}
	p := patterns[0]

	candidates := g.triples
	if name, isVar := variable(p.P); !isVar {
		candidates = byPredicate[p.P]
	} else if bound, ok := binding[name]; ok {
		candidates = byPredicate[bound]
	}

	for _, t := range candidates {
		next, ok := unify(p, t, binding)
		if ok && match(g, byPredicate, patterns[1:], next) {
			return true
		}
	}
	return false
}

func unify(p, t Triple, binding map[string]Term) (map[string]Term, bool) {
	out := binding
	copied := false
	bind := func(pattern, value Term) bool {
		name, isVar := variable(pattern)
		if !isVar {
			return pattern == value
		}
		if bound, ok := out[name]; ok {
			return bound == value
		}
		if !copied {
			out = make(map[string]Term, len(binding)+3)
			for k, v := range binding {
				out[k] = v
			}
			copied = true
		}
		out[name] = value
		return true
	}
	if !bind(p.S, t.S) || !bind(p.P, t.P) || !bind(p.O, t.O) {
		return nil, false
	}
	return out, true
}
