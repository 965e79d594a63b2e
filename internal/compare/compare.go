// Package compare checks a processor's output against the expected result
// of a test entry.
//
// Exactly one strategy applies to an entry, chosen from its classification:
// JSON structural equality, RDF graph isomorphism, or a SPARQL ASK query
// evaluated against the output graph.
package compare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/csvwtest/internal/graph"
	"github.com/roach88/csvwtest/internal/manifest"
	"github.com/roach88/csvwtest/internal/resource"
)

// Comparator compares extracted processor output with an expected resource.
// It returns true on a match. A non-nil error means no comparison was
// possible; the boolean is then meaningless.
type Comparator interface {
	Compare(ctx context.Context, extracted []byte, contentType string, expected resource.Locator) (bool, error)
}

// Select returns the strategy for kind. A nil logger discards.
func Select(kind manifest.Comparison, logger *slog.Logger) Comparator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch kind {
	case manifest.CompareSPARQL:
		return &Ask{}
	case manifest.CompareJSON:
		return &JSON{logger: logger}
	}
	return &Isomorphism{logger: logger}
}

// JSON matches when both documents decode to structurally equal values.
// Object key order is irrelevant; array order is significant. Numbers are
// compared by exact decimal value, so 1 and 1.0 match but integers beyond
// float64 precision stay distinct.
type JSON struct {
	logger *slog.Logger
}

var exactNumbers = cmp.Comparer(func(a, b json.Number) bool {
	if a == b {
		return true
	}
	x, ok := new(big.Rat).SetString(string(a))
	if !ok {
		return false
	}
	y, ok := new(big.Rat).SetString(string(b))
	if !ok {
		return false
	}
	return x.Cmp(y) == 0
})

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func (c *JSON) Compare(ctx context.Context, extracted []byte, contentType string, expected resource.Locator) (bool, error) {
	got, err := decodeJSON(extracted)
	if err != nil {
		return false, newError(CodeExtractedNotJSON, err, "extracted content is not JSON")
	}

	res, err := open(ctx, expected)
	if err != nil {
		return false, err
	}
	want, err := decodeJSON(res.Body)
	if err != nil {
		return false, newError(CodeExpectedNotJSON, err, "%s is not JSON", res.Location)
	}

	if cmp.Equal(want, got, exactNumbers) {
		return true, nil
	}
	if c.logger != nil {
		c.logger.Debug("JSON mismatch", "expected", res.Location, "diff", cmp.Diff(want, got, exactNumbers))
	}
	return false, nil
}

// Isomorphism matches when the output and the expected result are
// isomorphic RDF graphs.
type Isomorphism struct {
	logger *slog.Logger
}

func (c *Isomorphism) Compare(ctx context.Context, extracted []byte, contentType string, expected resource.Locator) (bool, error) {
	got, err := extractedGraph(extracted, contentType, expected.Location())
	if err != nil {
		return false, err
	}

	res, err := open(ctx, expected)
	if err != nil {
		return false, err
	}
	f, err := graph.Detect(res.ContentType, res.Location, res.Body)
	if err != nil {
		return false, newError(CodeExpectedNotRDF, err, "no RDF reader for %s", res.Location)
	}
	want, err := graph.Parse(bytes.NewReader(res.Body), f, res.Location)
	if err != nil {
		return false, newError(CodeExpectedNotRDF, err, "parse %s as %s", res.Location, f)
	}

	if graph.Isomorphic(want, got) {
		return true, nil
	}
	if c.logger != nil {
		c.logger.Debug("graphs not isomorphic",
			"expected", res.Location,
			"expected_triples", want.Len(),
			"extracted_triples", got.Len(),
		)
	}
	return false, nil
}

// Ask matches when the ASK query stored as the expected result holds over
// the output graph.
type Ask struct{}

func (c *Ask) Compare(ctx context.Context, extracted []byte, contentType string, expected resource.Locator) (bool, error) {
	got, err := extractedGraph(extracted, contentType, expected.Location())
	if err != nil {
		return false, err
	}

	res, err := open(ctx, expected)
	if err != nil {
		return false, err
	}
	ok, err := graph.Ask(got, string(res.Body))
	if err != nil {
		return false, newError(CodeSPARQLQuery, err, "evaluate %s", res.Location)
	}
	return ok, nil
}

// extractedGraph parses processor output. Relative IRIs resolve against
// the expected result's location.
func extractedGraph(data []byte, contentType, base string) (*graph.Graph, error) {
	f, err := graph.Detect(contentType, "", data)
	if err != nil {
		return nil, newError(CodeUnrecognizedRDFSyntax, err, "no RDF reader for content type %q", contentType)
	}
	g, err := graph.Parse(bytes.NewReader(data), f, base)
	if err != nil {
		return nil, newError(CodeExtractedNotRDF, err, "parse extracted content as %s", f)
	}
	return g, nil
}

func open(ctx context.Context, loc resource.Locator) (*resource.Resource, error) {
	res, err := loc.Open(ctx)
	if err != nil {
		return nil, newError(CodeExpectedUnavailable, err, "open %s", loc.Location())
	}
	return res, nil
}
