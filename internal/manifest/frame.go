package manifest

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/piprate/json-gold/ld"

	"github.com/roach88/csvwtest/internal/graph"
)

//go:embed frame.jsonld
var defaultFrame []byte

// DefaultFrame returns a copy of the built-in frame for CSVW manifests.
func DefaultFrame() []byte {
	return append([]byte(nil), defaultFrame...)
}

// Projector turns an upstream Turtle manifest into a framed JSON-LD
// document whose identifiers are relative to base.
type Projector func(ctx context.Context, turtle []byte, base string) ([]byte, error)

// NewFramer returns a Projector applying frame. A nil frame uses
// DefaultFrame.
func NewFramer(frame []byte) (Projector, error) {
	if frame == nil {
		frame = defaultFrame
	}
	var frameDoc map[string]any
	if err := json.Unmarshal(frame, &frameDoc); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return func(ctx context.Context, turtle []byte, base string) ([]byte, error) {
		return project(ctx, turtle, base, frameDoc)
	}, nil
}

func project(ctx context.Context, turtle []byte, base string, frame map[string]any) ([]byte, error) {
	g, err := graph.Parse(bytes.NewReader(turtle), graph.FormatTurtle, base)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var nquads bytes.Buffer
	if err := g.WriteNTriples(&nquads); err != nil {
		return nil, err
	}

	proc := ld.NewJsonLdProcessor()
	fromOpts := ld.NewJsonLdOptions(base)
	fromOpts.Format = "application/n-quads"
	fromOpts.UseNativeTypes = true
	expanded, err := proc.FromRDF(nquads.String(), fromOpts)
	if err != nil {
		return nil, fmt.Errorf("convert to JSON-LD: %w", err)
	}

	// Framing runs without a base so identifiers stay absolute until
	// stripBase rewrites them.
	framed, err := proc.Frame(expanded, frame, ld.NewJsonLdOptions(""))
	if err != nil {
		return nil, fmt.Errorf("frame manifest: %w", err)
	}

	out := stripBase(framed, base)
	return json.MarshalIndent(out, "", "  ")
}

// stripBase makes every string value that starts with base relative to it.
// The @context is left alone so vocabulary IRIs survive.
func stripBase(v any, base string) any {
	if base == "" {
		return v
	}
	switch val := v.(type) {
	case string:
		if rel, ok := strings.CutPrefix(val, base); ok && rel != "" {
			return rel
		}
		return val
	case []any:
		for i := range val {
			val[i] = stripBase(val[i], base)
		}
		return val
	case map[string]any:
		for k, item := range val {
			if k == "@context" {
				continue
			}
			val[k] = stripBase(item, base)
		}
		return val
	}
	return v
}
