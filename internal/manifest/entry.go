package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the state of an entry within a single run.
type Status string

const (
	StatusTest    Status = "Test"
	StatusRunning Status = "Running"
	StatusPass    Status = "Pass"
	StatusFail    Status = "Fail"
	StatusError   Status = "Error"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return s == StatusPass || s == StatusFail || s == StatusError
}

// Comparison selects how processor output is checked.
type Comparison int

const (
	// CompareGraph checks RDF graph isomorphism. It applies when no other
	// marker is present.
	CompareGraph Comparison = iota
	CompareJSON
	CompareSPARQL
)

func (c Comparison) String() string {
	switch c {
	case CompareJSON:
		return "json"
	case CompareSPARQL:
		return "sparql"
	}
	return "graph"
}

// Classification is derived from an entry's types.
type Classification struct {
	Evaluation bool
	Syntax     bool
	Positive   bool
	Comparison Comparison

	// Ambiguous is set when both JSON and SPARQL markers are present.
	// SPARQL wins; callers should report the entry as mis-tagged.
	Ambiguous bool
}

// Classify derives the classification of a type list.
//
// Markers are matched as substrings of the type names: "Eval", "Syntax"
// and "Negative" case-sensitively, "json" and "sparql" case-insensitively.
func Classify(types []string) Classification {
	joined := strings.Join(types, " ")
	lower := strings.ToLower(joined)

	isJSON := strings.Contains(lower, "json")
	isSPARQL := strings.Contains(lower, "sparql")

	c := Classification{
		Evaluation: strings.Contains(joined, "Eval"),
		Syntax:     strings.Contains(joined, "Syntax"),
		Positive:   !strings.Contains(joined, "Negative"),
		Ambiguous:  isJSON && isSPARQL,
	}
	switch {
	case isSPARQL:
		c.Comparison = CompareSPARQL
	case isJSON:
		c.Comparison = CompareJSON
	default:
		c.Comparison = CompareGraph
	}
	return c
}

// Entry is one test case of a manifest.
type Entry struct {
	ID       string
	Types    []string
	Name     string
	Comment  string
	Action   string
	Result   string
	Approval string

	// Extra holds attributes the harness passes through without
	// interpreting (options, http links, implicit files, ...).
	Extra map[string]any

	// Status is set by the runner and is not part of the manifest.
	Status Status
}

// Classification classifies the entry from its current types.
func (e *Entry) Classification() Classification {
	return Classify(e.Types)
}

// Fragment returns the part of the id after '#', or the id itself.
func (e *Entry) Fragment() string {
	if i := strings.LastIndexByte(e.ID, '#'); i >= 0 {
		return e.ID[i+1:]
	}
	return e.ID
}

var knownKeys = map[string]bool{
	"id": true, "@id": true, "type": true, "@type": true,
	"name": true, "comment": true, "action": true, "result": true, "approval": true,
}

// Attributes returns the entry as a JSON-LD node using the manifest's
// compacted term names. Status is not included.
func (e *Entry) Attributes() map[string]any {
	out := make(map[string]any, len(e.Extra)+7)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["id"] = e.ID
	if len(e.Types) == 1 {
		out["type"] = e.Types[0]
	} else if len(e.Types) > 1 {
		types := make([]any, len(e.Types))
		for i, t := range e.Types {
			types[i] = t
		}
		out["type"] = types
	}
	for k, v := range map[string]string{
		"name":     e.Name,
		"comment":  e.Comment,
		"action":   e.Action,
		"result":   e.Result,
		"approval": e.Approval,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// MarshalJSON encodes the entry attributes.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Attributes())
}

// UnmarshalJSON decodes a compacted JSON-LD node.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var node map[string]any
	if err := json.Unmarshal(data, &node); err != nil {
		return err
	}
	entry, err := entryFromNode(node)
	if err != nil {
		return err
	}
	*e = entry
	return nil
}

func entryFromNode(node map[string]any) (Entry, error) {
	var e Entry
	var err error

	if e.ID, err = stringField(node, "id", "@id"); err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		return Entry{}, fmt.Errorf("entry without id")
	}
	if e.Types, err = typesField(node); err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	for _, f := range []struct {
		dst *string
		key string
	}{
		{&e.Name, "name"},
		{&e.Comment, "comment"},
		{&e.Action, "action"},
		{&e.Result, "result"},
		{&e.Approval, "approval"},
	} {
		if *f.dst, err = stringField(node, f.key); err != nil {
			return Entry{}, fmt.Errorf("entry %s: %w", e.ID, err)
		}
	}

	for k, v := range node {
		if knownKeys[k] {
			continue
		}
		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}
		e.Extra[k] = v
	}
	return e, nil
}

// stringField reads the first present key. Node references ({"@id": ...})
// are accepted in place of strings.
func stringField(node map[string]any, keys ...string) (string, error) {
	for _, k := range keys {
		v, ok := node[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			return val, nil
		case map[string]any:
			if id, ok := val["@id"].(string); ok {
				return id, nil
			}
			if s, ok := val["@value"].(string); ok {
				return s, nil
			}
		}
		return "", fmt.Errorf("%s: expected string, got %T", k, v)
	}
	return "", nil
}

func typesField(node map[string]any) ([]string, error) {
	for _, k := range []string{"type", "@type"} {
		v, ok := node[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			return []string{val}, nil
		case []any:
			types := make([]string, 0, len(val))
			for _, t := range val {
				s, ok := t.(string)
				if !ok {
					return nil, fmt.Errorf("%s: expected string, got %T", k, t)
				}
				types = append(types, s)
			}
			return types, nil
		}
		return nil, fmt.Errorf("%s: expected string or list, got %T", k, v)
	}
	return nil, nil
}
