package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Manifest is a parsed framed manifest.
type Manifest struct {
	ID      string
	Label   string
	Comment string

	// Context is the JSON-LD context of the framed document, carried through
	// so the document can be served back unchanged.
	Context any

	entries []Entry
	index   map[string]int
}

// Parse decodes a framed JSON-LD manifest. Both the framed form with a
// top-level @graph and a bare manifest node are accepted.
func Parse(data []byte) (*Manifest, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	node := doc
	if graph, ok := doc["@graph"].([]any); ok {
		node = nil
		for _, item := range graph {
			obj, ok := item.(map[string]any)
			if ok && obj["entries"] != nil {
				node = obj
				break
			}
		}
		if node == nil {
			return nil, fmt.Errorf("no manifest node in @graph")
		}
	}

	raw, ok := node["entries"].([]any)
	if !ok {
		if single, isObj := node["entries"].(map[string]any); isObj {
			raw = []any{single}
		} else {
			return nil, fmt.Errorf("manifest has no entries")
		}
	}

	m := &Manifest{
		Context: doc["@context"],
		entries: make([]Entry, 0, len(raw)),
		index:   make(map[string]int, len(raw)),
	}
	m.ID, _ = stringField(node, "id", "@id")
	m.Label, _ = stringField(node, "label")
	m.Comment, _ = stringField(node, "comment")

	for i, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("entry %d: expected object, got %T", i, item)
		}
		entry, err := entryFromNode(obj)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if _, dup := m.index[entry.ID]; dup {
			return nil, fmt.Errorf("duplicate entry id %q", entry.ID)
		}
		m.index[entry.ID] = len(m.entries)
		m.entries = append(m.entries, entry)
	}
	return m, nil
}

// Len returns the number of entries.
func (m *Manifest) Len() int { return len(m.entries) }

// Entries returns copies of all entries in manifest order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	for i := range m.entries {
		out[i] = m.entries[i].clone()
	}
	return out
}

// Find returns the entry whose id equals id exactly.
func (m *Manifest) Find(id string) (Entry, bool) {
	i, ok := m.index[id]
	if !ok {
		return Entry{}, false
	}
	return m.entries[i].clone(), true
}

// Lookup finds an entry by exact id, falling back to its fragment
// ("test001" for "manifest-json#test001").
func (m *Manifest) Lookup(name string) (Entry, bool) {
	if e, ok := m.Find(name); ok {
		return e, true
	}
	if strings.ContainsAny(name, "#/") {
		return Entry{}, false
	}
	for i := range m.entries {
		if m.entries[i].Fragment() == name {
			return m.entries[i].clone(), true
		}
	}
	return Entry{}, false
}

// Document returns the manifest as a JSON-LD document with entry statuses
// omitted.
func (m *Manifest) Document() map[string]any {
	entries := make([]any, len(m.entries))
	for i := range m.entries {
		entries[i] = m.entries[i].Attributes()
	}
	node := map[string]any{"entries": entries}
	if m.ID != "" {
		node["id"] = m.ID
	}
	if m.Label != "" {
		node["label"] = m.Label
	}
	if m.Comment != "" {
		node["comment"] = m.Comment
	}
	if m.Context != nil {
		node["@context"] = m.Context
	}
	return node
}

func (e *Entry) clone() Entry {
	c := *e
	c.Types = append([]string(nil), e.Types...)
	if e.Extra != nil {
		c.Extra = make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			c.Extra[k] = v
		}
	}
	c.Status = StatusTest
	return c
}
