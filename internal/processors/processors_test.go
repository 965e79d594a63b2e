package processors

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryJSON = `[
  {"name": "Reflector", "endpoint": "http://example.org/reflector?uri="},
  {"name": "Example", "endpoint": "http://proc.example/convert?uri=", "doap": "/doap/example.ttl"},
  {"name": "Remote", "endpoint": "https://remote.example/csvw?url=", "doap": "/doap/x.ttl", "doap_url": "https://remote.example/doap.ttl"}
]`

const registryYAML = `
- name: Reflector
  endpoint: http://example.org/reflector?uri=
- name: Example
  endpoint: http://proc.example/convert?uri=
  doap: /doap/example.ttl
`

func TestParse_JSON(t *testing.T) {
	r, err := Parse([]byte(registryJSON), FormatJSON)
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())

	all := r.All()
	assert.Equal(t, "Reflector", all[0].Name)
	assert.Equal(t, "/doap/example.ttl", all[1].DOAPRef())
	assert.Equal(t, "https://remote.example/doap.ttl", all[2].DOAPRef())
}

func TestParse_YAML(t *testing.T) {
	r, err := Parse([]byte(registryYAML), FormatYAML)
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())

	p, ok := r.ByName("Example")
	require.True(t, ok)
	assert.Equal(t, "http://proc.example/convert?uri=", p.Endpoint)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := map[string]string{
		"empty name":        `[{"name": "", "endpoint": "http://a/"}]`,
		"missing endpoint":  `[{"name": "a"}]`,
		"relative endpoint": `[{"name": "a", "endpoint": "/convert"}]`,
		"unknown field":     `[{"name": "a", "endpoint": "http://a/", "colour": "red"}]`,
		"not a list":        `{"name": "a", "endpoint": "http://a/"}`,
		"bad doap_url":      `[{"name": "a", "endpoint": "http://a/", "doap_url": "ftp://x"}]`,
		"numeric endpoint":  `[{"name": "a", "endpoint": 3}]`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data), FormatJSON)
			require.Error(t, err)
			var se *SchemaError
			assert.ErrorAs(t, err, &se)
		})
	}
}

func TestParse_DecodeErrors(t *testing.T) {
	_, err := Parse([]byte(`[`), FormatJSON)
	assert.Error(t, err)

	_, err = Parse([]byte("- name: [unclosed"), FormatYAML)
	assert.Error(t, err)
}

func TestNew_Duplicates(t *testing.T) {
	_, err := New([]Processor{{Name: "a", Endpoint: "http://a/"}, {Name: "a", Endpoint: "http://b/"}})
	assert.ErrorContains(t, err, "duplicate processor name")

	_, err = New([]Processor{{Name: "a", Endpoint: "http://a/"}, {Name: "b", Endpoint: "http://a/"}})
	assert.ErrorContains(t, err, "duplicate processor endpoint")
}

func TestByEndpoint_FallsBackToLast(t *testing.T) {
	r, err := Parse([]byte(registryJSON), FormatJSON)
	require.NoError(t, err)

	p, err := r.ByEndpoint("http://proc.example/convert?uri=")
	require.NoError(t, err)
	assert.Equal(t, "Example", p.Name)

	p, err = r.ByEndpoint("http://unknown.example/")
	require.NoError(t, err)
	assert.Equal(t, "Remote", p.Name)

	_, ok := r.Find("http://unknown.example/")
	assert.False(t, ok)

	empty, err := New(nil)
	require.NoError(t, err)
	_, err = empty.ByEndpoint("x")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	r, err := Parse([]byte(registryJSON), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, "http://proc.example/convert?uri=", r.Resolve("Example"))
	assert.Equal(t, "http://adhoc.example/?uri=", r.Resolve("http://adhoc.example/?uri="))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "processors.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(registryYAML), 0o644))

	r, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatOf("processors.yml"))
	assert.Equal(t, FormatYAML, FormatOf("P.YAML"))
	assert.Equal(t, FormatJSON, FormatOf("processors.json"))
}
