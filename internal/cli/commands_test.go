package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/csvwtest/internal/runner"
)

const suiteBase = "http://example.org/tests/"

const framedManifest = `{
  "@context": {"id": "@id", "type": "@type"},
  "@graph": [
    {
      "id": "manifest-json",
      "type": "mf:Manifest",
      "label": "CSVW JSON tests",
      "entries": [
        {"id": "manifest-json#test001", "type": "csvt:ToJsonTest", "action": "test001.csv", "result": "test001.json"},
        {"id": "manifest-json#test005", "type": "csvt:NegativeJsonTest", "action": "test005.csv"}
      ]
    }
  ]
}`

const doapTurtle = `@prefix doap: <http://usefulinc.com/ns/doap#> .
<http://example.org/reflector#project> a doap:Project ;
  doap:name "reflector" .
`

type fixture struct {
	dir    string
	config string
	db     string
	cache  string
}

// newFixture lays out a workspace whose manifest cache is already fresh, so
// commands never need to frame Turtle.
func newFixture(t *testing.T, upstream string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:    dir,
		config: filepath.Join(dir, "csvwtest.yaml"),
		db:     filepath.Join(dir, "results.db"),
		cache:  filepath.Join(dir, "tests", "manifest.jsonld"),
	}

	write := func(name, data string) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	}
	write("tests/manifest.ttl", upstream)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "tests/manifest.ttl"), old, old))
	write("tests/manifest.jsonld", framedManifest)
	write("tests/test001.csv", "a\n1\n")
	write("tests/test001.json", `{"a":"1"}`)
	write("tests/test005.csv", "a\n")
	write("doap.ttl", doapTurtle)
	write("processors.json", fmt.Sprintf(`[{"name": "reflector", "endpoint": %q, "doap": "/doap.ttl"}]`, runner.ReflectorEndpoint))
	write("csvwtest.yaml", fmt.Sprintf(`
manifest:
  source: %s
  cache: %s
  base: %s
tests_dir: %s
processors: %s
log:
  level: error
`, filepath.Join(dir, "tests/manifest.ttl"), f.cache, suiteBase, filepath.Join(dir, "tests"), filepath.Join(dir, "processors.json")))
	return f
}

func (f *fixture) exec(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), append([]string{"--config", f.config}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	resp := CLIResponse{Data: data}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestRun_ReflectorSingleTestPasses(t *testing.T) {
	f := newFixture(t, "")

	code, out, stderr := f.exec(t, "run", "reflector", "test001", "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var report RunReport
	resp := decodeResponse(t, out, &report)
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.RunID, "nothing recorded without a database")
	assert.Equal(t, runner.ReflectorEndpoint, report.Processor)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Passed)
	require.Len(t, report.Tests, 1)
	assert.Equal(t, "manifest-json#test001", report.Tests[0].ID)
	assert.Equal(t, "Pass", report.Tests[0].Outcome)
}

func TestRun_FailureExitCode(t *testing.T) {
	f := newFixture(t, "")

	code, out, stderr := f.exec(t, "run", runner.ReflectorEndpoint)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "PASS   manifest-json#test001")
	assert.Contains(t, out, "FAIL   manifest-json#test005")
	assert.Contains(t, out, "2 tests against "+runner.ReflectorEndpoint+": 1 passed, 1 failed, 0 errors")
	assert.Contains(t, stderr, "Error [TEST_FAILURE]: 1 of 2 tests did not pass")
}

func TestRun_Filter(t *testing.T) {
	f := newFixture(t, "")

	code, out, _ := f.exec(t, "run", "reflector", "--filter", "test00[1-3]")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "1 tests against")
}

func TestRun_CommandErrors(t *testing.T) {
	f := newFixture(t, "")

	tests := map[string][]string{
		"unknown test":             {"run", "reflector", "test999"},
		"not an endpoint":          {"run", "no-such-processor"},
		"bad parallel":             {"run", "reflector", "--parallel", "0"},
		"bad filter":               {"run", "reflector", "--filter", "["},
		"missing processor":        {"run"},
		"report needs --processor": {"report"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			code, _, _ := f.exec(t, args...)
			assert.Equal(t, ExitCommandError, code)
		})
	}
}

func TestRun_RecordsThenReports(t *testing.T) {
	f := newFixture(t, "")

	code, out, stderr := f.exec(t, "run", "reflector", "test001", "--db", f.db, "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)
	resp := decodeResponse(t, out, &RunReport{})
	require.NotEmpty(t, resp.RunID)

	code, out, stderr = f.exec(t, "runs", "--db", f.db, "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)
	var history RunHistory
	decodeResponse(t, out, &history)
	require.Len(t, history.Runs, 1)
	assert.Equal(t, resp.RunID, history.Runs[0].RunID)
	assert.Equal(t, 1, history.Runs[0].Passed)

	code, out, stderr = f.exec(t, "report", "--processor", "reflector", "--db", f.db)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, out, "@prefix earl: <http://www.w3.org/ns/earl#> .")
	assert.Contains(t, out, "earl:subject <http://example.org/reflector#project>;")
	assert.Contains(t, out, "earl:test <"+suiteBase+"manifest-json#test001>;")
	assert.Contains(t, out, "earl:outcome earl:passed;")

	earlPath := filepath.Join(f.dir, "earl.ttl")
	code, out, _ = f.exec(t, "report", "--processor", "reflector", "--db", f.db, "--run", resp.RunID, "-o", earlPath)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Wrote 1 assertions to "+earlPath)
	data, err := os.ReadFile(earlPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "earl:Assertion")
}

func TestReport_NoResults(t *testing.T) {
	f := newFixture(t, "")

	code, _, stderr := f.exec(t, "report", "--processor", "reflector", "--db", f.db)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "no recorded results")
}

func TestRuns_EmptyDatabase(t *testing.T) {
	f := newFixture(t, "")

	code, out, _ := f.exec(t, "runs", "--db", f.db)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "No runs recorded.")
}

func TestManifest_List(t *testing.T) {
	f := newFixture(t, "")

	code, out, stderr := f.exec(t, "manifest", "--list", "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var info ManifestInfo
	decodeResponse(t, out, &info)
	assert.Equal(t, "CSVW JSON tests", info.Label)
	assert.Equal(t, 2, info.Count)
	assert.Equal(t, f.cache, info.Cache)
	assert.Equal(t, []EntrySummary{
		{ID: "manifest-json#test001", Comparison: "json", Positive: true},
		{ID: "manifest-json#test005", Comparison: "json", Positive: false},
	}, info.Entries)
}

func TestManifest_RegenerateMalformedUpstream(t *testing.T) {
	f := newFixture(t, "this is not turtle <")

	code, _, stderr := f.exec(t, "manifest", "--regenerate")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "failed to load manifest")

	_, err := os.Stat(f.cache)
	assert.True(t, os.IsNotExist(err), "a failed regeneration leaves no cache behind")
}

func TestServe_StartsAndStops(t *testing.T) {
	f := newFixture(t, "")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan int, 1)
	var stdout, stderr bytes.Buffer
	go func() {
		done <- Execute(ctx, []string{"--config", f.config, "serve", "--listen", addr}, &stdout, &stderr)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/tests/test001")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, ExitSuccess, code, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
