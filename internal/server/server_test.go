package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/csvwtest/internal/earl"
	"github.com/roach88/csvwtest/internal/manifest"
	"github.com/roach88/csvwtest/internal/processors"
	"github.com/roach88/csvwtest/internal/resource"
	"github.com/roach88/csvwtest/internal/results"
	"github.com/roach88/csvwtest/internal/runner"
	"github.com/roach88/csvwtest/internal/testutil"
)

const suiteBase = "http://example.org/tests/"

const manifestTurtle = `@prefix mf: <http://www.w3.org/2001/sw/DataAccess/tests/test-manifest#> .
<manifest-json> a mf:Manifest .
`

const framedManifest = `{
  "@context": {"id": "@id", "type": "@type"},
  "@graph": [
    {
      "id": "manifest-json",
      "type": "mf:Manifest",
      "entries": [
        {"id": "manifest-json#test001", "type": "csvt:ToJsonTest", "action": "test001.csv", "result": "test001.json"},
        {"id": "manifest-json#test005", "type": "csvt:NegativeJsonTest", "action": "test005.csv"}
      ]
    }
  ]
}`

const doapTurtle = `@prefix doap: <http://usefulinc.com/ns/doap#> .
<http://proc.example/#project> a doap:Project ;
  doap:name "proc" .
`

type staticSource struct {
	body []byte
	err  error
}

func (s *staticSource) Fetch(ctx context.Context) (*manifest.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &manifest.Document{Body: s.body, LastModified: testutil.Epoch}, nil
}

func (s *staticSource) Location() string { return "test:manifest.ttl" }

func framed(ctx context.Context, turtle []byte, base string) ([]byte, error) {
	return []byte(framedManifest), nil
}

func newStore(src manifest.Source) *manifest.Store {
	return manifest.NewStore(src,
		manifest.NewMemBackend(testutil.NewFakeClock()),
		manifest.WithProjector(framed),
	)
}

func newRunner(t *testing.T) *runner.Runner {
	t.Helper()
	suite, err := resource.NewDirSuite(suiteBase, fstest.MapFS{
		"test001.csv":  {Data: []byte("a\n1\n")},
		"test001.json": {Data: []byte(`{"a":"1"}`)},
		"test005.csv":  {Data: []byte("a\n")},
	})
	require.NoError(t, err)
	return runner.New(suite)
}

func newServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	return New(newStore(&staticSource{body: []byte(manifestTurtle)}), newRunner(t), opts...)
}

func newProcessor(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/convert?uri="
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, target, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return do(t, h, req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc), rec.Body.String())
	return doc
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	doc := decode(t, rec)
	assert.Equal(t, "error", doc["status"])
	detail, _ := doc["error"].(map[string]any)
	code, _ := detail["code"].(string)
	return code
}

func TestRedirects(t *testing.T) {
	h := newServer(t).Handler()
	for _, target := range []string{"/", "/tests/"} {
		rec := get(t, h, target, "")
		assert.Equal(t, http.StatusFound, rec.Code, target)
		assert.Equal(t, "/tests", rec.Header().Get("Location"), target)
	}
}

func TestGetManifest_Negotiation(t *testing.T) {
	h := newServer(t).Handler()

	tests := []struct {
		name   string
		target string
		accept string
		want   string
	}{
		{"default", "/tests", "", mediaJSONLD},
		{"wildcard", "/tests", "*/*", mediaJSONLD},
		{"turtle accept", "/tests", "text/turtle", mediaTurtle},
		{"json alias", "/tests", "application/json", mediaJSON},
		{"q values", "/tests", "text/turtle;q=0.5, application/ld+json", mediaJSONLD},
		{"ttl extension", "/tests.ttl", "", mediaTurtle},
		{"extension beats accept", "/tests.jsonld", "text/turtle", mediaJSONLD},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.target, tt.accept)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, rec.Header().Get("Content-Type"))
			if tt.want == mediaTurtle {
				assert.Equal(t, manifestTurtle, rec.Body.String())
			} else {
				assert.JSONEq(t, framedManifest, rec.Body.String())
			}
		})
	}
}

func TestGetManifest_NotAcceptable(t *testing.T) {
	h := newServer(t).Handler()

	rec := get(t, h, "/tests", "text/html")
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
	assert.Equal(t, ErrCodeNotAcceptable, errorCode(t, rec))

	rec = get(t, h, "/tests.xml", "")
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestGetManifest_CacheHeaders(t *testing.T) {
	h := newServer(t, WithMaxAge(90*time.Second)).Handler()

	rec := get(t, h, "/tests", "")
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	assert.NotEmpty(t, etag)
	assert.Equal(t, "public, must-revalidate, max-age=90", rec.Header().Get("Cache-Control"))

	ttl := get(t, h, "/tests.ttl", "")
	assert.NotEqual(t, etag, ttl.Header().Get("ETag"), "representations are tagged separately")

	req := httptest.NewRequest(http.MethodGet, "/tests", nil)
	req.Header.Set("If-None-Match", etag)
	rec = do(t, h, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestGetManifest_UpstreamUnavailable(t *testing.T) {
	s := New(newStore(&staticSource{err: errors.New("connection refused")}), newRunner(t))

	rec := get(t, s.Handler(), "/tests", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, ErrCodeUpstreamUnavailable, errorCode(t, rec))
}

func TestGetEntry(t *testing.T) {
	h := newServer(t).Handler()

	for _, target := range []string{"/tests/test001", "/tests/test001.jsonld", "/tests/manifest-json%23test001"} {
		rec := get(t, h, target, "")
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, mediaJSONLD, rec.Header().Get("Content-Type"))
		assert.NotEmpty(t, rec.Header().Get("ETag"))

		doc := decode(t, rec)
		assert.Equal(t, "manifest-json#test001", doc["id"])
		assert.Equal(t, "test001.csv", doc["action"])
		assert.Contains(t, doc, "@context")
		assert.NotContains(t, doc, "status")
	}

	rec := get(t, h, "/tests/test999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeTestNotFound, errorCode(t, rec))

	rec = get(t, h, "/tests/test001.ttl", "")
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestRunEntry_ReflectorGolden(t *testing.T) {
	h := newServer(t).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/tests/test001", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, mediaJSONLD, rec.Header().Get("Content-Type"))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "run_reflector", rec.Body.Bytes())
}

func TestRunEntry_FormProcessor(t *testing.T) {
	h := newServer(t).Handler()
	endpoint := newProcessor(t, http.StatusOK, `{"a":"2"}`)

	form := url.Values{"processorUrl": {endpoint}}
	req := httptest.NewRequest(http.MethodPost, "/tests/test001", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decode(t, rec)
	assert.Equal(t, "Fail", doc["status"])
	assert.Nil(t, doc["error"])
	assert.Equal(t, `{"a":"2"}`, doc["extracted_body"])
	assert.Equal(t, endpoint+suiteBase+"test001.csv", doc["extracted_loc"])
}

func TestRunEntry_NegativeEntry(t *testing.T) {
	h := newServer(t).Handler()
	endpoint := newProcessor(t, http.StatusOK, `{}`)

	req := httptest.NewRequest(http.MethodPost, "/tests/test005?processorUrl="+url.QueryEscape(endpoint), nil)
	doc := decode(t, do(t, h, req))
	assert.Equal(t, "Fail", doc["status"], "a negative test the processor accepted fails")
}

func TestRunEntry_TransportError(t *testing.T) {
	h := newServer(t).Handler()
	endpoint := newProcessor(t, http.StatusInternalServerError, "boom")

	form := url.Values{"processorUrl": {endpoint}}
	req := httptest.NewRequest(http.MethodPost, "/tests/test001", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	doc := decode(t, do(t, h, req))

	assert.Equal(t, "Error", doc["status"])
	assert.Contains(t, doc["error"], "500")
	assert.Equal(t, "", doc["extracted_body"])
}

func TestRunEntry_JSONBodyRecordsVerdict(t *testing.T) {
	endpoint := newProcessor(t, http.StatusOK, `{"a":"1"}`)
	reg, err := processors.New([]processors.Processor{{Name: "proc", Endpoint: endpoint}})
	require.NoError(t, err)
	store, err := results.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := newServer(t, WithProcessors(reg), WithResults(store))
	require.NotEmpty(t, s.RunID())

	req := httptest.NewRequest(http.MethodPost, "/tests/test001", strings.NewReader(`{"processorUrl": "proc"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, s.Handler(), req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Pass", decode(t, rec)["status"])

	recs, err := store.Latest(context.Background(), endpoint)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, s.RunID(), recs[0].RunID)
	assert.Equal(t, "manifest-json#test001", recs[0].TestID)
	assert.Equal(t, manifest.StatusPass, recs[0].Outcome)
}

func TestRunEntry_BadRequests(t *testing.T) {
	h := newServer(t).Handler()

	req := httptest.NewRequest(http.MethodPost, "/tests/test001", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeBadRequest, errorCode(t, rec))

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/tests/test999", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEARL(t *testing.T) {
	reg, err := processors.New([]processors.Processor{
		{Name: "first", Endpoint: "http://first.example/?uri=", DOAP: "/missing.ttl"},
		{Name: "proc", Endpoint: "http://proc.example/?uri=", DOAP: "/doap.ttl"},
	})
	require.NoError(t, err)
	loader := &earl.Loader{FS: fstest.MapFS{"doap.ttl": {Data: []byte(doapTurtle)}}}
	h := newServer(t, WithProcessors(reg), WithDOAPLoader(loader)).Handler()

	q := "?processorUrl=" + url.QueryEscape("http://proc.example/?uri=")

	rec := get(t, h, "/earl.json"+q, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, mediaJSON, rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
	doap, _ := decode(t, rec)["doap"].(string)
	assert.Contains(t, doap, "@prefix earl: <http://www.w3.org/ns/earl#> .")
	assert.Contains(t, doap, "doap:Project")

	rec = get(t, h, "/earl.ttl?processorUrl=unknown", "")
	require.Equal(t, http.StatusOK, rec.Code, "unknown endpoints fall back to the last processor")
	assert.Equal(t, mediaTurtle, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "@prefix dc:")

	rec = get(t, h, "/earl?processorUrl="+url.QueryEscape("http://first.example/?uri="), "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, ErrCodeDOAPUnavailable, errorCode(t, rec))
}

func TestGetEARL_NoProcessors(t *testing.T) {
	rec := get(t, newServer(t).Handler(), "/earl", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNoProcessors, errorCode(t, rec))
}

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newServer(t).Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/tests.ttl")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNegotiate(t *testing.T) {
	offers := []string{mediaJSONLD, mediaTurtle}
	tests := []struct {
		accept string
		want   string
		ok     bool
	}{
		{"", mediaJSONLD, true},
		{"text/*", mediaTurtle, true},
		{"application/ld+json;q=0.2, text/turtle;q=0.9", mediaTurtle, true},
		{"text/html, */*;q=0.1", mediaJSONLD, true},
		{"image/png", "", false},
		{"not a media type", "", false},
		{"application/ld+json;q=0, */*", mediaTurtle, true},
		{"text/*;q=0, */*;q=0.5", mediaJSONLD, true},
		{"*/*;q=0, text/turtle", mediaTurtle, true},
		{"application/ld+json;q=0", "", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/tests", nil)
		req.Header.Set("Accept", tt.accept)
		got, ok := negotiate(req, offers...)
		assert.Equal(t, tt.ok, ok, tt.accept)
		assert.Equal(t, tt.want, got, tt.accept)
	}
}
