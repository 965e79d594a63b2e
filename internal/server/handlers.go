package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/roach88/csvwtest/internal/canonical"
	"github.com/roach88/csvwtest/internal/manifest"
	"github.com/roach88/csvwtest/internal/results"
	"github.com/roach88/csvwtest/internal/runner"
)

// Error codes in error responses.
const (
	ErrCodeNotAcceptable       = "NOT_ACCEPTABLE"
	ErrCodeTestNotFound        = "TEST_NOT_FOUND"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeMalformedManifest   = "MALFORMED_MANIFEST"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeNoProcessors        = "NO_PROCESSORS"
	ErrCodeDOAPUnavailable     = "DOAP_UNAVAILABLE"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

const etagDomain = "csvwtest/etag/v1"

type errorResponse struct {
	Status string      `json:"status"`
	Error  errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "code", code, "error", message)
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{
		Status: "error",
		Error:  errorDetail{Code: code, Message: message},
	})
}

func (s *Server) manifestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, manifest.ErrUpstreamUnavailable):
		s.fail(w, r, http.StatusBadGateway, ErrCodeUpstreamUnavailable, err.Error())
	case errors.Is(err, manifest.ErrMalformedManifest):
		s.fail(w, r, http.StatusInternalServerError, ErrCodeMalformedManifest, err.Error())
	default:
		s.fail(w, r, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

func (s *Server) notAcceptable(w http.ResponseWriter, r *http.Request) {
	s.fail(w, r, http.StatusNotAcceptable, ErrCodeNotAcceptable,
		fmt.Sprintf("no representation for %q", r.Header.Get("Accept")))
}

// writeTagged writes body with an entity tag, answering 304 when the client
// already has it. Cacheable responses also get Cache-Control.
func (s *Server) writeTagged(w http.ResponseWriter, r *http.Request, contentType string, body []byte, cacheable bool) {
	etag := `"` + canonical.HashBytes(etagDomain, body) + `"`
	h := w.Header()
	h.Set("ETag", etag)
	h.Set("Vary", "Accept")
	if cacheable {
		h.Set("Cache-Control", fmt.Sprintf("public, must-revalidate, max-age=%d", int(s.maxAge.Seconds())))
	}
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Type", contentType)
	_, _ = w.Write(body)
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	mt, ok := negotiate(r, mediaJSONLD, mediaTurtle, mediaJSON)
	if !ok {
		s.notAcceptable(w, r)
		return
	}

	var body []byte
	var err error
	if mt == mediaTurtle {
		body, err = s.manifests.Turtle(r.Context())
	} else {
		body, err = s.manifests.JSON(r.Context())
	}
	if err != nil {
		s.manifestError(w, r, err)
		return
	}
	s.writeTagged(w, r, mt, body, true)
}

// lookup loads the manifest and finds the entry named by the id URL
// parameter, writing the error response when it cannot.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*manifest.Manifest, manifest.Entry, bool) {
	id := chi.URLParam(r, "id")
	if unescaped, err := url.PathUnescape(id); err == nil {
		id = unescaped
	}

	m, err := s.manifests.Load(r.Context())
	if err != nil {
		s.manifestError(w, r, err)
		return nil, manifest.Entry{}, false
	}
	entry, ok := m.Lookup(id)
	if !ok {
		s.fail(w, r, http.StatusNotFound, ErrCodeTestNotFound, fmt.Sprintf("no test entry %q", id))
		return nil, manifest.Entry{}, false
	}
	return m, entry, true
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	m, entry, ok := s.lookup(w, r)
	if !ok {
		return
	}
	mt, ok := negotiate(r, mediaJSONLD, mediaJSON)
	if !ok {
		s.notAcceptable(w, r)
		return
	}

	doc := entry.Attributes()
	if m.Context != nil {
		doc["@context"] = m.Context
	}
	body, err := canonical.Marshal(doc)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	s.writeTagged(w, r, mt, body, true)
}

type runRequest struct {
	ProcessorURL string `json:"processorUrl"`
}

// processorURL reads processorUrl from a JSON body, the form or the query.
// Registered processor names are accepted in place of endpoints.
func (s *Server) processorURL(r *http.Request) (string, error) {
	var endpoint string
	if render.GetRequestContentType(r) == render.ContentTypeJSON {
		var req runRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			return "", fmt.Errorf("decode request body: %w", err)
		}
		endpoint = req.ProcessorURL
	} else {
		if err := r.ParseForm(); err != nil {
			return "", fmt.Errorf("parse form: %w", err)
		}
		endpoint = r.FormValue("processorUrl")
	}
	if endpoint == "" {
		return runner.ReflectorEndpoint, nil
	}
	if s.registry != nil {
		endpoint = s.registry.Resolve(endpoint)
	}
	return endpoint, nil
}

func (s *Server) runEntry(w http.ResponseWriter, r *http.Request) {
	endpoint, err := s.processorURL(r)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	m, entry, ok := s.lookup(w, r)
	if !ok {
		return
	}

	loc, err := s.runner.Invocation(&entry, endpoint)
	if err != nil {
		loc = endpoint + entry.Action
	}
	v := s.runner.Run(r.Context(), &entry, endpoint)
	s.record(r, endpoint, v)

	body, err := canonical.Marshal(wireDocument(m, &entry, loc, v))
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	w.Header().Set("Content-Type", mediaJSONLD)
	_, _ = w.Write(body)
}

// wireDocument is the entry as answered to a run request: its attributes
// plus the invocation location, the extracted body, the outcome and the
// diagnostic.
func wireDocument(m *manifest.Manifest, entry *manifest.Entry, loc string, v runner.Verdict) map[string]any {
	doc := entry.Attributes()
	if m.Context != nil {
		doc["@context"] = m.Context
	}
	doc["extracted_loc"] = loc
	doc["extracted_body"] = string(v.Artifact)
	doc["status"] = string(v.Outcome)
	if diag := v.Diagnostic(); diag != "" {
		doc["error"] = diag
	} else {
		doc["error"] = nil
	}
	return doc
}

func (s *Server) record(r *http.Request, endpoint string, v runner.Verdict) {
	if s.results == nil {
		return
	}
	if err := s.results.Write(r.Context(), results.FromVerdict(s.runID, endpoint, v)); err != nil {
		s.logger.Error("failed to record verdict", "test", v.TestID, "error", err)
	}
}

func (s *Server) getEARL(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil || s.registry.Len() == 0 {
		s.fail(w, r, http.StatusNotFound, ErrCodeNoProcessors, "no processors registered")
		return
	}
	mt, ok := negotiate(r, mediaJSON, mediaTurtle)
	if !ok {
		s.notAcceptable(w, r)
		return
	}

	p, err := s.registry.ByEndpoint(r.URL.Query().Get("processorUrl"))
	if err != nil {
		s.fail(w, r, http.StatusNotFound, ErrCodeNoProcessors, err.Error())
		return
	}
	s.logger.Info("loading DOAP", "processor", p.Name, "doap", p.DOAPRef())
	d, err := s.doap.Load(r.Context(), p.DOAPRef())
	if err != nil {
		s.fail(w, r, http.StatusBadGateway, ErrCodeDOAPUnavailable, err.Error())
		return
	}

	body := []byte(d.Turtle)
	if mt == mediaJSON {
		if body, err = canonical.Marshal(map[string]any{"doap": d.Turtle}); err != nil {
			s.fail(w, r, http.StatusInternalServerError, ErrCodeInternal, err.Error())
			return
		}
	}
	s.writeTagged(w, r, mt, body, false)
}
