package manifest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Document is one retrieval of the upstream manifest.
type Document struct {
	Body         []byte
	LastModified time.Time
}

// Source retrieves the upstream Turtle manifest.
type Source interface {
	Fetch(ctx context.Context) (*Document, error)
	Location() string
}

// FileSource reads the manifest from the local filesystem.
type FileSource struct {
	path string
}

// NewFileSource creates a source for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Location() string { return s.path }

func (s *FileSource) Fetch(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return &Document{Body: body, LastModified: info.ModTime()}, nil
}

// HTTPSource fetches the manifest over HTTP.
//
// Repeat fetches are conditional on the validators of the previous
// response; a 304 returns the previous document. A response without a
// usable Last-Modified header is treated as modified at the time it was
// fetched, unless its body equals the previous one.
type HTTPSource struct {
	url    string
	client *http.Client
	clock  Clock

	mu           sync.Mutex
	last         *Document
	etag         string
	lastModified string
}

// NewHTTPSource creates a source for url. A nil client uses
// http.DefaultClient; a nil clock uses SystemClock.
func NewHTTPSource(url string, client *http.Client, clock Clock) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	if clock == nil {
		clock = SystemClock
	}
	return &HTTPSource{url: url, client: client, clock: clock}
}

func (s *HTTPSource) Location() string { return s.url }

func (s *HTTPSource) Fetch(ctx context.Context) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/turtle, application/x-turtle;q=0.9, */*;q=0.1")

	s.mu.Lock()
	last, etag, lastModified := s.last, s.etag, s.lastModified
	s.mu.Unlock()
	if last != nil {
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		if lastModified != "" {
			req.Header.Set("If-Modified-Since", lastModified)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && last != nil {
		return last, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: unexpected status %s", s.url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", s.url, err)
	}

	doc := &Document{Body: body, LastModified: s.clock.Now()}
	lm := resp.Header.Get("Last-Modified")
	if t, err := http.ParseTime(lm); err == nil {
		doc.LastModified = t
	} else {
		lm = ""
		if last != nil && bytes.Equal(last.Body, body) {
			doc.LastModified = last.LastModified
		}
	}

	s.mu.Lock()
	s.last, s.etag, s.lastModified = doc, resp.Header.Get("ETag"), lm
	s.mu.Unlock()
	return doc, nil
}
