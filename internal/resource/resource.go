// Package resource locates the files of a test suite: the inputs handed to
// processors and the expected results they are compared against.
//
// A suite has a base URI. Entries refer to their resources relative to
// it. The bytes can come from a local copy of the suite (DirSuite) or from
// the published suite itself (HTTPSuite).
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// ErrNotFound is returned when a resource does not exist in the suite.
var ErrNotFound = errors.New("resource not found")

// Resource is the content of a located resource.
type Resource struct {
	Body        []byte
	ContentType string
	Location    string
}

// Locator identifies one resource and can open it.
type Locator interface {
	Open(ctx context.Context) (*Resource, error)
	Location() string
}

// Suite resolves suite-relative references.
type Suite interface {
	// Resolve returns the absolute URI of ref.
	Resolve(ref string) string
	// Locate returns a Locator for ref.
	Locate(ref string) Locator
}

var contentTypes = map[string]string{
	".csv":    "text/csv",
	".tsv":    "text/tab-separated-values",
	".json":   "application/json",
	".jsonld": "application/ld+json",
	".ttl":    "text/turtle",
	".nt":     "application/n-triples",
	".nq":     "application/n-quads",
	".rdf":    "application/rdf+xml",
	".rq":     "application/sparql-query",
	".sparql": "application/sparql-query",
	".html":   "text/html",
}

// ContentTypeOf returns the media type for a file name by extension.
func ContentTypeOf(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

type base struct {
	uri *url.URL
}

func parseBase(raw string) (base, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return base{}, fmt.Errorf("parse base URI %q: %w", raw, err)
	}
	if !u.IsAbs() {
		return base{}, fmt.Errorf("base URI %q is not absolute", raw)
	}
	return base{uri: u}, nil
}

func (b base) resolve(ref string) *url.URL {
	r, err := url.Parse(ref)
	if err != nil {
		return b.uri.JoinPath(ref)
	}
	return b.uri.ResolveReference(r)
}

// DirSuite serves resources from a file system holding a copy of the suite.
type DirSuite struct {
	base
	fsys fs.FS
}

// NewDirSuite returns a suite rooted at baseURI whose files live in fsys.
func NewDirSuite(baseURI string, fsys fs.FS) (*DirSuite, error) {
	b, err := parseBase(baseURI)
	if err != nil {
		return nil, err
	}
	return &DirSuite{base: b, fsys: fsys}, nil
}

func (s *DirSuite) Resolve(ref string) string { return s.resolve(ref).String() }

func (s *DirSuite) Locate(ref string) Locator {
	return &fileLocator{suite: s, loc: s.resolve(ref)}
}

// name maps a resolved URI to a path inside fsys. URIs below the base keep
// their relative path; anything else falls back to the last path segment.
func (s *DirSuite) name(u *url.URL) string {
	basePath := s.uri.Path
	if !strings.HasSuffix(basePath, "/") {
		basePath = path.Dir(basePath) + "/"
	}
	if u.Scheme == s.uri.Scheme && u.Host == s.uri.Host && strings.HasPrefix(u.Path, basePath) {
		return strings.TrimPrefix(u.Path, basePath)
	}
	return path.Base(u.Path)
}

type fileLocator struct {
	suite *DirSuite
	loc   *url.URL
}

func (l *fileLocator) Location() string { return l.loc.String() }

func (l *fileLocator) Open(ctx context.Context) (*Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := l.suite.name(l.loc)
	data, err := fs.ReadFile(l.suite.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, l.loc)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return &Resource{
		Body:        data,
		ContentType: ContentTypeOf(name),
		Location:    l.loc.String(),
	}, nil
}

// HTTPSuite fetches resources from the published suite.
type HTTPSuite struct {
	base
	client *http.Client
}

// NewHTTPSuite returns a suite that GETs resources below baseURI.
// A nil client means http.DefaultClient.
func NewHTTPSuite(baseURI string, client *http.Client) (*HTTPSuite, error) {
	b, err := parseBase(baseURI)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSuite{base: b, client: client}, nil
}

func (s *HTTPSuite) Resolve(ref string) string { return s.resolve(ref).String() }

func (s *HTTPSuite) Locate(ref string) Locator {
	return &httpLocator{client: s.client, loc: s.resolve(ref).String()}
}

type httpLocator struct {
	client *http.Client
	loc    string
}

func (l *httpLocator) Location() string { return l.loc }

func (l *httpLocator) Open(ctx context.Context) (*Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.loc, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", l.loc, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", l.loc, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, l.loc)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: unexpected status %s", l.loc, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.loc, err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = ContentTypeOf(l.loc)
	}
	return &Resource{Body: body, ContentType: ct, Location: l.loc}, nil
}

// Remote returns a Locator that GETs uri. A nil client means
// http.DefaultClient.
func Remote(uri string, client *http.Client) Locator {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpLocator{client: client, loc: uri}
}

// Static returns a Locator over in-memory content.
func Static(r Resource) Locator { return staticLocator{r: r} }

type staticLocator struct {
	r Resource
}

func (s staticLocator) Location() string { return s.r.Location }

func (s staticLocator) Open(context.Context) (*Resource, error) {
	r := s.r
	return &r, nil
}
