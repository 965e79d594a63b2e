package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store loads the manifest through a cache.
//
// The cached projection is used only while its modification time is at
// least as recent as the upstream document's last-modified time. A stale or
// missing cache is regenerated; a failed regeneration removes the artifact.
// Check-then-regenerate is serialized within the process by a mutex and
// across processes by Backend.Lock.
type Store struct {
	source  Source
	backend Backend
	base    string
	project Projector
	logger  *slog.Logger

	mu       sync.Mutex
	turtle   []byte
	framed   []byte
	manifest *Manifest
	cachedAt time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithBase sets the suite base IRI stripped from framed identifiers.
func WithBase(base string) StoreOption {
	return func(s *Store) { s.base = base }
}

// WithProjector replaces the JSON-LD framing step.
func WithProjector(p Projector) StoreOption {
	return func(s *Store) { s.project = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store. Without WithProjector the default frame is used.
func NewStore(source Source, backend Backend, opts ...StoreOption) *Store {
	s := &Store{
		source:  source,
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.project == nil {
		// The embedded frame is valid JSON.
		s.project, _ = NewFramer(nil)
	}
	return s
}

// Location returns where the upstream manifest is read from.
func (s *Store) Location() string { return s.source.Location() }

// Load returns the current manifest, regenerating the cache when needed.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	m, _, _, err := s.load(ctx)
	return m, err
}

// JSON returns the framed JSON-LD manifest.
func (s *Store) JSON(ctx context.Context) ([]byte, error) {
	_, framed, _, err := s.load(ctx)
	return framed, err
}

// Turtle returns the upstream manifest as last fetched.
func (s *Store) Turtle(ctx context.Context) ([]byte, error) {
	_, _, turtle, err := s.load(ctx)
	return turtle, err
}

func (s *Store) load(ctx context.Context) (*Manifest, []byte, []byte, error) {
	doc, err := s.source.Fetch(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, s.source.Location(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.turtle = doc.Body
	if m, ok := s.fresh(ctx, doc.LastModified); ok {
		return m, s.framed, s.turtle, nil
	}

	unlock, err := s.backend.Lock(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("lock manifest cache: %w", err)
	}
	defer unlock()

	// Another process may have regenerated while we waited for the lock.
	if m, ok := s.fresh(ctx, doc.LastModified); ok {
		return m, s.framed, s.turtle, nil
	}

	m, err := s.regenerate(ctx, doc)
	if err != nil {
		return nil, nil, nil, err
	}
	return m, s.framed, s.turtle, nil
}

// fresh returns the cached manifest if the artifact is not older than
// upstream. Must be called with s.mu held.
func (s *Store) fresh(ctx context.Context, upstream time.Time) (*Manifest, bool) {
	mod, ok, err := s.backend.Stat(ctx)
	if err != nil {
		s.logger.Warn("stat manifest cache", "error", err)
		return nil, false
	}
	if !ok || mod.Before(upstream) {
		return nil, false
	}
	if s.manifest != nil && s.cachedAt.Equal(mod) {
		return s.manifest, true
	}

	data, err := s.backend.Read(ctx)
	if err != nil {
		s.logger.Warn("read manifest cache", "error", err)
		return nil, false
	}
	m, err := Parse(data)
	if err != nil {
		s.logger.Warn("cached manifest unreadable, regenerating", "error", err)
		return nil, false
	}
	s.manifest, s.framed, s.cachedAt = m, data, mod
	return m, true
}

// regenerate must be called with s.mu and the backend lock held.
func (s *Store) regenerate(ctx context.Context, doc *Document) (*Manifest, error) {
	start := time.Now()

	framed, err := s.project(ctx, doc.Body, s.base)
	if err != nil {
		s.discard(ctx)
		return nil, fmt.Errorf("%w: %w", ErrMalformedManifest, err)
	}
	m, err := Parse(framed)
	if err != nil {
		s.discard(ctx)
		return nil, fmt.Errorf("%w: %w", ErrMalformedManifest, err)
	}
	if err := s.backend.Write(ctx, framed); err != nil {
		s.discard(ctx)
		return nil, fmt.Errorf("%w: write cache: %w", ErrMalformedManifest, err)
	}

	mod, _, err := s.backend.Stat(ctx)
	if err != nil {
		mod = time.Time{}
	}
	s.manifest, s.framed, s.cachedAt = m, framed, mod

	s.logger.Info("regenerated manifest cache",
		"source", s.source.Location(),
		"entries", m.Len(),
		"duration", time.Since(start),
	)
	return m, nil
}

func (s *Store) discard(ctx context.Context) {
	s.manifest, s.framed, s.cachedAt = nil, nil, time.Time{}
	if err := s.backend.Remove(ctx); err != nil {
		s.logger.Error("remove manifest cache", "error", err)
	}
}
