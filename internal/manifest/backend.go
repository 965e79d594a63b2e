package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Backend stores the framed manifest artifact.
type Backend interface {
	// Stat returns the artifact's modification time. ok is false when no
	// artifact exists.
	Stat(ctx context.Context) (mod time.Time, ok bool, err error)
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the artifact atomically.
	Write(ctx context.Context, data []byte) error

	// Remove deletes the artifact. Removing a missing artifact is not an error.
	Remove(ctx context.Context) error

	// Lock serializes regeneration across every user of the backend.
	Lock(ctx context.Context) (unlock func(), err error)
}

// DirBackend keeps the artifact in a file. Writes go through a temporary
// file renamed into place, and Lock takes an advisory lock on a sibling
// ".lock" file so concurrent harness processes do not regenerate at once.
type DirBackend struct {
	path string
}

// NewDirBackend creates a backend for the artifact at path.
func NewDirBackend(path string) *DirBackend {
	return &DirBackend{path: path}
}

// Path returns the artifact path.
func (b *DirBackend) Path() string { return b.path }

func (b *DirBackend) Stat(ctx context.Context) (time.Time, bool, error) {
	info, err := os.Stat(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return info.ModTime(), true, nil
}

func (b *DirBackend) Read(ctx context.Context) ([]byte, error) {
	return os.ReadFile(b.path)
}

func (b *DirBackend) Write(ctx context.Context, data []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (b *DirBackend) Remove(ctx context.Context) error {
	err := os.Remove(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (b *DirBackend) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	fl := flock.New(b.path + ".lock")
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: not acquired", fl.Path())
	}
	return func() { _ = fl.Unlock() }, nil
}

// MemBackend keeps the artifact in memory, stamping writes with an injected
// clock. It is meant for tests and for single-process use without a cache
// directory.
type MemBackend struct {
	mu     sync.Mutex
	lock   sync.Mutex
	clock  Clock
	data   []byte
	mod    time.Time
	exists bool
	writes int
}

// NewMemBackend creates an empty backend. A nil clock uses SystemClock.
func NewMemBackend(clock Clock) *MemBackend {
	if clock == nil {
		clock = SystemClock
	}
	return &MemBackend{clock: clock}
}

// Seed installs an artifact with the given modification time.
func (b *MemBackend) Seed(data []byte, mod time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append([]byte(nil), data...)
	b.mod = mod
	b.exists = true
}

// Writes returns how many times Write succeeded.
func (b *MemBackend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

func (b *MemBackend) Stat(ctx context.Context) (time.Time, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mod, b.exists, nil
}

func (b *MemBackend) Read(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.exists {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), b.data...), nil
}

func (b *MemBackend) Write(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append([]byte(nil), data...)
	b.mod = b.clock.Now()
	b.exists = true
	b.writes++
	return nil
}

func (b *MemBackend) Remove(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	b.mod = time.Time{}
	b.exists = false
	return nil
}

func (b *MemBackend) Lock(ctx context.Context) (func(), error) {
	b.lock.Lock()
	return b.lock.Unlock, nil
}
