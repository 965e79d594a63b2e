package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates run identifiers in a fixed sequence.
//
// The same test with the same prefix produces byte-identical reports, which
// keeps golden snapshots stable. The zero prefix defaults to "test-run".
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator whose first ID is "<prefix>-0001".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "test-run"
	}
	return &SequentialIDs{prefix: prefix}
}

// NewID returns the next identifier.
func (g *SequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
