package board

import (
	"sync"
	"time"
)

const defaultDedupCapacity = 1000

// DedupGuard remembers which deliveries have already been processed.
// It is safe for concurrent use. When the set reaches capacity it is
// cleared wholesale rather than evicted entry by entry; the short window of
// possible reprocessing is acceptable because reconciliation is idempotent.
type DedupGuard struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]time.Time
	Now      func() time.Time
}

func NewDedupGuard(capacity int) *DedupGuard {
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	return &DedupGuard{
		capacity: capacity,
		seen:     make(map[string]time.Time, capacity),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// ShouldProcess reports whether the delivery with this key has not been
// processed yet.
func (g *DedupGuard) ShouldProcess(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, dup := g.seen[key]
	return !dup
}

// MarkProcessed records the key after a successful reconciliation.
func (g *DedupGuard) MarkProcessed(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.seen) >= g.capacity {
		g.seen = make(map[string]time.Time, g.capacity)
	}
	g.seen[key] = g.Now()
}

// Len returns the number of retained entries.
func (g *DedupGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
