package service

import (
	"sync"
	"time"

	"github.com/vantagepay/fraudlens/internal/domain"
	"github.com/vantagepay/fraudlens/internal/embedding"
	"github.com/vantagepay/fraudlens/internal/graph"
)

// DefaultSnapshotTTL bounds how stale a cached embedding snapshot may
// be. A transaction scored within this window may see a graph that does
// not yet include the most recent arrivals.
const DefaultSnapshotTTL = 30 * time.Second

// snapshotCache memoizes the graph-plus-propagation pipeline so hot
// scoring paths do not rebuild embeddings per transaction.
type snapshotCache struct {
	mu         sync.Mutex
	builder    *graph.Builder
	propagator *embedding.Propagator
	ttl        time.Duration

	embeddings map[string]*embedding.NodeEmbedding
	nodeCount  int
	builtAt    time.Time
	builtFor   int // transaction count the snapshot was built from
}

func newSnapshotCache(b *graph.Builder, p *embedding.Propagator, ttl time.Duration) *snapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &snapshotCache{builder: b, propagator: p, ttl: ttl}
}

// snapshot returns the cached embeddings, rebuilding when the snapshot
// is older than the TTL or the transaction window has changed size
// since the last build.
func (c *snapshotCache) snapshot(transactions []*domain.Transaction, now time.Time) (map[string]*embedding.NodeEmbedding, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := now.Sub(c.builtAt) < c.ttl && c.builtFor == len(transactions)
	if c.embeddings != nil && fresh {
		return c.embeddings, c.nodeCount
	}

	nodes, edges := c.builder.Build(transactions)
	c.embeddings = c.propagator.Propagate(nodes, edges)
	c.nodeCount = len(nodes)
	c.builtAt = now
	c.builtFor = len(transactions)
	return c.embeddings, c.nodeCount
}

// invalidate forces the next snapshot call to rebuild.
func (c *snapshotCache) invalidate() {
	c.mu.Lock()
	c.builtAt = time.Time{}
	c.mu.Unlock()
}
