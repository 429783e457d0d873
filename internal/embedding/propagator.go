// Package embedding computes fixed-size node embeddings via one-hop
// neighbor aggregation over the relationship graph.
package embedding

import (
	"math"
	"math/rand"
	"time"

	"github.com/vantagepay/fraudlens/internal/graph"
)

const (
	// FeatureDim is the per-node raw feature vector length.
	FeatureDim = 10
	// EmbeddingDim is the output embedding dimensionality.
	EmbeddingDim = 64
	// weightSeed fixes the linear-map weights so embeddings are
	// reproducible across restarts.
	weightSeed = 0x5eed
)

// NodeEmbedding is the computed vector for a single node. Ephemeral:
// recomputed per scoring window.
type NodeEmbedding struct {
	NodeID     string
	Vector     []float64
	ComputedAt time.Time
}

// merchant category one-hot slots (dims 4..8 of the feature vector).
var categorySlots = map[string]int{
	"grocery":     4,
	"electronics": 5,
	"atm":         6,
	"travel":      7,
}

const categoryOtherSlot = 8

// Propagator performs single-layer mean-pooling message passing followed
// by a fixed linear transform and tanh nonlinearity.
type Propagator struct {
	// weights maps the concatenated [self || neighbors] vector
	// (2*FeatureDim) to EmbeddingDim.
	weights [][]float64
	layers  int
}

// NewPropagator creates a propagator with deterministic seeded weights
// and a single message-passing layer.
func NewPropagator() *Propagator {
	return NewPropagatorLayers(1)
}

// NewPropagatorLayers creates a propagator iterating the message-passing
// step layers times, feeding each layer the previous layer's output.
func NewPropagatorLayers(layers int) *Propagator {
	if layers < 1 {
		layers = 1
	}
	rng := rand.New(rand.NewSource(weightSeed))
	in := 2 * FeatureDim
	w := make([][]float64, EmbeddingDim)
	// Xavier-style scale keeps tanh inputs in a useful range.
	scale := math.Sqrt(2.0 / float64(in+EmbeddingDim))
	for i := range w {
		row := make([]float64, in)
		for j := range row {
			row[j] = rng.NormFloat64() * scale
		}
		w[i] = row
	}
	return &Propagator{weights: w, layers: layers}
}

// Propagate computes an embedding for every node in the graph. Neighbors
// are gathered by a linear scan of the edge list in both directions,
// O(E) per node set — acceptable for scoring windows in the tens.
func (p *Propagator) Propagate(nodes []*graph.Node, edges []*graph.Edge) map[string]*NodeEmbedding {
	features := make(map[string][]float64, len(nodes))
	for _, n := range nodes {
		features[n.Key()] = nodeFeatures(n)
	}

	adjacency := make(map[string][]string, len(nodes))
	for _, e := range edges {
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		adjacency[e.Target] = append(adjacency[e.Target], e.Source)
	}

	now := time.Now()
	out := make(map[string]*NodeEmbedding, len(nodes))
	current := features
	for layer := 0; layer < p.layers; layer++ {
		next := make(map[string][]float64, len(nodes))
		for _, n := range nodes {
			key := n.Key()
			self := current[key]
			pooled := meanPool(adjacency[key], current, len(self))
			next[key] = p.transform(self, pooled)
		}
		// Later layers consume the previous layer's embeddings as
		// features; the linear map expects FeatureDim inputs, so
		// project down by truncation before re-entering.
		if layer < p.layers-1 {
			for k, v := range next {
				next[k] = v[:FeatureDim]
			}
		}
		current = next
	}

	for _, n := range nodes {
		out[n.Key()] = &NodeEmbedding{
			NodeID:     n.Key(),
			Vector:     current[n.Key()],
			ComputedAt: now,
		}
	}
	return out
}

// nodeFeatures extracts the fixed 10-dimension raw feature vector:
// dims 0..3 type indicator, dims 4..8 merchant category one-hot,
// dims 4/5 normalized lat/lng for location nodes, dim 9 bias.
func nodeFeatures(n *graph.Node) []float64 {
	f := make([]float64, FeatureDim)
	switch n.Type {
	case graph.NodeUser:
		f[0] = 1
	case graph.NodeDevice:
		f[1] = 1
	case graph.NodeMerchant:
		f[2] = 1
		slot, ok := categorySlots[n.Category]
		if !ok {
			slot = categoryOtherSlot
		}
		f[slot] = 1
	case graph.NodeLocation:
		f[3] = 1
		f[4] = n.Lat / 90.0
		f[5] = n.Lng / 180.0
	}
	f[9] = 1
	return f
}

// meanPool aggregates neighbor feature vectors elementwise; a node with
// no neighbors pools to the zero vector.
func meanPool(neighbors []string, features map[string][]float64, dim int) []float64 {
	pooled := make([]float64, dim)
	if len(neighbors) == 0 {
		return pooled
	}
	count := 0
	for _, key := range neighbors {
		vec, ok := features[key]
		if !ok {
			continue
		}
		for i := range pooled {
			pooled[i] += vec[i]
		}
		count++
	}
	if count == 0 {
		return pooled
	}
	for i := range pooled {
		pooled[i] /= float64(count)
	}
	return pooled
}

// transform applies the fixed linear map to [self || pooled] and tanh.
func (p *Propagator) transform(self, pooled []float64) []float64 {
	concat := make([]float64, 0, len(self)+len(pooled))
	concat = append(concat, self...)
	concat = append(concat, pooled...)

	out := make([]float64, EmbeddingDim)
	for i, row := range p.weights {
		var sum float64
		for j := 0; j < len(concat) && j < len(row); j++ {
			sum += row[j] * concat[j]
		}
		out[i] = math.Tanh(sum)
	}
	return out
}
