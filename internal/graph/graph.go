// Package graph constructs the relationship graph over users, devices,
// merchants and locations from a sliding window of recent transactions.
package graph

import (
	"sort"
	"time"

	"github.com/vantagepay/fraudlens/internal/domain"
)

// NodeType classifies graph nodes.
type NodeType string

const (
	NodeUser     NodeType = "user"
	NodeDevice   NodeType = "device"
	NodeMerchant NodeType = "merchant"
	NodeLocation NodeType = "location"
)

// EdgeType classifies graph edges.
type EdgeType string

const (
	EdgeTransactedWith EdgeType = "transacted_with"
	EdgeUsedDevice     EdgeType = "used_device"
	EdgeLocatedAt      EdgeType = "located_at"
)

// Node is a vertex in the relationship graph, unique per (type, id).
type Node struct {
	ID       string
	Type     NodeType
	Category string  // merchant category, for merchant nodes
	Lat      float64 // location nodes
	Lng      float64 // location nodes
}

// Key returns the namespaced node identity.
func (n *Node) Key() string {
	return string(n.Type) + "/" + n.ID
}

// Edge connects two existing nodes.
type Edge struct {
	Source    string
	Target    string
	Type      EdgeType
	Weight    float64
	Timestamp time.Time
}

// Builder constructs node and edge sets from transaction windows.
// Build is pure: identical input sets yield identical output sets
// regardless of input order.
type Builder struct{}

// NewBuilder creates a graph builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build deduplicates nodes by (type, id) across the window and emits one
// edge group per transaction: user->merchant weighted by amount,
// user->device weight 1, device->location weight 1. The location node id
// is the city+country composite key. Output is sorted by key so equal
// input sets produce byte-equal output slices.
func (b *Builder) Build(transactions []*domain.Transaction) ([]*Node, []*Edge) {
	nodes := make(map[string]*Node)
	edges := make(map[string]*Edge)

	for _, tx := range transactions {
		if tx == nil {
			continue
		}

		user := &Node{ID: tx.UserID, Type: NodeUser}
		merchant := &Node{ID: tx.MerchantID, Type: NodeMerchant, Category: tx.MerchantCategory}
		device := &Node{ID: tx.DeviceID, Type: NodeDevice}
		location := &Node{
			ID:   tx.Location.Key(),
			Type: NodeLocation,
			Lat:  tx.Location.Lat,
			Lng:  tx.Location.Lng,
		}
		for _, n := range []*Node{user, merchant, device, location} {
			if n.ID == "" || n.ID == ":" {
				continue
			}
			if _, ok := nodes[n.Key()]; !ok {
				nodes[n.Key()] = n
			}
		}

		if tx.UserID != "" && tx.MerchantID != "" {
			addEdge(edges, &Edge{
				Source:    user.Key(),
				Target:    merchant.Key(),
				Type:      EdgeTransactedWith,
				Weight:    tx.Amount,
				Timestamp: tx.Timestamp,
			})
		}
		if tx.UserID != "" && tx.DeviceID != "" {
			addEdge(edges, &Edge{
				Source:    user.Key(),
				Target:    device.Key(),
				Type:      EdgeUsedDevice,
				Weight:    1,
				Timestamp: tx.Timestamp,
			})
		}
		if tx.DeviceID != "" && location.ID != ":" && location.ID != "" {
			addEdge(edges, &Edge{
				Source:    device.Key(),
				Target:    location.Key(),
				Type:      EdgeLocatedAt,
				Weight:    1,
				Timestamp: tx.Timestamp,
			})
		}
	}

	nodeList := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		nodeList = append(nodeList, n)
	}
	sort.Slice(nodeList, func(i, j int) bool { return nodeList[i].Key() < nodeList[j].Key() })

	edgeList := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		edgeList = append(edgeList, e)
	}
	sort.Slice(edgeList, func(i, j int) bool { return edgeIdentity(edgeList[i]) < edgeIdentity(edgeList[j]) })

	return nodeList, edgeList
}

// addEdge deduplicates by (source, target, type). Repeated observations of
// the same relationship accumulate weight, keeping the latest timestamp,
// so the resulting edge set is order-independent.
func addEdge(edges map[string]*Edge, e *Edge) {
	key := edgeIdentity(e)
	existing, ok := edges[key]
	if !ok {
		edges[key] = e
		return
	}
	existing.Weight += e.Weight
	if e.Timestamp.After(existing.Timestamp) {
		existing.Timestamp = e.Timestamp
	}
}

func edgeIdentity(e *Edge) string {
	return e.Source + "|" + e.Target + "|" + string(e.Type)
}
