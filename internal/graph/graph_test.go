package graph

import (
	"testing"
	"time"

	"github.com/vantagepay/fraudlens/internal/domain"
)

func tx(id, user, device, merchant, category string, amount float64, city, country string) *domain.Transaction {
	return &domain.Transaction{
		ID:               id,
		UserID:           user,
		DeviceID:         device,
		MerchantID:       merchant,
		MerchantCategory: category,
		Amount:           amount,
		Location:         domain.Location{City: city, Country: country},
		Timestamp:        time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
}

func TestBuildNodesAndEdges(t *testing.T) {
	b := NewBuilder()
	nodes, edges := b.Build([]*domain.Transaction{
		tx("t1", "u1", "d1", "m1", "grocery", 120, "Lisbon", "PT"),
	})

	if len(nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(nodes))
	}
	if len(edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(edges))
	}

	wantKeys := map[string]bool{
		"user/u1": true, "device/d1": true, "merchant/m1": true, "location/lisbon:pt": true,
	}
	for _, n := range nodes {
		if !wantKeys[n.Key()] {
			t.Errorf("unexpected node %s", n.Key())
		}
	}

	var transacted *Edge
	for _, e := range edges {
		if e.Type == EdgeTransactedWith {
			transacted = e
		}
	}
	if transacted == nil {
		t.Fatal("transacted_with edge missing")
	}
	if transacted.Weight != 120 {
		t.Errorf("transacted_with weight = %v, want 120", transacted.Weight)
	}
	if transacted.Source != "user/u1" || transacted.Target != "merchant/m1" {
		t.Errorf("transacted_with connects %s -> %s", transacted.Source, transacted.Target)
	}
}

func TestBuildDeduplicatesNodes(t *testing.T) {
	b := NewBuilder()
	nodes, _ := b.Build([]*domain.Transaction{
		tx("t1", "u1", "d1", "m1", "grocery", 50, "Lisbon", "PT"),
		tx("t2", "u1", "d1", "m1", "grocery", 70, "Lisbon", "PT"),
	})

	if len(nodes) != 4 {
		t.Fatalf("expected 4 deduplicated nodes, got %d", len(nodes))
	}
}

func TestBuildAccumulatesRepeatedEdges(t *testing.T) {
	b := NewBuilder()
	_, edges := b.Build([]*domain.Transaction{
		tx("t1", "u1", "d1", "m1", "grocery", 50, "Lisbon", "PT"),
		tx("t2", "u1", "d1", "m1", "grocery", 70, "Lisbon", "PT"),
	})

	if len(edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(edges))
	}
	for _, e := range edges {
		switch e.Type {
		case EdgeTransactedWith:
			if e.Weight != 120 {
				t.Errorf("transacted_with weight = %v, want 120", e.Weight)
			}
		case EdgeUsedDevice, EdgeLocatedAt:
			if e.Weight != 2 {
				t.Errorf("%s weight = %v, want 2", e.Type, e.Weight)
			}
		}
	}
}

func TestBuildOrderIndependent(t *testing.T) {
	txs := []*domain.Transaction{
		tx("t1", "u1", "d1", "m1", "grocery", 50, "Lisbon", "PT"),
		tx("t2", "u2", "d2", "m2", "atm", 300, "Porto", "PT"),
		tx("t3", "u1", "d2", "m2", "atm", 40, "Porto", "PT"),
	}
	reversed := []*domain.Transaction{txs[2], txs[1], txs[0]}

	b := NewBuilder()
	nodes1, edges1 := b.Build(txs)
	nodes2, edges2 := b.Build(reversed)

	if len(nodes1) != len(nodes2) {
		t.Fatalf("node counts differ: %d vs %d", len(nodes1), len(nodes2))
	}
	for i := range nodes1 {
		if nodes1[i].Key() != nodes2[i].Key() {
			t.Errorf("node %d differs: %s vs %s", i, nodes1[i].Key(), nodes2[i].Key())
		}
	}

	if len(edges1) != len(edges2) {
		t.Fatalf("edge counts differ: %d vs %d", len(edges1), len(edges2))
	}
	for i := range edges1 {
		if edges1[i].Source != edges2[i].Source ||
			edges1[i].Target != edges2[i].Target ||
			edges1[i].Type != edges2[i].Type ||
			edges1[i].Weight != edges2[i].Weight {
			t.Errorf("edge %d differs under reordering", i)
		}
	}
}

func TestBuildSkipsMissingFields(t *testing.T) {
	b := NewBuilder()
	nodes, edges := b.Build([]*domain.Transaction{
		{
			ID:         "t1",
			UserID:     "u1",
			MerchantID: "m1",
			Amount:     10,
			Timestamp:  time.Now(),
		},
	})

	// No device, no location: just user, merchant, one edge.
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	if edges[0].Type != EdgeTransactedWith {
		t.Errorf("expected transacted_with, got %s", edges[0].Type)
	}
}

func TestBuildEmptyWindow(t *testing.T) {
	b := NewBuilder()
	nodes, edges := b.Build(nil)
	if len(nodes) != 0 || len(edges) != 0 {
		t.Errorf("expected empty graph, got %d nodes %d edges", len(nodes), len(edges))
	}
}
