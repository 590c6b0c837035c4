// Package routing maintains the shared table of node state and the periodic
// sweep that ages nodes out and recommends alternatives for full bins.
package routing

import (
	"sync"

	"github.com/alienlienn/iot-smartbin/fusion"
)

// Table is the routing table. Nodes are never removed and iterate in the
// order they were first seen. Every method holds the lock for a single
// read-modify-write only.
type Table struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	order []NodeID
}

func NewTable() *Table {
	return &Table{nodes: make(map[NodeID]*Node)}
}

// Seed pre-registers ids as offline nodes. Known ids are left untouched.
func (t *Table) Seed(ids ...NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if _, ok := t.nodes[id]; !ok {
			t.insertLocked(&Node{ID: id, Status: StatusOffline})
		}
	}
}

// Touch makes sure id exists and reports whether it was created.
func (t *Table) Touch(id NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[id]; ok {
		return false
	}
	t.insertLocked(&Node{ID: id, Status: StatusUnknown})
	return true
}

// ApplyHeartbeat records a mesh heartbeat. The age is always refreshed. An
// OFFLINE token only sticks on a node that is new or already offline, so
// transport noise cannot flap a live node. It returns the stored status.
func (t *Table) ApplyHeartbeat(id NodeID, lastSeen int, status Status) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		t.insertLocked(&Node{ID: id, Status: status, LastSeen: lastSeen})
		return status, true
	}
	n.LastSeen = lastSeen
	if status != StatusOffline || n.Status == StatusOffline {
		n.Status = status
	}
	return n.Status, false
}

// SetCoordinate stores the latest solved position of id, creating the node
// if needed.
func (t *Table) SetCoordinate(id NodeID, c fusion.Coord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		n = &Node{ID: id, Status: StatusUnknown}
		t.insertLocked(n)
	}
	n.Coord = &c
}

// Get returns a copy of the node.
func (t *Table) Get(id NodeID) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Snapshot returns a deep copy of every node in discovery order.
func (t *Table) Snapshot() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Node, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id].clone())
	}
	return out
}

func (t *Table) insertLocked(n *Node) {
	t.nodes[n.ID] = n
	t.order = append(t.order, n.ID)
}
