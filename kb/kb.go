// Package kb holds the facility topology: zones, their attributes and
// walkable adjacency.
package kb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

var (
	// ErrNodeExists indicates a node with the same ID was already added.
	ErrNodeExists = errors.New("node already exists")
	// ErrNodeNotFound indicates a referenced node is not in the topology.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNodeInvalid indicates a node failed validation.
	ErrNodeInvalid = errors.New("invalid node")
	// ErrEdgeInvalid indicates an edge failed validation.
	ErrEdgeInvalid = errors.New("invalid edge")
)

// KnowledgeBase is an in-memory, thread-safe topology store.
//
// Nodes and adjacency lists keep insertion order so that every walk
// over the graph is deterministic. Each node also gets a dense index
// usable for bitset-style masks.
type KnowledgeBase struct {
	mu sync.RWMutex

	name  string
	nodes []*model.Node
	index map[string]int
	adj   [][]int
	edges int
}

// NewKnowledgeBase constructs an empty topology.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		index: make(map[string]int),
	}
}

// SetName labels the topology, e.g. with a preset name.
func (kb *KnowledgeBase) SetName(name string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.name = name
}

// Name returns the topology label.
func (kb *KnowledgeBase) Name() string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.name
}

// AddNode adds a node. A zero Area is treated as missing and replaced
// with model.DefaultArea; an empty Type becomes model.NodeDefault.
func (kb *KnowledgeBase) AddNode(n *model.Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("%w: empty node ID", ErrNodeInvalid)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.index[n.ID]; exists {
		return fmt.Errorf("%w: %q", ErrNodeExists, n.ID)
	}

	node := *n
	if node.Area == 0 {
		node.Area = model.DefaultArea
	}
	node.Type = model.ParseNodeType(string(node.Type))

	kb.index[node.ID] = len(kb.nodes)
	kb.nodes = append(kb.nodes, &node)
	kb.adj = append(kb.adj, nil)
	return nil
}

// AddEdge connects two existing nodes. Adding an edge twice is a no-op.
func (kb *KnowledgeBase) AddEdge(a, b string) error {
	if a == b {
		return fmt.Errorf("%w: self-loop on %q", ErrEdgeInvalid, a)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	ia, ok := kb.index[a]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, a)
	}
	ib, ok := kb.index[b]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, b)
	}
	for _, nb := range kb.adj[ia] {
		if nb == ib {
			return nil
		}
	}
	kb.adj[ia] = append(kb.adj[ia], ib)
	kb.adj[ib] = append(kb.adj[ib], ia)
	kb.edges++
	return nil
}

// Node returns the node with the given ID, or nil if not found.
// Callers must treat the result as read-only.
func (kb *KnowledgeBase) Node(id string) *model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	i, ok := kb.index[id]
	if !ok {
		return nil
	}
	return kb.nodes[i]
}

// HasNode reports whether id is part of the topology.
func (kb *KnowledgeBase) HasNode(id string) bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	_, ok := kb.index[id]
	return ok
}

// Index returns the dense index of a node.
func (kb *KnowledgeBase) Index(id string) (int, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	i, ok := kb.index[id]
	return i, ok
}

// IDAt returns the node ID stored at a dense index.
func (kb *KnowledgeBase) IDAt(i int) string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	if i < 0 || i >= len(kb.nodes) {
		return ""
	}
	return kb.nodes[i].ID
}

// Len returns the number of nodes.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.nodes)
}

// EdgeCount returns the number of distinct undirected edges.
func (kb *KnowledgeBase) EdgeCount() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.edges
}

// Nodes returns a snapshot slice of all nodes in insertion order.
func (kb *KnowledgeBase) Nodes() []*model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return append([]*model.Node(nil), kb.nodes...)
}

// NodeIDs returns all node IDs in insertion order.
func (kb *KnowledgeBase) NodeIDs() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	ids := make([]string, len(kb.nodes))
	for i, n := range kb.nodes {
		ids[i] = n.ID
	}
	return ids
}

// NodesOfType returns the IDs of all nodes tagged t, in insertion order.
func (kb *KnowledgeBase) NodesOfType(t model.NodeType) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var ids []string
	for _, n := range kb.nodes {
		if n.Type == t {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Neighbors returns the IDs adjacent to id in edge insertion order. An
// unknown id has no neighbors.
func (kb *KnowledgeBase) Neighbors(id string) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	i, ok := kb.index[id]
	if !ok {
		return nil
	}
	out := make([]string, len(kb.adj[i]))
	for k, nb := range kb.adj[i] {
		out[k] = kb.nodes[nb].ID
	}
	return out
}

// NeighborIndices returns the dense indices adjacent to node index i.
// The returned slice must not be modified.
func (kb *KnowledgeBase) NeighborIndices(i int) []int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	if i < 0 || i >= len(kb.adj) {
		return nil
	}
	return kb.adj[i]
}

// Adjacent reports whether a and b share an edge.
func (kb *KnowledgeBase) Adjacent(a, b string) bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	ia, ok := kb.index[a]
	if !ok {
		return false
	}
	ib, ok := kb.index[b]
	if !ok {
		return false
	}
	for _, nb := range kb.adj[ia] {
		if nb == ib {
			return true
		}
	}
	return false
}

// Edges returns every undirected edge once, ordered by first endpoint.
func (kb *KnowledgeBase) Edges() []model.Edge {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]model.Edge, 0, kb.edges)
	for i, nbs := range kb.adj {
		for _, j := range nbs {
			if i < j {
				out = append(out, model.Edge{A: kb.nodes[i].ID, B: kb.nodes[j].ID})
			}
		}
	}
	return out
}
