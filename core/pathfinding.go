package core

import (
	"github.com/signalsfoundry/crowdleaf-simulator/kb"
)

// Mask is a set of node indices that path searches must not enter.
// The zero value blocks nothing.
type Mask struct {
	bits []uint64
}

// NewMask returns an empty mask sized for n nodes.
func NewMask(n int) Mask {
	return Mask{bits: make([]uint64, (n+63)/64)}
}

// Set marks index i as blocked.
func (m *Mask) Set(i int) {
	if i < 0 {
		return
	}
	w := i / 64
	for w >= len(m.bits) {
		m.bits = append(m.bits, 0)
	}
	m.bits[w] |= 1 << (uint(i) % 64)
}

// Has reports whether index i is blocked.
func (m Mask) Has(i int) bool {
	if i < 0 {
		return false
	}
	w := i / 64
	if w >= len(m.bits) {
		return false
	}
	return m.bits[w]&(1<<(uint(i)%64)) != 0
}

// Count returns the number of blocked indices.
func (m Mask) Count() int {
	n := 0
	for _, w := range m.bits {
		for ; w != 0; w &= w - 1 {
			n++
		}
	}
	return n
}

// Clear unblocks every index while keeping capacity.
func (m *Mask) Clear() {
	for i := range m.bits {
		m.bits[i] = 0
	}
}

// ShortestPath returns the minimum-hop path from src to dst, both ends
// included, never passing through a blocked node. A blocked or unknown
// endpoint behaves as if the node had been removed from the graph, so
// the result is nil. src == dst (unblocked) yields a one-element path.
//
// Neighbors are expanded in edge insertion order, so ties always break
// the same way.
func ShortestPath(g *kb.KnowledgeBase, src, dst string, blocked Mask) []string {
	if g == nil {
		return nil
	}
	si, ok := g.Index(src)
	if !ok {
		return nil
	}
	di, ok := g.Index(dst)
	if !ok {
		return nil
	}
	idx := ShortestPathIndices(g, si, di, blocked)
	if idx == nil {
		return nil
	}
	path := make([]string, len(idx))
	for i, n := range idx {
		path[i] = g.IDAt(n)
	}
	return path
}

// ShortestPathIndices is ShortestPath over dense node indices.
func ShortestPathIndices(g *kb.KnowledgeBase, src, dst int, blocked Mask) []int {
	n := g.Len()
	if src < 0 || src >= n || dst < 0 || dst >= n {
		return nil
	}
	if blocked.Has(src) || blocked.Has(dst) {
		return nil
	}
	if src == dst {
		return []int{src}
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = -1
	}
	parent[src] = src
	queue := make([]int, 0, n)
	queue = append(queue, src)

	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, nb := range g.NeighborIndices(cur) {
			if parent[nb] != -1 || blocked.Has(nb) {
				continue
			}
			parent[nb] = cur
			if nb == dst {
				return unwind(parent, src, dst)
			}
			queue = append(queue, nb)
		}
	}
	return nil
}

func unwind(parent []int, src, dst int) []int {
	var rev []int
	for cur := dst; ; cur = parent[cur] {
		rev = append(rev, cur)
		if cur == src {
			break
		}
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}
