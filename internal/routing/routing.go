// Package routing decides each agent's next hop. The engine depends
// only on Policy; Baseline walks the static shortest path and Adaptive
// defers to the CrowdLeaf controller's door map.
package routing

import (
	"math/rand"

	"github.com/signalsfoundry/crowdleaf-simulator/core"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/crowdleaf"
	"github.com/signalsfoundry/crowdleaf-simulator/kb"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

// Policy names.
const (
	NameBaseline = "baseline"
	NameAdaptive = "adaptive"
)

// Policy resolves an agent's next node. NextHop never fails: it returns
// the agent's current node or a node adjacent to it.
type Policy interface {
	Name() string
	NextHop(a *model.Agent) string
}

// Baseline follows the global shortest path to the destination and
// steps to a random neighbor when none exists.
type Baseline struct {
	g   *kb.KnowledgeBase
	rng *rand.Rand

	// next caches the first hop per (from, to) pair; the topology never
	// changes during a run. -1 records "no path".
	next map[[2]int]int
}

// NewBaseline returns the shortest-path policy over g.
func NewBaseline(g *kb.KnowledgeBase, rng *rand.Rand) *Baseline {
	return &Baseline{g: g, rng: rng, next: make(map[[2]int]int)}
}

// Name implements Policy.
func (b *Baseline) Name() string { return NameBaseline }

// NextHop implements Policy.
func (b *Baseline) NextHop(a *model.Agent) string {
	if a.Position == a.Destination {
		return a.Destination
	}
	cur, ok := b.g.Index(a.Position)
	if !ok {
		return a.Position
	}
	if hop := b.hop(cur, a.Destination); hop >= 0 {
		return b.g.IDAt(hop)
	}

	nbs := b.g.NeighborIndices(cur)
	if len(nbs) == 0 {
		return a.Position
	}
	return b.g.IDAt(nbs[b.rng.Intn(len(nbs))])
}

func (b *Baseline) hop(cur int, destination string) int {
	dst, ok := b.g.Index(destination)
	if !ok {
		return -1
	}
	key := [2]int{cur, dst}
	if next, ok := b.next[key]; ok {
		return next
	}
	next := -1
	if path := core.ShortestPathIndices(b.g, cur, dst, core.Mask{}); len(path) > 1 {
		next = path[1]
	}
	b.next[key] = next
	return next
}

// Adaptive routes through the door map most recently computed by the
// controller.
type Adaptive struct {
	c *crowdleaf.Controller
}

// NewAdaptive wraps a controller.
func NewAdaptive(c *crowdleaf.Controller) *Adaptive {
	return &Adaptive{c: c}
}

// Name implements Policy.
func (p *Adaptive) Name() string { return NameAdaptive }

// NextHop implements Policy.
func (p *Adaptive) NextHop(a *model.Agent) string {
	return p.c.NextHop(a.Position, a.Destination)
}

// Controller returns the wrapped controller.
func (p *Adaptive) Controller() *crowdleaf.Controller { return p.c }
