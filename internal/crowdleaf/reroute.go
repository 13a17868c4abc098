package crowdleaf

import (
	"github.com/signalsfoundry/crowdleaf-simulator/core"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

// NextHop picks the next node for an agent at position heading to
// destination under the current door map. Closed and redirecting zones
// are masked out of the path search; if the masked graph has no route
// the agent steps to a random open neighbor, or holds position when
// none is open. The result is always position or one of its neighbors.
func (c *Controller) NextHop(position, destination string) string {
	if position == destination {
		return destination
	}
	cur, ok := c.g.Index(position)
	if !ok {
		return position
	}

	if next := c.maskedHop(cur, destination); next >= 0 {
		return c.g.IDAt(next)
	}

	var open []int
	for _, nb := range c.g.NeighborIndices(cur) {
		if c.doors[nb] == model.DoorOpen {
			open = append(open, nb)
		}
	}
	if len(open) == 0 {
		return position
	}
	return c.g.IDAt(open[c.rng.Intn(len(open))])
}

// maskedHop returns the index of the next node on the masked shortest
// path, or -1 when no such path exists.
func (c *Controller) maskedHop(cur int, destination string) int {
	dst, ok := c.g.Index(destination)
	if !ok {
		return -1
	}
	key := [2]int{cur, dst}
	if next, ok := c.hops[key]; ok {
		return next
	}
	next := -1
	switch path := core.ShortestPathIndices(c.g, cur, dst, c.mask); {
	case len(path) > 1:
		next = path[1]
	case len(path) == 1:
		next = path[0]
	}
	c.hops[key] = next
	return next
}

// Blocked returns a copy of the mask of zones routing must avoid.
func (c *Controller) Blocked() core.Mask {
	m := core.NewMask(c.g.Len())
	for i := 0; i < c.g.Len(); i++ {
		if c.mask.Has(i) {
			m.Set(i)
		}
	}
	return m
}
