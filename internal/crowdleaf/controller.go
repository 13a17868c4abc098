// Package crowdleaf implements the adaptive crowd controller: a per-node
// threshold and recovery loop modelled on the touch response of Mimosa
// pudica leaflets.
//
// Each tick the controller scores every zone by density and crowdedness,
// trips zones whose sigmoidal activation draw succeeds, spreads a
// redirect signal to their neighbors and derives a door state per zone.
// Activated zones then cycle through closed, redirect and reopening
// phases until their recovery window elapses.
package crowdleaf

import (
	"context"
	"math"
	"math/rand"

	"github.com/signalsfoundry/crowdleaf-simulator/core"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/logging"
	"github.com/signalsfoundry/crowdleaf-simulator/kb"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

// Recovery phase boundaries as fractions of the recovery window.
const (
	closedPhaseEnd   = 0.3
	redirectPhaseEnd = 0.7

	phaseTolerance = 1e-9
)

// Params are the controller thresholds.
type Params struct {
	SafeDensity     float64 // centre of the activation sigmoid
	CriticalDensity float64 // density that trips a zone unconditionally
	RecoveryTime    float64 // seconds a tripped zone stays in recovery
	Steepness       float64 // slope of the activation sigmoid
}

// DefaultParams returns the standard controller thresholds.
func DefaultParams() Params {
	return Params{
		SafeDensity:     4.0,
		CriticalDensity: 6.0,
		RecoveryTime:    15.0,
		Steepness:       2.0,
	}
}

// EventKind tags entries of the activation log.
type EventKind string

const (
	EventCritical    EventKind = "critical"
	EventThreshold   EventKind = "threshold"
	EventPropagation EventKind = "propagation"
)

// Event is one entry of the activation and propagation audit trail.
type Event struct {
	Time        float64   `json:"time"`
	Node        string    `json:"node"`
	Source      string    `json:"source,omitempty"` // activating node, propagation only
	Kind        EventKind `json:"kind"`
	Density     float64   `json:"density,omitempty"`
	Crowdedness float64   `json:"crowdedness,omitempty"`
	Probability float64   `json:"probability,omitempty"`
}

// nodeState is the controller's private record for one zone.
type nodeState struct {
	activated   bool
	activatedAt float64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for activation diagnostics.
func WithLogger(l logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// Controller owns the activation records and door states of one run.
// It reads agent positions but never mutates agents or the topology.
// A Controller is not safe for concurrent use.
type Controller struct {
	g      *kb.KnowledgeBase
	nodes  []*model.Node
	params Params
	rng    *rand.Rand
	log    logging.Logger

	states []nodeState
	doors  []model.DoorState
	mask   core.Mask
	events []Event

	// hops memoises masked shortest-path next hops for the current
	// door map; -1 records "no path".
	hops map[[2]int]int
}

// New constructs a controller over g. rng must be the run's random
// source; it is drawn from for every activation test and every
// open-neighbor fallback.
func New(g *kb.KnowledgeBase, params Params, rng *rand.Rand, opts ...Option) *Controller {
	if params.Steepness == 0 {
		params.Steepness = DefaultParams().Steepness
	}
	n := g.Len()
	c := &Controller{
		g:      g,
		nodes:  g.Nodes(),
		params: params,
		rng:    rng,
		log:    logging.Noop(),
		states: make([]nodeState, n),
		doors:  make([]model.DoorState, n),
		mask:   core.NewMask(n),
		hops:   make(map[[2]int]int),
	}
	for i := range c.doors {
		c.doors[i] = model.DoorOpen
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Params returns the thresholds in use.
func (c *Controller) Params() Params { return c.params }

// Sigmoid is the activation probability for a stimulus.
func Sigmoid(stimulus, threshold, steepness float64) float64 {
	return 1.0 / (1.0 + math.Exp(-steepness*(stimulus-threshold)))
}

// flow holds per-node counts for the crowdedness metric.
type flow struct {
	resident []int
	waiting  []int
	incoming []int
}

// observe tallies residents, waiting and incoming agents per node.
// previous may be nil, in which case only residents are counted.
func (c *Controller) observe(current, previous map[int]string) flow {
	n := c.g.Len()
	f := flow{
		resident: make([]int, n),
		waiting:  make([]int, n),
		incoming: make([]int, n),
	}
	for id, pos := range current {
		cur, ok := c.g.Index(pos)
		if !ok {
			continue
		}
		f.resident[cur]++
		if previous == nil {
			continue
		}
		prevID, seen := previous[id]
		if !seen {
			continue
		}
		if prevID == pos {
			f.waiting[cur]++
		} else if c.g.Adjacent(prevID, pos) {
			f.incoming[cur]++
		}
	}
	return f
}

func (c *Controller) density(i int, f flow) float64 {
	n := c.nodes[i]
	if n.Area <= 0 {
		return 0
	}
	return float64(f.resident[i]) / n.Area
}

func (c *Controller) crowdedness(i int, f flow) float64 {
	n := c.nodes[i]
	capacity := math.Max(n.Area*c.params.CriticalDensity, 1)
	return float64(f.resident[i]+f.waiting[i]+f.incoming[i]) / capacity
}

// Crowdedness returns the normalised congestion score of node.
func (c *Controller) Crowdedness(node string, current, previous map[int]string) float64 {
	i, ok := c.g.Index(node)
	if !ok {
		return 0
	}
	return c.crowdedness(i, c.observe(current, previous))
}

// Update advances the activation state machine to time now and returns
// the door state of every node. current maps live agent IDs to nodes;
// previous holds the same agents' positions one tick earlier, or nil.
func (c *Controller) Update(ctx context.Context, now float64, current, previous map[int]string) map[string]model.DoorState {
	f := c.observe(current, previous)
	c.release(now)

	n := c.g.Len()
	fresh := make([]bool, n)
	signalled := make([]bool, n)
	for i := 0; i < n; i++ {
		if c.states[i].activated {
			continue
		}
		if !c.tryActivate(ctx, i, now, f) {
			continue
		}
		fresh[i] = true
		if c.gateOpen(i) {
			c.propagate(i, now, signalled)
		}
	}

	c.mask.Clear()
	for i := 0; i < n; i++ {
		c.doors[i] = c.derive(i, now, fresh[i] || signalled[i])
		if c.doors[i].Blocks() {
			c.mask.Set(i)
		}
	}
	clear(c.hops)
	return c.DoorStates()
}

// release clears records whose recovery window has elapsed.
func (c *Controller) release(now float64) {
	for i := range c.states {
		st := &c.states[i]
		if st.activated && c.recovered(st, now) >= 1 {
			*st = nodeState{}
		}
	}
}

// tryActivate runs the stochastic activation test for an idle node.
func (c *Controller) tryActivate(ctx context.Context, i int, now float64, f flow) bool {
	d := c.density(i, f)
	cr := c.crowdedness(i, f)
	stimulus := d + 2.0*cr

	p := Sigmoid(stimulus, c.params.SafeDensity, c.params.Steepness)
	kind := EventThreshold
	if d >= c.params.CriticalDensity {
		p = 1.0
		kind = EventCritical
	}
	if c.rng.Float64() >= p {
		return false
	}

	c.states[i] = nodeState{activated: true, activatedAt: now}
	id := c.g.IDAt(i)
	c.events = append(c.events, Event{
		Time:        now,
		Node:        id,
		Kind:        kind,
		Density:     d,
		Crowdedness: cr,
		Probability: p,
	})
	c.log.Debug(ctx, "zone activated",
		logging.String("node", id),
		logging.String("kind", string(kind)),
		logging.Float("density", d),
		logging.Float("crowdedness", cr),
		logging.Float("probability", p),
	)
	return true
}

// gateOpen is the OR gate over neighbor activation flags. A node with
// no neighbors always passes.
func (c *Controller) gateOpen(i int) bool {
	nbs := c.g.NeighborIndices(i)
	if len(nbs) == 0 {
		return true
	}
	for _, nb := range nbs {
		if c.states[nb].activated {
			return true
		}
	}
	return false
}

// propagate marks every neighbor of i that is not itself activated.
func (c *Controller) propagate(i int, now float64, signalled []bool) {
	src := c.g.IDAt(i)
	for _, nb := range c.g.NeighborIndices(i) {
		if c.states[nb].activated || signalled[nb] {
			continue
		}
		signalled[nb] = true
		c.events = append(c.events, Event{
			Time:   now,
			Node:   c.g.IDAt(nb),
			Source: src,
			Kind:   EventPropagation,
		})
	}
}

// recovered returns the fraction of the recovery window st has served
// at now. Times are tick × dt products, so the difference is widened by
// phaseTolerance before it is compared with the phase boundaries.
func (c *Controller) recovered(st *nodeState, now float64) float64 {
	if c.params.RecoveryTime <= 0 {
		return math.Inf(1)
	}
	return (now-st.activatedAt)/c.params.RecoveryTime + phaseTolerance
}

// derive maps a node's record onto its door state for this tick.
func (c *Controller) derive(i int, now float64, touched bool) model.DoorState {
	if touched {
		return model.DoorRedirect
	}
	st := &c.states[i]
	if !st.activated {
		return model.DoorOpen
	}
	frac := c.recovered(st, now)
	switch {
	case frac < closedPhaseEnd:
		return model.DoorClosed
	case frac < redirectPhaseEnd:
		return model.DoorRedirect
	default:
		return model.DoorOpen
	}
}

// DoorState returns the current door state of node. Unknown nodes are
// reported open.
func (c *Controller) DoorState(node string) model.DoorState {
	i, ok := c.g.Index(node)
	if !ok {
		return model.DoorOpen
	}
	return c.doors[i]
}

// DoorStates returns a copy of the current door map.
func (c *Controller) DoorStates() map[string]model.DoorState {
	out := make(map[string]model.DoorState, len(c.doors))
	for i, s := range c.doors {
		out[c.g.IDAt(i)] = s
	}
	return out
}

// DoorCounts tallies nodes per door state.
func (c *Controller) DoorCounts() map[model.DoorState]int {
	out := map[model.DoorState]int{
		model.DoorOpen:     0,
		model.DoorRedirect: 0,
		model.DoorClosed:   0,
	}
	for _, s := range c.doors {
		out[s]++
	}
	return out
}

// ActiveRecords returns node → activation time for every zone still in
// recovery.
func (c *Controller) ActiveRecords() map[string]float64 {
	out := make(map[string]float64)
	for i, st := range c.states {
		if st.activated {
			out[c.g.IDAt(i)] = st.activatedAt
		}
	}
	return out
}

// Events returns a copy of the activation and propagation log.
func (c *Controller) Events() []Event {
	return append([]Event(nil), c.events...)
}

// Chokepoints scores every node by 0.6×crowdedness + 0.4×density/critical
// and returns those above 0.5.
func (c *Controller) Chokepoints(current, previous map[int]string) map[string]float64 {
	f := c.observe(current, previous)
	out := make(map[string]float64)
	for i := 0; i < c.g.Len(); i++ {
		severity := 0.6*c.crowdedness(i, f) + 0.4*c.density(i, f)/c.params.CriticalDensity
		if severity > 0.5 {
			out[c.g.IDAt(i)] = severity
		}
	}
	return out
}
