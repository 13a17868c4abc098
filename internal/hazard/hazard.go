// Package hazard implements the density-driven injury and death model
// applied to the crowd after every movement phase.
package hazard

import (
	"math"
	"math/rand"

	"github.com/signalsfoundry/crowdleaf-simulator/kb"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

// Default thresholds, in persons per area unit.
const (
	OvercrowdingDensity = 6.0
	LethalDensity       = 8.0
)

// Model holds the hazard parameters. The zero value is not useful; use
// DefaultModel.
type Model struct {
	// OvercrowdingDensity is the density above which a node counts as
	// overcrowded and its occupants accumulate stress and risk injury.
	OvercrowdingDensity float64
	// LethalDensity is the density above which occupants also risk death.
	LethalDensity float64

	StressStep float64

	InjuryRate float64
	InjuryCap  float64
	DeathRate  float64
	DeathCap   float64
}

// DefaultModel returns the standard hazard parameters.
func DefaultModel() Model {
	return Model{
		OvercrowdingDensity: OvercrowdingDensity,
		LethalDensity:       LethalDensity,
		StressStep:          0.05,
		InjuryRate:          0.01,
		InjuryCap:           0.1,
		DeathRate:           0.005,
		DeathCap:            0.05,
	}
}

// Outcome summarises one hazard pass.
type Outcome struct {
	Injuries     int // agents newly injured this tick
	Deaths       int // agents newly dead this tick
	Overcrowding int // nodes above the overcrowding threshold
}

// Density is live occupants divided by area, or 0 for a non-positive area.
func Density(n *model.Node, live int) float64 {
	if n == nil || n.Area <= 0 {
		return 0
	}
	return float64(live) / n.Area
}

// Occupancy counts live agents per node index. Agents on nodes unknown
// to g are ignored.
func Occupancy(g *kb.KnowledgeBase, agents []*model.Agent) []int {
	counts := make([]int, g.Len())
	for _, a := range agents {
		if !a.Alive() {
			continue
		}
		if i, ok := g.Index(a.Position); ok {
			counts[i]++
		}
	}
	return counts
}

// Densities returns the live density of every node in insertion order.
func Densities(g *kb.KnowledgeBase, agents []*model.Agent) []float64 {
	counts := Occupancy(g, agents)
	nodes := g.Nodes()
	out := make([]float64, len(nodes))
	for i, n := range nodes {
		out[i] = Density(n, counts[i])
	}
	return out
}

// InjuryProbability is the per-tick injury chance at density d.
func (m Model) InjuryProbability(d, stress float64) float64 {
	if d <= m.OvercrowdingDensity {
		return 0
	}
	return math.Min(m.InjuryCap, (d-m.OvercrowdingDensity)*m.InjuryRate*stress)
}

// DeathProbability is the per-tick death chance at density d.
func (m Model) DeathProbability(d, stress float64) float64 {
	if d <= m.LethalDensity {
		return 0
	}
	return math.Min(m.DeathCap, (d-m.LethalDensity)*m.DeathRate*stress)
}

// Update applies one hazard pass. Densities are read for every node
// before any agent is touched, then nodes are visited in insertion
// order and their live occupants in roster order, so the sequence of
// draws from rng is fixed for a given state.
func (m Model) Update(g *kb.KnowledgeBase, agents []*model.Agent, rng *rand.Rand) Outcome {
	var out Outcome
	if g == nil || g.Len() == 0 {
		return out
	}

	nodes := g.Nodes()
	occupants := make([][]*model.Agent, len(nodes))
	for _, a := range agents {
		if !a.Alive() {
			continue
		}
		if i, ok := g.Index(a.Position); ok {
			occupants[i] = append(occupants[i], a)
		}
	}
	density := make([]float64, len(nodes))
	for i, n := range nodes {
		density[i] = Density(n, len(occupants[i]))
	}

	for i := range nodes {
		d := density[i]
		if d <= m.OvercrowdingDensity {
			continue
		}
		out.Overcrowding++
		for _, a := range occupants[i] {
			a.Stress = math.Min(1.0, a.Stress+m.StressStep)

			if !a.Injured && rng.Float64() < m.InjuryProbability(d, a.Stress) {
				a.Injured = true
				out.Injuries++
			}
			if d > m.LethalDensity && !a.Dead && rng.Float64() < m.DeathProbability(d, a.Stress) {
				a.Dead = true
				out.Deaths++
			}
		}
	}
	return out
}
