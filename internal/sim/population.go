package sim

import (
	"context"
	"math/rand"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/logging"
	"github.com/signalsfoundry/crowdleaf-simulator/kb"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

// Placement ranges for newly created agents.
const (
	minSpeed  = 0.8
	maxSpeed  = 1.5
	minStress = 0.1
	maxStress = 0.3
)

// populate creates n agents, each at a random entrance heading for a
// random exit. A topology without entrances (exits) uses its first
// (last) node instead and logs a warning. An empty topology yields an
// empty roster.
func populate(ctx context.Context, g *kb.KnowledgeBase, n int, rng *rand.Rand, log logging.Logger) []*model.Agent {
	if n <= 0 {
		return nil
	}
	ids := g.NodeIDs()
	if len(ids) == 0 {
		log.Warn(ctx, "topology has no nodes; no agents placed",
			logging.Int("requested", n),
		)
		return nil
	}

	entrances := g.NodesOfType(model.NodeEntrance)
	if len(entrances) == 0 {
		entrances = []string{ids[0]}
		log.Warn(ctx, "topology has no entrance; using first node",
			logging.String("node", entrances[0]),
		)
	}
	exits := g.NodesOfType(model.NodeExit)
	if len(exits) == 0 {
		exits = []string{ids[len(ids)-1]}
		log.Warn(ctx, "topology has no exit; using last node",
			logging.String("node", exits[0]),
		)
	}

	agents := make([]*model.Agent, n)
	for i := range agents {
		entrance := entrances[rng.Intn(len(entrances))]
		exit := exits[rng.Intn(len(exits))]
		agents[i] = &model.Agent{
			ID:          i,
			Position:    entrance,
			Destination: exit,
			Speed:       uniform(rng, minSpeed, maxSpeed),
			Stress:      uniform(rng, minStress, maxStress),
		}
	}
	return agents
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}
