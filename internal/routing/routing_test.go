package routing

import (
	"context"
	"math/rand"
	"testing"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/crowdleaf"
	"github.com/signalsfoundry/crowdleaf-simulator/kb"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

func lineWithIsland(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	g := kb.NewKnowledgeBase()
	for _, id := range []string{"A", "B", "C", "island", "X", "Y"} {
		if err := g.AddNode(&model.Node{ID: id, Area: 10}); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	for _, e := range [][2]string{{"A", "B"}, {"B", "C"}, {"X", "Y"}} {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatalf("AddEdge(%v): %v", e, err)
		}
	}
	return g
}

var _ Policy = (*Baseline)(nil)
var _ Policy = (*Adaptive)(nil)

func TestBaselineFollowsShortestPath(t *testing.T) {
	g := lineWithIsland(t)
	p := NewBaseline(g, rand.New(rand.NewSource(1)))

	a := &model.Agent{Position: "A", Destination: "C"}
	if got := p.NextHop(a); got != "B" {
		t.Fatalf("NextHop(A->C) = %q, want B", got)
	}
	a.Position = "B"
	if got := p.NextHop(a); got != "C" {
		t.Fatalf("NextHop(B->C) = %q, want C", got)
	}
	a.Position = "C"
	if got := p.NextHop(a); got != "C" {
		t.Fatalf("NextHop at destination = %q, want C", got)
	}
	if p.Name() != NameBaseline {
		t.Fatalf("Name() = %q, want %q", p.Name(), NameBaseline)
	}
}

func TestBaselineFallbacks(t *testing.T) {
	g := lineWithIsland(t)
	p := NewBaseline(g, rand.New(rand.NewSource(2)))

	// Disconnected destination: random neighbor of the current node.
	for i := 0; i < 20; i++ {
		got := p.NextHop(&model.Agent{Position: "B", Destination: "Y"})
		if got != "A" && got != "C" {
			t.Fatalf("NextHop(B->Y) = %q, want a neighbor of B", got)
		}
	}
	if got := p.NextHop(&model.Agent{Position: "island", Destination: "C"}); got != "island" {
		t.Fatalf("NextHop(island) = %q, want hold", got)
	}
	if got := p.NextHop(&model.Agent{Position: "ghost", Destination: "C"}); got != "ghost" {
		t.Fatalf("NextHop(unknown) = %q, want hold", got)
	}
	if got := p.NextHop(&model.Agent{Position: "A", Destination: "ghost"}); got != "B" {
		t.Fatalf("NextHop(A->unknown) = %q, want only neighbor B", got)
	}
}

func TestPoliciesNeverTeleport(t *testing.T) {
	g := lineWithIsland(t)
	ids := append(g.NodeIDs(), "ghost")
	rng := rand.New(rand.NewSource(9))
	ctrl := crowdleaf.New(g, crowdleaf.DefaultParams(), rng)
	policies := []Policy{NewBaseline(g, rng), NewAdaptive(ctrl)}

	for tick := 1; tick <= 25; tick++ {
		current := map[int]string{}
		for i := 0; i < 80; i++ {
			current[i] = ids[rng.Intn(3)]
		}
		ctrl.Update(context.Background(), float64(tick), current, nil)
		for _, p := range policies {
			for _, from := range ids {
				for _, to := range ids {
					got := p.NextHop(&model.Agent{Position: from, Destination: to})
					if got != from && !g.Adjacent(from, got) {
						t.Fatalf("%s: NextHop(%s->%s) = %q, not current or adjacent", p.Name(), from, to, got)
					}
				}
			}
		}
	}
}

func TestAdaptiveDelegatesToController(t *testing.T) {
	g := lineWithIsland(t)
	ctrl := crowdleaf.New(g, crowdleaf.DefaultParams(), rand.New(rand.NewSource(4)))
	p := NewAdaptive(ctrl)

	if p.Controller() != ctrl {
		t.Fatalf("Controller() did not return the wrapped controller")
	}
	if got := p.NextHop(&model.Agent{Position: "A", Destination: "C"}); got != "B" {
		t.Fatalf("NextHop(A->C) with all doors open = %q, want B", got)
	}
	if p.Name() != NameAdaptive {
		t.Fatalf("Name() = %q, want %q", p.Name(), NameAdaptive)
	}
}
