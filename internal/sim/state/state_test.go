package state

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/logging"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim"
	"github.com/signalsfoundry/crowdleaf-simulator/kb"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

func newTestFactory(t *testing.T, ticks int) Factory {
	t.Helper()
	g := kb.NewKnowledgeBase()
	nodes := []*model.Node{
		{ID: "door", Area: 5, Type: model.NodeEntrance},
		{ID: "hall", Area: 20, Type: model.NodeHall},
		{ID: "exit", Area: 20, Type: model.NodeExit},
	}
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID, err)
		}
	}
	for _, e := range [][2]string{{"door", "hall"}, {"hall", "exit"}} {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}
	cfg := sim.Config{NumAgents: 20, Duration: float64(ticks), Dt: 1}
	return func() *sim.Comparison { return sim.NewComparison(g, cfg, 1) }
}

type progressSpy struct {
	mu    sync.Mutex
	calls int
	last  [3]int
}

func (p *progressSpy) SetProgress(run, tick, ticks int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = [3]int{run, tick, ticks}
}

func TestRunSimTickCompletesAndCallsHook(t *testing.T) {
	var hookRuns []int
	spy := &progressSpy{}
	s := NewLiveState(newTestFactory(t, 3), logging.Noop(),
		WithProgressRecorder(spy),
		WithCompletionHook(func(_ context.Context, run int, c *sim.Comparison) {
			if !c.Done() {
				t.Errorf("hook received unfinished comparison")
			}
			hookRuns = append(hookRuns, run)
		}),
	)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		finished, err := s.RunSimTick(ctx)
		if err != nil {
			t.Fatalf("RunSimTick: %v", err)
		}
		if finished != (i == 3) {
			t.Fatalf("tick %d finished = %v", i, finished)
		}
	}
	if len(hookRuns) != 1 || hookRuns[0] != 1 {
		t.Fatalf("hook runs = %v, want [1]", hookRuns)
	}
	if spy.last != [3]int{1, 3, 3} {
		t.Fatalf("last progress = %v, want run 1 tick 3 of 3", spy.last)
	}

	// Without looping, further ticks are no-ops.
	finished, err := s.RunSimTick(ctx)
	if err != nil || finished {
		t.Fatalf("RunSimTick after completion = %v, %v", finished, err)
	}
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Tick != 3 || snap.Run != 1 {
		t.Fatalf("snapshot tick/run = %d/%d, want 3/1", snap.Tick, snap.Run)
	}
}

func TestLoopRestartsComparison(t *testing.T) {
	s := NewLiveState(newTestFactory(t, 2), nil, WithLoop(true))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.RunSimTick(ctx); err != nil {
			t.Fatalf("RunSimTick: %v", err)
		}
	}
	if got := s.Run(); got != 2 {
		t.Fatalf("Run() = %d, want 2 completed cycles", got)
	}
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Tick != 1 {
		t.Fatalf("snapshot tick = %d, want 1 into the third cycle", snap.Tick)
	}
	b, a, err := s.Metrics()
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if b.Len() != 1 || a.Len() != 1 {
		t.Fatalf("metrics lengths = %d/%d, want 1/1", b.Len(), a.Len())
	}
}

func TestSnapshotCarriesAdaptiveDiagnostics(t *testing.T) {
	s := NewLiveState(newTestFactory(t, 4), nil)
	if _, err := s.RunSimTick(context.Background()); err != nil {
		t.Fatalf("RunSimTick: %v", err)
	}
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Doors) != 3 {
		t.Fatalf("doors = %v, want one entry per node", snap.Doors)
	}
	if len(snap.Baseline.AgentStatus) != 20 || len(snap.Adaptive.AgentStatus) != 20 {
		t.Fatalf("agent status sizes = %d/%d, want 20/20", len(snap.Baseline.AgentStatus), len(snap.Adaptive.AgentStatus))
	}
	if snap.Chokepoints == nil {
		t.Fatalf("chokepoints map is nil")
	}
}

func TestSnapshotChokepointsUseFlows(t *testing.T) {
	g := kb.NewKnowledgeBase()
	for _, n := range []*model.Node{
		{ID: "door", Area: 1, Type: model.NodeEntrance},
		{ID: "exit", Area: 100, Type: model.NodeExit},
	} {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID, err)
		}
	}
	if err := g.AddEdge("door", "exit"); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	cfg := sim.Config{NumAgents: 5, Duration: 5, Dt: 1}
	s := NewLiveState(func() *sim.Comparison { return sim.NewComparison(g, cfg, 2) }, nil)
	for i := 0; i < 2; i++ {
		if _, err := s.RunSimTick(context.Background()); err != nil {
			t.Fatalf("RunSimTick: %v", err)
		}
	}

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	var want map[string]float64
	err = s.WithReadLock(func(c *sim.Comparison) error {
		prev := c.Adaptive.PreviousPositions()
		if len(prev) == 0 {
			return errors.New("previous positions empty after two ticks")
		}
		want = c.Adaptive.Controller().Chokepoints(snap.Adaptive.AgentPositions, prev)
		return nil
	})
	if err != nil {
		t.Fatalf("WithReadLock: %v", err)
	}
	if len(snap.Chokepoints) != len(want) {
		t.Fatalf("chokepoints = %v, want %v", snap.Chokepoints, want)
	}
	for id, v := range want {
		if snap.Chokepoints[id] != v {
			t.Fatalf("chokepoint %s = %v, want %v", id, snap.Chokepoints[id], v)
		}
	}
}

func TestNilFactory(t *testing.T) {
	s := NewLiveState(nil, nil)
	if _, err := s.RunSimTick(context.Background()); !errors.Is(err, ErrNoComparison) {
		t.Fatalf("RunSimTick err = %v, want ErrNoComparison", err)
	}
	if _, err := s.Snapshot(); !errors.Is(err, ErrNoComparison) {
		t.Fatalf("Snapshot err = %v, want ErrNoComparison", err)
	}
	if err := s.WithReadLock(func(*sim.Comparison) error { return nil }); !errors.Is(err, ErrNoComparison) {
		t.Fatalf("WithReadLock err = %v, want ErrNoComparison", err)
	}
}

// TestTickLoopAndReadersConcurrency runs the tick loop alongside readers
// to verify snapshots stay race-free.
func TestTickLoopAndReadersConcurrency(t *testing.T) {
	s := NewLiveState(newTestFactory(t, 50), nil, WithLoop(true))
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := s.RunSimTick(ctx); err != nil {
				t.Errorf("RunSimTick: %v", err)
				return
			}
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				snap, err := s.Snapshot()
				if err != nil {
					t.Errorf("Snapshot: %v", err)
					return
				}
				for id, d := range snap.Adaptive.Densities {
					if d < 0 {
						t.Errorf("negative density at %s", id)
					}
				}
				_ = s.WithReadLock(func(c *sim.Comparison) error {
					_ = c.Report()
					return nil
				})
			}
		}()
	}
	wg.Wait()

	if got := s.Run(); got != 4 {
		t.Fatalf("Run() = %d, want 4 completed cycles", got)
	}
}
