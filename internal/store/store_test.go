package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs", "crowdleaf.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func series() *sim.Metrics {
	return &sim.Metrics{
		Time:               []float64{0, 0.5, 1},
		Injuries:           []int{0, 1, 3},
		Deaths:             []int{0, 0, 1},
		OvercrowdingEvents: []int{1, 2, 0},
		MeanDensity:        []float64{0.5, 1.25, 0.75},
		Evacuated:          []int{0, 2, 5},
	}
}

func TestSaveRunAssignsIDAndSummary(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	cfg := sim.DefaultConfig()
	cfg.NumAgents = 50
	saved, err := db.SaveRun(ctx, Run{Topology: "dfw", Mode: "adaptive", Seed: 7, Config: cfg, Series: series()})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if saved.ID == "" {
		t.Fatalf("SaveRun did not assign an id")
	}
	if saved.Summary.Injuries != 3 || saved.Summary.OvercrowdingEvents != 3 || saved.Summary.PeakMeanDensity != 1.25 {
		t.Fatalf("Summary = %+v", saved.Summary)
	}

	got, err := db.GetRun(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Topology != "dfw" || got.Mode != "adaptive" || got.Seed != 7 {
		t.Fatalf("GetRun = %+v", got)
	}
	if got.Config != cfg {
		t.Fatalf("Config = %+v, want %+v", got.Config, cfg)
	}
	if got.Summary != saved.Summary {
		t.Fatalf("Summary = %+v, want %+v", got.Summary, saved.Summary)
	}
}

func TestLoadSeries(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	saved, err := db.SaveRun(ctx, Run{Topology: "atl", Mode: "baseline", Series: series()})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	m, err := db.LoadSeries(ctx, saved.ID)
	if err != nil {
		t.Fatalf("LoadSeries: %v", err)
	}
	want := series()
	if m.Len() != want.Len() {
		t.Fatalf("Len = %d, want %d", m.Len(), want.Len())
	}
	for i := 0; i < want.Len(); i++ {
		if m.Time[i] != want.Time[i] || m.Injuries[i] != want.Injuries[i] || m.Evacuated[i] != want.Evacuated[i] ||
			m.MeanDensity[i] != want.MeanDensity[i] || m.OvercrowdingEvents[i] != want.OvercrowdingEvents[i] {
			t.Fatalf("sample %d differs: got %+v", i, m)
		}
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, topo := range []string{"dfw", "atl", "dxb"} {
		if _, err := db.SaveRun(ctx, Run{Topology: topo, Mode: "baseline", CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("SaveRun(%s): %v", topo, err)
		}
	}

	runs, err := db.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(ListRuns(2)) = %d, want 2", len(runs))
	}
	if runs[0].Topology != "dxb" || runs[1].Topology != "atl" {
		t.Fatalf("ListRuns order = %s, %s, want dxb, atl", runs[0].Topology, runs[1].Topology)
	}
	if !runs[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("CreatedAt = %v", runs[0].CreatedAt)
	}

	all, err := db.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns(0): %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(ListRuns(0)) = %d, want 3", len(all))
	}
}

func TestUnknownRun(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	if _, err := db.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("GetRun err = %v, want ErrRunNotFound", err)
	}
	if _, err := db.LoadSeries(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("LoadSeries err = %v, want ErrRunNotFound", err)
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	if _, err := db.SaveRun(ctx, Run{ID: "fixed", Topology: "iad", Mode: "baseline"}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if _, err := db.SaveRun(ctx, Run{ID: "fixed", Topology: "iad", Mode: "baseline"}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestInMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	defer db.Close()
	if _, err := db.SaveRun(context.Background(), Run{Topology: "stress", Mode: "adaptive", Series: series()}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
}
