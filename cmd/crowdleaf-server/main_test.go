package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/api"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/config"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/logging"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Simulation.DurationSeconds = 3
	cfg.Simulation.TickSizeSeconds = 1
	cfg.Simulation.Seed = 5
	cfg.Server.MetricsAddr = ""
	cfg.Server.RealTime = false
	cfg.Server.TickInterval = time.Millisecond
	cfg.Store.Path = filepath.Join(t.TempDir(), "server.db")
	cfg.Tracing.Enabled = false
	return cfg
}

func TestServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	cfg := testConfig(t)
	opts := options{Preset: "dfw", Agents: 12, Loop: false}

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, opts, logging.Noop(), lis)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	hc := healthpb.NewHealthClient(conn)
	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName}, grpc.WaitForReady(true))
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health status = %v, want SERVING", resp.GetStatus())
	}

	state, err := api.NewSimulationClient(conn).GetState(ctx)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got := state.Fields["ticks"].GetNumberValue(); got != 3 {
		t.Fatalf("ticks = %v, want 3", got)
	}

	// Accelerated clock with Loop=false finishes one comparison quickly
	// and the completion hook stores both runs.
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer db.Close()
	deadline := time.Now().Add(5 * time.Second)
	for {
		runs, err := db.ListRuns(ctx, 0)
		if err == nil && len(runs) == 2 {
			for _, r := range runs {
				if r.Seed != 5 || r.Topology != "dfw" || r.Config.NumAgents != 12 {
					t.Fatalf("stored run = %+v", r)
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stored runs = %d (err %v), want 2", len(runs), err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestLoadTopology(t *testing.T) {
	g, agents, err := loadTopology(options{Preset: "stress"})
	if err != nil {
		t.Fatalf("loadTopology: %v", err)
	}
	if g.Name() != "stress" || agents != 400 {
		t.Fatalf("loadTopology = %s/%d, want stress/400", g.Name(), agents)
	}
	if _, _, err := loadTopology(options{Preset: "nope"}); err == nil {
		t.Fatalf("expected unknown preset error")
	}
}
