package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/crowdleaf-simulator/core"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/api"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/config"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/logging"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/observability"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim/state"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/store"
	"github.com/signalsfoundry/crowdleaf-simulator/kb"
	"github.com/signalsfoundry/crowdleaf-simulator/timectrl"
)

const tracerName = "github.com/signalsfoundry/crowdleaf-simulator/cmd/crowdleaf-server"

// options are the command-line settings not covered by the config file.
type options struct {
	Preset       string
	TopologyPath string
	Agents       int
	Loop         bool
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (default $CROWDLEAF_CONFIG)")
	preset := flag.String("preset", "dfw", "Built-in facility layout")
	topologyPath := flag.String("topology", "", "Facility file (.json or .yaml); overrides -preset")
	agents := flag.Int("agents", 0, "Number of agents (default: the preset's recommended count)")
	loop := flag.Bool("loop", true, "Start a new comparison each time one finishes")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logging.NewFromEnv().Error(ctx, "failed to load config", logging.Err(err))
		os.Exit(1)
	}
	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	opts := options{Preset: *preset, TopologyPath: *topologyPath, Agents: *agents, Loop: *loop}
	if err := run(stopCtx, cfg, opts, log, lis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		stop()
		os.Exit(1)
	}
}

// run serves the API on lis and steps the live comparison until ctx is
// cancelled.
func run(ctx context.Context, cfg *config.Config, opts options, log logging.Logger, lis net.Listener) error {
	tcfg := observability.TracingConfigFromConfig(cfg.Tracing)
	tcfg.Topology = opts.topologyLabel()
	shutdownTracing, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	apiMetrics, err := observability.NewAPICollector(reg)
	if err != nil {
		return fmt.Errorf("init api metrics: %w", err)
	}
	crowdMetrics, err := observability.NewCrowdCollector(reg)
	if err != nil {
		return fmt.Errorf("init crowd metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.Server.MetricsAddr, apiMetrics, log)

	g, recommended, err := loadTopology(opts)
	if err != nil {
		return err
	}
	simCfg := cfg.SimConfig()
	switch {
	case opts.Agents > 0:
		simCfg.NumAgents = opts.Agents
	case recommended > 0:
		simCfg.NumAgents = recommended
	}

	var db *store.DB
	if cfg.Store.Path != "" {
		if db, err = store.Open(cfg.Store.Path); err != nil {
			return err
		}
		defer db.Close()
	}

	tracer := otel.Tracer(tracerName)
	seed := cfg.Simulation.Seed
	cycle := int64(0)
	// Each cycle gets its own seed so looping runs differ while staying
	// reproducible from the configured seed.
	factory := func() *sim.Comparison {
		c := sim.NewComparison(g, simCfg, seed+cycle,
			sim.WithLogger(log),
			sim.WithRecorder(crowdMetrics),
			sim.WithTracer(tracer),
		)
		cycle++
		return c
	}
	live := state.NewLiveState(factory, log,
		state.WithProgressRecorder(apiMetrics),
		state.WithCompletionHook(saveCompleted(db, g.Name(), log)),
		state.WithLoop(opts.Loop),
	)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			api.RequestIDUnaryServerInterceptor(log),
			api.TracingUnaryServerInterceptor(),
			apiMetrics.UnaryServerInterceptor(),
		),
	)
	api.RegisterSimulationServer(server, api.NewService(live, log))
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	mode := timectrl.Accelerated
	if cfg.Server.RealTime {
		mode = timectrl.RealTime
	}
	interval := cfg.Server.TickInterval
	if interval <= 0 {
		interval = config.Default().Server.TickInterval
	}
	tc := timectrl.NewTimeController(time.Now(), interval, mode)

	simCtx, cancelSim := context.WithCancel(ctx)
	defer cancelSim()
	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		runSimLoop(simCtx, tc, live, opts.Loop, log)
	}()

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting crowdleaf gRPC server",
		logging.String("addr", lis.Addr().String()),
		logging.String("topology", g.Name()),
		logging.Int("agents", simCfg.NumAgents),
		logging.String("clock", mode.String()),
	)
	go func() {
		serveErr <- server.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = fmt.Errorf("gRPC server: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down crowdleaf server")
	hs.Shutdown()
	server.GracefulStop()
	cancelSim()
	<-simDone

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

// runSimLoop steps live once per clock tick until ctx is done, or until
// the comparison finishes when loop is false.
func runSimLoop(ctx context.Context, tc *timectrl.TimeController, live *state.LiveState, loop bool, log logging.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tc.AddListener(func(time.Time) {
		finished, err := live.RunSimTick(ctx)
		if err != nil {
			log.Warn(ctx, "simulation tick failed", logging.Err(err))
			cancel()
			return
		}
		if finished && !loop {
			log.Info(ctx, "comparison complete; stopping tick loop", logging.Int("runs", live.Run()))
			cancel()
		}
	})
	<-tc.Start(ctx, 0)
}

// saveCompleted persists both engines of a finished comparison. A nil db
// disables persistence.
func saveCompleted(db *store.DB, topology string, log logging.Logger) state.CompletionHook {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, run int, c *sim.Comparison) {
		for _, e := range []*sim.Engine{c.Baseline, c.Adaptive} {
			saved, err := db.SaveRun(ctx, store.Run{
				Topology: topology,
				Mode:     e.Mode(),
				Seed:     e.Seed(),
				Config:   e.Config(),
				Series:   e.Metrics(),
			})
			if err != nil {
				log.Warn(ctx, "failed to store run", logging.Int("run", run), logging.String("mode", e.Mode()), logging.Err(err))
				continue
			}
			log.Info(ctx, "stored run", logging.Int("run", run), logging.String("mode", e.Mode()), logging.String("id", saved.ID))
		}
	}
}

// topologyLabel names the simulated layout in traces.
func (o options) topologyLabel() string {
	if o.TopologyPath != "" {
		return filepath.Base(o.TopologyPath)
	}
	return o.Preset
}

func loadTopology(opts options) (*kb.KnowledgeBase, int, error) {
	if opts.TopologyPath != "" {
		g, err := core.LoadFacilityFile(opts.TopologyPath)
		return g, 0, err
	}
	p, ok := core.LookupPreset(opts.Preset)
	if !ok {
		return nil, 0, fmt.Errorf("unknown preset %q", opts.Preset)
	}
	return p.Build(), p.AgentCount, nil
}

func serveMetrics(addr string, collector *observability.APICollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
