package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/crowdleaf-simulator/core"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/config"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/logging"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/observability"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/store"
	"github.com/signalsfoundry/crowdleaf-simulator/kb"
)

const (
	defaultPreset = "dfw"
	defaultDBPath = "crowdleaf.db"
	tracerName    = "github.com/signalsfoundry/crowdleaf-simulator/cmd/crowdleaf"
)

// settings is everything a simulation command needs after flags, config
// file and environment have been merged.
type settings struct {
	cfg      *config.Config
	log      logging.Logger
	topology *kb.KnowledgeBase
	sim      sim.Config
	seed     int64
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

func addSimFlags(cmd *cobra.Command) {
	cmd.Flags().String("preset", defaultPreset, "Built-in facility layout (see 'crowdleaf presets')")
	cmd.Flags().String("topology", "", "Facility file (.json or .yaml); overrides --preset")
	cmd.Flags().Int("agents", 0, "Number of agents (default: the preset's recommended count)")
	cmd.Flags().Float64("duration", 0, "Simulated seconds (default from config)")
	cmd.Flags().Int64("seed", 0, "Random seed (default from config)")
	cmd.Flags().Bool("save", false, "Store the finished run in the history database")
}

func loadConfig(cmd *cobra.Command) (*config.Config, logging.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	return cfg, log, nil
}

func resolveSettings(cmd *cobra.Command) (*settings, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	g, recommended, err := resolveTopology(cmd)
	if err != nil {
		return nil, err
	}

	sc := cfg.SimConfig()
	if recommended > 0 {
		sc.NumAgents = recommended
	}
	if cmd.Flags().Changed("agents") {
		sc.NumAgents, _ = cmd.Flags().GetInt("agents")
	}
	if cmd.Flags().Changed("duration") {
		sc.Duration, _ = cmd.Flags().GetFloat64("duration")
	}
	if f := cmd.Flags().Lookup("adaptive"); f != nil && f.Changed {
		sc.Adaptive, _ = cmd.Flags().GetBool("adaptive")
	}
	sc = sc.Normalize()

	seed := cfg.Simulation.Seed
	if cmd.Flags().Changed("seed") {
		seed, _ = cmd.Flags().GetInt64("seed")
	}

	tcfg := observability.TracingConfigFromConfig(cfg.Tracing)
	tcfg.Topology = topologyLabel(cmd)
	shutdown, err := observability.InitTracing(cmd.Context(), tcfg, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	return &settings{
		cfg:      cfg,
		log:      log,
		topology: g,
		sim:      sc,
		seed:     seed,
		tracer:   otel.Tracer(tracerName),
		shutdown: shutdown,
	}, nil
}

// topologyLabel names the simulated layout: the topology file's base
// name, or the preset key.
func topologyLabel(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("topology"); path != "" {
		return filepath.Base(path)
	}
	preset, _ := cmd.Flags().GetString("preset")
	return preset
}

// resolveTopology loads --topology when given, else builds --preset. The
// second result is the preset's recommended crowd size, or 0 for files.
func resolveTopology(cmd *cobra.Command) (*kb.KnowledgeBase, int, error) {
	if path, _ := cmd.Flags().GetString("topology"); path != "" {
		g, err := core.LoadFacilityFile(path)
		if err != nil {
			return nil, 0, err
		}
		return g, 0, nil
	}
	key, _ := cmd.Flags().GetString("preset")
	p, ok := core.LookupPreset(key)
	if !ok {
		return nil, 0, fmt.Errorf("unknown preset %q (available: %s)", key, strings.Join(presetKeys(), ", "))
	}
	return p.Build(), p.AgentCount, nil
}

func presetKeys() []string {
	var keys []string
	for _, p := range core.Presets() {
		keys = append(keys, p.Key)
	}
	sort.Strings(keys)
	return keys
}

func (s *settings) close(ctx context.Context) {
	observability.ShutdownWithTimeout(ctx, s.shutdown, s.log)
}

func (s *settings) engineOptions() []sim.Option {
	return []sim.Option{
		sim.WithSeed(s.seed),
		sim.WithLogger(s.log),
		sim.WithTracer(s.tracer),
	}
}

// openStore opens the history database named by --db, the config file,
// or the default path, in that order.
func openStore(cmd *cobra.Command, cfg *config.Config) (*store.DB, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" && cfg != nil {
		path = cfg.Store.Path
	}
	if path == "" {
		path = defaultDBPath
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run history %q: %w", path, err)
	}
	return db, nil
}
