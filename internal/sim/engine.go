package sim

import (
	"context"
	"maps"
	"math"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/crowdleaf"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/hazard"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/logging"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/routing"
	"github.com/signalsfoundry/crowdleaf-simulator/kb"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

// stressRelief is subtracted from every moving agent's stress each tick.
const stressRelief = 0.01

// TickResult is the outcome of one Step.
type TickResult struct {
	Tick int
	Time float64

	NewInjuries int
	NewDeaths   int

	// Cumulative totals after the tick.
	Injuries  int
	Deaths    int
	Evacuated int

	Overcrowding int // nodes above the overcrowding threshold this tick
	MeanDensity  float64

	// Doors counts nodes per door state; nil in baseline mode.
	Doors map[model.DoorState]int

	// Elapsed is the wall-clock cost of the tick.
	Elapsed time.Duration
}

// MetricsRecorder observes every completed tick.
type MetricsRecorder interface {
	ObserveTick(mode string, r TickResult)
}

// AgentStatus is the per-agent part of a State snapshot.
type AgentStatus struct {
	Injured bool    `json:"injured"`
	Dead    bool    `json:"dead"`
	Stress  float64 `json:"stress"`
}

// State is a point-in-time snapshot for external consumers.
type State struct {
	Tick           int                 `json:"tick"`
	Time           float64             `json:"time"`
	AgentPositions map[int]string      `json:"agent_positions"` // live agents only
	AgentStatus    map[int]AgentStatus `json:"agent_status"`
	Densities      map[string]float64  `json:"densities"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand injects the run's random source. It takes precedence over
// WithSeed.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithSeed seeds a private random source for the run.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r MetricsRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// Engine advances one simulation instance. It owns the agent roster,
// the controller (adaptive mode) and the metrics series, and shares no
// mutable state with other engines. An Engine is not safe for
// concurrent use.
type Engine struct {
	g   *kb.KnowledgeBase
	cfg Config

	seed     int64
	rng      *rand.Rand
	log      logging.Logger
	recorder MetricsRecorder
	tracer   trace.Tracer

	nodes      []*model.Node
	agents     []*model.Agent
	policy     routing.Policy
	controller *crowdleaf.Controller
	hazard     hazard.Model

	tick     int
	now      float64
	ticks    int
	previous map[int]string
	metrics  Metrics
}

// New builds an engine over g and places cfg.NumAgents agents. The
// config is normalised first, so a zero Config runs with defaults and
// no agents.
func New(g *kb.KnowledgeBase, cfg Config, opts ...Option) *Engine {
	if g == nil {
		g = kb.NewKnowledgeBase()
	}
	e := &Engine{
		g:      g,
		cfg:    cfg.Normalize(),
		log:    logging.Noop(),
		tracer: noop.NewTracerProvider().Tracer(""),
		hazard: hazard.DefaultModel(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(e.seed))
	}
	e.log = e.log.With(logging.String("mode", e.cfg.Mode()))
	e.nodes = g.Nodes()
	e.ticks = e.cfg.Ticks()

	ctx := context.Background()
	e.agents = populate(ctx, g, e.cfg.NumAgents, e.rng, e.log)

	if e.cfg.Adaptive {
		e.controller = crowdleaf.New(g, crowdleaf.Params{
			SafeDensity:     e.cfg.SafeDensity,
			CriticalDensity: e.cfg.CriticalDensity,
			RecoveryTime:    e.cfg.RecoveryTime,
			Steepness:       crowdleaf.DefaultParams().Steepness,
		}, e.rng, crowdleaf.WithLogger(e.log))
		e.policy = routing.NewAdaptive(e.controller)
	} else {
		e.policy = routing.NewBaseline(g, e.rng)
	}
	return e
}

// Config returns the normalised configuration.
func (e *Engine) Config() Config { return e.cfg }

// Seed returns the seed of the engine's private random source. It is
// meaningless when the source was injected with WithRand.
func (e *Engine) Seed() int64 { return e.seed }

// Topology returns the graph the engine runs on.
func (e *Engine) Topology() *kb.KnowledgeBase { return e.g }

// Mode returns the routing policy name.
func (e *Engine) Mode() string { return e.policy.Name() }

// Ticks returns the number of ticks in a full run.
func (e *Engine) Ticks() int { return e.ticks }

// Tick returns the number of completed ticks.
func (e *Engine) Tick() int { return e.tick }

// Done reports whether a full run has been stepped.
func (e *Engine) Done() bool { return e.tick >= e.ticks }

// Controller returns the adaptive controller, or nil in baseline mode.
func (e *Engine) Controller() *crowdleaf.Controller { return e.controller }

// Metrics returns a copy of the series recorded so far.
func (e *Engine) Metrics() *Metrics { return e.metrics.Clone() }

// Agents returns copies of every agent in roster order.
func (e *Engine) Agents() []model.Agent {
	out := make([]model.Agent, len(e.agents))
	for i, a := range e.agents {
		out[i] = *a
	}
	return out
}

// Step advances the simulation by one tick: clock, door states
// (adaptive only), movement with stress relief, hazard, metrics.
func (e *Engine) Step(ctx context.Context) TickResult {
	start := time.Now()

	e.tick++
	e.now = float64(e.tick) * e.cfg.Dt

	if e.controller != nil {
		current := e.livePositions()
		e.controller.Update(ctx, e.now, current, e.previous)
		e.previous = current
	}

	for _, a := range e.agents {
		if !a.Alive() {
			continue
		}
		next := e.policy.NextHop(a)
		if next != a.Position && !e.g.Adjacent(a.Position, next) {
			invariant(e.tick, "move", "agent %d hop %q -> %q is not an edge", a.ID, a.Position, next)
		}
		a.Position = next
		a.Stress = math.Max(0, a.Stress-stressRelief)
	}

	out := e.hazard.Update(e.g, e.agents, e.rng)

	r := TickResult{
		Tick:         e.tick,
		Time:         e.now,
		NewInjuries:  out.Injuries,
		NewDeaths:    out.Deaths,
		Overcrowding: out.Overcrowding,
	}
	for _, a := range e.agents {
		if a.Injured {
			r.Injuries++
		}
		if a.Dead {
			r.Deaths++
		}
		if a.Evacuated() {
			r.Evacuated++
		}
	}
	r.MeanDensity = e.meanDensity()
	if e.controller != nil {
		r.Doors = e.controller.DoorCounts()
	}
	r.Elapsed = time.Since(start)

	e.metrics.append(r)
	if e.recorder != nil {
		e.recorder.ObserveTick(e.Mode(), r)
	}
	return r
}

// Run steps until the configured number of ticks has completed. It
// checks ctx between ticks and returns ctx.Err() with the partial
// series when cancelled.
func (e *Engine) Run(ctx context.Context) (*Metrics, error) {
	ctx, span := e.tracer.Start(ctx, "sim.Run", trace.WithAttributes(
		attribute.String("sim.mode", e.Mode()),
		attribute.String("sim.topology", e.g.Name()),
		attribute.Int("sim.agents", len(e.agents)),
		attribute.Int("sim.ticks", e.ticks),
	))
	defer span.End()

	e.log.Info(ctx, "simulation started",
		logging.String("topology", e.g.Name()),
		logging.Int("agents", len(e.agents)),
		logging.Int("ticks", e.ticks),
	)
	for !e.Done() {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			e.log.Warn(ctx, "simulation cancelled", logging.Int("tick", e.tick), logging.Err(err))
			return e.Metrics(), err
		}
		e.Step(ctx)
	}

	s := e.metrics.Summary()
	span.SetAttributes(
		attribute.Int("sim.injuries", s.Injuries),
		attribute.Int("sim.deaths", s.Deaths),
		attribute.Int("sim.evacuated", s.Evacuated),
	)
	e.log.Info(ctx, "simulation finished",
		logging.Int("injuries", s.Injuries),
		logging.Int("deaths", s.Deaths),
		logging.Int("evacuated", s.Evacuated),
		logging.Int("overcrowding_events", s.OvercrowdingEvents),
		logging.Float("peak_mean_density", s.PeakMeanDensity),
	)
	return e.Metrics(), nil
}

// CurrentState snapshots positions, agent status and node densities.
func (e *Engine) CurrentState() State {
	st := State{
		Tick:           e.tick,
		Time:           e.now,
		AgentPositions: e.livePositions(),
		AgentStatus:    make(map[int]AgentStatus, len(e.agents)),
		Densities:      make(map[string]float64, len(e.nodes)),
	}
	for _, a := range e.agents {
		st.AgentStatus[a.ID] = AgentStatus{Injured: a.Injured, Dead: a.Dead, Stress: a.Stress}
	}
	for i, d := range e.densities() {
		st.Densities[e.nodes[i].ID] = d
	}
	return st
}

// PreviousPositions returns the live positions the controller observed
// at the start of the last tick, one move behind CurrentState. It is nil
// in baseline mode and before the first tick.
func (e *Engine) PreviousPositions() map[int]string {
	return maps.Clone(e.previous)
}

func (e *Engine) livePositions() map[int]string {
	out := make(map[int]string, len(e.agents))
	for _, a := range e.agents {
		if a.Alive() {
			out[a.ID] = a.Position
		}
	}
	return out
}

// densities returns per-node live densities and enforces that every
// live agent stands on a known node.
func (e *Engine) densities() []float64 {
	counts := make([]int, len(e.nodes))
	for _, a := range e.agents {
		if !a.Alive() {
			continue
		}
		i, ok := e.g.Index(a.Position)
		if !ok {
			invariant(e.tick, "density", "agent %d at unknown node %q", a.ID, a.Position)
		}
		counts[i]++
	}
	out := make([]float64, len(e.nodes))
	for i, n := range e.nodes {
		out[i] = hazard.Density(n, counts[i])
		if out[i] < 0 {
			invariant(e.tick, "density", "node %q has negative density %v", n.ID, out[i])
		}
	}
	return out
}

func (e *Engine) meanDensity() float64 {
	d := e.densities()
	if len(d) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range d {
		sum += v
	}
	return sum / float64(len(d))
}
