package sim

import (
	"context"
	"math/rand"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/crowdleaf-simulator/kb"
)

// Comparison advances a baseline and an adaptive engine in lockstep.
// Both engines are seeded identically, so they start from the same
// placement and each side is reproducible on its own.
type Comparison struct {
	Baseline *Engine
	Adaptive *Engine

	tracer trace.Tracer
}

// NewComparison builds both engines over g from cfg; cfg.Adaptive is
// ignored. Each engine gets its own source seeded with seed, overriding
// any WithRand in opts, since the two must not share a random source.
func NewComparison(g *kb.KnowledgeBase, cfg Config, seed int64, opts ...Option) *Comparison {
	base := cfg
	base.Adaptive = false
	adaptive := cfg
	adaptive.Adaptive = true

	b := New(g, base, append(opts[:len(opts):len(opts)], ownRand(seed))...)
	a := New(g, adaptive, append(opts[:len(opts):len(opts)], ownRand(seed))...)
	return &Comparison{Baseline: b, Adaptive: a, tracer: b.tracer}
}

func ownRand(seed int64) Option {
	return func(e *Engine) {
		e.seed = seed
		e.rng = rand.New(rand.NewSource(seed))
	}
}

// Step advances both engines by one tick, baseline first.
func (c *Comparison) Step(ctx context.Context) (TickResult, TickResult) {
	return c.Baseline.Step(ctx), c.Adaptive.Step(ctx)
}

// Done reports whether both engines have completed their runs.
func (c *Comparison) Done() bool {
	return c.Baseline.Done() && c.Adaptive.Done()
}

// Run steps both engines to completion, checking ctx between ticks.
func (c *Comparison) Run(ctx context.Context) (Report, error) {
	ctx, span := c.tracer.Start(ctx, "sim.Comparison", trace.WithAttributes(
		attribute.Int("sim.ticks", c.Baseline.Ticks()),
	))
	defer span.End()

	for !c.Done() {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return c.Report(), err
		}
		c.Step(ctx)
	}
	r := c.Report()
	span.SetAttributes(
		attribute.Int("sim.injury_reduction", r.InjuryReduction),
		attribute.Int("sim.death_reduction", r.DeathReduction),
	)
	return r, nil
}

// Report compares the two runs. Reductions are baseline minus adaptive,
// so positive values favour the adaptive policy; ExtraEvacuated is
// adaptive minus baseline.
type Report struct {
	Baseline Summary `json:"baseline"`
	Adaptive Summary `json:"adaptive"`

	InjuryReduction       int     `json:"injury_reduction"`
	DeathReduction        int     `json:"death_reduction"`
	PeakDensityReduction  float64 `json:"peak_density_reduction"`
	OvercrowdingReduction int     `json:"overcrowding_reduction"`
	ExtraEvacuated        int     `json:"extra_evacuated"`
}

// InjuryReductionPct is InjuryReduction relative to the baseline count,
// with the denominator floored at one.
func (r Report) InjuryReductionPct() float64 {
	return pct(r.InjuryReduction, r.Baseline.Injuries)
}

// DeathReductionPct is DeathReduction relative to the baseline count.
func (r Report) DeathReductionPct() float64 {
	return pct(r.DeathReduction, r.Baseline.Deaths)
}

// OvercrowdingReductionPct is OvercrowdingReduction relative to the
// baseline total.
func (r Report) OvercrowdingReductionPct() float64 {
	return pct(r.OvercrowdingReduction, r.Baseline.OvercrowdingEvents)
}

func pct(delta, base int) float64 {
	return float64(delta) / float64(max(base, 1)) * 100
}

// Report summarises both series as they stand.
func (c *Comparison) Report() Report {
	b := c.Baseline.metrics.Summary()
	a := c.Adaptive.metrics.Summary()
	return Report{
		Baseline:              b,
		Adaptive:              a,
		InjuryReduction:       b.Injuries - a.Injuries,
		DeathReduction:        b.Deaths - a.Deaths,
		PeakDensityReduction:  b.PeakMeanDensity - a.PeakMeanDensity,
		OvercrowdingReduction: b.OvercrowdingEvents - a.OvercrowdingEvents,
		ExtraEvacuated:        a.Evacuated - b.Evacuated,
	}
}
