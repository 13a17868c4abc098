// Package state holds the live comparison shared between the tick loop
// and concurrent readers such as the gRPC API.
package state

import (
	"context"
	"errors"
	"sync"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/logging"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

// ErrNoComparison indicates the live state has no comparison loaded.
var ErrNoComparison = errors.New("no live comparison")

// Factory builds a fresh comparison for each run cycle.
type Factory func() *sim.Comparison

// ProgressRecorder receives progress updates for the live comparison.
type ProgressRecorder interface {
	SetProgress(run, tick, ticks int)
}

// CompletionHook is invoked, outside the state lock, after a comparison
// finishes all of its ticks. run counts completed cycles from 1.
type CompletionHook func(ctx context.Context, run int, c *sim.Comparison)

// LiveState serialises access to a running comparison. The tick loop
// takes the write lock for each Step; readers take the read lock and
// receive copies, so nothing they hold aliases engine state.
type LiveState struct {
	// mu guards every field below.
	mu sync.RWMutex

	factory Factory
	cmp     *sim.Comparison
	run     int

	// loop restarts the comparison from the factory once it finishes.
	loop bool

	log        logging.Logger
	progress   ProgressRecorder
	onComplete CompletionHook
}

// Snapshot is a consistent copy of the live comparison at one tick.
type Snapshot struct {
	Run   int
	Tick  int
	Ticks int

	Baseline sim.State
	Adaptive sim.State

	Doors       map[string]model.DoorState
	Chokepoints map[string]float64
	Report      sim.Report
}

// Option customises LiveState construction.
type Option func(*LiveState)

// WithProgressRecorder attaches a progress recorder.
func WithProgressRecorder(r ProgressRecorder) Option {
	return func(s *LiveState) {
		s.progress = r
	}
}

// WithCompletionHook registers a hook for finished comparisons.
func WithCompletionHook(h CompletionHook) Option {
	return func(s *LiveState) {
		s.onComplete = h
	}
}

// WithLoop makes the state start a new comparison from the factory each
// time the current one finishes.
func WithLoop(loop bool) Option {
	return func(s *LiveState) {
		s.loop = loop
	}
}

// NewLiveState builds the first comparison from factory.
func NewLiveState(factory Factory, log logging.Logger, opts ...Option) *LiveState {
	if log == nil {
		log = logging.Noop()
	}
	s := &LiveState{
		factory: factory,
		log:     log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	return s
}

func (s *LiveState) resetLocked() {
	if s.factory == nil {
		s.cmp = nil
		return
	}
	s.cmp = s.factory()
	s.updateProgressLocked()
}

func (s *LiveState) updateProgressLocked() {
	if s.progress == nil || s.cmp == nil {
		return
	}
	s.progress.SetProgress(s.run, s.cmp.Baseline.Tick(), s.cmp.Baseline.Ticks())
}

// Reset discards the current comparison and builds a fresh one.
func (s *LiveState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// RunSimTick advances the comparison by one lockstep tick. It reports
// whether the comparison finished on this tick. Ticks on a finished,
// non-looping comparison are no-ops.
func (s *LiveState) RunSimTick(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.cmp == nil {
		s.mu.Unlock()
		return false, ErrNoComparison
	}
	if s.cmp.Done() {
		if !s.loop {
			s.mu.Unlock()
			return false, nil
		}
		s.resetLocked()
	}

	s.cmp.Step(ctx)

	finished := s.cmp.Done()
	var done *sim.Comparison
	run := 0
	if finished {
		s.run++
		run = s.run
		done = s.cmp
	}
	s.updateProgressLocked()
	hook := s.onComplete
	s.mu.Unlock()

	if finished {
		r := done.Report()
		s.log.Info(ctx, "comparison finished",
			logging.Int("run", run),
			logging.Int("injury_reduction", r.InjuryReduction),
			logging.Int("death_reduction", r.DeathReduction),
			logging.Int("extra_evacuated", r.ExtraEvacuated),
		)
		if hook != nil {
			hook(ctx, run, done)
		}
	}
	return finished, nil
}

// WithReadLock executes fn while holding the read lock. fn must not
// call other LiveState methods.
func (s *LiveState) WithReadLock(fn func(c *sim.Comparison) error) error {
	if fn == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cmp == nil {
		return ErrNoComparison
	}
	return fn(s.cmp)
}

// Snapshot returns a coherent copy of both engines.
func (s *LiveState) Snapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cmp == nil {
		return nil, ErrNoComparison
	}

	snap := &Snapshot{
		Run:      s.run,
		Tick:     s.cmp.Baseline.Tick(),
		Ticks:    s.cmp.Baseline.Ticks(),
		Baseline: s.cmp.Baseline.CurrentState(),
		Adaptive: s.cmp.Adaptive.CurrentState(),
		Report:   s.cmp.Report(),
	}
	if ctrl := s.cmp.Adaptive.Controller(); ctrl != nil {
		snap.Doors = ctrl.DoorStates()
		snap.Chokepoints = ctrl.Chokepoints(snap.Adaptive.AgentPositions, s.cmp.Adaptive.PreviousPositions())
	}
	return snap, nil
}

// Metrics returns copies of both metric series.
func (s *LiveState) Metrics() (baseline, adaptive *sim.Metrics, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cmp == nil {
		return nil, nil, ErrNoComparison
	}
	return s.cmp.Baseline.Metrics(), s.cmp.Adaptive.Metrics(), nil
}

// Run returns the number of completed comparison cycles.
func (s *LiveState) Run() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run
}
