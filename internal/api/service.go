// Package api serves the live comparison over gRPC.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/logging"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim/state"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

// Service implements SimulationServer on top of a LiveState.
type Service struct {
	state *state.LiveState
	log   logging.Logger
}

// NewService returns a Service reading from st.
func NewService(st *state.LiveState, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{state: st, log: log}
}

type stateView struct {
	Run      int       `json:"run"`
	Tick     int       `json:"tick"`
	Ticks    int       `json:"ticks"`
	Baseline sim.State `json:"baseline"`
	Adaptive sim.State `json:"adaptive"`
}

type metricsView struct {
	Run      int          `json:"run"`
	Baseline *sim.Metrics `json:"baseline"`
	Adaptive *sim.Metrics `json:"adaptive"`
	Report   sim.Report   `json:"report"`
}

type doorsView struct {
	Tick        int                        `json:"tick"`
	Doors       map[string]model.DoorState `json:"doors"`
	Counts      map[model.DoorState]int    `json:"counts"`
	Chokepoints map[string]float64         `json:"chokepoints"`
}

// GetState returns agent positions, statuses and node densities of both
// engines at the current tick.
func (s *Service) GetState(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, s.fail(ctx, "GetState", err)
	}
	return s.encode(ctx, "GetState", stateView{
		Run:      snap.Run,
		Tick:     snap.Tick,
		Ticks:    snap.Ticks,
		Baseline: snap.Baseline,
		Adaptive: snap.Adaptive,
	})
}

// GetMetrics returns both metric series and the running report.
func (s *Service) GetMetrics(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.state == nil {
		return nil, s.fail(ctx, "GetMetrics", state.ErrNoComparison)
	}
	var view metricsView
	err := s.state.WithReadLock(func(c *sim.Comparison) error {
		view.Baseline = c.Baseline.Metrics()
		view.Adaptive = c.Adaptive.Metrics()
		view.Report = c.Report()
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "GetMetrics", err)
	}
	view.Run = s.state.Run()
	return s.encode(ctx, "GetMetrics", view)
}

// GetDoorStates returns the adaptive controller's door map, per-state
// counts and current chokepoints.
func (s *Service) GetDoorStates(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, s.fail(ctx, "GetDoorStates", err)
	}
	view := doorsView{
		Tick:        snap.Tick,
		Doors:       snap.Doors,
		Counts:      map[model.DoorState]int{model.DoorOpen: 0, model.DoorRedirect: 0, model.DoorClosed: 0},
		Chokepoints: snap.Chokepoints,
	}
	for _, d := range snap.Doors {
		view.Counts[d]++
	}
	return s.encode(ctx, "GetDoorStates", view)
}

func (s *Service) snapshot() (*state.Snapshot, error) {
	if s.state == nil {
		return nil, state.ErrNoComparison
	}
	return s.state.Snapshot()
}

func (s *Service) fail(ctx context.Context, op string, err error) error {
	logging.LoggerFromContext(ctx).Warn(ctx, "request failed",
		logging.String("op", op),
		logging.Err(err),
	)
	return ToStatusError(err)
}

func (s *Service) encode(ctx context.Context, op string, v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		s.log.Error(ctx, "encode response", logging.String("op", op), logging.Err(err))
		return nil, ToStatusError(err)
	}
	return out, nil
}

// toStruct converts a JSON-tagged value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert response: %w", err)
	}
	return out, nil
}
