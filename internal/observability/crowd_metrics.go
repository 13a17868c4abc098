package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

// CrowdCollector exposes per-tick simulation metrics. It implements
// sim.MetricsRecorder; every series is labelled by routing mode.
type CrowdCollector struct {
	gatherer prometheus.Gatherer

	Injuries     *prometheus.GaugeVec
	Deaths       *prometheus.GaugeVec
	Evacuated    *prometheus.GaugeVec
	MeanDensity  *prometheus.GaugeVec
	Overcrowding *prometheus.CounterVec
	Ticks        *prometheus.CounterVec
	ActiveDoors  *prometheus.GaugeVec
	TickDuration *prometheus.HistogramVec
}

// NewCrowdCollector registers simulation metrics against the provided
// registerer, defaulting to the global registry when nil.
func NewCrowdCollector(reg prometheus.Registerer) (*CrowdCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	gauge := func(name, help string, labels ...string) (*prometheus.GaugeVec, error) {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
		return registerGaugeVec(reg, vec, name)
	}
	counter := func(name, help string) (*prometheus.CounterVec, error) {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"mode"})
		return registerCounterVec(reg, vec, name)
	}

	c := &CrowdCollector{gatherer: gathererFor(reg)}
	var err error
	if c.Injuries, err = gauge("crowdleaf_injuries", "Agents injured so far in the current run.", "mode"); err != nil {
		return nil, err
	}
	if c.Deaths, err = gauge("crowdleaf_deaths", "Agents dead so far in the current run.", "mode"); err != nil {
		return nil, err
	}
	if c.Evacuated, err = gauge("crowdleaf_evacuated", "Live agents standing on their destination.", "mode"); err != nil {
		return nil, err
	}
	if c.MeanDensity, err = gauge("crowdleaf_mean_density", "Mean occupancy density across all zones, persons per area unit.", "mode"); err != nil {
		return nil, err
	}
	if c.ActiveDoors, err = gauge("crowdleaf_active_doors", "Zones per door state under adaptive routing.", "state"); err != nil {
		return nil, err
	}
	if c.Overcrowding, err = counter("crowdleaf_overcrowding_events_total", "Zone-ticks spent above the overcrowding density."); err != nil {
		return nil, err
	}
	if c.Ticks, err = counter("crowdleaf_ticks_total", "Simulation ticks executed."); err != nil {
		return nil, err
	}

	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crowdleaf_tick_duration_seconds",
		Help:    "Wall-clock duration of one simulation tick.",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1},
	}, []string{"mode"})
	if c.TickDuration, err = registerHistogramVec(reg, hist, "crowdleaf_tick_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *CrowdCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick implements sim.MetricsRecorder.
func (c *CrowdCollector) ObserveTick(mode string, r sim.TickResult) {
	if c == nil {
		return
	}
	c.Injuries.WithLabelValues(mode).Set(float64(r.Injuries))
	c.Deaths.WithLabelValues(mode).Set(float64(r.Deaths))
	c.Evacuated.WithLabelValues(mode).Set(float64(r.Evacuated))
	c.MeanDensity.WithLabelValues(mode).Set(r.MeanDensity)
	c.Overcrowding.WithLabelValues(mode).Add(float64(r.Overcrowding))
	c.Ticks.WithLabelValues(mode).Inc()
	c.TickDuration.WithLabelValues(mode).Observe(r.Elapsed.Seconds())

	if r.Doors != nil {
		for _, s := range []model.DoorState{model.DoorOpen, model.DoorRedirect, model.DoorClosed} {
			c.ActiveDoors.WithLabelValues(string(s)).Set(float64(r.Doors[s]))
		}
	}
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
