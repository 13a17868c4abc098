// Package sim runs the crowd simulation: it places agents, advances
// them one graph hop per tick under a routing policy, applies the
// hazard model and records metrics.
package sim

import (
	"github.com/signalsfoundry/crowdleaf-simulator/internal/routing"
)

// Config holds the kernel parameters of one run.
type Config struct {
	NumAgents int  `json:"num_agents"`
	Adaptive  bool `json:"adaptive"`

	Duration float64 `json:"duration"` // seconds of simulated time
	Dt       float64 `json:"dt"`       // seconds per tick

	SafeDensity     float64 `json:"safe_density"`
	CriticalDensity float64 `json:"critical_density"`
	RecoveryTime    float64 `json:"recovery_time"`
}

// DefaultConfig returns the standard run parameters.
func DefaultConfig() Config {
	return Config{
		NumAgents:       200,
		Duration:        30.0,
		Dt:              0.1,
		SafeDensity:     4.0,
		CriticalDensity: 6.0,
		RecoveryTime:    15.0,
	}
}

// Normalize replaces non-positive thresholds and tick size with their
// defaults and clamps negative counts and durations to zero.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.NumAgents < 0 {
		c.NumAgents = 0
	}
	if c.Duration < 0 {
		c.Duration = 0
	}
	if c.Dt <= 0 {
		c.Dt = d.Dt
	}
	if c.SafeDensity <= 0 {
		c.SafeDensity = d.SafeDensity
	}
	if c.CriticalDensity <= 0 {
		c.CriticalDensity = d.CriticalDensity
	}
	if c.RecoveryTime <= 0 {
		c.RecoveryTime = d.RecoveryTime
	}
	return c
}

// Ticks is the number of ticks in a full run, duration/dt truncated.
func (c Config) Ticks() int {
	if c.Dt <= 0 || c.Duration <= 0 {
		return 0
	}
	return int(c.Duration / c.Dt)
}

// Mode names the routing policy the config selects.
func (c Config) Mode() string {
	if c.Adaptive {
		return routing.NameAdaptive
	}
	return routing.NameBaseline
}
