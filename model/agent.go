package model

// Agent is a single person moving through the facility.
//
// Injured and Dead only ever flip from false to true. A dead agent
// stays in the roster for metrics but no longer moves or counts
// towards density.
type Agent struct {
	ID          int
	Position    string // current node ID
	Destination string // target exit node ID

	// Speed is sampled at placement. Movement is one hop per tick, so the
	// hop logic does not read it yet.
	Speed float64

	// Stress is in [0, 1] and scales injury and death probabilities.
	Stress float64

	Injured bool
	Dead    bool
}

// Alive reports whether the agent still takes part in movement.
func (a *Agent) Alive() bool { return a != nil && !a.Dead }

// Evacuated reports whether a live agent has reached its destination.
func (a *Agent) Evacuated() bool { return a.Alive() && a.Position == a.Destination }
