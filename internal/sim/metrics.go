package sim

import "slices"

// Metrics is the append-only time series of one run. All slices have
// the same length, one entry per tick.
type Metrics struct {
	Time               []float64 `json:"time"`
	Injuries           []int     `json:"injuries"`
	Deaths             []int     `json:"deaths"`
	OvercrowdingEvents []int     `json:"overcrowding_events"`
	MeanDensity        []float64 `json:"mean_density"`
	Evacuated          []int     `json:"evacuated"`
}

// Len returns the number of recorded ticks.
func (m *Metrics) Len() int { return len(m.Time) }

func (m *Metrics) append(r TickResult) {
	m.Time = append(m.Time, r.Time)
	m.Injuries = append(m.Injuries, r.Injuries)
	m.Deaths = append(m.Deaths, r.Deaths)
	m.OvercrowdingEvents = append(m.OvercrowdingEvents, r.Overcrowding)
	m.MeanDensity = append(m.MeanDensity, r.MeanDensity)
	m.Evacuated = append(m.Evacuated, r.Evacuated)
}

// Clone returns a deep copy.
func (m *Metrics) Clone() *Metrics {
	return &Metrics{
		Time:               slices.Clone(m.Time),
		Injuries:           slices.Clone(m.Injuries),
		Deaths:             slices.Clone(m.Deaths),
		OvercrowdingEvents: slices.Clone(m.OvercrowdingEvents),
		MeanDensity:        slices.Clone(m.MeanDensity),
		Evacuated:          slices.Clone(m.Evacuated),
	}
}

// Summary condenses a series into end-of-run figures.
type Summary struct {
	Ticks              int     `json:"ticks"`
	Time               float64 `json:"time"`
	Injuries           int     `json:"injuries"`
	Deaths             int     `json:"deaths"`
	Evacuated          int     `json:"evacuated"`
	OvercrowdingEvents int     `json:"overcrowding_events"` // summed over all ticks
	PeakMeanDensity    float64 `json:"peak_mean_density"`
}

// Summary reports final totals, total overcrowding events and the peak
// mean density. An empty series yields the zero Summary.
func (m *Metrics) Summary() Summary {
	n := m.Len()
	if n == 0 {
		return Summary{}
	}
	s := Summary{
		Ticks:     n,
		Time:      m.Time[n-1],
		Injuries:  m.Injuries[n-1],
		Deaths:    m.Deaths[n-1],
		Evacuated: m.Evacuated[n-1],
	}
	for _, v := range m.OvercrowdingEvents {
		s.OvercrowdingEvents += v
	}
	s.PeakMeanDensity = slices.Max(m.MeanDensity)
	return s
}
