// Package timectrl paces simulation ticks against wall-clock time for
// long-running consumers such as crowdleaf-server.
package timectrl

import (
	"context"
	"slices"
	"sync"
	"time"
)

// SimClock gives read access to the paced clock so consumers can
// depend on an abstraction rather than a concrete controller.
type SimClock interface {
	// Now returns the current clock time.
	Now() time.Time
}

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime advances according to wall-clock time, one Tick per Tick.
	RealTime Mode = iota
	// Accelerated advances as quickly as listeners can keep up while
	// still stepping by Tick.
	Accelerated
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// TimeController drives time forward and notifies registered listeners
// once per tick. It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	// currentTime tracks the clock. It is updated as the controller
	// advances.
	currentTime time.Time
	ticks       int

	listeners []func(time.Time)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current clock time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the clock without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// Ticks returns how many ticks have fired since the last Start.
func (tc *TimeController) Ticks() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.ticks
}

// AddListener registers a callback invoked on every tick, in
// registration order, from the controller goroutine.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	if fn == nil {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Start runs the controller in a separate goroutine until duration has
// elapsed on the clock (forever when duration <= 0) or ctx is done. It
// returns a channel that is closed when the controller finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		now := tc.StartTime
		tc.currentTime = now
		tc.ticks = 0
		listeners := slices.Clone(tc.listeners)
		tc.mu.Unlock()

		var wait <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			wait = ticker.C
		}

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if wait != nil {
				select {
				case <-ctx.Done():
					return
				case <-wait:
				}
			} else if ctx.Err() != nil {
				return
			}

			now = now.Add(tc.Tick)
			elapsed += tc.Tick

			tc.mu.Lock()
			tc.currentTime = now
			tc.ticks++
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(now)
			}
		}
	}()
	return done
}
