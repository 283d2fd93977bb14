package session

import (
	"audiodesc/internal/domain/cue"
)

// Dispatcher decides which cue, if any, a position sample should fire. It
// holds the per-session de-dup state and is driven from a single goroutine.
type Dispatcher struct {
	track     *cue.Track
	hit       float64
	tolerance float64

	observed     bool
	lastObserved float64
	fired        bool
	lastFired    float64
}

func NewDispatcher(track *cue.Track, hitWindow, rewindTolerance float64) *Dispatcher {
	return &Dispatcher{track: track, hit: hitWindow, tolerance: rewindTolerance}
}

// Observe records a position sample. A drop of more than the rewind
// tolerance clears the de-dup key so a re-crossed cue can fire again.
// It reports whether a rewind was detected.
func (d *Dispatcher) Observe(now float64) bool {
	rewound := d.observed && now < d.lastObserved-d.tolerance
	if rewound {
		d.fired = false
	}
	d.observed = true
	d.lastObserved = now
	return rewound
}

// Next returns the first cue within the hit window of now that starts after
// the last fired one, and marks it fired. Callers must only call Next when the
// session may speak; a gated sample must not touch the de-dup key.
func (d *Dispatcher) Next(now float64) (cue.Cue, bool) {
	var after *float64
	if d.fired {
		after = &d.lastFired
	}
	c, ok := d.track.Window(now, d.hit, after)
	if !ok {
		return cue.Cue{}, false
	}
	d.fired = true
	d.lastFired = c.Start
	return c, true
}
