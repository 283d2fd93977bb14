package session

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultDuckLevel       = 0.25
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultHitWindow       = 0.1
	DefaultRewindTolerance = 0.2
	DefaultGraceDelay      = 100 * time.Millisecond
	DefaultWatchdogMin     = 10 * time.Second

	// assumed speaking speed at rate 1.0 when sizing the watchdog
	watchdogWordsPerSecond = 2.0
)

// Attributes are the per-player settings supplied by the page or the CLI.
type Attributes struct {
	// Enabled is the initial narration state.
	Enabled     bool   `json:"enabled"`
	GlobalPause bool   `json:"global_pause"`
	DuckLevel   string `json:"duck_level"`
	// HasDuck reports that a duck level was configured at all, even if
	// DuckLevel is empty or malformed.
	HasDuck bool `json:"has_duck"`
	// AlternateSource is a pre-narrated media source. When set, toggling
	// narration switches sources instead of speaking cues.
	AlternateSource string `json:"alternate_source"`
	StandardSource  string `json:"standard_source"`
}

// ParseDuckLevel returns the volume to duck to. Empty, malformed or out of
// range values give DefaultDuckLevel.
func ParseDuckLevel(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || v <= 0 || v > 1 {
		return DefaultDuckLevel
	}
	return v
}

type Options struct {
	PollInterval    time.Duration
	HitWindow       float64
	RewindTolerance float64
	GraceDelay      time.Duration
	// WatchdogMin is the least time an utterance may take before it is
	// forcibly completed.
	WatchdogMin time.Duration
	// Rate is the caller-requested speaking rate before calibration.
	Rate float64
}

func DefaultOptions() Options {
	return Options{
		PollInterval:    DefaultPollInterval,
		HitWindow:       DefaultHitWindow,
		RewindTolerance: DefaultRewindTolerance,
		GraceDelay:      DefaultGraceDelay,
		WatchdogMin:     DefaultWatchdogMin,
		Rate:            1.0,
	}
}

// Normalize fills unset values with defaults and widens the hit window to
// at least half the poll interval so no cue falls between two samples.
func (o Options) Normalize() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.HitWindow <= 0 {
		o.HitWindow = d.HitWindow
	}
	if o.RewindTolerance <= 0 {
		o.RewindTolerance = d.RewindTolerance
	}
	if o.GraceDelay < 0 {
		o.GraceDelay = d.GraceDelay
	}
	if o.WatchdogMin <= 0 {
		o.WatchdogMin = d.WatchdogMin
	}
	if o.Rate <= 0 {
		o.Rate = d.Rate
	}
	if half := o.PollInterval.Seconds() / 2; o.HitWindow < half {
		o.HitWindow = half
	}
	return o
}

// watchdogFor bounds how long an utterance of text may stay in flight.
func (o Options) watchdogFor(text string, rate float64) time.Duration {
	if rate <= 0 {
		rate = 1.0
	}
	words := float64(len(strings.Fields(text)))
	expected := time.Duration(words / (watchdogWordsPerSecond * rate) * float64(time.Second))
	return o.WatchdogMin + 2*expected
}
