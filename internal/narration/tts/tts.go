// internal/narration/tts/tts.go
package tts

import (
	"context"
	"errors"
)

var (
	// ErrUnknownVoice is returned when an utterance names a voice the engine cannot find.
	ErrUnknownVoice = errors.New("unknown voice")
	// ErrCancelled is the completion error of a cancelled utterance.
	ErrCancelled = errors.New("utterance cancelled")
)

type Config struct {
	Type     string
	Voice    string
	Rate     float64
	Volume   float64
	Language string

	// CachePath holds synthesized audio for engines that fetch it remotely.
	CachePath string
	// RequestsPerSecond throttles remote synthesis calls.
	RequestsPerSecond float64
}

// Voice is the native descriptor an engine reports for one of its voices.
type Voice struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Locale  string `json:"locale"`
	Local   bool   `json:"local"`
	Default bool   `json:"default"`
}

// Utterance is one unit of speech submitted to an engine. An empty Voice
// means engine default; Rate 1.0 is the engine's normal speed.
type Utterance struct {
	Text   string
	Voice  string
	Rate   float64
	Volume float64
}

// Engine is the speech synthesis boundary.
type Engine interface {
	// Speak submits u and returns immediately. The returned handle signals
	// start and completion; completion fires exactly once.
	Speak(ctx context.Context, u Utterance) (*Handle, error)
	Voices(ctx context.Context) ([]Voice, error)
	// VoicesChanged fires when the voice list changes after startup. Engines
	// with a static list return nil.
	VoicesChanged() <-chan struct{}
	// RateLimits reports the valid Utterance.Rate range.
	RateLimits() (min, max float64)
	Stop() error
}

// CacheStats describes audio an engine keeps on disk.
type CacheStats struct {
	Directory string `json:"directory"`
	Files     int    `json:"files"`
	Bytes     int64  `json:"bytes"`
}

// CacheableEngine is an engine that caches synthesized audio.
type CacheableEngine interface {
	Engine
	CacheStats() (CacheStats, error)
	// ClearCache removes cached audio but keeps the directory.
	ClearCache() error
}

// ClampRate bounds rate to the engine's valid range.
func ClampRate(e Engine, rate float64) float64 {
	lo, hi := e.RateLimits()
	if rate < lo {
		return lo
	}
	if rate > hi {
		return hi
	}
	return rate
}
