// Package voices chooses a synthesis voice for narration and normalizes its
// speaking rate.
package voices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"audiodesc/internal/narration/tts"
	"audiodesc/internal/narration/voices/store"

	"github.com/sirupsen/logrus"
)

// ErrNoVoice is returned by Calibrate when the engine offers no voices.
var ErrNoVoice = errors.New("no voice available")

const (
	DefaultLoadTimeout = 1200 * time.Millisecond
	DefaultLimit       = 6

	// measurements below this are treated as this long
	minMeasured = time.Second
)

type Config struct {
	// LocaleHints lists wanted locales, most wanted first.
	LocaleHints []string
	PreferLocal bool
	AllowRemote bool
	// UseCache persists the automatically chosen voice as the preference.
	UseCache    bool
	LoadTimeout time.Duration
}

// Candidate is a catalog voice with its selection score.
type Candidate struct {
	Voice tts.Voice `json:"voice"`
	Score float64   `json:"score"`
}

// Profile is the selected voice together with its calibrated rate multiplier.
type Profile struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Locale         string  `json:"locale"`
	Local          bool    `json:"local"`
	RateMultiplier float64 `json:"rate_multiplier"`
}

// Calibration is the outcome of one timing run.
type Calibration struct {
	Profile    Profile `json:"profile"`
	Seconds    float64 `json:"seconds"`
	Multiplier float64 `json:"multiplier"`
}

// Catalog is shared by every session of a process. The rate map is replaced
// as a whole on each calibration, so readers never see a partial update.
type Catalog struct {
	engine tts.Engine
	store  store.Store
	config Config
	log    *logrus.Entry
	now    func() time.Time

	loadMu sync.Mutex
	loaded bool

	mu        sync.RWMutex
	voices    []tts.Voice
	preferred *store.Preference
	rates     map[string]float64
}

func NewCatalog(engine tts.Engine, s store.Store, config Config) *Catalog {
	if s == nil {
		s = store.NewMemoryStore()
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = DefaultLoadTimeout
	}

	c := &Catalog{
		engine: engine,
		store:  s,
		config: config,
		log:    logrus.WithField("component", "voices"),
		now:    time.Now,
		rates:  s.Rates(),
	}
	if pref, ok := s.Preference(); ok {
		c.preferred = &pref
	}
	return c
}

// Ready returns the voice list, loading it on first use. When the engine
// reports no voices it waits up to LoadTimeout for a change notification.
// It never fails; an engine error yields an empty list and the next call
// tries again.
func (c *Catalog) Ready(ctx context.Context) []tts.Voice {
	c.loadMu.Lock()
	if !c.loaded {
		if err := c.load(ctx); err != nil {
			c.log.WithError(err).Warn("failed to list voices")
		} else {
			c.loaded = true
		}
	}
	c.loadMu.Unlock()

	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]tts.Voice(nil), c.voices...)
}

func (c *Catalog) load(ctx context.Context) error {
	voices, err := c.engine.Voices(ctx)
	if err != nil {
		return err
	}
	if len(voices) > 0 {
		c.setVoices(voices)
		return nil
	}

	timer := time.NewTimer(c.config.LoadTimeout)
	defer timer.Stop()

	select {
	case <-c.engine.VoicesChanged():
	case <-timer.C:
		c.log.WithField("timeout", c.config.LoadTimeout).Debug("no voices-changed notification, reading voices anyway")
	case <-ctx.Done():
		return ctx.Err()
	}

	// engines may notify several times; keep the largest list seen
	voices, err = c.engine.Voices(ctx)
	if err != nil {
		return err
	}
	c.setVoices(voices)
	return nil
}

func (c *Catalog) setVoices(voices []tts.Voice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(voices) > len(c.voices) {
		c.voices = voices
		c.log.WithField("count", len(voices)).Debug("voice catalog loaded")
	}
}

// ListCandidates returns up to limit voices, best first. A non-positive
// limit selects DefaultLimit.
func (c *Catalog) ListCandidates(ctx context.Context, limit int) []Candidate {
	if limit <= 0 {
		limit = DefaultLimit
	}
	ranked := rank(c.Ready(ctx), c.config)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Choose returns the preferred voice if the engine still offers it, otherwise
// the best scored one. It returns nil when the catalog is empty.
func (c *Catalog) Choose(ctx context.Context) *Profile {
	voices := c.Ready(ctx)

	c.mu.RLock()
	preferred := c.preferred
	c.mu.RUnlock()

	if preferred != nil {
		for _, v := range voices {
			if v.ID == preferred.VoiceID {
				return c.profile(v)
			}
		}
	}

	ranked := rank(voices, c.config)
	if len(ranked) == 0 {
		return nil
	}
	top := ranked[0].Voice
	if c.config.UseCache {
		c.remember(top)
	}
	return c.profile(top)
}

// SetPreferred makes the voice with the given id or display name the
// preference for future Choose calls.
func (c *Catalog) SetPreferred(ctx context.Context, idOrName string) (*Profile, error) {
	for _, v := range c.Ready(ctx) {
		if v.ID == idOrName || v.Name == idOrName {
			c.remember(v)
			return c.profile(v), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", tts.ErrUnknownVoice, idOrName)
}

func (c *Catalog) remember(v tts.Voice) {
	pref := store.Preference{VoiceID: v.ID, Name: v.Name, Locale: v.Locale}

	c.mu.Lock()
	c.preferred = &pref
	c.mu.Unlock()

	if !c.config.UseCache {
		return
	}
	if err := c.store.SavePreference(pref); err != nil {
		c.log.WithError(err).Warn("failed to persist preferred voice")
	}
}

func (c *Catalog) profile(v tts.Voice) *Profile {
	return &Profile{
		ID:             v.ID,
		Name:           v.Name,
		Locale:         v.Locale,
		Local:          v.Local,
		RateMultiplier: c.multiplier(v.ID),
	}
}

// RateMultiplier is the calibrated multiplier for a voice, 1.0 if none.
func (c *Catalog) RateMultiplier(id string) float64 {
	return c.multiplier(id)
}

func (c *Catalog) multiplier(id string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.rates[id]; ok && m > 0 {
		return m
	}
	return 1.0
}

// EffectiveRate applies the voice's multiplier to requested and clamps the
// result to the engine's range. A nil profile uses multiplier 1.0.
func (c *Catalog) EffectiveRate(p *Profile, requested float64) float64 {
	if requested <= 0 {
		requested = 1.0
	}
	m := 1.0
	if p != nil {
		m = c.multiplier(p.ID)
	}
	return tts.ClampRate(c.engine, requested*m)
}

// Calibrate speaks sampleText at rate 1.0 with the chosen voice and stores
// the multiplier that would make it last targetSeconds.
func (c *Catalog) Calibrate(ctx context.Context, sampleText string, targetSeconds float64) (*Calibration, error) {
	p := c.Choose(ctx)
	if p == nil {
		return nil, ErrNoVoice
	}

	handle, err := c.engine.Speak(ctx, tts.Utterance{Text: sampleText, Voice: p.ID, Rate: 1.0, Volume: 1.0})
	if err != nil {
		return nil, fmt.Errorf("speak calibration sample: %w", err)
	}

	select {
	case <-handle.Started():
	case <-ctx.Done():
		handle.Cancel()
		return nil, ctx.Err()
	}
	start := c.now()

	select {
	case <-handle.Done():
	case <-ctx.Done():
		handle.Cancel()
		return nil, ctx.Err()
	}
	end := c.now()

	if err := handle.Err(); err != nil {
		return nil, fmt.Errorf("calibration utterance: %w", err)
	}

	measured := end.Sub(start)
	if measured < minMeasured {
		measured = minMeasured
	}
	seconds := measured.Seconds()
	multiplier := targetSeconds / seconds

	c.mu.Lock()
	rates := make(map[string]float64, len(c.rates)+1)
	for k, v := range c.rates {
		rates[k] = v
	}
	rates[p.ID] = multiplier
	c.rates = rates
	c.mu.Unlock()

	if err := c.store.SaveRates(rates); err != nil {
		c.log.WithError(err).Warn("failed to persist rate multipliers")
	}

	c.log.WithFields(logrus.Fields{
		"voice":      p.ID,
		"seconds":    seconds,
		"multiplier": multiplier,
	}).Info("voice calibrated")

	p.RateMultiplier = multiplier
	return &Calibration{Profile: *p, Seconds: seconds, Multiplier: multiplier}, nil
}
