// Package session speaks narration cues in step with one video player.
//
// Each Session runs a single goroutine that owns all of its state: it
// samples or listens to the player, picks the cue to fire, and brackets the
// utterance with ducking or pausing. At most one utterance is in flight per
// Session; a cue that arrives while one is speaking is dropped.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"audiodesc/internal/domain/cue"
	"audiodesc/internal/narration/playback"
	"audiodesc/internal/narration/tts"
	"audiodesc/internal/narration/voices"

	"github.com/sirupsen/logrus"
)

const (
	errBuffer      = 8
	restoreTimeout = time.Second
)

var ErrAlreadyRunning = errors.New("session already running")

type Mode string

const (
	// ModeSpeech speaks cues through the synthesis engine.
	ModeSpeech Mode = "speech"
	// ModeSource switches to a pre-narrated media source instead.
	ModeSource Mode = "source"
)

type Params struct {
	ID         string
	Player     playback.Player
	Track      *cue.Track
	Attributes Attributes
	Engine     tts.Engine
	// Catalog may be nil, in which case the engine's default voice is used.
	Catalog *voices.Catalog
	Options Options
}

type Status struct {
	ID        string        `json:"id"`
	Player    string        `json:"player"`
	Kind      playback.Kind `json:"kind"`
	Mode      Mode          `json:"mode"`
	Enabled   bool          `json:"enabled"`
	Speaking  bool          `json:"speaking"`
	Cues      int           `json:"cues"`
	Spoken    int           `json:"spoken"`
	LastTime  *float64      `json:"last_time,omitempty"`
	LastFired *float64      `json:"last_fired,omitempty"`
}

type Session struct {
	id         string
	player     playback.Player
	track      *cue.Track
	attrs      Attributes
	engine     tts.Engine
	catalog    *voices.Catalog
	opts       Options
	dispatcher *Dispatcher
	log        *logrus.Entry

	enabled  atomic.Bool
	speaking atomic.Bool
	running  atomic.Bool
	errs     chan error

	mu     sync.Mutex
	status Status
}

// utterance is the narration in flight and what must be undone when it ends.
type utterance struct {
	cue        cue.Cue
	handle     *tts.Handle
	watchdog   *time.Timer
	paused     bool
	ducked     bool
	prevVolume float64
}

func New(p Params) (*Session, error) {
	if p.Player == nil {
		return nil, errors.New("session needs a player")
	}
	if p.Engine == nil {
		return nil, errors.New("session needs a speech engine")
	}
	if p.ID == "" {
		p.ID = p.Player.ID()
	}
	if p.Track == nil {
		p.Track = cue.NewTrack(nil)
	}
	opts := p.Options.Normalize()

	s := &Session{
		id:         p.ID,
		player:     p.Player,
		track:      p.Track,
		attrs:      p.Attributes,
		engine:     p.Engine,
		catalog:    p.Catalog,
		opts:       opts,
		dispatcher: NewDispatcher(p.Track, opts.HitWindow, opts.RewindTolerance),
		errs:       make(chan error, errBuffer),
		log: logrus.WithFields(logrus.Fields{
			"component": "session",
			"session":   p.ID,
			"player":    p.Player.ID(),
			"kind":      p.Player.Kind(),
		}),
	}
	s.enabled.Store(p.Attributes.Enabled)

	mode := ModeSpeech
	if p.Attributes.AlternateSource != "" {
		mode = ModeSource
	}
	s.status = Status{
		ID:     p.ID,
		Player: p.Player.ID(),
		Kind:   p.Player.Kind(),
		Mode:   mode,
		Cues:   p.Track.Len(),
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Player() playback.Player { return s.player }

func (s *Session) Track() *cue.Track { return s.track }

func (s *Session) Attributes() Attributes { return s.attrs }

func (s *Session) Mode() Mode { return s.status.Mode }

// SetEnabled switches narration on or off. Cue detection keeps running
// either way; only firing is gated.
func (s *Session) SetEnabled(on bool) {
	if s.enabled.Swap(on) != on {
		s.log.WithField("enabled", on).Info("narration toggled")
	}
}

func (s *Session) Enabled() bool { return s.enabled.Load() }

// Speaking reports whether narration is active, including the grace period
// after an utterance ends.
func (s *Session) Speaking() bool { return s.speaking.Load() }

// Errors delivers unexpected engine failures. Errors are dropped when
// nobody drains the channel.
func (s *Session) Errors() <-chan error { return s.errs }

func (s *Session) Status() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.Enabled = s.enabled.Load()
	st.Speaking = s.speaking.Load()
	return st
}

// Run drives the session until ctx is cancelled. An utterance still in
// flight at that point is cancelled and the player restored.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var (
		ticks  <-chan time.Time
		native <-chan cue.Cue
	)
	if s.status.Mode == ModeSpeech {
		// load voices up front so the first cue is not delayed
		if s.catalog != nil {
			s.catalog.Ready(ctx)
		}

		if n, ok := s.player.(playback.CueNotifier); ok && s.player.Kind().EventNative() && n.CueChanges() != nil {
			native = n.CueChanges()
		} else {
			ticker := time.NewTicker(s.opts.PollInterval)
			defer ticker.Stop()
			ticks = ticker.C
		}
	}

	s.log.WithFields(logrus.Fields{
		"cues":   s.track.Len(),
		"mode":   s.status.Mode,
		"native": native != nil,
	}).Info("session started")

	var (
		current  *utterance
		done     <-chan struct{}
		watchdog <-chan time.Time
		grace    *time.Timer
		graceC   <-chan time.Time
	)
	start := func(c cue.Cue) {
		current = s.begin(ctx, c)
		if current != nil {
			done = current.handle.Done()
			watchdog = current.watchdog.C
		}
	}

	for {
		select {
		case <-ctx.Done():
			if grace != nil {
				grace.Stop()
			}
			s.teardown(current)
			s.log.Info("session stopped")
			return nil

		case <-ticks:
			if c, ok := s.poll(ctx); ok {
				start(c)
			}

		case c, ok := <-native:
			if !ok {
				native = nil
				s.log.Debug("player stopped sending cue changes")
				continue
			}
			if !s.enabled.Load() || s.speaking.Load() {
				continue
			}
			s.markFired(c.Start)
			start(c)

		case <-watchdog:
			watchdog = nil
			s.log.WithField("start", current.cue.Start).Warn("utterance never completed, forcing it to end")
			current.handle.Cancel()

		case <-done:
			s.complete(ctx, current)
			current, done, watchdog = nil, nil, nil
			grace = time.NewTimer(s.opts.GraceDelay)
			graceC = grace.C

		case <-graceC:
			graceC, grace = nil, nil
			s.speaking.Store(false)
		}
	}
}

// poll samples the player and returns the cue to fire, if any.
func (s *Session) poll(ctx context.Context) (cue.Cue, bool) {
	snap, err := playback.Sample(ctx, s.player)
	if err != nil {
		if !errors.Is(err, playback.ErrNotReady) {
			s.log.WithError(err).Debug("failed to sample player")
		}
		return cue.Cue{}, false
	}

	if s.dispatcher.Observe(snap.Time) {
		s.log.WithField("time", snap.Time).Debug("rewind detected, re-arming cues")
	}
	s.recordTime(snap.Time)

	if !s.enabled.Load() || s.speaking.Load() {
		return cue.Cue{}, false
	}
	c, ok := s.dispatcher.Next(snap.Time)
	if ok {
		s.markFired(c.Start)
	}
	return c, ok
}

func (s *Session) begin(ctx context.Context, c cue.Cue) *utterance {
	u := tts.Utterance{
		Text:   c.Text,
		Rate:   tts.ClampRate(s.engine, s.opts.Rate),
		Volume: 1.0,
	}
	if s.catalog != nil {
		if profile := s.catalog.Choose(ctx); profile != nil {
			u.Voice = profile.ID
			u.Rate = s.catalog.EffectiveRate(profile, s.opts.Rate)
		}
	}

	reader, canRead := s.player.(playback.VolumeReader)
	writer, canWrite := s.player.(playback.VolumeWriter)
	if canRead {
		if v, err := reader.Volume(ctx); err == nil {
			u.Volume = v
		}
	}

	shouldPause := c.Pause || s.attrs.GlobalPause
	shouldDuck := !shouldPause && s.attrs.HasDuck

	ut := &utterance{cue: c}
	if shouldDuck && canRead && canWrite {
		if prev, err := reader.Volume(ctx); err == nil {
			if err := writer.SetVolume(ctx, ParseDuckLevel(s.attrs.DuckLevel)); err != nil {
				s.log.WithError(err).Warn("failed to duck player volume")
			} else {
				ut.ducked = true
				ut.prevVolume = prev
			}
		}
	}

	s.speaking.Store(true)

	handle, err := s.engine.Speak(ctx, u)
	if err != nil {
		s.report(fmt.Errorf("speak cue at %.2fs: %w", c.Start, err))
		s.restore(ctx, ut)
		s.speaking.Store(false)
		return nil
	}
	ut.handle = handle

	if shouldPause {
		if ctl, ok := s.player.(playback.Controller); ok {
			if err := ctl.Control(ctx, playback.ActionPause); err != nil {
				s.log.WithError(err).Warn("failed to pause player")
			} else {
				ut.paused = true
			}
		}
	}

	ut.watchdog = time.NewTimer(s.opts.watchdogFor(c.Text, u.Rate))

	s.mu.Lock()
	s.status.Spoken++
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"start":  c.Start,
		"voice":  u.Voice,
		"rate":   u.Rate,
		"paused": ut.paused,
		"ducked": ut.ducked,
	}).Info("speaking cue")
	return ut
}

func (s *Session) complete(ctx context.Context, ut *utterance) {
	ut.watchdog.Stop()
	if err := ut.handle.Err(); err != nil && !errors.Is(err, tts.ErrCancelled) {
		s.report(fmt.Errorf("utterance for cue at %.2fs: %w", ut.cue.Start, err))
	}
	s.restore(ctx, ut)
	s.log.WithField("start", ut.cue.Start).Debug("utterance finished")
}

// restore undoes the pause and duck applied for ut.
func (s *Session) restore(ctx context.Context, ut *utterance) {
	if ut.paused {
		if ctl, ok := s.player.(playback.Controller); ok {
			if err := ctl.Control(ctx, playback.ActionPlay); err != nil {
				s.log.WithError(err).Warn("failed to resume player")
			}
		}
	}
	if ut.ducked {
		if w, ok := s.player.(playback.VolumeWriter); ok {
			if err := w.SetVolume(ctx, ut.prevVolume); err != nil {
				s.log.WithError(err).Warn("failed to restore player volume")
			}
		}
	}
}

func (s *Session) teardown(ut *utterance) {
	defer s.speaking.Store(false)
	if ut == nil {
		return
	}
	ut.watchdog.Stop()
	ut.handle.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	s.restore(ctx, ut)
}

func (s *Session) report(err error) {
	s.log.WithError(err).Error("narration failed")
	select {
	case s.errs <- err:
	default:
	}
}

func (s *Session) recordTime(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastTime = &t
}

func (s *Session) markFired(start float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastFired = &start
}
