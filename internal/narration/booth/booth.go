// Package booth keeps the registry of running narration sessions and exposes
// it to the command line and the player bridge.
package booth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"audiodesc/internal/config"
	"audiodesc/internal/domain/cue"
	"audiodesc/internal/narration/playback"
	"audiodesc/internal/narration/session"
	"audiodesc/internal/narration/tts"
	"audiodesc/internal/narration/voices"
	"audiodesc/internal/narration/voices/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrUnknownSession = errors.New("unknown session")

type Params struct {
	Engine tts.Engine
	// Catalog may be nil; sessions then speak with the engine's default voice.
	Catalog *voices.Catalog
	// Store is closed with the booth.
	Store   store.Store
	Options session.Options
}

// Booth owns every session of the process. Sessions run under the booth's
// context, not the caller's, so a finished request does not stop narration.
type Booth struct {
	engine  tts.Engine
	catalog *voices.Catalog
	store   store.Store
	opts    session.Options
	log     *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

type entry struct {
	sess   *session.Session
	cancel context.CancelFunc
	done   chan struct{}
}

func New(p Params) (*Booth, error) {
	if p.Engine == nil {
		return nil, errors.New("booth needs a speech engine")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Booth{
		engine:   p.Engine,
		catalog:  p.Catalog,
		store:    p.Store,
		opts:     p.Options.Normalize(),
		log:      logrus.WithField("component", "booth"),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*entry),
	}, nil
}

// Open builds the engine, voice store and catalog described by cfg.
func Open(cfg *config.Config) (*Booth, error) {
	engine, err := tts.NewEngine(cfg.EngineConfig())
	if err != nil {
		return nil, fmt.Errorf("create speech engine: %w", err)
	}

	s := store.Open(store.Kind(cfg.Voices.Store), cfg.Voices.StorePath, environment(cfg))
	b, err := New(Params{
		Engine:  engine,
		Catalog: voices.NewCatalog(engine, s, cfg.CatalogConfig()),
		Store:   s,
		Options: cfg.SessionOptions(),
	})
	if err != nil {
		engine.Stop()
		s.Close()
		return nil, err
	}
	return b, nil
}

// environment keys persisted voice settings, so that switching engines does
// not apply one engine's calibration to another's voices.
func environment(cfg *config.Config) string {
	if cfg.Voices.Environment != "" {
		return cfg.Voices.Environment
	}
	if cfg.TTS.Type == "" || cfg.TTS.Type == tts.EngineTypeAuto.String() {
		return tts.BestEngineForPlatform().String()
	}
	return cfg.TTS.Type
}

func (b *Booth) Engine() tts.Engine { return b.engine }

func (b *Booth) Catalog() *voices.Catalog { return b.catalog }

func (b *Booth) Options() session.Options { return b.opts }

// Attach starts a session for p. ctx only bounds the attach itself.
func (b *Booth) Attach(ctx context.Context, p playback.Player, track *cue.Track, attrs session.Attributes) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess, err := session.New(session.Params{
		ID:         uuid.NewString(),
		Player:     p,
		Track:      track,
		Attributes: attrs,
		Engine:     b.engine,
		Catalog:    b.catalog,
		Options:    b.opts,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("booth is closed")
	}
	sctx, cancel := context.WithCancel(b.ctx)
	e := &entry{sess: sess, cancel: cancel, done: make(chan struct{})}
	b.sessions[sess.ID()] = e
	b.mu.Unlock()

	log := b.log.WithFields(logrus.Fields{"session": sess.ID(), "player": p.ID()})
	go func() {
		defer close(e.done)
		if err := sess.Run(sctx); err != nil {
			log.WithError(err).Error("session ended with error")
		}
	}()
	go func() {
		for {
			select {
			case err := <-sess.Errors():
				log.WithError(err).Debug("session reported error")
			case <-e.done:
				return
			}
		}
	}()

	log.WithFields(logrus.Fields{"kind": p.Kind(), "mode": sess.Mode()}).Info("session attached")
	return sess, nil
}

// Detach stops the session and waits for it to restore its player.
// Unknown ids are ignored.
func (b *Booth) Detach(id string) {
	b.mu.Lock()
	e, ok := b.sessions[id]
	delete(b.sessions, id)
	b.mu.Unlock()
	if !ok {
		return
	}

	e.cancel()
	<-e.done
	b.log.WithField("session", id).Info("session detached")
}

// Toggle flips narration for a session and reports the new state. Sessions
// with an alternate source switch the player between sources, keeping its
// position and paused state.
func (b *Booth) Toggle(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	e, ok := b.sessions[id]
	b.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	sess := e.sess
	on := !sess.Enabled()
	if sess.Mode() != session.ModeSource {
		sess.SetEnabled(on)
		return on, nil
	}

	switcher, ok := sess.Player().(playback.SourceSwitcher)
	if !ok {
		return sess.Enabled(), fmt.Errorf("switch source: %w", playback.ErrUnsupported)
	}
	snap, err := playback.Sample(ctx, sess.Player())
	if err != nil {
		return sess.Enabled(), fmt.Errorf("sample player: %w", err)
	}

	attrs := sess.Attributes()
	target := attrs.StandardSource
	if on {
		target = attrs.AlternateSource
	}
	if err := switcher.SwitchSource(ctx, target, snap.Time, snap.Paused); err != nil {
		return sess.Enabled(), fmt.Errorf("switch source: %w", err)
	}

	sess.SetEnabled(on)

	b.log.WithFields(logrus.Fields{
		"session": id,
		"source":  target,
		"at":      snap.Time,
	}).Info("switched source")
	return on, nil
}

// Session returns the registered session with the given id.
func (b *Booth) Session(id string) (*session.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return e.sess, nil
}

// Sessions lists the status of every session ordered by id.
func (b *Booth) Sessions() []session.Status {
	b.mu.Lock()
	statuses := make([]session.Status, 0, len(b.sessions))
	for _, e := range b.sessions {
		statuses = append(statuses, e.sess.Status())
	}
	b.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// Close stops every session, then the engine and the voice store.
func (b *Booth) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	entries := make([]*entry, 0, len(b.sessions))
	for id, e := range b.sessions {
		entries = append(entries, e)
		delete(b.sessions, id)
	}
	b.mu.Unlock()

	b.cancel()
	for _, e := range entries {
		<-e.done
	}

	var errs []error
	if err := b.engine.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop engine: %w", err))
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close voice store: %w", err))
		}
	}
	return errors.Join(errs...)
}
