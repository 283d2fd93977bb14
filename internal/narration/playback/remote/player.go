package remote

import (
	"context"
	"sync"
	"time"

	"audiodesc/internal/domain/cue"
	"audiodesc/internal/narration/playback"

	"github.com/sirupsen/logrus"
)

const cueBuffer = 16

// sender writes one message to the page.
type sender func(msgType string, payload interface{}) error

// Player mirrors a page's player from its reports and forwards commands to
// it. Between reports a playing player's time is extrapolated from the wall
// clock.
type Player struct {
	id   string
	kind playback.Kind
	send sender
	log  *logrus.Entry
	now  func() time.Time
	cues chan cue.Cue

	mu       sync.Mutex
	state    State
	reported time.Time
	closed   bool
}

func newPlayer(id string, kind playback.Kind, send sender) *Player {
	p := &Player{
		id:   id,
		kind: kind,
		send: send,
		log:  logrus.WithFields(logrus.Fields{"component": "remote-player", "player": id, "kind": kind}),
		now:  time.Now,
	}
	if kind.EventNative() {
		p.cues = make(chan cue.Cue, cueBuffer)
	}
	return p
}

func (p *Player) ID() string { return p.id }

func (p *Player) Kind() playback.Kind { return p.kind }

func (p *Player) CurrentTime(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Ready {
		return 0, playback.ErrNotReady
	}
	if p.state.Paused {
		return p.state.Time, nil
	}
	return p.state.Time + p.now().Sub(p.reported).Seconds(), nil
}

func (p *Player) IsPaused(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Ready {
		return false, playback.ErrNotReady
	}
	return p.state.Paused, nil
}

func (p *Player) Volume(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Volume == nil {
		return 0, playback.ErrUnsupported
	}
	return *p.state.Volume, nil
}

// SetVolume asks the page for a new volume and assumes it took effect.
func (p *Player) SetVolume(ctx context.Context, v float64) error {
	if err := p.send(TypeVolume, VolumePayload{Volume: v}); err != nil {
		return err
	}
	p.mu.Lock()
	p.state.Volume = &v
	p.mu.Unlock()
	return nil
}

func (p *Player) Control(ctx context.Context, a playback.Action) error {
	if a != playback.ActionPlay && a != playback.ActionPause {
		return playback.ErrUnsupported
	}
	if err := p.send(TypeControl, ControlPayload{Action: string(a)}); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebase()
	p.state.Paused = a == playback.ActionPause
	return nil
}

func (p *Player) SwitchSource(ctx context.Context, source string, at float64, paused bool) error {
	if source == "" {
		return playback.ErrUnsupported
	}
	return p.send(TypeSource, SourcePayload{Source: source, At: at, Paused: paused})
}

// CueChanges is nil for players that are sampled instead.
func (p *Player) CueChanges() <-chan cue.Cue {
	return p.cues
}

// report replaces the mirrored state with a fresh one from the page.
func (p *Player) report(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Volume == nil {
		s.Volume = p.state.Volume
	}
	p.state = s
	p.reported = p.now()
}

// notify forwards a native cue change. A full buffer drops the cue.
func (p *Player) notify(c cue.Cue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cues == nil || p.closed {
		return
	}
	select {
	case p.cues <- c:
	default:
		p.log.WithField("start", c.Start).Warn("cue change dropped")
	}
}

func (p *Player) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.cues != nil {
		close(p.cues)
	}
}

// rebase folds elapsed play time into the stored position. p.mu must be held.
func (p *Player) rebase() {
	now := p.now()
	if !p.state.Paused && !p.reported.IsZero() {
		p.state.Time += now.Sub(p.reported).Seconds()
	}
	p.reported = now
}
