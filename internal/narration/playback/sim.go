package playback

import (
	"context"
	"sync"
	"time"

	"audiodesc/internal/domain/cue"

	"github.com/sirupsen/logrus"
)

const simTick = 20 * time.Millisecond

type SimConfig struct {
	ID   string
	Kind Kind
	// Track is only consulted by event-native kinds, to emit cue changes.
	Track  *cue.Track
	Volume float64
	Source string
	// Manual freezes the timeline between Advance and Seek calls.
	Manual bool
	// Loading makes the player report ErrNotReady until SetReady.
	Loading bool
}

// SimPlayer is an in-process player with a virtual timeline. It implements
// every capability.
type SimPlayer struct {
	id     string
	kind   Kind
	track  *cue.Track
	manual bool
	cues   chan cue.Cue
	log    *logrus.Entry
	now    func() time.Time

	mu       sync.Mutex
	ready    bool
	paused   bool
	base     float64
	anchor   time.Time
	volume   float64
	source   string
	lastSeen float64
	closed   bool
	controls []Action
	volumes  []float64
	switches []string
}

func NewSimPlayer(config SimConfig) *SimPlayer {
	if config.Kind == "" {
		config.Kind = KindYouTube
	}
	if config.ID == "" {
		config.ID = "sim-" + config.Kind.String()
	}
	if config.Volume <= 0 || config.Volume > 1 {
		config.Volume = 1.0
	}

	p := &SimPlayer{
		id:       config.ID,
		kind:     config.Kind,
		track:    config.Track,
		manual:   config.Manual,
		log:      logrus.WithFields(logrus.Fields{"component": "sim-player", "player": config.ID}),
		now:      time.Now,
		ready:    !config.Loading,
		paused:   true,
		volume:   config.Volume,
		source:   config.Source,
		// a cue at 0 fires once playback starts
		lastSeen: -1,
	}
	if config.Kind.EventNative() {
		p.cues = make(chan cue.Cue, 16)
	}
	return p
}

func (p *SimPlayer) ID() string { return p.id }

func (p *SimPlayer) Kind() Kind { return p.kind }

// SetReady toggles whether the player answers time queries.
func (p *SimPlayer) SetReady(ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = ready
}

func (p *SimPlayer) CurrentTime(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return 0, ErrNotReady
	}
	return p.position(), nil
}

func (p *SimPlayer) IsPaused(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused, nil
}

func (p *SimPlayer) Volume(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume, nil
}

func (p *SimPlayer) SetVolume(ctx context.Context, v float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
	p.volumes = append(p.volumes, v)
	return nil
}

func (p *SimPlayer) Control(ctx context.Context, a Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch a {
	case ActionPlay:
		p.play()
	case ActionPause:
		p.pause()
	default:
		return ErrUnsupported
	}
	p.controls = append(p.controls, a)
	return nil
}

func (p *SimPlayer) CueChanges() <-chan cue.Cue {
	return p.cues
}

func (p *SimPlayer) SwitchSource(ctx context.Context, source string, at float64, paused bool) error {
	if source == "" {
		return ErrUnsupported
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = source
	p.switches = append(p.switches, source)
	p.seek(at)
	if paused {
		p.pause()
	} else {
		p.play()
	}
	p.log.WithFields(logrus.Fields{"source": source, "at": at}).Debug("source switched")
	return nil
}

// Play starts the timeline without recording a control action.
func (p *SimPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.play()
}

func (p *SimPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pause()
}

// Seek jumps to t seconds.
func (p *SimPlayer) Seek(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seek(t)
}

// Advance moves a playing manual timeline forward by d.
func (p *SimPlayer) Advance(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.base += d.Seconds()
	p.emit()
}

// Run drives a wall-clock timeline's cue notifications until ctx is done,
// then closes the cue channel.
func (p *SimPlayer) Run(ctx context.Context) {
	ticker := time.NewTicker(simTick)
	defer ticker.Stop()
	defer p.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			p.emit()
			p.mu.Unlock()
		}
	}
}

// Close ends cue notifications.
func (p *SimPlayer) Close() {
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

func (p *SimPlayer) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// Controls returns the play/pause actions requested through Control.
func (p *SimPlayer) Controls() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.controls...)
}

// Volumes returns every volume set through SetVolume.
func (p *SimPlayer) Volumes() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.volumes...)
}

func (p *SimPlayer) Switches() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.switches...)
}

// The helpers below expect p.mu to be held.

func (p *SimPlayer) position() float64 {
	if p.paused || p.manual {
		return p.base
	}
	return p.base + p.now().Sub(p.anchor).Seconds()
}

func (p *SimPlayer) play() {
	if !p.paused {
		return
	}
	p.paused = false
	p.anchor = p.now()
}

func (p *SimPlayer) pause() {
	if p.paused {
		return
	}
	p.base = p.position()
	p.paused = true
}

func (p *SimPlayer) seek(t float64) {
	if t < 0 {
		t = 0
	}
	p.base = t
	p.anchor = p.now()
	p.lastSeen = t
}

// emit announces cues whose start was crossed since the last check.
// Backward jumps only move the marker.
func (p *SimPlayer) emit() {
	pos := p.position()
	if p.cues == nil || p.closed || p.track.Len() == 0 {
		p.lastSeen = pos
		return
	}
	if pos <= p.lastSeen {
		p.lastSeen = pos
		return
	}

	for _, c := range p.track.Cues() {
		if c.Start > p.lastSeen && c.Start <= pos {
			select {
			case p.cues <- c:
			default:
				p.log.WithField("start", c.Start).Warn("cue notification dropped")
			}
		}
	}
	p.lastSeen = pos
}
