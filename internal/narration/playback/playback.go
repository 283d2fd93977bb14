// Package playback describes what the narrator can ask of a video player.
//
// A Player only has an identity and a kind. Everything else is an optional
// capability discovered by type assertion; a player that cannot report its
// volume simply does not implement VolumeReader.
package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"audiodesc/internal/domain/cue"
)

var (
	// ErrNotReady is returned while the underlying player is still loading.
	// Callers treat it as "no sample this tick".
	ErrNotReady = errors.New("player not ready")
	// ErrUnsupported is returned for a capability the player cannot perform
	// at the moment, such as a source switch without a known source.
	ErrUnsupported = errors.New("operation not supported by player")
)

// Kind is the player backend.
type Kind string

const (
	KindHTML5   Kind = "html5"
	KindVimeo   Kind = "vimeo"
	KindYouTube Kind = "youtube"
)

func (k Kind) String() string {
	return string(k)
}

// EventNative reports whether the backend signals active cue changes itself.
// Other kinds must be sampled on a fixed interval.
func (k Kind) EventNative() bool {
	return k == KindHTML5
}

// ParseKind accepts a kind name in any case.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindHTML5, KindVimeo, KindYouTube:
		return k, nil
	default:
		return "", fmt.Errorf("unknown player kind %q", s)
	}
}

// Kinds lists every supported backend.
func Kinds() []Kind {
	return []Kind{KindHTML5, KindVimeo, KindYouTube}
}

type Action string

const (
	ActionPlay  Action = "play"
	ActionPause Action = "pause"
)

type Player interface {
	ID() string
	Kind() Kind
}

type Clock interface {
	// CurrentTime returns the playback position in seconds.
	CurrentTime(ctx context.Context) (float64, error)
}

type PauseState interface {
	IsPaused(ctx context.Context) (bool, error)
}

type VolumeReader interface {
	// Volume returns the player volume in [0, 1].
	Volume(ctx context.Context) (float64, error)
}

type VolumeWriter interface {
	SetVolume(ctx context.Context, v float64) error
}

type Controller interface {
	Control(ctx context.Context, a Action) error
}

// CueNotifier is implemented by event-native players. The channel delivers
// the cue that just became active and is closed when the player goes away.
type CueNotifier interface {
	CueChanges() <-chan cue.Cue
}

// SourceSwitcher replaces the media source, continuing from at and keeping
// the given paused state.
type SourceSwitcher interface {
	SwitchSource(ctx context.Context, source string, at float64, paused bool) error
}

// Snapshot is the position and paused state of a player, as far as it can
// report them.
type Snapshot struct {
	Time   float64
	Paused bool
}

// Sample reads time and paused state from whatever p supports. A player
// without a clock yields ErrNotReady.
func Sample(ctx context.Context, p Player) (Snapshot, error) {
	clock, ok := p.(Clock)
	if !ok {
		return Snapshot{}, ErrNotReady
	}
	now, err := clock.CurrentTime(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Time: now}
	if ps, ok := p.(PauseState); ok {
		if paused, err := ps.IsPaused(ctx); err == nil {
			snap.Paused = paused
		}
	}
	return snap, nil
}
