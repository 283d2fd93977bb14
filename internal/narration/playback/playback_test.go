package playback

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"audiodesc/internal/domain/cue"
)

func TestParseKind(t *testing.T) {
	for _, in := range []string{"html5", "HTML5", " Vimeo ", "youtube"} {
		if _, err := ParseKind(in); err != nil {
			t.Errorf("ParseKind(%q): %v", in, err)
		}
	}
	if _, err := ParseKind("brightcove"); err == nil {
		t.Error("ParseKind accepted an unknown kind")
	}
	if !KindHTML5.EventNative() || KindVimeo.EventNative() || KindYouTube.EventNative() {
		t.Error("only html5 is event-native")
	}
}

func TestSimPlayerManualTimeline(t *testing.T) {
	ctx := context.Background()
	p := NewSimPlayer(SimConfig{Kind: KindVimeo, Manual: true})

	p.Advance(time.Second)
	if got, _ := p.CurrentTime(ctx); got != 0 {
		t.Errorf("paused player advanced to %v", got)
	}

	p.Play()
	p.Advance(1500 * time.Millisecond)
	if got, _ := p.CurrentTime(ctx); got != 1.5 {
		t.Errorf("CurrentTime = %v, want 1.5", got)
	}

	if err := p.Control(ctx, ActionPause); err != nil {
		t.Fatalf("Control: %v", err)
	}
	if paused, _ := p.IsPaused(ctx); !paused {
		t.Error("player not paused")
	}
	if err := p.Control(ctx, Action("rewind")); !errors.Is(err, ErrUnsupported) {
		t.Errorf("unknown action err = %v", err)
	}
	if got := p.Controls(); !reflect.DeepEqual(got, []Action{ActionPause}) {
		t.Errorf("Controls = %v", got)
	}
}

func TestSimPlayerNotReady(t *testing.T) {
	p := NewSimPlayer(SimConfig{Loading: true})
	if _, err := Sample(context.Background(), p); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Sample err = %v, want ErrNotReady", err)
	}
	p.SetReady(true)
	snap, err := Sample(context.Background(), p)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !snap.Paused || snap.Time != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

type identityOnly struct{}

func (identityOnly) ID() string { return "bare" }
func (identityOnly) Kind() Kind { return KindYouTube }

func TestSampleWithoutClock(t *testing.T) {
	if _, err := Sample(context.Background(), identityOnly{}); !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestSimPlayerEmitsCrossedCues(t *testing.T) {
	track := cue.NewTrack([]cue.Cue{{Start: 0, Text: "zero"}, {Start: 1, Text: "one"}, {Start: 2, Text: "two"}})
	p := NewSimPlayer(SimConfig{Kind: KindHTML5, Track: track, Manual: true})
	p.Play()

	p.Advance(1200 * time.Millisecond)
	got := drain(p.CueChanges())
	if len(got) != 2 || got[0].Text != "zero" || got[1].Text != "one" {
		t.Fatalf("cues after 1.2s = %+v", got)
	}

	// seeking back does not emit, re-crossing does
	p.Seek(0.5)
	p.Advance(100 * time.Millisecond)
	if got := drain(p.CueChanges()); len(got) != 0 {
		t.Errorf("emitted %+v without crossing a cue", got)
	}
	p.Advance(time.Second)
	got = drain(p.CueChanges())
	if len(got) != 1 || got[0].Text != "one" {
		t.Errorf("cues after re-crossing = %+v", got)
	}

	p.Close()
	if _, ok := <-p.CueChanges(); ok {
		t.Error("cue channel open after Close")
	}
}

func TestSimPlayerPollKindHasNoNotifications(t *testing.T) {
	p := NewSimPlayer(SimConfig{Kind: KindYouTube})
	if p.CueChanges() != nil {
		t.Error("poll-required player returned a cue channel")
	}
}

func TestSimPlayerSwitchSource(t *testing.T) {
	ctx := context.Background()
	p := NewSimPlayer(SimConfig{Manual: true, Source: "standard.mp4"})

	if err := p.SwitchSource(ctx, "described.mp4", 12.5, true); err != nil {
		t.Fatalf("SwitchSource: %v", err)
	}
	if p.Source() != "described.mp4" {
		t.Errorf("Source = %q", p.Source())
	}
	if now, _ := p.CurrentTime(ctx); now != 12.5 {
		t.Errorf("time after switch = %v, want 12.5", now)
	}
	if paused, _ := p.IsPaused(ctx); !paused {
		t.Error("paused state not kept")
	}
	if err := p.SwitchSource(ctx, "", 0, false); !errors.Is(err, ErrUnsupported) {
		t.Errorf("empty source err = %v", err)
	}
}

func drain(ch <-chan cue.Cue) []cue.Cue {
	var out []cue.Cue
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}
