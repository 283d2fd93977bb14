package booth

import (
	"strings"
	"testing"
	"time"

	"audiodesc/internal/domain/cue"
	"audiodesc/internal/narration/tts"
	"audiodesc/internal/narration/voices"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00.000"},
		{1.5, "0:01.500"},
		{61.25, "1:01.250"},
		{-3, "0:00.000"},
	}
	for _, tt := range tests {
		if got := formatTimestamp(tt.in); got != tt.want {
			t.Errorf("formatTimestamp(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("got %q", got)
	}
}

func TestCueTable(t *testing.T) {
	track := cue.NewTrack([]cue.Cue{
		{Start: 2, Text: "She looks out of the window."},
		{Start: 0.5, Text: "A kitchen at night.", Pause: true},
	})
	out := cueTable(track)

	first := strings.Index(out, "A kitchen at night.")
	second := strings.Index(out, "She looks out of the window.")
	if first < 0 || second < 0 || first > second {
		t.Errorf("cues missing or out of order:\n%s", out)
	}
	if !strings.Contains(out, "0:00.500") || !strings.Contains(out, "yes") {
		t.Errorf("start or pause column missing:\n%s", out)
	}
}

func TestVoiceTableMarksChosen(t *testing.T) {
	candidates := []voices.Candidate{
		{Voice: tts.Voice{ID: "a", Name: "Alpha", Locale: "en-US"}, Score: 5},
		{Voice: tts.Voice{ID: "b", Name: "Beta", Locale: "en-GB"}, Score: 3.5},
	}
	out := voiceTable(candidates, "b", func(id string) float64 {
		if id == "b" {
			return 1.25
		}
		return 1
	})

	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Beta") && !strings.Contains(line, "*") {
			t.Errorf("chosen voice not marked: %q", line)
		}
		if strings.Contains(line, "Alpha") && strings.Contains(line, "*") {
			t.Errorf("other voice marked: %q", line)
		}
	}
	if !strings.Contains(out, "x1.25") || !strings.Contains(out, "3.5") {
		t.Errorf("rate or score missing:\n%s", out)
	}
}

func TestEngineTable(t *testing.T) {
	out := engineTable([]tts.EngineType{tts.EngineTypeMock, tts.EngineTypeESpeak}, tts.EngineTypeESpeak, tts.EngineTypeESpeak)
	if !strings.Contains(out, "platform default, configured") {
		t.Errorf("notes missing:\n%s", out)
	}
}

type cachingEngine struct {
	*tts.MockEngine
	cleared bool
}

func (e *cachingEngine) CacheStats() (tts.CacheStats, error) {
	return tts.CacheStats{Directory: "/var/cache/audio", Files: 3, Bytes: 3 << 20}, nil
}

func (e *cachingEngine) ClearCache() error {
	e.cleared = true
	return nil
}

func TestCachesListsAudioAndTracks(t *testing.T) {
	engine := &cachingEngine{MockEngine: tts.NewMockEngine(tts.MockConfig{})}
	tracks := cue.NewTrackCache(t.TempDir(), time.Hour)

	entries := caches(engine, tracks)
	if len(entries) != 2 || entries[0].name != "audio" || entries[1].name != "tracks" {
		t.Fatalf("caches = %+v", entries)
	}

	out := cacheTable(entries)
	if !strings.Contains(out, "/var/cache/audio") || !strings.Contains(out, "3.0 MB") {
		t.Errorf("audio row missing:\n%s", out)
	}
	if !strings.Contains(out, tracks.Dir()) {
		t.Errorf("track row missing:\n%s", out)
	}

	for _, e := range entries {
		if err := e.clear(); err != nil {
			t.Errorf("clear %s: %v", e.name, err)
		}
	}
	if !engine.cleared {
		t.Error("audio cache not cleared")
	}

	if entries := caches(tts.NewMockEngine(tts.MockConfig{}), nil); len(entries) != 0 {
		t.Errorf("engine without cache listed %+v", entries)
	}
}
