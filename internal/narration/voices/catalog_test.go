package voices

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"audiodesc/internal/narration/tts"
	"audiodesc/internal/narration/voices/store"
)

var testVoices = []tts.Voice{
	{ID: "espeak/en", Name: "English", Locale: "en-GB", Local: true},
	{ID: "cloud/en-US-Neural2-A", Name: "Google US English Natural", Locale: "en-US"},
	{ID: "espeak/de", Name: "German", Locale: "de-DE", Local: true, Default: true},
	{ID: "say/alex", Name: "Alex", Locale: "en_US", Local: true},
}

func testConfig() Config {
	return Config{LocaleHints: []string{"en-US", "en"}, AllowRemote: true, UseCache: true}
}

func TestScore(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		voice tts.Voice
		want  float64
	}{
		{testVoices[0], 2},               // base match
		{testVoices[1], 3 + 1 + 2 + 0.5}, // exact, remote, quality, vendor
		{testVoices[2], 0.5},             // default only
		{testVoices[3], 3},               // exact via underscore locale
	}
	for _, tt := range tests {
		if got := Score(tt.voice, cfg); got != tt.want {
			t.Errorf("Score(%s) = %v, want %v", tt.voice.ID, got, tt.want)
		}
	}

	cfg.PreferLocal = true
	if got := Score(testVoices[0], cfg); got != 3 {
		t.Errorf("prefer-local Score = %v, want 3", got)
	}
	if got := Score(testVoices[1], cfg); got != 3+2+0.5 {
		t.Errorf("prefer-local remote Score = %v, want 5.5", got)
	}
}

func TestListCandidatesDeterministic(t *testing.T) {
	voices := []tts.Voice{
		{ID: "b", Name: "Bravo", Locale: "en-US", Local: true},
		{ID: "a2", Name: "Alpha", Locale: "en-US", Local: true},
		{ID: "a1", Name: "Alpha", Locale: "en-US", Local: true},
		{ID: "c", Name: "Charlie Premium", Locale: "fr-FR", Local: true},
	}
	reversed := make([]tts.Voice, len(voices))
	for i, v := range voices {
		reversed[len(voices)-1-i] = v
	}

	first := NewCatalog(tts.NewMockEngine(tts.MockConfig{Voices: voices}), nil, testConfig()).ListCandidates(context.Background(), 10)
	second := NewCatalog(tts.NewMockEngine(tts.MockConfig{Voices: reversed}), nil, testConfig()).ListCandidates(context.Background(), 10)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("order depends on enumeration:\n%+v\n%+v", first, second)
	}

	var ids []string
	for _, c := range first {
		ids = append(ids, c.Voice.ID)
	}
	want := []string{"a1", "a2", "b", "c"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}

	limited := NewCatalog(tts.NewMockEngine(tts.MockConfig{Voices: voices}), nil, testConfig()).ListCandidates(context.Background(), 2)
	if len(limited) != 2 {
		t.Errorf("limit ignored: %d candidates", len(limited))
	}
}

func TestChoosePersistsTopVoice(t *testing.T) {
	s := store.NewMemoryStore()
	c := NewCatalog(tts.NewMockEngine(tts.MockConfig{Voices: testVoices}), s, testConfig())

	p := c.Choose(context.Background())
	if p == nil || p.ID != "cloud/en-US-Neural2-A" {
		t.Fatalf("Choose = %+v, want the neural voice", p)
	}
	if p.RateMultiplier != 1.0 {
		t.Errorf("RateMultiplier = %v, want 1.0", p.RateMultiplier)
	}
	if pref, ok := s.Preference(); !ok || pref.VoiceID != p.ID {
		t.Errorf("stored preference = %+v, %v", pref, ok)
	}
}

func TestChooseHonoursPreference(t *testing.T) {
	s := store.NewMemoryStore()
	s.SavePreference(store.Preference{VoiceID: "espeak/de"})
	c := NewCatalog(tts.NewMockEngine(tts.MockConfig{Voices: testVoices}), s, testConfig())

	if p := c.Choose(context.Background()); p == nil || p.ID != "espeak/de" {
		t.Errorf("Choose = %+v, want preferred espeak/de", p)
	}

	// A preference for a voice that disappeared falls back to scoring.
	s.SavePreference(store.Preference{VoiceID: "gone"})
	c = NewCatalog(tts.NewMockEngine(tts.MockConfig{Voices: testVoices}), s, testConfig())
	if p := c.Choose(context.Background()); p == nil || p.ID != "cloud/en-US-Neural2-A" {
		t.Errorf("Choose = %+v, want top scored voice", p)
	}
}

func TestChooseWithoutCache(t *testing.T) {
	s := store.NewMemoryStore()
	cfg := testConfig()
	cfg.UseCache = false
	c := NewCatalog(tts.NewMockEngine(tts.MockConfig{Voices: testVoices}), s, cfg)

	if p := c.Choose(context.Background()); p == nil {
		t.Fatal("Choose returned nil")
	}
	if _, ok := s.Preference(); ok {
		t.Error("preference persisted with caching disabled")
	}
}

func TestSetPreferred(t *testing.T) {
	s := store.NewMemoryStore()
	c := NewCatalog(tts.NewMockEngine(tts.MockConfig{Voices: testVoices}), s, testConfig())

	p, err := c.SetPreferred(context.Background(), "Alex")
	if err != nil {
		t.Fatalf("SetPreferred: %v", err)
	}
	if p.ID != "say/alex" {
		t.Errorf("profile = %+v", p)
	}
	if got := c.Choose(context.Background()); got.ID != "say/alex" {
		t.Errorf("Choose after SetPreferred = %s", got.ID)
	}

	if _, err := c.SetPreferred(context.Background(), "nobody"); !errors.Is(err, tts.ErrUnknownVoice) {
		t.Errorf("err = %v, want ErrUnknownVoice", err)
	}
}

func TestEmptyCatalog(t *testing.T) {
	cfg := testConfig()
	cfg.LoadTimeout = 20 * time.Millisecond
	c := NewCatalog(tts.NewMockEngine(tts.MockConfig{Voices: []tts.Voice{}}), nil, cfg)

	start := time.Now()
	if p := c.Choose(context.Background()); p != nil {
		t.Errorf("Choose = %+v, want nil", p)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("empty catalog blocked for %v", elapsed)
	}
	if _, err := c.Calibrate(context.Background(), "x", 2); !errors.Is(err, ErrNoVoice) {
		t.Errorf("Calibrate err = %v, want ErrNoVoice", err)
	}
	if got := c.EffectiveRate(nil, 1.5); got != 1.5 {
		t.Errorf("EffectiveRate(nil) = %v, want 1.5", got)
	}
}

func TestLateVoices(t *testing.T) {
	engine := tts.NewMockEngine(tts.MockConfig{
		Voices:     []tts.Voice{},
		LateVoices: testVoices,
		LateDelay:  10 * time.Millisecond,
	})
	cfg := testConfig()
	cfg.LoadTimeout = 5 * time.Second
	c := NewCatalog(engine, nil, cfg)

	start := time.Now()
	voices := c.Ready(context.Background())
	if len(voices) != len(testVoices) {
		t.Fatalf("Ready returned %d voices, want %d", len(voices), len(testVoices))
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Ready waited for the timeout instead of the notification (%v)", elapsed)
	}
}

func TestReadyRetriesAfterCancelledLoad(t *testing.T) {
	c := NewCatalog(tts.NewMockEngine(tts.MockConfig{Voices: testVoices}), nil, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if voices := c.Ready(ctx); len(voices) != 0 {
		t.Fatalf("Ready with cancelled context = %v", voices)
	}

	if voices := c.Ready(context.Background()); len(voices) != len(testVoices) {
		t.Fatalf("Ready after cancelled load returned %d voices, want %d", len(voices), len(testVoices))
	}
	if p := c.Choose(context.Background()); p == nil {
		t.Error("Choose = nil after voices loaded")
	}
}

func TestCalibrate(t *testing.T) {
	engine := tts.NewMockEngine(tts.MockConfig{Voices: testVoices[:1], WordsPerMinute: 60000, MaxRate: 4})
	s := store.NewMemoryStore()
	c := NewCatalog(engine, s, testConfig())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(time.Second)}
	c.now = func() time.Time {
		next := ticks[0]
		ticks = ticks[1:]
		return next
	}

	result, err := c.Calibrate(context.Background(), "This is a timing check.", 2.0)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if result.Seconds != 1.0 || result.Multiplier != 2.0 {
		t.Errorf("calibration = %+v, want 1.0s and multiplier 2.0", result)
	}
	if got := s.Rates()["espeak/en"]; got != 2.0 {
		t.Errorf("persisted multiplier = %v, want 2.0", got)
	}

	spoken := engine.Spoken()
	if len(spoken) != 1 || spoken[0].Rate != 1.0 || spoken[0].Voice != "espeak/en" {
		t.Errorf("calibration utterance = %+v", spoken)
	}

	p := c.Choose(context.Background())
	if p.RateMultiplier != 2.0 {
		t.Errorf("profile multiplier = %v, want 2.0", p.RateMultiplier)
	}
	if got := c.EffectiveRate(p, 1.0); got != 2.0 {
		t.Errorf("EffectiveRate = %v, want 2.0", got)
	}
	if got := c.EffectiveRate(p, 3.0); got != 4.0 {
		t.Errorf("EffectiveRate clamp = %v, want 4.0", got)
	}
}

func TestCalibrateShortMeasurementFloor(t *testing.T) {
	engine := tts.NewMockEngine(tts.MockConfig{Voices: testVoices[:1], WordsPerMinute: 60000})
	c := NewCatalog(engine, nil, testConfig())
	base := time.Now()
	calls := 0
	c.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 100 * time.Millisecond)
	}

	result, err := c.Calibrate(context.Background(), "hi", 2.0)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if result.Seconds != 1.0 || result.Multiplier != 2.0 {
		t.Errorf("calibration = %+v, want floor of 1s", result)
	}
}

func TestDefaultLocaleHints(t *testing.T) {
	tests := map[string][]string{
		"de_DE.UTF-8": {"de-de", "de", "en-US"},
		"":            {"en-US"},
		"C":           {"en-US"},
		"fr":          {"fr", "en-US"},
	}
	for in, want := range tests {
		if got := DefaultLocaleHints(in); !reflect.DeepEqual(got, want) {
			t.Errorf("DefaultLocaleHints(%q) = %v, want %v", in, got, want)
		}
	}
}
