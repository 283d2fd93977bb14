package tts

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestHandleCompletesOnce(t *testing.T) {
	h := NewHandle(nil)
	h.Finish(nil)
	h.Finish(errors.New("second"))
	h.Cancel()

	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed")
	}
	select {
	case <-h.Started():
	default:
		t.Fatal("Started should close when finishing without start")
	}
	if h.Err() != nil {
		t.Errorf("Err = %v, want first completion (nil)", h.Err())
	}
}

func TestHandleCancelInvokesInterrupt(t *testing.T) {
	called := 0
	h := NewHandle(func() { called++ })
	h.Cancel()

	if called != 1 {
		t.Errorf("interrupt called %d times, want 1", called)
	}
	if !errors.Is(h.Err(), ErrCancelled) {
		t.Errorf("Err = %v, want ErrCancelled", h.Err())
	}
}

func TestParseESpeakVoices(t *testing.T) {
	output := `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 2  en-gb           --/M      English_(Great_Britain) gmw/en            (en 2)
 2  en-us           --/M      English_(America)  gmw/en-US            (en 3)
`
	got := parseESpeakVoices(output)
	want := []Voice{
		{ID: "gmw/af", Name: "Afrikaans", Locale: "af", Local: true},
		{ID: "gmw/en", Name: "English_(Great_Britain)", Locale: "en-gb", Local: true},
		{ID: "gmw/en-US", Name: "English_(America)", Locale: "en-us", Local: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseESpeakVoices =\n%+v\nwant\n%+v", got, want)
	}
}

func TestESpeakArgs(t *testing.T) {
	args := espeakArgs(Config{Voice: "default", Volume: 1}, Utterance{Text: "-hello", Voice: "gmw/en-US", Rate: 2, Volume: 0.5})
	want := []string{"-v", "gmw/en-US", "-s", "350", "-a", "50", "--", "-hello"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}

	args = espeakArgs(Config{Voice: "default"}, Utterance{Text: "hi"})
	want = []string{"-s", "175", "--", "hi"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("default args = %v, want %v", args, want)
	}
}

func TestClampRate(t *testing.T) {
	e := NewMockEngine(MockConfig{MinRate: 0.5, MaxRate: 3})
	tests := map[float64]float64{0.1: 0.5, 1: 1, 2: 2, 10: 3}
	for in, want := range tests {
		if got := ClampRate(e, in); got != want {
			t.Errorf("ClampRate(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestMockEngineLateVoices(t *testing.T) {
	late := []Voice{{ID: "late", Name: "Late", Locale: "en-US"}}
	e := NewMockEngine(MockConfig{Voices: []Voice{}, LateVoices: late, LateDelay: 10 * time.Millisecond})

	voices, _ := e.Voices(context.Background())
	if len(voices) != 0 {
		t.Fatalf("expected no voices before notification, got %d", len(voices))
	}

	select {
	case <-e.VoicesChanged():
	case <-time.After(time.Second):
		t.Fatal("VoicesChanged never fired")
	}

	voices, _ = e.Voices(context.Background())
	if !reflect.DeepEqual(voices, late) {
		t.Errorf("voices = %+v, want %+v", voices, late)
	}
}

func TestMockEngineManualCompletion(t *testing.T) {
	e := NewMockEngine(MockConfig{Manual: true})
	h, err := e.Speak(context.Background(), Utterance{Text: "one two"})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	select {
	case <-h.Done():
		t.Fatal("manual utterance completed early")
	default:
	}

	e.Finish(0)
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("Finish did not complete utterance")
	}
	if got := e.Spoken(); len(got) != 1 || got[0].Text != "one two" {
		t.Errorf("Spoken = %+v", got)
	}
}

func TestLanguageOf(t *testing.T) {
	if got := languageOf("en-GB-Neural2-A", "de-DE"); got != "en-GB" {
		t.Errorf("languageOf = %q, want en-GB", got)
	}
	if got := languageOf("custom", "de-DE"); got != "de-DE" {
		t.Errorf("languageOf fallback = %q, want de-DE", got)
	}
}
