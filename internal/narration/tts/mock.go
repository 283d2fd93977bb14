package tts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// MockConfig scripts a MockEngine.
type MockConfig struct {
	Voices []Voice
	// LateVoices replace Voices after LateDelay and fire VoicesChanged,
	// like engines that enumerate voices asynchronously.
	LateVoices []Voice
	LateDelay  time.Duration

	// WordsPerMinute sets the simulated speaking time at rate 1.0.
	WordsPerMinute float64
	// Manual leaves utterances pending until Finish or FinishAll.
	Manual bool
	// Echo prints each utterance to the terminal.
	Echo bool
	// SpeakErr makes Speak fail.
	SpeakErr error
	MinRate  float64
	MaxRate  float64
}

// MockEngine simulates speech without audio output.
type MockEngine struct {
	config  MockConfig
	changed chan struct{}

	mu      sync.Mutex
	voices  []Voice
	spoken  []Utterance
	pending []*Handle
	timers  []*time.Timer
}

func NewMockEngine(c MockConfig) *MockEngine {
	if c.Voices == nil && c.LateVoices == nil {
		c.Voices = []Voice{{ID: "mock-voice", Name: "Mock Voice", Locale: "en-US", Local: true, Default: true}}
	}
	if c.WordsPerMinute <= 0 {
		c.WordsPerMinute = 150
	}
	if c.MinRate <= 0 {
		c.MinRate = 0.1
	}
	if c.MaxRate <= 0 {
		c.MaxRate = 10
	}

	m := &MockEngine{
		config: c,
		voices: append([]Voice(nil), c.Voices...),
	}
	if c.LateVoices != nil {
		m.changed = make(chan struct{})
		time.AfterFunc(c.LateDelay, func() {
			m.mu.Lock()
			m.voices = append([]Voice(nil), c.LateVoices...)
			m.mu.Unlock()
			close(m.changed)
		})
	}
	return m
}

func (m *MockEngine) Speak(ctx context.Context, u Utterance) (*Handle, error) {
	if m.config.SpeakErr != nil {
		return nil, m.config.SpeakErr
	}

	handle := NewHandle(nil)

	m.mu.Lock()
	m.spoken = append(m.spoken, u)
	m.pending = append(m.pending, handle)
	m.mu.Unlock()

	if m.config.Echo {
		color.Yellow("🔊 %s", u.Text)
	}
	handle.MarkStarted()

	if !m.config.Manual {
		rate := u.Rate
		if rate <= 0 {
			rate = 1.0
		}
		words := len(strings.Fields(u.Text))
		duration := time.Duration(float64(words) / (m.config.WordsPerMinute * rate) * float64(time.Minute))
		timer := time.AfterFunc(duration, func() { handle.Finish(nil) })
		m.mu.Lock()
		m.timers = append(m.timers, timer)
		m.mu.Unlock()
	}

	return handle, nil
}

// Spoken returns every utterance submitted so far.
func (m *MockEngine) Spoken() []Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Utterance(nil), m.spoken...)
}

// Finish completes the i-th submitted utterance.
func (m *MockEngine) Finish(i int) {
	m.mu.Lock()
	var h *Handle
	if i >= 0 && i < len(m.pending) {
		h = m.pending[i]
	}
	m.mu.Unlock()
	if h != nil {
		h.Finish(nil)
	}
}

// FinishAll completes every submitted utterance.
func (m *MockEngine) FinishAll() {
	m.mu.Lock()
	handles := append([]*Handle(nil), m.pending...)
	m.mu.Unlock()
	for _, h := range handles {
		h.Finish(nil)
	}
}

func (m *MockEngine) Voices(ctx context.Context) ([]Voice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Voice(nil), m.voices...), nil
}

func (m *MockEngine) VoicesChanged() <-chan struct{} {
	if m.changed == nil {
		return nil
	}
	return m.changed
}

func (m *MockEngine) RateLimits() (float64, float64) {
	return m.config.MinRate, m.config.MaxRate
}

func (m *MockEngine) Stop() error {
	m.mu.Lock()
	timers := m.timers
	m.timers = nil
	m.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
	m.FinishAll()
	return nil
}
