// Cross-platform eSpeak implementation
package tts

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// eSpeak speaks at roughly 175 words per minute at rate 1.0 and accepts
// 80..450 wpm.
const (
	espeakBaseWPM = 175
	espeakMinRate = 80.0 / espeakBaseWPM
	espeakMaxRate = 450.0 / espeakBaseWPM
)

// ESpeakEngine implements TTS using eSpeak/eSpeak-NG
type ESpeakEngine struct {
	config Config
	path   string
	processRunner
}

// newESpeakEngine creates a new eSpeak TTS engine
func newESpeakEngine(config Config) (*ESpeakEngine, error) {
	espeakPath, err := findESpeakExecutable()
	if err != nil {
		return nil, fmt.Errorf("eSpeak not found: %w", err)
	}

	engine := &ESpeakEngine{
		config:        config,
		path:          espeakPath,
		processRunner: newProcessRunner("espeak"),
	}

	// Test the installation
	if err := exec.Command(espeakPath, "--version").Run(); err != nil {
		return nil, fmt.Errorf("eSpeak test failed: %w", err)
	}

	return engine, nil
}

func findESpeakExecutable() (string, error) {
	candidates := []string{"espeak-ng", "espeak"}

	for _, candidate := range candidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("eSpeak executable not found in PATH")
}

func (e *ESpeakEngine) Speak(ctx context.Context, u Utterance) (*Handle, error) {
	return e.start(ctx, e.path, espeakArgs(e.config, u)...)
}

func espeakArgs(config Config, u Utterance) []string {
	args := []string{}

	voice := u.Voice
	if voice == "" {
		voice = config.Voice
	}
	if voice != "" && voice != "default" {
		args = append(args, "-v", voice)
	}

	rate := u.Rate
	if rate <= 0 {
		rate = 1.0
	}
	args = append(args, "-s", strconv.Itoa(int(espeakBaseWPM*rate)))

	// Amplitude 0-200, default is 100
	volume := u.Volume
	if volume <= 0 {
		volume = config.Volume
	}
	if volume > 0 {
		args = append(args, "-a", strconv.Itoa(int(100*volume)))
	}

	return append(args, "--", u.Text)
}

func (e *ESpeakEngine) Stop() error {
	return e.stopAll()
}

func (e *ESpeakEngine) RateLimits() (float64, float64) {
	return espeakMinRate, espeakMaxRate
}

func (e *ESpeakEngine) VoicesChanged() <-chan struct{} {
	return nil
}

func (e *ESpeakEngine) Voices(ctx context.Context) ([]Voice, error) {
	output, err := exec.CommandContext(ctx, e.path, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("list espeak voices: %w", err)
	}

	return parseESpeakVoices(string(output)), nil
}

// parseESpeakVoices reads the --voices table:
// Pty Language Age/Gender VoiceName File Other Languages
func parseESpeakVoices(output string) []Voice {
	lines := strings.Split(output, "\n")
	voices := make([]Voice, 0)

	for i, line := range lines {
		// Skip header line
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		voices = append(voices, Voice{
			ID:      fields[4],
			Name:    fields[3],
			Locale:  fields[1],
			Local:   true,
			Default: fields[1] == "en" || fields[4] == "default",
		})
	}

	return voices
}
