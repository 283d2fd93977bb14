//go:build darwin

package tts

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// `say -v ?` lines look like: "Samantha            en_US    # Hello, my name is Samantha."
var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}[_-][A-Za-z0-9]{2,4})\s+#`)

// SayEngine implements macOS speech through the built-in 'say' command
type SayEngine struct {
	config Config
	processRunner
}

// newSayEngine creates a new macOS TTS engine
func newSayEngine(config Config) (*SayEngine, error) {
	if _, err := exec.LookPath("say"); err != nil {
		return nil, fmt.Errorf("say not found: %w", err)
	}
	return &SayEngine{
		config:        config,
		processRunner: newProcessRunner("say"),
	}, nil
}

func (s *SayEngine) Speak(ctx context.Context, u Utterance) (*Handle, error) {
	args := []string{}

	voice := u.Voice
	if voice == "" {
		voice = s.config.Voice
	}
	if voice != "" && voice != "default" {
		args = append(args, "-v", voice)
	}

	// Set rate (words per minute, default is ~175)
	rate := u.Rate
	if rate <= 0 {
		rate = 1.0
	}
	args = append(args, "-r", fmt.Sprintf("%.0f", 175*rate))

	text := u.Text
	if u.Volume > 0 && u.Volume < 1 {
		text = fmt.Sprintf("[[volm %.2f]] %s", u.Volume, text)
	}
	args = append(args, "--", text)

	return s.start(ctx, "say", args...)
}

func (s *SayEngine) Stop() error {
	return s.stopAll()
}

func (s *SayEngine) RateLimits() (float64, float64) {
	return 0.5, 4.0
}

func (s *SayEngine) VoicesChanged() <-chan struct{} {
	return nil
}

func (s *SayEngine) Voices(ctx context.Context) ([]Voice, error) {
	output, err := exec.CommandContext(ctx, "say", "-v", "?").Output()
	if err != nil {
		return nil, fmt.Errorf("list say voices: %w", err)
	}

	voices := make([]Voice, 0)
	for _, line := range strings.Split(string(output), "\n") {
		m := sayVoiceLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		voices = append(voices, Voice{
			ID:     name,
			Name:   name,
			Locale: strings.ReplaceAll(m[2], "_", "-"),
			Local:  true,
		})
	}
	return voices, nil
}
