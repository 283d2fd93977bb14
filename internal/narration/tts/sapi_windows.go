//go:build windows

package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

const sapiListVoices = `Add-Type -AssemblyName System.Speech;
$synth = New-Object System.Speech.Synthesis.SpeechSynthesizer;
$synth.GetInstalledVoices() | Where-Object { $_.Enabled } | ForEach-Object {
  [pscustomobject]@{ Name = $_.VoiceInfo.Name; Culture = $_.VoiceInfo.Culture.Name; Id = $_.VoiceInfo.Id }
} | ConvertTo-Json -Compress`

// SAPIEngine implements Windows SAPI TTS through PowerShell's System.Speech
type SAPIEngine struct {
	config Config
	processRunner
}

// newSAPIEngine creates a new Windows SAPI TTS engine
func newSAPIEngine(config Config) (*SAPIEngine, error) {
	return &SAPIEngine{
		config:        config,
		processRunner: newProcessRunner("sapi"),
	}, nil
}

func (s *SAPIEngine) Speak(ctx context.Context, u Utterance) (*Handle, error) {
	voice := u.Voice
	if voice == "" || voice == "default" {
		voice = s.config.Voice
	}
	selectVoice := ""
	if voice != "" && voice != "default" {
		selectVoice = fmt.Sprintf("$synth.SelectVoice('%s');", psQuote(voice))
	}

	rate := u.Rate
	if rate <= 0 {
		rate = 1.0
	}
	volume := u.Volume
	if volume <= 0 {
		volume = 1.0
	}

	script := fmt.Sprintf(`Add-Type -AssemblyName System.Speech;
$synth = New-Object System.Speech.Synthesis.SpeechSynthesizer;
%s
$synth.Rate = %d;
$synth.Volume = %d;
$synth.Speak('%s')`,
		selectVoice,
		int(rate*10)-10, // Convert to SAPI range (-10 to 10)
		int(volume*100),  // Convert to SAPI range (0 to 100)
		psQuote(u.Text))

	return s.start(ctx, "powershell", "-NoProfile", "-Command", script)
}

func (s *SAPIEngine) Stop() error {
	return s.stopAll()
}

// SAPI rates run -10..10; rate r maps to 10r-10.
func (s *SAPIEngine) RateLimits() (float64, float64) {
	return 0.1, 2.0
}

func (s *SAPIEngine) VoicesChanged() <-chan struct{} {
	return nil
}

func (s *SAPIEngine) Voices(ctx context.Context) ([]Voice, error) {
	output, err := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", sapiListVoices).Output()
	if err != nil {
		return nil, fmt.Errorf("list sapi voices: %w", err)
	}

	var installed []struct {
		Name    string `json:"Name"`
		Culture string `json:"Culture"`
		ID      string `json:"Id"`
	}
	trimmed := strings.TrimSpace(string(output))
	if strings.HasPrefix(trimmed, "{") {
		trimmed = "[" + trimmed + "]"
	}
	if err := json.Unmarshal([]byte(trimmed), &installed); err != nil {
		return nil, fmt.Errorf("decode sapi voices: %w", err)
	}

	voices := make([]Voice, 0, len(installed))
	for i, v := range installed {
		voices = append(voices, Voice{
			ID:      v.Name,
			Name:    v.Name,
			Locale:  v.Culture,
			Local:   true,
			Default: i == 0,
		})
	}
	return voices, nil
}

func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
