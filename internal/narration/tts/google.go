package tts

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"
)

const (
	googleDefaultVoice = "en-US-Neural2-C"
	speakerSampleRate  = beep.SampleRate(44100)
)

var speakerInit struct {
	once sync.Once
	err  error
}

// GoogleEngine synthesizes speech with Google Cloud Text-to-Speech and plays
// the MP3 result locally. Synthesized audio is cached on disk by content.
type GoogleEngine struct {
	client   *texttospeech.Client
	config   Config
	limiter  *rate.Limiter
	cacheDir string

	mu      sync.Mutex
	playing map[*beep.Ctrl]*Handle
}

func newGoogleEngine(config Config) (*GoogleEngine, error) {
	client, err := texttospeech.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}

	cacheDir := config.CachePath
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "audiodesc-tts")
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 4
	}

	return &GoogleEngine{
		client:   client,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		cacheDir: cacheDir,
		playing:  make(map[*beep.Ctrl]*Handle),
	}, nil
}

func (g *GoogleEngine) Speak(ctx context.Context, u Utterance) (*Handle, error) {
	if err := initSpeaker(); err != nil {
		return nil, err
	}

	voice := u.Voice
	if voice == "" || voice == "default" {
		voice = g.config.Voice
	}
	if voice == "" || voice == "default" {
		voice = googleDefaultVoice
	}

	ctrl := &beep.Ctrl{}
	handle := NewHandle(func() {
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
	})

	go func() {
		path, err := g.synthesize(ctx, u, voice)
		if err != nil {
			handle.Finish(err)
			return
		}
		if err := g.play(path, u.Volume, ctrl, handle); err != nil {
			handle.Finish(err)
		}
	}()

	return handle, nil
}

// synthesize returns the path of a cached MP3 for the utterance, calling the
// API when it is not cached yet.
func (g *GoogleEngine) synthesize(ctx context.Context, u Utterance, voice string) (string, error) {
	speakingRate := u.Rate
	if speakingRate <= 0 {
		speakingRate = 1.0
	}

	key := md5Sum(fmt.Sprintf("%s|%s|%.3f", voice, u.Text, speakingRate))
	path := filepath.Join(g.cacheDir, key[:16]+".mp3")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for synthesis slot: %w", err)
	}

	audioCfg := &texttospeechpb.AudioConfig{
		AudioEncoding: texttospeechpb.AudioEncoding_MP3,
	}
	// Chirp voices reject speakingRate
	if !strings.Contains(strings.ToLower(voice), "chirp") {
		audioCfg.SpeakingRate = speakingRate
	}

	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: u.Text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: languageOf(voice, g.config.Language),
			Name:         voice,
		},
		AudioConfig: audioCfg,
	}
	resp, err := g.client.SynthesizeSpeech(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to synthesize: %w", err)
	}

	if err := os.WriteFile(path, resp.AudioContent, 0644); err != nil {
		return "", fmt.Errorf("failed to write MP3 to %s: %w", path, err)
	}
	logrus.WithFields(logrus.Fields{
		"voice": voice,
		"file":  path,
		"bytes": len(resp.AudioContent),
	}).Debug("cached synthesized audio")

	return path, nil
}

func (g *GoogleEngine) play(path string, volume float64, ctrl *beep.Ctrl, handle *Handle) error {
	select {
	case <-handle.Done():
		// cancelled while synthesizing
		return nil
	default:
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open cached MP3 %s: %w", path, err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to decode MP3 %s: %w", path, err)
	}

	var source beep.Streamer = streamer
	if format.SampleRate != speakerSampleRate {
		source = beep.Resample(4, format.SampleRate, speakerSampleRate, source)
	}
	source = withVolume(source, volume)

	g.mu.Lock()
	g.playing[ctrl] = handle
	g.mu.Unlock()

	speaker.Lock()
	ctrl.Streamer = source
	speaker.Unlock()

	speaker.Play(beep.Seq(ctrl, beep.Callback(func() {
		streamer.Close()
		g.mu.Lock()
		delete(g.playing, ctrl)
		g.mu.Unlock()
		handle.Finish(nil)
	})))
	handle.MarkStarted()

	return nil
}

// withVolume scales amplitude linearly; beep's volume effect is logarithmic.
func withVolume(s beep.Streamer, volume float64) beep.Streamer {
	if volume <= 0 || volume >= 1 {
		return s
	}
	return &effects.Volume{
		Streamer: s,
		Base:     2,
		Volume:   math.Log2(volume),
	}
}

func initSpeaker() error {
	speakerInit.once.Do(func() {
		speakerInit.err = speaker.Init(speakerSampleRate, speakerSampleRate.N(time.Second/10))
	})
	if speakerInit.err != nil {
		return fmt.Errorf("init speaker: %w", speakerInit.err)
	}
	return nil
}

func (g *GoogleEngine) Stop() error {
	g.mu.Lock()
	handles := make([]*Handle, 0, len(g.playing))
	for _, h := range g.playing {
		handles = append(handles, h)
	}
	g.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	return nil
}

func (g *GoogleEngine) RateLimits() (float64, float64) {
	return 0.25, 4.0
}

func (g *GoogleEngine) VoicesChanged() <-chan struct{} {
	return nil
}

func (g *GoogleEngine) Voices(ctx context.Context) ([]Voice, error) {
	resp, err := g.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, fmt.Errorf("list google voices: %w", err)
	}
	voices := make([]Voice, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		locale := ""
		if len(v.LanguageCodes) > 0 {
			locale = v.LanguageCodes[0]
		}
		voices = append(voices, Voice{
			ID:      v.Name,
			Name:    v.Name,
			Locale:  locale,
			Local:   false,
			Default: v.Name == googleDefaultVoice,
		})
	}
	return voices, nil
}

// CacheStats counts the synthesized clips in the cache directory.
func (g *GoogleEngine) CacheStats() (CacheStats, error) {
	stats := CacheStats{Directory: g.cacheDir}
	for _, path := range g.cachedClips() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		stats.Files++
		stats.Bytes += info.Size()
	}
	return stats, nil
}

// ClearCache removes every synthesized clip.
func (g *GoogleEngine) ClearCache() error {
	var errs []error
	for _, path := range g.cachedClips() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("clear audio cache: %w", errors.Join(errs...))
	}
	logrus.WithField("dir", g.cacheDir).Info("Audio cache cleared")
	return nil
}

func (g *GoogleEngine) cachedClips() []string {
	paths, _ := filepath.Glob(filepath.Join(g.cacheDir, "*.mp3"))
	return paths
}

// languageOf derives the BCP 47 code from a voice name like "en-GB-Neural2-A".
func languageOf(voice, fallback string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	if fallback != "" {
		return fallback
	}
	return "en-US"
}

func md5Sum(s string) string {
	h := md5.New()
	io.WriteString(h, s)
	return fmt.Sprintf("%x", h.Sum(nil))
}
