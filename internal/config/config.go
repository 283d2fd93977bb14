package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"audiodesc/internal/narration/session"
	"audiodesc/internal/narration/tts"
	"audiodesc/internal/narration/voices"

	"github.com/spf13/viper"
)

const (
	appName   = "audiodesc"
	envPrefix = "AUDIODESC"
)

type Config struct {
	TTS     TTSConfig     `mapstructure:"tts"`
	Voices  VoicesConfig  `mapstructure:"voices"`
	Session SessionConfig `mapstructure:"session"`
	Cues    CuesConfig    `mapstructure:"cues"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Log     LogConfig     `mapstructure:"log"`
}

type TTSConfig struct {
	Type              string  `mapstructure:"type"`
	Voice             string  `mapstructure:"voice"`
	Rate              float64 `mapstructure:"rate"`
	Volume            float64 `mapstructure:"volume"`
	Language          string  `mapstructure:"language"`
	CachePath         string  `mapstructure:"cache_path"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type VoicesConfig struct {
	LocaleHints       []string      `mapstructure:"locale_hints"`
	PreferLocal       bool          `mapstructure:"prefer_local"`
	AllowRemote       bool          `mapstructure:"allow_remote"`
	UseCache          bool          `mapstructure:"use_cache"`
	LoadTimeout       time.Duration `mapstructure:"load_timeout"`
	Store             string        `mapstructure:"store"`
	StorePath         string        `mapstructure:"store_path"`
	Environment       string        `mapstructure:"environment"`
	CalibrationText   string        `mapstructure:"calibration_text"`
	CalibrationTarget float64       `mapstructure:"calibration_target"`
}

type SessionConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	HitWindow       float64       `mapstructure:"hit_window"`
	RewindTolerance float64       `mapstructure:"rewind_tolerance"`
	GraceDelay      time.Duration `mapstructure:"grace_delay"`
	WatchdogMin     time.Duration `mapstructure:"watchdog_min"`
	Rate            float64       `mapstructure:"rate"`
}

// CuesConfig controls the cache for description tracks fetched over HTTP.
type CuesConfig struct {
	CachePath string        `mapstructure:"cache_path"`
	MaxAge    time.Duration `mapstructure:"max_age"`
}

type BridgeConfig struct {
	Addr           string   `mapstructure:"addr"`
	Path           string   `mapstructure:"path"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Init points viper at the config file and the environment. A missing
// config file is not an error.
func Init(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(appName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/." + appName)
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func SetDefaults() {
	cache := CacheDirectory()

	viper.SetDefault("tts.type", tts.EngineTypeAuto.String()) // Auto-select best engine
	viper.SetDefault("tts.voice", "default")
	viper.SetDefault("tts.rate", 1.0)
	viper.SetDefault("tts.volume", 1.0)
	viper.SetDefault("tts.language", "en-US")
	viper.SetDefault("tts.cache_path", filepath.Join(cache, "tts"))
	viper.SetDefault("tts.requests_per_second", 4.0)

	viper.SetDefault("voices.locale_hints", voices.DefaultLocaleHints(os.Getenv("LANG")))
	viper.SetDefault("voices.prefer_local", false)
	viper.SetDefault("voices.allow_remote", true)
	viper.SetDefault("voices.use_cache", true)
	viper.SetDefault("voices.load_timeout", voices.DefaultLoadTimeout)
	viper.SetDefault("voices.store", "file")
	viper.SetDefault("voices.store_path", cache)
	viper.SetDefault("voices.environment", "")
	viper.SetDefault("voices.calibration_text", "This is a timing check.")
	viper.SetDefault("voices.calibration_target", 2.0)

	viper.SetDefault("session.poll_interval", session.DefaultPollInterval)
	viper.SetDefault("session.hit_window", session.DefaultHitWindow)
	viper.SetDefault("session.rewind_tolerance", session.DefaultRewindTolerance)
	viper.SetDefault("session.grace_delay", session.DefaultGraceDelay)
	viper.SetDefault("session.watchdog_min", session.DefaultWatchdogMin)
	viper.SetDefault("session.rate", 1.0)

	viper.SetDefault("cues.cache_path", filepath.Join(cache, "tracks"))
	viper.SetDefault("cues.max_age", 24*time.Hour)

	viper.SetDefault("bridge.addr", "127.0.0.1:8089")
	viper.SetDefault("bridge.path", "/ws")
	viper.SetDefault("bridge.allowed_origins", []string{})

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

// Load decodes the current viper state.
func Load() (*Config, error) {
	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.normalize()
	return &c, nil
}

func (c *Config) normalize() {
	if c.TTS.Type == "" {
		c.TTS.Type = tts.EngineTypeAuto.String()
	}
	if c.TTS.Rate <= 0 {
		c.TTS.Rate = 1.0
	}
	if c.TTS.Volume <= 0 || c.TTS.Volume > 1 {
		c.TTS.Volume = 1.0
	}

	if len(c.Voices.LocaleHints) == 0 {
		c.Voices.LocaleHints = voices.DefaultLocaleHints(os.Getenv("LANG"))
	}
	if c.Voices.LoadTimeout <= 0 {
		c.Voices.LoadTimeout = voices.DefaultLoadTimeout
	}
	if c.Voices.StorePath == "" {
		c.Voices.StorePath = CacheDirectory()
	}
	if c.Voices.CalibrationText == "" {
		c.Voices.CalibrationText = "This is a timing check."
	}
	if c.Voices.CalibrationTarget <= 0 {
		c.Voices.CalibrationTarget = 2.0
	}

	opts := c.SessionOptions()
	c.Session.PollInterval = opts.PollInterval
	c.Session.HitWindow = opts.HitWindow
	c.Session.RewindTolerance = opts.RewindTolerance
	c.Session.GraceDelay = opts.GraceDelay
	c.Session.WatchdogMin = opts.WatchdogMin
	c.Session.Rate = opts.Rate

	if c.Cues.CachePath == "" {
		c.Cues.CachePath = filepath.Join(CacheDirectory(), "tracks")
	}
	if c.Cues.MaxAge < 0 {
		c.Cues.MaxAge = 0
	}

	if c.Bridge.Path == "" || !strings.HasPrefix(c.Bridge.Path, "/") {
		c.Bridge.Path = "/" + c.Bridge.Path
	}
}

func (c *Config) EngineConfig() tts.Config {
	return tts.Config{
		Type:              c.TTS.Type,
		Voice:             c.TTS.Voice,
		Rate:              c.TTS.Rate,
		Volume:            c.TTS.Volume,
		Language:          c.TTS.Language,
		CachePath:         c.TTS.CachePath,
		RequestsPerSecond: c.TTS.RequestsPerSecond,
	}
}

func (c *Config) CatalogConfig() voices.Config {
	return voices.Config{
		LocaleHints: c.Voices.LocaleHints,
		PreferLocal: c.Voices.PreferLocal,
		AllowRemote: c.Voices.AllowRemote,
		UseCache:    c.Voices.UseCache,
		LoadTimeout: c.Voices.LoadTimeout,
	}
}

// SessionOptions returns normalized session timings. The hit window is at
// least half the poll interval.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		PollInterval:    c.Session.PollInterval,
		HitWindow:       c.Session.HitWindow,
		RewindTolerance: c.Session.RewindTolerance,
		GraceDelay:      c.Session.GraceDelay,
		WatchdogMin:     c.Session.WatchdogMin,
		Rate:            c.Session.Rate,
	}.Normalize()
}

// CacheDirectory returns the directory for voice settings and synthesized
// audio.
func CacheDirectory() string {
	if cacheDir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cacheDir, appName)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "."+appName, "cache")
	}

	if cwd, err := os.Getwd(); err == nil {
		return filepath.Join(cwd, "cache")
	}

	return "cache"
}
