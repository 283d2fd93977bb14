package booth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"audiodesc/internal/cli/scheme/colours"
	"audiodesc/internal/config"
	"audiodesc/internal/domain/cue"
	"audiodesc/internal/narration/playback"
	"audiodesc/internal/narration/playback/remote"
	"audiodesc/internal/narration/session"
	"audiodesc/internal/narration/tts"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	// simulated playback runs this long past the last cue
	simulateTail    = 3 * time.Second
	simulateRefresh = 100 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

// App binds the booth to the command line. The booth is opened from the
// loaded configuration before any subcommand runs.
type App struct {
	cfg    *config.Config
	booth  *Booth
	tracks *cue.TrackCache
	ctx    context.Context
	Cancel context.CancelFunc
}

func NewApp() *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{ctx: ctx, Cancel: cancel}
}

func (a *App) Open(cfg *config.Config) error {
	b, err := Open(cfg)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.booth = b
	a.tracks = cue.NewTrackCache(cfg.Cues.CachePath, cfg.Cues.MaxAge)
	return nil
}

func (a *App) Close() error {
	a.Cancel()
	if a.booth == nil {
		return nil
	}
	return a.booth.Close()
}

func (a *App) ShowWelcome() {
	fmt.Println()
	colours.Title.Println("🎧 audiodesc 🎧")
	fmt.Println()
	colours.Info.Println("📚 Available commands:")
	fmt.Println("  • audiodesc voices     - Rank the voices of the speech engine")
	fmt.Println("  • audiodesc voices use - Prefer a voice by id or name")
	fmt.Println("  • audiodesc calibrate  - Time the chosen voice")
	fmt.Println("  • audiodesc cues       - Show the cues of a WebVTT file")
	fmt.Println("  • audiodesc simulate   - Narrate a WebVTT file over a simulated player")
	fmt.Println("  • audiodesc serve      - Accept players from web pages")
	fmt.Println("  • audiodesc sessions   - List sessions of a running server")
	fmt.Println("  • audiodesc engines    - List speech engines")
	fmt.Println("  • audiodesc cache      - Show or clear cached audio and tracks")
	fmt.Println()
}

// Commands builds the subcommands served by the app.
func (a *App) Commands() []*cobra.Command {
	voicesCmd := &cobra.Command{
		Use:   "voices",
		Short: "🎤 Rank available voices",
		Long:  "List the best scored voices of the speech engine for the configured locales",
		Args:  cobra.NoArgs,
		Run:   a.ListVoices,
	}
	voicesCmd.Flags().IntP("limit", "n", 0, "Number of voices to show")

	useCmd := &cobra.Command{
		Use:   "use [voice-id-or-name]",
		Short: "⭐ Prefer a voice",
		Long:  "Remember a voice by id or display name for future narration",
		Args:  cobra.ExactArgs(1),
		Run:   a.UseVoice,
	}
	voicesCmd.AddCommand(useCmd)

	calibrateCmd := &cobra.Command{
		Use:   "calibrate",
		Short: "⏱️ Calibrate the chosen voice",
		Long:  "Speak a sample and store the rate multiplier that makes it last the target time",
		Args:  cobra.NoArgs,
		Run:   a.Calibrate,
	}
	calibrateCmd.Flags().StringP("text", "t", "", "Sample text to speak")
	calibrateCmd.Flags().Float64P("target", "s", 0, "Target duration in seconds")

	cuesCmd := &cobra.Command{
		Use:   "cues [file.vtt|url]",
		Short: "📜 Show narration cues",
		Long:  "Parse a WebVTT description track from a file or URL and list its cues",
		Args:  cobra.ExactArgs(1),
		Run:   a.ListCues,
	}

	simulateCmd := &cobra.Command{
		Use:   "simulate [file.vtt|url]",
		Short: "▶️ Narrate over a simulated player",
		Long:  "Play a virtual video timeline and narrate the cues of a WebVTT file in sync",
		Args:  cobra.ExactArgs(1),
		Run:   a.Simulate,
	}
	simulateCmd.Flags().StringP("kind", "k", playback.KindYouTube.String(), "Player kind: html5, vimeo or youtube")
	simulateCmd.Flags().StringP("duck", "d", "", "Lower the video volume to this level while narrating")
	simulateCmd.Flags().BoolP("pause", "p", false, "Pause the video while narrating")
	simulateCmd.Flags().String("alternate", "", "Switch to this pre-narrated source instead of speaking")
	simulateCmd.Flags().Float64("start", 0, "Start position in seconds")
	simulateCmd.Flags().Float64("volume", 1.0, "Video volume")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "🌐 Serve the player bridge",
		Long:  "Accept WebSocket connections from pages embedding video players",
		Args:  cobra.NoArgs,
		Run:   a.Serve,
	}
	serveCmd.Flags().String("addr", "", "Listen address (defaults to bridge.addr)")

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "📋 List sessions of a running server",
		Args:  cobra.NoArgs,
		Run:   a.ListSessions,
	}
	sessionsCmd.Flags().String("addr", "", "Server address (defaults to bridge.addr)")

	enginesCmd := &cobra.Command{
		Use:   "engines",
		Short: "🔊 List speech engines",
		Args:  cobra.NoArgs,
		Run:   a.ListEngines,
	}

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "🗂️ Show cached audio and tracks",
		Args:  cobra.NoArgs,
		Run:   a.ShowCaches,
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "🧹 Remove cached audio and tracks",
		Args:  cobra.NoArgs,
		Run:   a.ClearCaches,
	})

	return []*cobra.Command{voicesCmd, calibrateCmd, cuesCmd, simulateCmd, serveCmd, sessionsCmd, enginesCmd, cacheCmd}
}

func (a *App) ListVoices(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	catalog := a.booth.Catalog()

	fmt.Println()
	colours.Title.Println("🎤 Voices 🎤")
	fmt.Println()

	candidates := catalog.ListCandidates(a.ctx, limit)
	if len(candidates) == 0 {
		colours.Warning.Println("🔍 The speech engine offers no voices.")
		return
	}

	chosen := ""
	if p := catalog.Choose(a.ctx); p != nil {
		chosen = p.ID
	}
	fmt.Println(voiceTable(candidates, chosen, catalog.RateMultiplier))
	colours.Info.Printf("Locales: %v\n", a.cfg.Voices.LocaleHints)
}

func (a *App) UseVoice(cmd *cobra.Command, args []string) {
	p, err := a.booth.Catalog().SetPreferred(a.ctx, args[0])
	if err != nil {
		colours.Error.Printf("❌ %v\n", err)
		colours.Info.Println("💡 Run 'audiodesc voices' to see the available voices")
		return
	}

	colours.Success.Print("✅ Narrating with ")
	colours.Voice.Printf("%s", p.Name)
	fmt.Printf(" (%s, %s)\n", p.ID, p.Locale)
	if !a.cfg.Voices.UseCache {
		colours.Warning.Println("⚠️ voices.use_cache is off, the choice lasts for this run only")
	}
}

func (a *App) Calibrate(cmd *cobra.Command, args []string) {
	text, _ := cmd.Flags().GetString("text")
	if text == "" {
		text = a.cfg.Voices.CalibrationText
	}
	target, _ := cmd.Flags().GetFloat64("target")
	if target <= 0 {
		target = a.cfg.Voices.CalibrationTarget
	}

	colours.Info.Printf("⏱️ Speaking %q, aiming for %.1fs...\n", text, target)
	cal, err := a.booth.Catalog().Calibrate(a.ctx, text, target)
	if err != nil {
		colours.Error.Printf("❌ Calibration failed: %v\n", err)
		return
	}

	colours.Success.Print("✅ Calibrated ")
	colours.Voice.Printf("%s", cal.Profile.Name)
	fmt.Printf(": took %.2fs, rate multiplier x%.2f\n", cal.Seconds, cal.Multiplier)
}

func (a *App) ListCues(cmd *cobra.Command, args []string) {
	track, err := cue.Load(a.ctx, args[0], a.tracks)
	if err != nil {
		colours.Error.Printf("❌ %v\n", err)
		return
	}

	fmt.Println()
	colours.Title.Printf("📜 %s\n", args[0])
	fmt.Println()
	if track.Len() == 0 {
		colours.Warning.Println("🔍 No cues found.")
		return
	}
	fmt.Println(cueTable(track))
	colours.Success.Printf("✨ %d cues, last at %s\n", track.Len(), formatTimestamp(track.Duration()))
}

func (a *App) Simulate(cmd *cobra.Command, args []string) {
	path := args[0]
	track, err := cue.Load(a.ctx, path, a.tracks)
	if err != nil {
		colours.Error.Printf("❌ %v\n", err)
		return
	}

	kindName, _ := cmd.Flags().GetString("kind")
	kind, err := playback.ParseKind(kindName)
	if err != nil {
		colours.Error.Printf("❌ %v\n", err)
		return
	}
	duck, _ := cmd.Flags().GetString("duck")
	pause, _ := cmd.Flags().GetBool("pause")
	alternate, _ := cmd.Flags().GetString("alternate")
	start, _ := cmd.Flags().GetFloat64("start")
	volume, _ := cmd.Flags().GetFloat64("volume")

	attrs := session.Attributes{
		Enabled:         alternate == "",
		GlobalPause:     pause,
		DuckLevel:       duck,
		HasDuck:         cmd.Flags().Changed("duck"),
		AlternateSource: alternate,
		StandardSource:  path,
	}

	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()

	player := playback.NewSimPlayer(playback.SimConfig{
		Kind:   kind,
		Track:  track,
		Volume: volume,
		Source: path,
	})
	go player.Run(ctx)
	if start > 0 {
		player.Seek(start)
	}

	sess, err := a.booth.Attach(ctx, player, track, attrs)
	if err != nil {
		colours.Error.Printf("❌ %v\n", err)
		return
	}
	defer a.booth.Detach(sess.ID())

	fmt.Println()
	colours.Title.Printf("▶️ Simulating a %s player with %d cues\n", kind, track.Len())
	fmt.Println("💡 Press Ctrl+C to stop anytime")
	fmt.Println()

	if sess.Mode() == session.ModeSource {
		if _, err := a.booth.Toggle(ctx, sess.ID()); err != nil {
			colours.Error.Printf("❌ %v\n", err)
			return
		}
		colours.Info.Printf("🔀 Switched to %s\n", player.Source())
	}
	player.Play()

	a.follow(ctx, sess, player, track.Duration()+simulateTail.Seconds())

	fmt.Println()
	fmt.Println(sessionTable([]session.Status{sess.Status()}))
}

// follow prints cues as they are narrated until the player passes end.
func (a *App) follow(ctx context.Context, sess *session.Session, player *playback.SimPlayer, end float64) {
	ticker := time.NewTicker(simulateRefresh)
	defer ticker.Stop()

	spoken := 0
	for {
		select {
		case <-ctx.Done():
			colours.Warning.Println("⏹️  Stopped")
			return
		case <-ticker.C:
		}

		st := sess.Status()
		if st.Spoken > spoken && st.LastFired != nil {
			spoken = st.Spoken
			if c, ok := sess.Track().Window(*st.LastFired, 0, nil); ok {
				fmt.Printf("  %s ", formatTimestamp(c.Start))
				colours.Cue.Println(c.Text)
			}
		}

		if now, err := player.CurrentTime(ctx); err == nil && now >= end && !st.Speaking {
			colours.Success.Println("✅ Playback finished")
			return
		}
	}
}

func (a *App) Serve(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.cfg.Bridge.Addr
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Bridge.Path, remote.NewBridge(a.booth, a.cfg.Bridge.AllowedOrigins))
	mux.HandleFunc("/sessions", a.booth.ServeSessions)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-a.ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logrus.WithError(err).Warn("server shutdown incomplete")
		}
	}()

	colours.Success.Printf("🌐 Listening on ws://%s%s\n", addr, a.cfg.Bridge.Path)
	colours.Info.Printf("📋 Sessions at http://%s/sessions\n", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		colours.Error.Printf("❌ Server failed: %v\n", err)
	}
}

func (a *App) ListSessions(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.cfg.Bridge.Addr
	}

	statuses, err := fetchSessions(a.ctx, "http://"+addr+"/sessions")
	if err != nil {
		colours.Error.Printf("❌ %v\n", err)
		colours.Info.Println("💡 Is 'audiodesc serve' running?")
		return
	}
	if len(statuses) == 0 {
		colours.Warning.Println("🔍 No players connected.")
		return
	}
	fmt.Println(sessionTable(statuses))
}

func (a *App) ListEngines(cmd *cobra.Command, args []string) {
	fmt.Println()
	colours.Title.Println("🔊 Speech Engines 🔊")
	fmt.Println()
	fmt.Println(engineTable(tts.AvailableEngines(), tts.BestEngineForPlatform(), tts.EngineType(a.cfg.TTS.Type)))
}

// cacheEntry is one on-disk cache managed by the app.
type cacheEntry struct {
	name  string
	stats tts.CacheStats
	clear func() error
}

// caches lists the engine's audio cache, when it keeps one, and the track
// cache.
func caches(engine tts.Engine, tracks *cue.TrackCache) []cacheEntry {
	var out []cacheEntry
	if ce, ok := engine.(tts.CacheableEngine); ok {
		stats, err := ce.CacheStats()
		if err != nil {
			logrus.WithError(err).Warn("Failed to read audio cache")
		}
		out = append(out, cacheEntry{name: "audio", stats: stats, clear: ce.ClearCache})
	}
	if tracks != nil {
		files, size := tracks.Stats()
		out = append(out, cacheEntry{
			name:  "tracks",
			stats: tts.CacheStats{Directory: tracks.Dir(), Files: files, Bytes: size},
			clear: tracks.Clear,
		})
	}
	return out
}

func (a *App) ShowCaches(cmd *cobra.Command, args []string) {
	fmt.Println()
	colours.Title.Println("🗂️ Caches 🗂️")
	fmt.Println()
	fmt.Println(cacheTable(caches(a.booth.Engine(), a.tracks)))
}

func (a *App) ClearCaches(cmd *cobra.Command, args []string) {
	for _, c := range caches(a.booth.Engine(), a.tracks) {
		if err := c.clear(); err != nil {
			colours.Error.Printf("❌ %s: %v\n", c.name, err)
			continue
		}
		colours.Success.Printf("🧹 Cleared %s (%d files)\n", c.name, c.stats.Files)
	}
}
