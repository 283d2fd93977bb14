package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"audiodesc/internal/cli/scheme/colours"
	"audiodesc/internal/config"
	"audiodesc/internal/narration/booth"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	var cfgFile string

	app := booth.NewApp()
	defer func() {
		if err := app.Close(); err != nil {
			logrus.WithError(err).Warn("shutdown incomplete")
		}
	}()

	// Setup signal handling for graceful shutdown. A second signal exits at once.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\n" + colours.Warning.Sprint("👋 Stopping narration..."))
		app.Cancel()
		<-sigChan
		os.Exit(130)
	}()

	rootCmd := &cobra.Command{
		Use:   "audiodesc",
		Short: "🎧 Spoken audio descriptions for video players",
		Long: `
┌─────────────────────────────────────┐
│  🎧 audiodesc                       │
│  Audio descriptions, spoken in sync │
└─────────────────────────────────────┘

audiodesc speaks description cues while a video plays, ducking or pausing
the video around each one. Players connect from web pages over a WebSocket
bridge, or run locally on a simulated timeline.
		`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(cfgFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.Log); err != nil {
				return err
			}
			return app.Open(cfg)
		},
		Run: func(cmd *cobra.Command, args []string) {
			app.ShowWelcome()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $HOME/.audiodesc/audiodesc.yaml)")
	rootCmd.PersistentFlags().String("engine", "", "Speech engine: auto, espeak, say, sapi, google or mock")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	viper.BindPFlag("tts.type", rootCmd.PersistentFlags().Lookup("engine"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(app.Commands()...)

	if err := rootCmd.Execute(); err != nil {
		colours.Error.Printf("❌ Error: %v\n", err)
		app.Close()
		os.Exit(1)
	}
}

func setupLogging(c config.LogConfig) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(level)

	switch strings.ToLower(c.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	return nil
}
