package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/bridge"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/runner"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:          "callbridge",
	Short:        "Asterisk AudioSocket voice agent",
	Version:      runner.Version,
	SilenceUsage: true,
	Long: `callbridge accepts Asterisk AudioSocket connections, detects caller
utterances, and answers each one with speech-to-text, a language model
and text-to-speech, one turn at a time.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		engine, err := bridge.NewEngine(bridge.EngineOptions{
			Config: cfg,
			Logger: log,
			Banner: os.Stdout,
		})
		if err != nil {
			log.Error("callbridge_init_failed", "error", err.Error())
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := engine.Run(ctx); err != nil {
			log.Error("callbridge_stopped", "error", err.Error())
			return err
		}
		log.Info("callbridge_stopped")
		return nil
	},
}

var greetingCmd = &cobra.Command{
	Use:   "greeting <text>",
	Short: "Render a greeting clip with the configured TTS vendor",
	Long: `Synthesizes text once and writes it as a clip that
conversation.greeting_clip can point at, so calls skip the TTS round trip
before the first words. A .wav output gets a RIFF header; anything else is
raw 8 kHz s16le PCM.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		synth, err := bridge.DefaultProviders().BuildTTS(cfg.Vendors.TTS)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		pcm, err := synth.Synthesize(ctx, args[0])
		if err != nil {
			return fmt.Errorf("synthesize greeting: %w", err)
		}
		data := pcm
		if strings.EqualFold(filepath.Ext(out), ".wav") {
			data = audio.EncodeWAV(pcm, audio.TelephonyFormat)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write greeting: %w", err)
		}
		log.Info("greeting_written",
			"path", out,
			"bytes", len(pcm),
			"duration_ms", audio.DurationMS(pcm),
			"provider", cfg.Vendors.TTS.Provider,
		)
		return nil
	},
}

func loadConfig(cmd *cobra.Command) (bridge.Config, *slog.Logger, error) {
	cfg, err := bridge.LoadConfig(configPath)
	if err != nil {
		return bridge.Config{}, nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	log := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(log)
	return cfg, log, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "text or json")

	greetingCmd.Flags().StringP("out", "o", "greeting.pcm", "output file")
	greetingCmd.Flags().Duration("timeout", 30*time.Second, "synthesis deadline")
	rootCmd.AddCommand(greetingCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
