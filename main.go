// ABOUTME: Entry point for the Resonate TTS player
// ABOUTME: Cobra commands that speak text or play cached audio assets
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Resonate-Protocol/resonate-tts/internal/app"
	"github.com/Resonate-Protocol/resonate-tts/internal/config"
	"github.com/Resonate-Protocol/resonate-tts/internal/version"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile  string
	capturePath string

	rootCmd = &cobra.Command{
		Use:           "resonate-tts",
		Short:         "Gapless playback of streamed speech",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfigFile()
		},
	}

	speakCmd = &cobra.Command{
		Use:   "speak [text]",
		Short: "Synthesize text and play it as it streams",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), app.Request{Text: strings.Join(args, " ")})
		},
	}

	playCmd = &cobra.Command{
		Use:   "play [url]",
		Short: "Play a cached audio asset (URL, file:// URL or path)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), app.Request{AssetURL: args[0]})
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "YAML config file")
	flags.String("control-url", "", "Token endpoint of the synthesis service (default: discover via mDNS)")
	flags.String("api-key", "", "API key sent to the token endpoint")
	flags.String("model", "", "Synthesis model id")
	flags.String("voice", "", "Voice id")
	flags.String("voice-mode", "", "Voice selection mode")
	flags.String("decode-policy", "", "Handling of undecodable chunks: abort or drop")
	flags.Duration("buffer", 0, "Audio device buffer")
	flags.Int("volume", 0, "Initial volume (0-100)")
	flags.String("asset-dir", "", "Cache directory for downloaded assets")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.String("log-file", "", "Log file path")
	flags.Bool("debug", false, "Enable debug logging")
	flags.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	flags.Duration("discover-timeout", 0, "How long to browse mDNS for a server")

	bind := map[string]string{
		config.KeyControlURL:      "control-url",
		config.KeyAPIKey:          "api-key",
		config.KeyModel:           "model",
		config.KeyVoice:           "voice",
		config.KeyVoiceMode:       "voice-mode",
		config.KeyDecodePolicy:    "decode-policy",
		config.KeyBuffer:          "buffer",
		config.KeyVolume:          "volume",
		config.KeyAssetDir:        "asset-dir",
		config.KeyMetricsAddr:     "metrics-addr",
		config.KeyLogFile:         "log-file",
		config.KeyDebug:           "debug",
		config.KeyNoTUI:           "no-tui",
		config.KeyDiscoverTimeout: "discover-timeout",
	}
	for key, flag := range bind {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	speakCmd.Flags().StringVar(&capturePath, "capture", "", "Write the played speech to this WAV file")

	rootCmd.AddCommand(speakCmd, playCmd, versionCmd)
}

func loadConfigFile() error {
	if configFile == "" {
		return nil
	}
	viper.SetConfigFile(configFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func run(ctx context.Context, req app.Request) error {
	settings, err := config.Load(viper.GetViper(), ".env")
	if err != nil {
		return err
	}

	useTUI := !settings.NoTUI
	closer, err := setupLog(settings, useTUI)
	if err != nil {
		return err
	}
	defer closer()

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
	}
	if !useTUI {
		log.Info("Starting player", "version", version.Version, "log_file", settings.LogFile)
	}

	player := app.New(app.Config{
		Settings:    settings,
		UseTUI:      useTUI,
		CapturePath: capturePath,
	})
	return player.Run(ctx, req)
}

// setupLog sends logs to the log file, and to stderr unless the TUI owns
// the terminal
func setupLog(settings config.Config, useTUI bool) (func(), error) {
	log.SetReportTimestamp(true)
	if settings.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if settings.LogFile == "" {
		if useTUI {
			log.SetOutput(io.Discard)
		}
		return func() {}, nil
	}

	f, err := os.OpenFile(settings.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	if useTUI {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}
	return func() { _ = f.Close() }, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}
