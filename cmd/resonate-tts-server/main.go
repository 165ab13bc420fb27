// ABOUTME: Entry point for the reference synthesis server
// ABOUTME: Serves token and streaming endpoints backed by the tone synthesizer
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/resonate-tts/internal/server"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	port      int
	name      string
	noMDNS    bool
	apiKey    string
	chunk     time.Duration
	speed     float64
	prebuffer int
	tokenTTL  time.Duration
	logFile   string
	debug     bool

	rootCmd = &cobra.Command{
		Use:          "resonate-tts-server",
		Short:        "Reference speech synthesis server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.IntVar(&port, "port", 8928, "HTTP server port")
	flags.StringVar(&name, "name", "", "Server friendly name (default: hostname-resonate-tts)")
	flags.BoolVar(&noMDNS, "no-mdns", false, "Disable mDNS advertisement")
	flags.StringVar(&apiKey, "api-key", os.Getenv("RESONATE_TTS_API_KEY"), "Require this bearer key on /token")
	flags.DurationVar(&chunk, "chunk", 50*time.Millisecond, "Audio per chunk message")
	flags.Float64Var(&speed, "speed", 1, "Pacing relative to real time (0 sends as fast as possible)")
	flags.IntVar(&prebuffer, "prebuffer", 4, "Chunks sent ahead of pacing")
	flags.DurationVar(&tokenTTL, "token-ttl", time.Minute, "Stream token lifetime")
	flags.StringVar(&logFile, "log-file", "resonate-tts-server.log", "Log file path")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
}

func run(cmd *cobra.Command, _ []string) error {
	f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(os.Stderr, f))
	log.SetReportTimestamp(true)
	if debug {
		log.SetLevel(log.DebugLevel)
	}

	serverName := name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-resonate-tts", hostname)
	}

	log.Info("Starting synthesis server", "name", serverName, "port", port, "log_file", logFile)
	log.Info("Press Ctrl-C to stop")

	srv := server.New(server.Config{
		Port:          port,
		Name:          serverName,
		EnableMDNS:    !noMDNS,
		APIKey:        apiKey,
		ChunkDuration: chunk,
		Speed:         speed,
		Prebuffer:     prebuffer,
		TokenTTL:      tokenTTL,
	})

	go func() {
		<-cmd.Context().Done()
		log.Info("Shutdown signal received")
		srv.Stop()
	}()

	return srv.Start()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
