// ABOUTME: Reference synthesis backend
// ABOUTME: Issues stream tokens and streams synthesized PCM chunks over WebSocket
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-tts/internal/discovery"
	"github.com/Resonate-Protocol/resonate-tts/internal/version"
	"github.com/Resonate-Protocol/resonate-tts/pkg/protocol"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// Config holds server configuration
type Config struct {
	Port          int
	Name          string
	EnableMDNS    bool
	APIKey        string        // required bearer token for /token when set
	ChunkDuration time.Duration // audio per chunk message
	Speed         float64       // 1 paces chunks in real time, 0 sends as fast as possible
	Prebuffer     int           // chunks sent ahead of the pacing
	TokenTTL      time.Duration
	Synthesizer   Synthesizer
}

// Server represents the synthesis server
type Server struct {
	config   Config
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	tokens   *tokenStore
	logger   *log.Logger

	httpServer  *http.Server
	mdnsManager *discovery.Manager

	streams atomic.Int64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new server instance
func New(config Config) *Server {
	if config.Name == "" {
		config.Name = "resonate-tts"
	}
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = 50 * time.Millisecond
	}
	if config.Prebuffer <= 0 {
		config.Prebuffer = 4
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = time.Minute
	}
	if config.Synthesizer == nil {
		config.Synthesizer = NewToneSynthesizer()
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			// Non-browser clients send no Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:      http.NewServeMux(),
		tokens:   newTokenStore(config.TokenTTL),
		logger:   log.WithPrefix("server"),
		stopChan: make(chan struct{}),
	}

	s.mux.HandleFunc("/token", s.handleToken)
	s.mux.HandleFunc("/stream", s.handleStream)

	return s
}

// Handler exposes the server routes, e.g. for httptest
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", version.ServerHeader())
		s.mux.ServeHTTP(w, r)
	})
}

// ActiveStreams returns the number of streams in progress
func (s *Server) ActiveStreams() int {
	return int(s.streams.Load())
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Server starting", "name", s.config.Name, "port", s.config.Port)

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        "/token",
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			s.logger.Warn("Failed to start mDNS advertisement", "error", err)
		}
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		s.logger.Info("Server shutting down")
	case err := <-errChan:
		s.logger.Error("HTTP server error", "error", err)
		serverErr = err
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
	}

	s.wg.Wait()
	s.logger.Info("Server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.config.APIKey != "" {
		auth := r.Header.Get("Authorization")
		if key, ok := strings.CutPrefix(auth, "Bearer "); !ok || key != s.config.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var req protocol.TokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid token request", http.StatusBadRequest)
		return
	}

	token, expires := s.tokens.issue()

	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	resp := protocol.TokenResponse{
		URL:       fmt.Sprintf("%s://%s/stream?token=%s", scheme, r.Host, token),
		ExpiresAt: expires,
	}

	s.logger.Debug("Issued token", "chars", len(req.Text), "expires", expires)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to write token response", "error", err)
	}
}
