// ABOUTME: Streaming endpoint of the reference backend
// ABOUTME: Reads one generation request and paces synthesized chunks back
package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
	"github.com/Resonate-Protocol/resonate-tts/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-tts/pkg/protocol"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const requestTimeout = 10 * time.Second

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.tokens.consume(r.URL.Query().Get("token")) {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.wg.Add(1)
	defer s.wg.Done()
	s.streams.Add(1)
	defer s.streams.Add(-1)

	conn.SetReadDeadline(time.Now().Add(requestTimeout))
	var req protocol.GenerationRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Warn("Failed to read generation request", "error", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	if req.OutputFormat != protocol.SpeechOutputFormat() {
		s.sendError(conn, req.ContextID, fmt.Sprintf("unsupported output format: %+v", req.OutputFormat))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reading is required to observe the client's close frame
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.streamSpeech(ctx, conn, req); err != nil {
		s.logger.Debug("Stream ended early", "context_id", req.ContextID, "error", err)
		return
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// streamSpeech synthesizes the transcript and writes it as paced chunks
func (s *Server) streamSpeech(ctx context.Context, conn *websocket.Conn, req protocol.GenerationRequest) error {
	samples := s.config.Synthesizer.Synthesize(req.Transcript, audio.SampleRate)
	chunkFrames := int(audio.DurationToFrames(s.config.ChunkDuration, audio.SampleRate))

	limiter := rate.NewLimiter(rate.Inf, 0)
	if s.config.Speed > 0 {
		interval := time.Duration(float64(s.config.ChunkDuration) / s.config.Speed)
		limiter = rate.NewLimiter(rate.Every(interval), s.config.Prebuffer)
	}

	s.logger.Info("Streaming speech",
		"context_id", req.ContextID,
		"model", req.ModelID,
		"duration", audio.FramesToDuration(int64(len(samples)), audio.SampleRate))

	chunks := 0
	for start := 0; start < len(samples); start += chunkFrames {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		end := min(start+chunkFrames, len(samples))
		msg := protocol.ServerMessage{
			Type:      protocol.TypeChunk,
			Data:      base64.StdEncoding.EncodeToString(encode.PCM16(samples[start:end])),
			ContextID: req.ContextID,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("failed to write chunk: %w", err)
		}
		chunks++
	}

	if err := conn.WriteJSON(protocol.ServerMessage{Type: protocol.TypeDone, ContextID: req.ContextID}); err != nil {
		return fmt.Errorf("failed to write done: %w", err)
	}

	s.logger.Debug("Stream complete", "context_id", req.ContextID, "chunks", chunks)
	return nil
}

func (s *Server) sendError(conn *websocket.Conn, contextID, message string) {
	s.logger.Warn("Rejecting generation request", "context_id", contextID, "reason", message)
	conn.WriteJSON(protocol.ServerMessage{
		Type:      protocol.TypeError,
		ContextID: contextID,
		Error:     message,
	})
}
