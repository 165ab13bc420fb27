// ABOUTME: Synthesis protocol message type definitions
// ABOUTME: Defines the token exchange and streaming JSON messages
package protocol

import (
	"time"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
)

// Server to client message types
const (
	TypeChunk    = "chunk"
	TypeDone     = "done"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Defaults for generation requests
const (
	DefaultModelID   = "sonic-english"
	DefaultVoiceMode = "id"
	DefaultVoiceID   = "a0e99841-438c-4a64-b679-ae501e7d6091"
)

// TokenRequest is posted to the control endpoint
type TokenRequest struct {
	Text string `json:"text"`
}

// TokenResponse carries the ephemeral streaming endpoint
type TokenResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Voice selects the synthesis voice
type Voice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

// OutputFormat requests the stream encoding
type OutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// SpeechOutputFormat is the only format the engine plays
func SpeechOutputFormat() OutputFormat {
	return OutputFormat{
		Container:  "raw",
		Encoding:   "pcm_s16le",
		SampleRate: audio.SampleRate,
	}
}

// GenerationRequest asks the backend to synthesize one transcript
type GenerationRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        Voice        `json:"voice"`
	ContextID    string       `json:"context_id"`
	OutputFormat OutputFormat `json:"output_format"`
}

// ServerMessage is any message streamed back by the backend
type ServerMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"` // base64 PCM for chunk messages
	ContextID string `json:"context_id,omitempty"`
	Error     string `json:"error,omitempty"`
}
