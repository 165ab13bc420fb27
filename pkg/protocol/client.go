// ABOUTME: WebSocket client for streaming speech synthesis
// ABOUTME: Requests a token, streams chunks into a playback sink and handles stop
package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Sink receives decoded chunk bytes in delivery order
type Sink interface {
	SubmitChunk(data []byte) error
	Stop()
}

// Observer receives transport events, typically to record metrics
type Observer interface {
	ChunkReceived(bytes int)
	DecodeFailed()
}

// closeGrace bounds how long a close frame may take to send
const closeGrace = 250 * time.Millisecond

// DecodePolicy decides what happens to a chunk whose payload is not base64
type DecodePolicy int

const (
	// DecodeAbort stops the episode and reports ErrDecode
	DecodeAbort DecodePolicy = iota
	// DecodeDropChunk plays silence of the chunk's expected length instead
	DecodeDropChunk
)

// ParseDecodePolicy maps a config string to a policy
func ParseDecodePolicy(s string) (DecodePolicy, error) {
	switch s {
	case "", "abort":
		return DecodeAbort, nil
	case "drop":
		return DecodeDropChunk, nil
	default:
		return DecodeAbort, fmt.Errorf("unknown decode policy: %q (supported: abort, drop)", s)
	}
}

// Config holds client configuration
type Config struct {
	ControlURL       string
	APIKey           string
	ModelID          string
	Voice            Voice
	DecodePolicy     DecodePolicy
	HTTPClient       *http.Client
	Dialer           *websocket.Dialer
	HandshakeTimeout time.Duration

	// Dispatch runs inbound handling on the owner's event loop. Nil runs it
	// on the connection's reader goroutine.
	Dispatch func(func())

	// OnError reports token, connection and mid-stream failures
	OnError func(error)
	// OnDone is called when the backend signals the end of the stream
	OnDone func()

	Observer Observer
	Logger   *log.Logger
}

// Client streams one synthesis context into a Sink
type Client struct {
	config    Config
	sink      Sink
	tokens    *TokenClient
	contextID string
	logger    *log.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	active   atomic.Bool
	received atomic.Int64
}

// NewClient creates a client bound to sink
func NewClient(config Config, sink Sink) (*Client, error) {
	if config.ControlURL == "" {
		return nil, errors.New("control url is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if config.ModelID == "" {
		config.ModelID = DefaultModelID
	}
	if config.Voice.Mode == "" {
		config.Voice.Mode = DefaultVoiceMode
	}
	if config.Voice.ID == "" {
		config.Voice.ID = DefaultVoiceID
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.Dialer == nil {
		config.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		}
	}
	if config.Logger == nil {
		config.Logger = log.WithPrefix("transport")
	}

	c := &Client{
		config:    config,
		sink:      sink,
		tokens:    NewTokenClient(config.ControlURL, config.APIKey, config.HTTPClient),
		contextID: uuid.New().String(),
		logger:    config.Logger,
	}
	c.active.Store(true)
	return c, nil
}

// ContextID returns the synthesis context id, fixed for the client's lifetime
func (c *Client) ContextID() string {
	return c.contextID
}

// Active reports whether the client still accepts inbound audio
func (c *Client) Active() bool {
	return c.active.Load()
}

// Connected reports whether a streaming connection is open
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Received returns the number of chunks handed to the sink
func (c *Client) Received() int64 {
	return c.received.Load()
}

// Connect obtains a token and opens the streaming connection
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, "")
}

func (c *Client) connect(ctx context.Context, text string) error {
	if !c.active.Load() {
		return ErrClientStopped
	}

	target, err := c.tokens.Request(ctx, text)
	if err != nil {
		c.resetSink()
		return err
	}

	c.logger.Debug("Connecting", "url", redact(target))
	conn, resp, err := c.config.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		c.resetSink()
		if resp != nil {
			return fmt.Errorf("%w: dial failed with status %d: %w", ErrConnection, resp.StatusCode, err)
		}
		return fmt.Errorf("%w: dial failed: %w", ErrConnection, err)
	}

	c.mu.Lock()
	if !c.active.Load() {
		c.mu.Unlock()
		conn.Close()
		return ErrClientStopped
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("Connected", "context_id", c.contextID)

	go c.readMessages(conn)

	return nil
}

// GenerateSpeech sends one generation request, connecting first if needed
func (c *Client) GenerateSpeech(ctx context.Context, text string) error {
	if !c.Connected() {
		if err := c.connect(ctx, text); err != nil {
			return err
		}
	}

	req := GenerationRequest{
		ModelID:      c.config.ModelID,
		Transcript:   text,
		Voice:        c.config.Voice,
		ContextID:    c.contextID,
		OutputFormat: SpeechOutputFormat(),
	}

	if err := c.sendJSON(req); err != nil {
		return fmt.Errorf("failed to send generation request: %w", err)
	}

	c.logger.Debug("Generation requested", "context_id", c.contextID, "chars", len(text))
	return nil
}

// Stop closes the connection and ignores anything that arrives afterwards.
// Playback already handed to the sink is left alone.
func (c *Client) Stop() {
	if !c.active.Swap(false) {
		return
	}
	c.closeConn(nil)
	c.logger.Debug("Stopped", "context_id", c.contextID)
}

// resetSink returns the sink to idle after a failed connect. It runs on the
// dispatch goroutine like every other sink call.
func (c *Client) resetSink() {
	c.dispatch(func() {
		if c.active.Load() {
			c.sink.Stop()
		}
	})
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}

	return c.conn.WriteJSON(v)
}

// closeConn closes conn if it is current, or whatever is current when nil
func (c *Client) closeConn(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || (conn != nil && c.conn != conn) {
		return false
	}
	closing := c.conn
	c.conn = nil
	c.connected = false

	// The close frame can stall on a slow peer; keep it off the caller's loop
	go func() {
		closing.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		closing.Close()
	}()
	return true
}

func (c *Client) current(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func (c *Client) dispatch(fn func()) {
	if c.config.Dispatch != nil {
		c.config.Dispatch(fn)
		return
	}
	fn()
}

// readMessages reads and routes incoming messages until the stream ends
func (c *Client) readMessages(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !c.active.Load() || !c.current(conn) {
				c.logger.Debug("Reader exiting after close", "error", err)
				return
			}
			c.dispatch(func() {
				c.fail(conn, fmt.Errorf("%w: %w", ErrConnection, err))
			})
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Ignoring non-text message", "type", messageType)
			continue
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Failed to parse message", "error", err)
			continue
		}

		c.dispatch(func() { c.handleMessage(conn, msg) })

		switch msg.Type {
		case TypeDone, TypeComplete, TypeError:
			return
		}
	}
}

// handleMessage runs on the dispatch goroutine
func (c *Client) handleMessage(conn *websocket.Conn, msg ServerMessage) {
	if !c.active.Load() || !c.current(conn) {
		return
	}

	switch msg.Type {
	case TypeChunk:
		data, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			c.decodeFailed(conn, msg, err)
			return
		}
		c.submit(conn, data)

	case TypeDone, TypeComplete:
		c.logger.Debug("Stream finished", "type", msg.Type, "chunks", c.received.Load())
		c.closeConn(conn)
		if c.config.OnDone != nil {
			c.config.OnDone()
		}

	case TypeError:
		c.fail(conn, fmt.Errorf("%w: %s", ErrRemote, msg.Error))

	default:
		c.logger.Debug("Unknown message type", "type", msg.Type)
	}
}

func (c *Client) submit(conn *websocket.Conn, data []byte) {
	n := c.received.Add(1)
	if c.config.Observer != nil {
		c.config.Observer.ChunkReceived(len(data))
	}
	if n == 1 {
		c.logger.Debug("First chunk received", "bytes", len(data))
	}

	if err := c.sink.SubmitChunk(data); err != nil {
		c.fail(conn, fmt.Errorf("failed to play chunk: %w", err))
	}
}

func (c *Client) decodeFailed(conn *websocket.Conn, msg ServerMessage, err error) {
	if c.config.Observer != nil {
		c.config.Observer.DecodeFailed()
	}

	if c.config.DecodePolicy == DecodeDropChunk {
		size := silenceLen(msg.Data)
		c.logger.Warn("Replacing undecodable chunk with silence", "bytes", size, "error", err)
		c.submit(conn, make([]byte, size))
		return
	}

	c.fail(conn, fmt.Errorf("%w: %w", ErrDecode, err))
}

// fail tears down the connection and resets the sink to idle
func (c *Client) fail(conn *websocket.Conn, err error) {
	if !c.active.Load() {
		return
	}
	if !c.closeConn(conn) {
		return
	}

	c.logger.Error("Stream failed", "context_id", c.contextID, "error", err)
	c.sink.Stop()
	if c.config.OnError != nil {
		c.config.OnError(err)
	}
}

// silenceLen is the payload size a base64 chunk would have decoded to,
// rounded down to whole samples
func silenceLen(data string) int {
	size := len(strings.TrimRight(data, "=")) * 3 / 4
	return size - size%2
}

// redact drops the query string, which carries the token
func redact(target string) string {
	base, _, _ := strings.Cut(target, "?")
	return base
}
