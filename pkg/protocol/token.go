// ABOUTME: Control-plane token client
// ABOUTME: Exchanges a transcript for an ephemeral streaming endpoint URL
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// TokenClient requests streaming endpoints from the control plane
type TokenClient struct {
	controlURL string
	apiKey     string
	httpClient *http.Client
}

// NewTokenClient creates a token client for controlURL
func NewTokenClient(controlURL, apiKey string, httpClient *http.Client) *TokenClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenClient{
		controlURL: controlURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Request returns the WebSocket URL to stream text from
func (t *TokenClient) Request(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(TokenRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrToken, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.controlURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrToken, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrToken, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("%w: status %d: %s", ErrToken, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("%w: invalid response: %w", ErrToken, err)
	}
	if token.URL == "" {
		return "", fmt.Errorf("%w: response has no url", ErrToken)
	}

	target, err := t.resolve(token.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrToken, err)
	}
	return target, nil
}

// resolve makes the endpoint absolute and maps http(s) to ws(s)
func (t *TokenClient) resolve(raw string) (string, error) {
	base, err := url.Parse(t.controlURL)
	if err != nil {
		return "", fmt.Errorf("invalid control url: %w", err)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid stream url: %w", err)
	}

	u := base.ResolveReference(ref)
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported stream url scheme: %q", u.Scheme)
	}
	return u.String(), nil
}
