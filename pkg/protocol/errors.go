// ABOUTME: Error values returned by the synthesis transport
// ABOUTME: Callers classify failures with errors.Is
package protocol

import "errors"

var (
	// ErrToken means the control endpoint did not issue a usable token
	ErrToken = errors.New("token request failed")

	// ErrConnection means the streaming connection could not open or dropped
	ErrConnection = errors.New("streaming connection failed")

	// ErrDecode means a chunk payload was not valid base64
	ErrDecode = errors.New("chunk decode failed")

	// ErrRemote means the backend reported an error mid-stream
	ErrRemote = errors.New("synthesis backend error")

	// ErrNotConnected is returned when sending without a connection
	ErrNotConnected = errors.New("not connected")

	// ErrClientStopped is returned by a client after Stop
	ErrClientStopped = errors.New("client stopped")
)
