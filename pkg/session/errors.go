// ABOUTME: Error values returned by the session orchestrator
// ABOUTME: Completion handles reject with these when playback does not finish
package session

import "errors"

var (
	// ErrStopped rejects a cached asset handle stopped before its natural end
	ErrStopped = errors.New("playback stopped")

	// ErrNoAssets is returned when cached playback has no asset source
	ErrNoAssets = errors.New("no asset source configured")
)
