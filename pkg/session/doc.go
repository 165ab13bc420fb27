// ABOUTME: Session package binding transport clients to schedulers
// ABOUTME: Enforces a single active playback across the process
// Package session starts and stops speech playback.
//
// An Orchestrator owns the Registry of active work. Every entry point first
// stops whatever is playing, so at most one streaming Session or cached asset
// drives the output device at a time. All Orchestrator methods must run on
// the event loop that also receives transport and device callbacks.
//
// Example:
//
//	orch, err := session.NewOrchestrator(session.Config{
//		Device:    dev,
//		Dispatch:  loop.Post,
//		Transport: protocol.Config{ControlURL: "http://localhost:8928/token"},
//	})
//	id, err := orch.PlayStreamingText(ctx, "hello", session.Options{
//		OnComplete: func() { log.Info("finished") },
//	})
package session
