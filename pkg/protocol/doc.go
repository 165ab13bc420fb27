// ABOUTME: Speech synthesis wire protocol package
// ABOUTME: Defines token exchange, stream messages and the streaming client
// Package protocol implements the streaming speech synthesis transport.
//
// A Client exchanges the transcript for an ephemeral WebSocket URL, sends one
// generation request and hands every decoded chunk to a Sink in arrival order.
//
// Example:
//
//	client, err := protocol.NewClient(protocol.Config{
//		ControlURL: "http://localhost:8928/token",
//		Dispatch:   loop.Post,
//	}, scheduler)
//	err = client.GenerateSpeech(ctx, "hello there")
package protocol
