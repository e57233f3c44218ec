// Package transport provides the wire surface of the split SSE transport.
//
// # Overview
//
// The server delivers JSON-RPC 2.0 messages over a long-lived Server-Sent
// Events stream; the client submits requests on a separate HTTP POST side
// channel. This package owns the two halves the rest of the client builds on:
//
//   - The JSON-RPC 2.0 envelope types (Request, Response, Notification, Error)
//   - StreamClient, which opens the SSE stream and turns its line protocol
//     into a channel of events
//
// # Usage
//
//	stream := transport.NewStreamClient(url, httpClient)
//	if err := stream.Connect(ctx); err != nil {
//	    // non-200 or unreachable; no events will ever arrive
//	}
//	for ev := range stream.Events() {
//	    // ev.Data is one SSE data payload
//	}
//
// # Design Decisions
//
//   - Channel-based API: Go-idiomatic for concurrent use
//   - The stream is read-only; correlation and session logic live upstream
//   - Reconnection is out of scope for this client
package transport
