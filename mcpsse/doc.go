// Package mcpsse implements an MCP client over the split SSE transport:
// requests go out on an HTTP POST side channel, responses come back on a
// long-lived Server-Sent Events stream, correlated by request id.
//
// A session token embedded early in the stream binds the two halves
// together; nothing can be sent until the listener has captured it.
//
//	client := mcpsse.New(config.Default())
//	if err := client.StartSession(ctx); err != nil {
//	    // stream unreachable or token never arrived
//	}
//	defer client.Close()
//
//	info, _ := client.Initialize(ctx)
//	tools, _ := client.ListTools(ctx)
//
// The client is deliberately narrow: one session, no reconnection, no
// backpressure. Every failure degrades to "no result" with a typed error.
package mcpsse
