package mcp

import (
	"context"
	"encoding/json"
)

// Transport moves JSON-RPC traffic between this process and one tool
// server. Implementations own the underlying connection (a subprocess's
// stdio pipes, or an HTTP endpoint plus its SSE side channel) and surface
// server-initiated notifications through Events.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error

	// Call sends one request and blocks for its matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a fire-and-forget notification.
	Notify(ctx context.Context, method string, params any) error

	Events() <-chan *JSONRPCNotification
	Connected() bool
}

// NewTransport picks the transport for cfg. Anything that is not
// explicitly HTTP speaks stdio; that is the common case for locally
// spawned tool servers.
func NewTransport(cfg *ServerConfig) Transport {
	if cfg.Transport == TransportHTTP {
		return NewHTTPTransport(cfg)
	}
	return NewStdioTransport(cfg)
}
