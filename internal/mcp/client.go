package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// protocolVersion is the tool-server protocol revision this client offers
// during the initialize handshake.
const protocolVersion = "2024-11-05"

// initializeParams is the typed shape of the initialize request.
type initializeParams struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ClientInfo      ClientInfo   `json:"clientInfo"`
}

// Client is one tool-server session: a transport, the initialize
// handshake, and a cached tool catalog (spec.md §4.4 "open a streaming
// session, enumerate tools").
type Client struct {
	cfg       *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu     sync.RWMutex
	tools  []*MCPTool
	server ServerInfo
}

// NewClient builds a client for cfg; Connect dials and handshakes.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		transport: NewTransport(cfg),
		logger:    logger.With("tool_server", cfg.ID),
	}
}

// Connect dials the transport, runs the initialize handshake, and loads
// the server's tool catalog. A handshake failure closes the transport so a
// later retry starts clean.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}
	if err := c.handshake(ctx); err != nil {
		c.transport.Close()
		return err
	}
	if err := c.RefreshTools(ctx); err != nil {
		c.logger.Warn("tool catalog load failed", "error", err)
	}
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      ClientInfo{Name: "loom", Version: "1.0.0"},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var init InitializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.server = init.ServerInfo
	c.mu.Unlock()
	c.logger.Info("tool server session established",
		"name", init.ServerInfo.Name,
		"version", init.ServerInfo.Version,
		"protocol", init.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}
	return nil
}

// Close shuts the session's transport down.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Config returns the session's server configuration.
func (c *Client) Config() *ServerConfig { return c.cfg }

// ServerInfo returns what the server reported at initialize.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

// Connected reports whether the session's transport is usable.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// RefreshTools re-enumerates the server's tools into the cached catalog.
func (c *Client) RefreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}

	var listed ListToolsResult
	if err := json.Unmarshal(result, &listed); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = listed.Tools
	c.mu.Unlock()
	c.logger.Debug("tool catalog refreshed", "count", len(listed.Tools))
	return nil
}

// Tools returns the cached tool catalog.
func (c *Client) Tools() []*MCPTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallTool invokes name on the server with the given arguments.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	params := CallToolParams{Name: name}
	if arguments != nil {
		raw, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		params.Arguments = raw
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var call ToolCallResult
	if err := json.Unmarshal(result, &call); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &call, nil
}

// Events returns the transport's server-notification channel.
func (c *Client) Events() <-chan *JSONRPCNotification {
	return c.transport.Events()
}
