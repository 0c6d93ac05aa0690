package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Config is the manager's tool-server list. When Enabled is false the
// manager is inert and every discovery call returns empty results.
type Config struct {
	Enabled bool            `json:"enabled"`
	Servers []*ServerConfig `json:"servers"`
}

// Manager owns one Client session per configured tool server and exposes
// the aggregate discovery surface the agent loop consumes (spec.md §4.4
// "For each configured tool server ... produce a flat catalog").
type Manager struct {
	cfg    *Config
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Client
	dialing  map[string]bool
}

// NewManager builds a manager over cfg.
func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.With("component", "mcp"),
		sessions: make(map[string]*Client),
		dialing:  make(map[string]bool),
	}
}

// Start connects every auto-start server. A server that fails to connect
// is logged and skipped, never fatal (spec.md §4.4).
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg == nil || !m.cfg.Enabled {
		m.logger.Debug("tool servers disabled")
		return nil
	}
	for _, sc := range m.cfg.Servers {
		if !sc.AutoStart {
			continue
		}
		if err := m.Connect(ctx, sc.ID); err != nil {
			m.logger.Warn("tool server connect failed", "server", sc.ID, "error", err)
		}
	}
	return nil
}

// Stop closes every open session.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if err := sess.Close(); err != nil {
			m.logger.Warn("tool server close failed", "server", id, "error", err)
		}
		delete(m.sessions, id)
	}
	return nil
}

func (m *Manager) serverConfig(serverID string) *ServerConfig {
	if m.cfg == nil {
		return nil
	}
	for _, sc := range m.cfg.Servers {
		if sc.ID == serverID {
			return sc
		}
	}
	return nil
}

// Connect opens a session to serverID. Already-connected is a no-op; a
// concurrent connect to the same server is refused rather than dialed
// twice (the dialing reservation closes that window).
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	sc := m.serverConfig(serverID)
	if sc == nil {
		return fmt.Errorf("server %q not found in config", serverID)
	}

	m.mu.Lock()
	if _, open := m.sessions[serverID]; open {
		m.mu.Unlock()
		return nil
	}
	if m.dialing[serverID] {
		m.mu.Unlock()
		return fmt.Errorf("connect to %q already in progress", serverID)
	}
	m.dialing[serverID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.dialing, serverID)
		m.mu.Unlock()
	}()

	sess := NewClient(sc, m.logger)
	if err := sess.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions[serverID] = sess
	m.mu.Unlock()
	m.logger.Info("tool server connected", "server", serverID, "name", sess.ServerInfo().Name)
	return nil
}

// Disconnect closes serverID's session, if open.
func (m *Manager) Disconnect(serverID string) error {
	m.mu.Lock()
	sess, open := m.sessions[serverID]
	delete(m.sessions, serverID)
	m.mu.Unlock()

	if !open {
		return nil
	}
	if err := sess.Close(); err != nil {
		return err
	}
	m.logger.Info("tool server disconnected", "server", serverID)
	return nil
}

// Client returns serverID's open session, if any.
func (m *Manager) Client(serverID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, open := m.sessions[serverID]
	return sess, open
}

// Clients returns a snapshot of every open session, keyed by server ID.
func (m *Manager) Clients() map[string]*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Client, len(m.sessions))
	for id, sess := range m.sessions {
		out[id] = sess
	}
	return out
}

// AllTools returns each connected server's tool catalog, keyed by server
// ID. Servers with no tools are omitted.
func (m *Manager) AllTools() map[string][]*MCPTool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]*MCPTool)
	for id, sess := range m.sessions {
		if tools := sess.Tools(); len(tools) > 0 {
			out[id] = tools
		}
	}
	return out
}

// CallTool invokes toolName on serverID's session.
func (m *Manager) CallTool(ctx context.Context, serverID string, toolName string, arguments map[string]any) (*ToolCallResult, error) {
	sess, open := m.Client(serverID)
	if !open {
		return nil, fmt.Errorf("server %q not connected", serverID)
	}
	return sess.CallTool(ctx, toolName, arguments)
}

// FindTool locates name across every connected server. Returns the owning
// server's ID and the tool, or ("", nil) when no server exposes it.
func (m *Manager) FindTool(name string) (serverID string, tool *MCPTool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, sess := range m.sessions {
		for _, t := range sess.Tools() {
			if t.Name == name {
				return id, t
			}
		}
	}
	return "", nil
}

// ToolSchema is one flattened catalog entry, tagged with its owning server
// so the agent loop can qualify names as "<server>__<tool>".
type ToolSchema struct {
	ServerID    string          `json:"server_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolSchemas flattens every connected server's catalog into one list.
func (m *Manager) ToolSchemas() []ToolSchema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ToolSchema
	for id, sess := range m.sessions {
		for _, t := range sess.Tools() {
			out = append(out, ToolSchema{
				ServerID:    id,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	return out
}

// ServerStatus is one configured server's connection state.
type ServerStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Connected bool       `json:"connected"`
	Server    ServerInfo `json:"server"`
	Tools     int        `json:"tools"`
}

// Status reports every configured server, connected or not, so a stalled
// or failed server stays visible rather than silently forgotten.
func (m *Manager) Status() []ServerStatus {
	if m.cfg == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ServerStatus
	for _, sc := range m.cfg.Servers {
		st := ServerStatus{ID: sc.ID, Name: sc.Name}
		if sess, open := m.sessions[sc.ID]; open {
			st.Connected = sess.Connected()
			st.Server = sess.ServerInfo()
			st.Tools = len(sess.Tools())
		}
		out = append(out, st)
	}
	return out
}
