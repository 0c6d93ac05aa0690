package mcp

import (
	"encoding/json"
	"testing"
)

func TestServerConfigValidateStdio(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  ServerConfig{ID: "s", Transport: TransportStdio, Command: "tool-server", Args: []string{"--port", "8080"}},
		},
		{
			name:    "missing id",
			cfg:     ServerConfig{Transport: TransportStdio, Command: "tool-server"},
			wantErr: true,
		},
		{
			name:    "missing command",
			cfg:     ServerConfig{ID: "s", Transport: TransportStdio},
			wantErr: true,
		},
		{
			name:    "command with traversal",
			cfg:     ServerConfig{ID: "s", Transport: TransportStdio, Command: "../../bin/evil"},
			wantErr: true,
		},
		{
			name:    "workdir with traversal",
			cfg:     ServerConfig{ID: "s", Transport: TransportStdio, Command: "ok", WorkDir: "/srv/../../etc"},
			wantErr: true,
		},
		{
			name:    "arg with shell metachars",
			cfg:     ServerConfig{ID: "s", Transport: TransportStdio, Command: "ok", Args: []string{"x; rm -rf /"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfigValidateHTTP(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://tools.example.com/mcp", false},
		{"http", "http://127.0.0.1:9100", false},
		{"missing", "", true},
		{"bad scheme", "ftp://tools.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ServerConfig{ID: "s", Transport: TransportHTTP, URL: tt.url}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestContainsShellMetachars(t *testing.T) {
	for _, bad := range []string{"$(whoami)", "`id`", "a && b", "a || b", "a; b", "a | b", "a > f", "a < f", "a\nb"} {
		if !containsShellMetachars(bad) {
			t.Errorf("expected %q to be flagged", bad)
		}
	}
	for _, ok := range []string{"--port", "8080", "/var/lib/tool", "name=value"} {
		if containsShellMetachars(ok) {
			t.Errorf("expected %q to pass", ok)
		}
	}
}

func TestToolCallResultDecodesWireCasing(t *testing.T) {
	// The wire uses camelCase (inputSchema, isError, mimeType); a casing
	// drift in the struct tags would silently drop fields.
	raw := `{"content":[{"type":"text","text":"hi","mimeType":"text/plain"}],"isError":true}`
	var result ToolCallResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected isError decoded")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hi" || result.Content[0].MimeType != "text/plain" {
		t.Fatalf("unexpected content: %+v", result.Content)
	}
}

func TestMCPToolDecodesWireCasing(t *testing.T) {
	raw := `{"name":"search","description":"find things","inputSchema":{"type":"object"}}`
	var tool MCPTool
	if err := json.Unmarshal([]byte(raw), &tool); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tool.Name != "search" || len(tool.InputSchema) == 0 {
		t.Fatalf("unexpected tool: %+v", tool)
	}
}
