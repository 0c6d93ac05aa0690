// Package providers implements the dialect-neutral LLM tool-calling contract
// (spec.md §4.4/§6): one Provider interface, two concrete dialects
// (Anthropic tool_use blocks, OpenAI tool_calls), and a resolver that picks
// between them by explicit argument, environment variable, or API-key
// presence. The runtime owns translation between dialects; callers never see
// provider-specific types.
package providers

import (
	"context"
	"encoding/json"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is a single tool invocation the model requested.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of one tool call, keyed back to its call ID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one turn of the dialect-neutral conversation. An assistant
// message may carry free text and/or tool calls; a user message may carry
// free text and/or tool results (spec.md §6 "Tool-call contract").
type Message struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolDef is the catalog entry a Provider offers to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Reply is one model turn: free text plus any requested tool calls.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// Provider is one LLM vendor's tool-calling dialect.
type Provider interface {
	// Name identifies the provider for status/response fields.
	Name() string
	// Converse sends history plus the tool catalog and returns the model's
	// next turn. history must already alternate user/assistant correctly;
	// Converse does not mutate it.
	Converse(ctx context.Context, history []Message, tools []ToolDef) (Reply, error)
}
