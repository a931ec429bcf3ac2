package ai

import (
	"context"
	"encoding/json"
)

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolDef is the schema advertised to the model for one callable tool.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

type EventType string

const (
	EventDelta     EventType = "delta"
	EventReasoning EventType = "reasoning"
	EventToolCall  EventType = "tool_call"
	EventUsage     EventType = "usage"
)

// Event is one element of a provider's push-driven output sequence.
type Event struct {
	Type     EventType
	Delta    string
	ToolCall *ToolCall
	Usage    *Usage
}

type ChatRequest struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolDef
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// StreamProvider is an optional interface. Providers may implement streaming chat.
// Both channels are closed when streaming ends; errs carries at most one error.
type StreamProvider interface {
	Provider
	StreamChat(ctx context.Context, req ChatRequest) (<-chan Event, <-chan error)
}
