package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomchat/loomchat/internal/ai"
)

// RequestSuggestions proposes improvements for a piece of writing.
type RequestSuggestions struct {
	provider ai.Provider
}

func NewRequestSuggestions(provider ai.Provider) *RequestSuggestions {
	return &RequestSuggestions{provider: provider}
}

func (t *RequestSuggestions) Name() string { return NameRequestSuggestions }

func (t *RequestSuggestions) Definition() ai.ToolDef {
	return ai.ToolDef{
		Name:        NameRequestSuggestions,
		Description: "Request suggestions to improve a piece of writing",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "The text to suggest improvements for"}
			},
			"required": ["text"]
		}`),
	}
}

type suggestionsArgs struct {
	Text string `json:"text"`
}

func (t *RequestSuggestions) Invoke(ctx context.Context, callID string, args json.RawMessage, emit func(ai.Part)) (json.RawMessage, error) {
	var a suggestionsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("requestSuggestions: bad args: %w", err)
	}

	out, err := t.provider.Chat(ctx, ai.ChatRequest{
		System: "Given a piece of writing, suggest up to five improvements. " +
			"Reply with one suggestion per line, no numbering.",
		Messages: []ai.Message{{Role: "user", Content: a.Text}},
	})
	if err != nil {
		return nil, err
	}

	var suggestions []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			suggestions = append(suggestions, line)
		}
	}
	return json.Marshal(map[string]any{"suggestions": suggestions})
}
