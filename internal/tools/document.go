package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/loomchat/loomchat/internal/ai"
)

// CreateDocument drafts a standalone document and streams the draft into
// the turn's output as tool-delta parts while it is being generated. The
// document content lives only in the turn output; there is no durable
// document schema.
type CreateDocument struct {
	provider ai.Provider
}

func NewCreateDocument(provider ai.Provider) *CreateDocument {
	return &CreateDocument{provider: provider}
}

func (t *CreateDocument) Name() string { return NameCreateDocument }

func (t *CreateDocument) Definition() ai.ToolDef {
	return ai.ToolDef{
		Name:        NameCreateDocument,
		Description: "Create a document for a writing or content creation activity",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string"},
				"kind": {"type": "string", "enum": ["text", "code"]}
			},
			"required": ["title", "kind"]
		}`),
	}
}

type createDocumentArgs struct {
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

func (t *CreateDocument) Invoke(ctx context.Context, callID string, args json.RawMessage, emit func(ai.Part)) (json.RawMessage, error) {
	var a createDocumentArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("createDocument: bad args: %w", err)
	}
	if a.Kind == "" {
		a.Kind = "text"
	}

	content, err := draft(ctx, t.provider, callID, documentPrompt(a.Kind), a.Title, emit)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{
		"id":      uuid.NewString(),
		"title":   a.Title,
		"kind":    a.Kind,
		"content": content,
	})
}

// UpdateDocument rewrites previously drafted content per a change
// description, streaming the rewrite the same way CreateDocument does.
type UpdateDocument struct {
	provider ai.Provider
}

func NewUpdateDocument(provider ai.Provider) *UpdateDocument {
	return &UpdateDocument{provider: provider}
}

func (t *UpdateDocument) Name() string { return NameUpdateDocument }

func (t *UpdateDocument) Definition() ai.ToolDef {
	return ai.ToolDef{
		Name:        NameUpdateDocument,
		Description: "Update a document with the given description of changes",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {"type": "string", "description": "The current document content"},
				"description": {"type": "string", "description": "The change to make"}
			},
			"required": ["content", "description"]
		}`),
	}
}

type updateDocumentArgs struct {
	Content     string `json:"content"`
	Description string `json:"description"`
}

func (t *UpdateDocument) Invoke(ctx context.Context, callID string, args json.RawMessage, emit func(ai.Part)) (json.RawMessage, error) {
	var a updateDocumentArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("updateDocument: bad args: %w", err)
	}

	prompt := fmt.Sprintf("Current content:\n\n%s\n\nRequested change: %s", a.Content, a.Description)
	content, err := draft(ctx, t.provider, callID,
		"Rewrite the given content applying the requested change. Reply with the full updated content only.",
		prompt, emit)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{"content": content})
}

func documentPrompt(kind string) string {
	if kind == "code" {
		return "Write a self-contained code snippet for the given request. Reply with code only."
	}
	return "Write about the given topic. Markdown is supported. Use headings wherever appropriate."
}

// draft generates content with the tool's own provider, emitting each
// chunk as a tool-delta part as it arrives.
func draft(ctx context.Context, provider ai.Provider, callID, system, prompt string, emit func(ai.Part)) (string, error) {
	req := ai.ChatRequest{
		System:   system,
		Messages: []ai.Message{{Role: "user", Content: prompt}},
	}

	sp, ok := provider.(ai.StreamProvider)
	if !ok {
		out, err := provider.Chat(ctx, req)
		if err != nil {
			return "", err
		}
		emit(ai.Part{Type: ai.PartToolDelta, ToolCallID: callID, Text: out})
		return out, nil
	}

	events, errs := sp.StreamChat(ctx, req)
	var b strings.Builder
	for ev := range events {
		if ev.Type != ai.EventDelta {
			continue
		}
		b.WriteString(ev.Delta)
		emit(ai.Part{Type: ai.PartToolDelta, ToolCallID: callID, Text: ev.Delta})
	}
	if err, ok := <-errs; ok && err != nil {
		return "", err
	}
	return b.String(), nil
}
